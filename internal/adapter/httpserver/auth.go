package httpserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// APIKeyAuth guards ingress routes with the shared API key. The key is read
// from the X-Api-Key header first, then the api_key query parameter so that
// plain browser GETs can still authenticate. Comparison is constant time.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Api-Key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, r, fmt.Errorf("%w: missing or wrong api key", domain.ErrUnauthorized), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
