package httpserver

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// addAccountRequest is the payload of /api/add-steam-id. The same shape
// serves POST bodies and GET query parameters. Validation here covers the
// request surface only; EnqueueService re-checks the id against the strict
// 17-digit rule before touching the queue.
type addAccountRequest struct {
	SteamID  string `json:"steam_id" validate:"required,len=17,numeric"`
	Username string `json:"username" validate:"required,max=64"`
}

// addProxyRequest is the payload of POST /api/proxies.
type addProxyRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// validationDetails flattens validator errors into a field-to-tag map for
// the error envelope details.
func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}
