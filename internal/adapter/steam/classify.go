package steam

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

// Classify buckets a failed pool-routed call for cooldown bookkeeping.
// The second return says whether the class warrants cooling the current
// connection; uncategorized failures surface as plain transient errors and
// leave the pool untouched.
func Classify(status int, err error) (domain.ErrorClass, bool) {
	if status == http.StatusTooManyRequests {
		return domain.ClassRateLimited, true
	}
	if err == nil {
		return domain.ClassUnknown, false
	}
	msg := strings.ToLower(err.Error())
	// Proxy-level failures: the SOCKS handshake itself, or the proxy
	// host being unreachable at the TCP/DNS layer.
	if strings.Contains(msg, "socks") {
		return domain.ClassSOCKS, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || isDNSNotFound(err) {
		return domain.ClassSOCKS, true
	}
	if isConnectionError(err, msg) {
		return domain.ClassConnection, true
	}
	return domain.ClassUnknown, false
}

func isDNSNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func isConnectionError(err error, msg string) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, pat := range []string{"connection reset", "timeout", "tls", "ssl", "certificate", "unexpected eof"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}
