package steam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		class  domain.ErrorClass
		worthy bool
	}{
		{
			name:   "http 429",
			status: 429,
			class:  domain.ClassRateLimited,
			worthy: true,
		},
		{
			name:   "socks message",
			err:    errors.New("socks connect tcp 127.0.0.1:1080: unexpected protocol version"),
			class:  domain.ClassSOCKS,
			worthy: true,
		},
		{
			name:   "connection refused",
			err:    &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			class:  domain.ClassSOCKS,
			worthy: true,
		},
		{
			name:   "host unreachable",
			err:    &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			class:  domain.ClassSOCKS,
			worthy: true,
		},
		{
			name:   "dns not found",
			err:    &net.DNSError{Err: "no such host", Name: "proxy.local", IsNotFound: true},
			class:  domain.ClassSOCKS,
			worthy: true,
		},
		{
			name:   "connection reset",
			err:    &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			class:  domain.ClassConnection,
			worthy: true,
		},
		{
			name:   "deadline exceeded",
			err:    fmt.Errorf("get: %w", context.DeadlineExceeded),
			class:  domain.ClassConnection,
			worthy: true,
		},
		{
			name:   "client timeout message",
			err:    errors.New(`Get "https://x": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`),
			class:  domain.ClassConnection,
			worthy: true,
		},
		{
			name:   "tls failure",
			err:    errors.New("remote error: tls: handshake failure"),
			class:  domain.ClassConnection,
			worthy: true,
		},
		{
			name:   "certificate failure",
			err:    errors.New("x509: certificate signed by unknown authority"),
			class:  domain.ClassConnection,
			worthy: true,
		},
		{
			name:   "uncategorized error",
			err:    errors.New("something odd happened"),
			class:  domain.ClassUnknown,
			worthy: false,
		},
		{
			name:   "plain 500 response",
			status: 500,
			class:  domain.ClassUnknown,
			worthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, worthy := Classify(tt.status, tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.worthy, worthy)
		})
	}
}
