package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped", fmt.Errorf("api call failed: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"regular", errors.New("invalid input: missing field"), false},
		{"deadline", fmt.Errorf("ipinfo: lookup: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"tls pattern", errors.New("TLS handshake timeout"), true},
		{"pipe pattern", errors.New("write: broken pipe"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError("zerobounce", 503, []byte("  upstream busy \n"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "zerobounce: unexpected status 503: upstream busy")

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)

	err = StatusError("ipinfo", 403, []byte("forbidden"))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(err))
}

func TestStatusError_TruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	err := StatusError("jina", 400, body)
	assert.Less(t, len(err.Error()), 320)
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 500, te.StatusCode)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTypeTransient, ClassifyError(NewTransientError(errors.New("503"), 503)))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(errors.New("invalid input")))
	assert.Equal(t, ErrorTypeTransient, ClassifyError(errors.New("connection reset by peer")))
}
