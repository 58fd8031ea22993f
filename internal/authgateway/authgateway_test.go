package authgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/ingesterr"
)

func TestAuthenticateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/stream", r.URL.Path)
		require.Equal(t, "abc", r.Header.Get("X-Stream-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","message":"","data":{"nickname":"alice","createdAt":"2024-01-01T00:00:00Z"},"timestamp":"2024-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	gw := NewHTTPGateway(Config{APIHost: srv.URL})
	result, err := gw.Authenticate(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "alice/2024-01-01T00:00:00Z", result.StreamID())
}

func TestAuthenticateDeniedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(Config{APIHost: srv.URL})
	_, err := gw.Authenticate(context.Background(), "bad-key")

	var authErr *ingesterr.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ingesterr.AuthDenied, authErr.Kind)
}

func TestAuthenticateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(Config{APIHost: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := gw.Authenticate(ctx, "abc")
	var authErr *ingesterr.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ingesterr.AuthTimeout, authErr.Kind)
}

func TestAuthenticateIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(Config{APIHost: srv.URL})
	_, err := gw.Authenticate(context.Background(), "abc")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
