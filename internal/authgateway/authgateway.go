// Package authgateway implements the Authentication Gateway contract:
// converting a publisher's stream key into a canonical stream identifier by
// calling a remote identity service. Grounded on the teacher's HTTP adapter
// style (internal/ingest/adapters.go) but deliberately single-attempt: per
// spec.md §5, no operation outside the Upload Worker's documented retry loop
// is silently retried, and the session handler never retries authentication.
package authgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitriver/streampack/internal/ingesterr"
)

// Result is the identity the gateway resolved for a stream key.
type Result struct {
	Nickname  string
	CreatedAt string
}

// StreamID is the canonical "{nickname}/{created_at}" identifier, per
// spec.md §4.9.
func (r Result) StreamID() string {
	return r.Nickname + "/" + r.CreatedAt
}

// Gateway authenticates a stream key. Implementations must be safe to call
// from multiple goroutines and must treat the call as an idempotent query.
type Gateway interface {
	Authenticate(ctx context.Context, key string) (Result, error)
}

// Config configures the HTTP-backed Gateway.
type Config struct {
	APIHost    string
	HTTPClient *http.Client
}

// HTTPGateway calls POST {api.host}/stream with header X-Stream-Key, per
// spec.md §6.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway constructs an HTTPGateway from cfg.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGateway{baseURL: strings.TrimRight(cfg.APIHost, "/"), client: client}
}

type wireResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Nickname  string `json:"nickname"`
		CreatedAt string `json:"createdAt"`
	} `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Authenticate performs a single POST {api.host}/stream call. Any non-2xx
// response is treated as auth denial; a context deadline surfaces as
// AuthTimeout; any other transport failure surfaces as AuthTransport.
func (g *HTTPGateway) Authenticate(ctx context.Context, key string) (Result, error) {
	target := g.baseURL + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthTransport, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("X-Stream-Key", key)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, ingesterr.NewAuthError(ingesterr.AuthTimeout, err)
		}
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthTransport, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthDenied, fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed wireResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthTransport, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Data.Nickname == "" || parsed.Data.CreatedAt == "" {
		return Result{}, ingesterr.NewAuthError(ingesterr.AuthDenied, errors.New("missing nickname/createdAt"))
	}

	return Result{Nickname: parsed.Data.Nickname, CreatedAt: parsed.Data.CreatedAt}, nil
}

// Ping probes the gateway's liveness without authenticating a real key,
// mirroring the teacher's Controller.HealthChecks pattern.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("auth gateway unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
