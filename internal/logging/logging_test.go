package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	if buf.Len() == 0 {
		t.Fatalf("expected output in custom writer, got none")
	}
}

func TestContextRoundTripsRequestAndStreamID(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithStreamID(ctx, "alice/2024-01-01T00:00:00Z")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("expected request id req-1, got %q (ok=%v)", id, ok)
	}
	if id, ok := StreamIDFromContext(ctx); !ok || id != "alice/2024-01-01T00:00:00Z" {
		t.Fatalf("expected stream id round-trip, got %q (ok=%v)", id, ok)
	}
}

func TestContextWithEmptyIDsIsNoop(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatalf("expected no request id stored for empty input")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	mw := RequestLogger(RequestLoggerConfig{Logger: logger})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics.json", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected request log output")
	}
}
