package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitriver/streampack/internal/authgateway"
	"github.com/bitriver/streampack/internal/objectstore"
	"github.com/bitriver/streampack/internal/telemetry"
)

func TestFirstNonEmptyPrefersEarliestSet(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("firstNonEmpty() = %q, want %q", got, "b")
	}
	if got := firstNonEmpty("a", "b"); got != "a" {
		t.Fatalf("firstNonEmpty() = %q, want %q", got, "a")
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("firstNonEmpty() = %q, want empty", got)
	}
}

func TestProbeDependenciesRecordsHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gateway := authgateway.NewHTTPGateway(authgateway.Config{APIHost: srv.URL})
	store, err := objectstore.New(objectstore.Config{})
	require.NoError(t, err)

	collector := telemetry.NewCollector(time.Second)
	probeDependencies(context.Background(), gateway, store, collector, slog.Default())

	health := collector.ServerSnapshot().DependencyHealth
	require.True(t, health["auth_gateway"])
	_, storeProbed := health["object_store"]
	require.False(t, storeProbed, "noop store is disabled and should not be probed")
}
