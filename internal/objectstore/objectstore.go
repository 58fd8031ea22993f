// Package objectstore implements the Output/Object-store contract: put,
// delete, and list against an S3-compatible bucket. It is adapted from the
// hand-rolled SigV4 signer the teacher service uses for its own object
// storage mirror — no AWS SDK exists anywhere in the retrieval pack, so a
// from-scratch signer against net/http remains the grounded choice here too.
package objectstore

import (
	"context"
	"time"
)

// Client is the contract the Upload Worker treats as opaque. Regional
// routing and credential handling are the adapter's responsibility.
type Client interface {
	// Put uploads body under key with the given content type and extra
	// headers (e.g. Cache-Control, upload-timestamp), returning the
	// canonical public URL on success, or "" when the client has no public
	// endpoint to build one from.
	Put(ctx context.Context, key string, body []byte, contentType string, headers map[string]string) (string, error)
	// Delete removes a single key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Enabled reports whether the client is backed by a real endpoint.
	Enabled() bool
	// Ping probes the store's reachability without mutating anything.
	Ping(ctx context.Context) error
}

// Config configures an S3-compatible object store, per spec.md §6's
// s3.{bucket,region,access_key,secret_access_key,endpoint_uri} options.
type Config struct {
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	Endpoint       string
	PublicEndpoint string
	Prefix         string
	UseSSL         bool
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 15 * time.Second

func (cfg Config) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return cfg.RequestTimeout
}
