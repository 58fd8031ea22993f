// Package config loads the frozen configuration passed by reference into
// every subsystem constructor in this service. There is no global mutable
// settings singleton: callers load a Config once at startup and hand it (or
// the relevant sub-struct) to each component explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server holds the ingest bind address and the legacy segment delay knob.
type Server struct {
	Host         string
	Port         int
	SegmentDelay time.Duration
}

// HLS holds packager and segment/part index parameters.
type HLS struct {
	SaveDir            string
	SegmentDuration    time.Duration
	PartDuration       time.Duration
	MaxSegments        int
	MaxParts           int
	EnableServerPush   bool
	EnablePreloadHint  bool
	TargetLatency      time.Duration
	HLSBaseURL         string
	TranscoderBinary   string
	ShutdownGrace      time.Duration
}

// S3 holds object-store credentials and routing.
type S3 struct {
	Bucket          string
	Region          string
	AccessKey       string
	SecretAccessKey string
	EndpointURI     string
	PublicEndpoint  string
	UseSSL          bool
}

// AdaptiveBitrate is reserved; only a single variant is honored at this
// revision, per spec.md §6 and §9.
type AdaptiveBitrate struct {
	Enabled  bool
	Variants []Variant
}

// Variant describes one adaptive-bitrate rung. No entry is passed to the
// packager: BuildArgs always emits a single-variant invocation, and
// LoadFromEnv does not populate Variants.
type Variant struct {
	Bandwidth  int
	Resolution string
	Name       string
}

// Upload holds Upload Worker tuning knobs.
type Upload struct {
	MaxConcurrency int
	MaxRetries     int
	RetryDelay     time.Duration
}

// Config holds the options listed in spec.md §6 plus this service's own
// knobs (HLS base URL, transcoder binary, shutdown grace, S3 public endpoint
// and TLS, Upload tuning). LoadFromEnv reads only the STREAMPACK_ variables
// it names; any other environment variable is ignored.
type Config struct {
	Server          Server
	HLS             HLS
	S3              S3
	APIHost         string
	AdaptiveBitrate AdaptiveBitrate
	Upload          Upload
}

// LoadFromEnv builds a Config from environment variables, applying the same
// defaults-then-validate shape the ingest controller's env loader uses.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Host:         getenv("STREAMPACK_SERVER_HOST", "0.0.0.0"),
			Port:         8090,
			SegmentDelay: 0,
		},
		HLS: HLS{
			SaveDir:          getenv("STREAMPACK_HLS_SAVE_DIR", "/tmp/streampack"),
			SegmentDuration:  2 * time.Second,
			PartDuration:     200 * time.Millisecond,
			MaxSegments:      6,
			MaxParts:         30,
			TargetLatency:    2 * time.Second,
			TranscoderBinary: getenv("STREAMPACK_TRANSCODER_BINARY", "ffmpeg"),
			ShutdownGrace:    5 * time.Second,
		},
		S3: S3{
			Bucket:          strings.TrimSpace(os.Getenv("STREAMPACK_S3_BUCKET")),
			Region:          strings.TrimSpace(os.Getenv("STREAMPACK_S3_REGION")),
			AccessKey:       strings.TrimSpace(os.Getenv("STREAMPACK_S3_ACCESS_KEY")),
			SecretAccessKey: strings.TrimSpace(os.Getenv("STREAMPACK_S3_SECRET_ACCESS_KEY")),
			EndpointURI:     strings.TrimSpace(os.Getenv("STREAMPACK_S3_ENDPOINT_URI")),
			PublicEndpoint:  strings.TrimSpace(os.Getenv("STREAMPACK_S3_PUBLIC_ENDPOINT")),
			UseSSL:          strings.EqualFold(strings.TrimSpace(os.Getenv("STREAMPACK_S3_USE_SSL")), "true"),
		},
		APIHost: strings.TrimSpace(os.Getenv("STREAMPACK_API_HOST")),
		Upload: Upload{
			MaxConcurrency: 10,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
		},
	}

	if port := strings.TrimSpace(os.Getenv("STREAMPACK_SERVER_PORT")); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = parsed
	}

	if delay := strings.TrimSpace(os.Getenv("STREAMPACK_SERVER_SEGMENT_DELAY")); delay != "" {
		parsed, err := time.ParseDuration(delay)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_SERVER_SEGMENT_DELAY: %w", err)
		}
		cfg.Server.SegmentDelay = parsed
	}

	if dur := strings.TrimSpace(os.Getenv("STREAMPACK_HLS_SEGMENT_DURATION")); dur != "" {
		parsed, err := time.ParseDuration(dur)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_HLS_SEGMENT_DURATION: %w", err)
		}
		cfg.HLS.SegmentDuration = parsed
	}

	if dur := strings.TrimSpace(os.Getenv("STREAMPACK_HLS_PART_DURATION")); dur != "" {
		parsed, err := time.ParseDuration(dur)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_HLS_PART_DURATION: %w", err)
		}
		cfg.HLS.PartDuration = parsed
	}

	if n := strings.TrimSpace(os.Getenv("STREAMPACK_HLS_MAX_SEGMENTS")); n != "" {
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_HLS_MAX_SEGMENTS: %w", err)
		}
		cfg.HLS.MaxSegments = parsed
	}

	if n := strings.TrimSpace(os.Getenv("STREAMPACK_HLS_MAX_PARTS")); n != "" {
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_HLS_MAX_PARTS: %w", err)
		}
		cfg.HLS.MaxParts = parsed
	}

	cfg.HLS.EnableServerPush = strings.EqualFold(strings.TrimSpace(os.Getenv("STREAMPACK_HLS_ENABLE_SERVER_PUSH")), "true")
	cfg.HLS.EnablePreloadHint = strings.EqualFold(strings.TrimSpace(os.Getenv("STREAMPACK_HLS_ENABLE_PRELOAD_HINT")), "true")
	cfg.HLS.HLSBaseURL = strings.TrimSpace(os.Getenv("STREAMPACK_HLS_BASE_URL"))

	if lat := strings.TrimSpace(os.Getenv("STREAMPACK_HLS_TARGET_LATENCY")); lat != "" {
		parsed, err := time.ParseDuration(lat)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMPACK_HLS_TARGET_LATENCY: %w", err)
		}
		cfg.HLS.TargetLatency = parsed
	}

	cfg.AdaptiveBitrate.Enabled = strings.EqualFold(strings.TrimSpace(os.Getenv("STREAMPACK_ADAPTIVE_BITRATE_ENABLED")), "true")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate ensures the configuration is internally consistent. It is
// intentionally permissive about S3/API fields: those are contracts with
// external collaborators that are out of this package's scope to require.
func (c Config) Validate() error {
	if c.HLS.SaveDir == "" {
		return errors.New("hls.save_dir is required")
	}
	if c.HLS.MaxSegments <= 0 {
		return errors.New("hls.max_segments must be positive")
	}
	if c.HLS.MaxParts <= 0 {
		return errors.New("hls.max_parts must be positive")
	}
	if c.HLS.SegmentDuration <= 0 {
		return errors.New("hls.segment_duration must be positive")
	}
	if c.HLS.PartDuration <= 0 {
		return errors.New("hls.part_duration must be positive")
	}
	if c.HLS.TargetLatency <= 0 {
		return errors.New("hls.target_latency must be positive")
	}
	if c.Upload.MaxConcurrency <= 0 {
		return errors.New("upload concurrency must be positive")
	}
	if c.Upload.MaxRetries < 0 {
		return errors.New("upload max retries cannot be negative")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
