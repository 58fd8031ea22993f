package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 8090, cfg.Server.Port)
	require.Equal(t, "/tmp/streampack", cfg.HLS.SaveDir)
	require.Equal(t, 2*time.Second, cfg.HLS.SegmentDuration)
	require.Equal(t, 200*time.Millisecond, cfg.HLS.PartDuration)
	require.Equal(t, 6, cfg.HLS.MaxSegments)
	require.Equal(t, 30, cfg.HLS.MaxParts)
	require.Equal(t, "ffmpeg", cfg.HLS.TranscoderBinary)
	require.Equal(t, 10, cfg.Upload.MaxConcurrency)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("STREAMPACK_SERVER_PORT", "1940")
	t.Setenv("STREAMPACK_HLS_SAVE_DIR", "/var/streampack")
	t.Setenv("STREAMPACK_HLS_SEGMENT_DURATION", "4s")
	t.Setenv("STREAMPACK_HLS_PART_DURATION", "100ms")
	t.Setenv("STREAMPACK_HLS_MAX_SEGMENTS", "8")
	t.Setenv("STREAMPACK_HLS_MAX_PARTS", "40")
	t.Setenv("STREAMPACK_HLS_ENABLE_SERVER_PUSH", "true")
	t.Setenv("STREAMPACK_ADAPTIVE_BITRATE_ENABLED", "TRUE")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, 1940, cfg.Server.Port)
	require.Equal(t, "/var/streampack", cfg.HLS.SaveDir)
	require.Equal(t, 4*time.Second, cfg.HLS.SegmentDuration)
	require.Equal(t, 100*time.Millisecond, cfg.HLS.PartDuration)
	require.Equal(t, 8, cfg.HLS.MaxSegments)
	require.Equal(t, 40, cfg.HLS.MaxParts)
	require.True(t, cfg.HLS.EnableServerPush)
	require.True(t, cfg.AdaptiveBitrate.Enabled)
}

func TestLoadFromEnvRejectsUnparseableDuration(t *testing.T) {
	t.Setenv("STREAMPACK_HLS_SEGMENT_DURATION", "not-a-duration")
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestValidateRejectsMissingSaveDir(t *testing.T) {
	cfg := Config{HLS: HLS{MaxSegments: 1, MaxParts: 1, SegmentDuration: time.Second, PartDuration: time.Second, TargetLatency: time.Second}, Upload: Upload{MaxConcurrency: 1}}
	err := cfg.Validate()
	require.ErrorContains(t, err, "save_dir")
}

func TestValidateRejectsNonPositiveCaps(t *testing.T) {
	base := Config{
		HLS: HLS{
			SaveDir:         "/tmp/x",
			MaxSegments:     1,
			MaxParts:        1,
			SegmentDuration: time.Second,
			PartDuration:    time.Second,
			TargetLatency:   time.Second,
		},
		Upload: Upload{MaxConcurrency: 1},
	}

	withZeroMaxSegments := base
	withZeroMaxSegments.HLS.MaxSegments = 0
	require.Error(t, withZeroMaxSegments.Validate())

	withZeroConcurrency := base
	withZeroConcurrency.Upload.MaxConcurrency = 0
	require.Error(t, withZeroConcurrency.Validate())

	withNegativeRetries := base
	withNegativeRetries.Upload.MaxRetries = -1
	require.Error(t, withNegativeRetries.Validate())

	require.NoError(t, base.Validate())
}
