package packager

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bitriver/streampack/internal/config"
)

// BuildArgs constructs the transcoder's argument list for one stream's
// output directory. The list is a deterministic function of cfg and
// outputDir — same inputs always produce the same argv, per spec.md §4.2.
func BuildArgs(cfg config.HLS, outputDir string) []string {
	segmentPattern := filepath.Join(outputDir, "segment_%d.m4s")
	playlistFile := filepath.Join(outputDir, "playlist.m3u8")

	args := []string{
		"-f", "flv",
		"-i", "pipe:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", "init.mp4",
		"-fflags", "+genpts",
		"-hls_time", durationSeconds(cfg.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_playlist_type", "event",
		"-hls_flags", "delete_segments+program_date_time+temp_file+independent_segments+split_by_time",
		"-hls_segment_filename", segmentPattern,
	}

	if cfg.PartDuration > 0 {
		args = append(args, "-hls_part_time", durationSeconds(cfg.PartDuration))
	}
	if cfg.HLSBaseURL != "" {
		args = append(args, "-hls_base_url", cfg.HLSBaseURL)
	}

	args = append(args, playlistFile)
	return args
}

func durationSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
