package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/rs/zerolog"
)

// videoJob pairs a video with its detection log.
type videoJob struct {
	Video string
	Log   string
}

// pairVideos keeps the paths whose video exists and has a sibling log. Anything else is
// skipped with a debug message only.
func pairVideos(paths []string, exts []string, logger zerolog.Logger) []videoJob {
	var jobs []videoJob
	for _, p := range existingFiles(paths, logger) {
		lg := detlog.Sibling(p, exts)
		if lg == "" {
			logger.Debug().Str("video", p).Strs("extensions", exts).Msg("no detection log, skipping")
			continue
		}
		jobs = append(jobs, videoJob{Video: p, Log: lg})
	}
	return jobs
}

// existingFiles drops paths that do not exist or are directories.
func existingFiles(paths []string, logger zerolog.Logger) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			logger.Debug().Str("video", p).Msg("video missing, skipping")
			continue
		}
		out = append(out, p)
	}
	return out
}

// applyOverrides copies the flags the user set onto the loaded config.
func applyOverrides(cfg *config.Config, opts Options) {
	if len(opts.Gaps) > 0 {
		cfg.Variants.Gaps = opts.Gaps
	}
	if opts.OutputDir != "" {
		cfg.Export.OutputDir = opts.OutputDir
	}
	if opts.Jobs > 0 {
		cfg.Export.Jobs = opts.Jobs
	}
	if opts.SkipExisting {
		cfg.FFmpeg.SkipExisting = true
	}
	if opts.RefsDir != "" {
		cfg.Recorder.RefsDir = opts.RefsDir
	}
	if opts.Tolerance > 0 {
		cfg.Recorder.Tolerance = opts.Tolerance
	}
	if opts.SkipFrames > 0 {
		cfg.Recorder.SkipFrames = opts.SkipFrames
	}
	if opts.MissStride > 0 {
		cfg.Recorder.MissStride = opts.MissStride
	}
	if opts.Downscale > 0 {
		cfg.Recorder.Downscale = opts.Downscale
	}
}

// validateOptions rejects flag values before any heavy process starts.
func validateOptions(opts Options) error {
	for _, g := range opts.Gaps {
		if g < 0 {
			return fmt.Errorf("gap must be >= 0, got %v", g)
		}
	}
	if opts.Jobs < 0 {
		return fmt.Errorf("jobs must be >= 1, got %d", opts.Jobs)
	}
	if opts.Tolerance < 0 || opts.Tolerance > 1.0 {
		return fmt.Errorf("tolerance must be between 0.0 and 1.0, got %f", opts.Tolerance)
	}
	if opts.SkipFrames < 0 || opts.MissStride < 0 || opts.Downscale < 0 {
		return fmt.Errorf("frame counts must not be negative")
	}
	return nil
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	ms := int(duration.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
