package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/andresmejia3/cameo/internal/export"
	"github.com/rs/zerolog"
)

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
)

// Options configures the encoder side of an extraction.
type Options struct {
	BinaryPath   string
	ProbePath    string
	VideoCodec   string
	Preset       string
	CRF          int
	Threads      int
	SkipExisting bool
}

// Executor runs ffmpeg/ffprobe. Arguments are always passed as an argv slice, never through a shell.
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	opts        Options
}

// ErrSkipped is returned by Extract when the output already exists and SkipExisting is set.
var ErrSkipped = errors.New("output already exists")

// New resolves the ffmpeg and ffprobe binaries.
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	ffmpegName := opts.BinaryPath
	if ffmpegName == "" {
		ffmpegName = "ffmpeg"
	}
	ffprobeName := opts.ProbePath
	if ffprobeName == "" {
		ffprobeName = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(ffmpegName)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath(ffprobeName)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		opts:        opts,
	}, nil
}

// Extract cuts, crops and optionally rescales the clip described by req. Failures are not retried.
func (e *Executor) Extract(ctx context.Context, req export.Request) error {
	if e.opts.SkipExisting {
		if _, err := os.Stat(req.Output); err == nil {
			e.logger.Debug().Str("output", req.Output).Msg("output exists, skipping")
			return ErrSkipped
		}
	}

	args, err := ExtractArgs(req, e.opts)
	if err != nil {
		return err
	}

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed for %s: %w: %s", req.Output, err, strings.TrimSpace(stderr.String()))
	}

	e.logger.Info().
		Str("output", req.Output).
		Str("crop", req.Crop.Filter()).
		Msg("clip extraction complete")
	return nil
}

// ExtractArgs builds the ffmpeg argument list for req.
// The seek is clamped to zero here since a padded segment may start before the video.
func ExtractArgs(req export.Request, opts Options) ([]string, error) {
	if !req.Crop.Valid() {
		return nil, fmt.Errorf("invalid crop %s", req.Crop.Filter())
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("invalid clip duration %v", req.Duration)
	}
	if req.Output == "" {
		return nil, fmt.Errorf("output path cannot be empty")
	}

	seek := max(req.Seek, 0)
	duration := req.Duration
	if req.Seek < 0 {
		// keep the end of the clip where it would have been
		duration += req.Seek
	}

	fb := NewFilterBuilder().Crop(req.Crop.Width, req.Crop.Height, req.Crop.X, req.Crop.Y)
	if req.Rescale != nil {
		fb.Scale(req.Rescale.Width, req.Rescale.Height)
	}

	codec := opts.VideoCodec
	if codec == "" {
		codec = DefaultVideoCodec
	}
	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	if opts.Threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", opts.Threads))
	}
	args = append(args,
		"-ss", FormatSeconds(seek),
		"-i", req.Source,
		"-t", FormatSeconds(duration),
		"-vf", fb.Build(),
		"-an",
		"-c:v", codec,
		"-preset", preset,
		"-crf", fmt.Sprintf("%d", crf),
		req.Output,
	)
	return args, nil
}

// FormatSeconds renders seconds as an ffmpeg timestamp (HH:MM:SS.mmm).
func FormatSeconds(seconds float64) string {
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
