package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/ffmpeg"
	"github.com/andresmejia3/cameo/internal/logging"
	"github.com/andresmejia3/cameo/internal/recorder"
	"github.com/andresmejia3/cameo/internal/utils"
	"github.com/andresmejia3/cameo/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var recordOpts Options

var recordCmd = &cobra.Command{
	Use:   "record <video>...",
	Short: "Scan videos for the reference face and write a detection log next to each",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecord(cmd.Context(), args, recordOpts)
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOpts.RefsDir, "refs", "r", "", "Directory of reference photos of the person to find")
	recordCmd.Flags().Float64VarP(&recordOpts.Tolerance, "tolerance", "t", 0, "Face matching tolerance (lower is stricter)")
	recordCmd.Flags().IntVar(&recordOpts.SkipFrames, "skip-frames", 0, "Leading frames to ignore")
	recordCmd.Flags().IntVar(&recordOpts.MissStride, "miss-stride", 0, "Frames to advance after a frame without a match")
	recordCmd.Flags().IntVar(&recordOpts.Downscale, "downscale", 0, "Shrink frames by this factor before matching")
	rootCmd.AddCommand(recordCmd)
}

// runRecord records every existing video in turn. A failing video is reported and skipped.
func runRecord(ctx context.Context, paths []string, opts Options) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	cfg := config.FromContext(ctx)
	applyOverrides(cfg, opts)
	logger := logging.WithComponent("record")

	ex, err := ffmpeg.New(logger, ffmpeg.Options{BinaryPath: cfg.FFmpeg.BinaryPath, ProbePath: cfg.FFmpeg.ProbePath})
	if err != nil {
		return err
	}

	videos := existingFiles(paths, logger)
	failed := 0
	for _, video := range videos {
		if err := recordVideo(ctx, ex, cfg, video); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			var sc *utils.SafeCommand
			var we *workerError
			if errors.As(err, &we) {
				sc = we.cmd
			}
			utils.ShowError(os.Stderr, fmt.Sprintf("Recording %s failed", video), err, sc)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d videos failed", failed, len(videos))
	}
	fmt.Fprintf(os.Stderr, "🏁 Recorded %d videos.\n", len(videos))
	return nil
}

// workerError keeps the crashed matcher's stderr for the error box.
type workerError struct {
	err error
	cmd *utils.SafeCommand
}

func (e *workerError) Error() string { return e.err.Error() }
func (e *workerError) Unwrap() error { return e.err }

func recordVideo(ctx context.Context, ex *ffmpeg.Executor, cfg *config.Config, video string) (err error) {
	// Cancel ffmpeg and the matcher when this video is done, whatever the outcome
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	info, err := ex.Probe(ctx, video)
	if err != nil {
		return err
	}
	src := detlog.FrameSource{FPS: info.FPS, Width: info.Width, Height: info.Height}

	logPath := strings.TrimSuffix(video, filepath.Ext(video)) + ".tsv"
	f, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create detection log: %w", err)
	}
	defer func() {
		f.Close()
		if err != nil {
			// a partial log would look like a real one to extract
			os.Remove(logPath)
		}
	}()

	m, err := worker.NewMatchWorker(ctx, 0, worker.Config{
		Python:    cfg.Recorder.Python,
		Script:    cfg.Recorder.Script,
		RefsDir:   cfg.Recorder.RefsDir,
		Tolerance: cfg.Recorder.Tolerance,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	decoder := utils.WrapCommand(ex.NewFrameDecoder(ctx, video, cfg.Recorder.Downscale))
	frames, err := decoder.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	total := info.Frames
	if total <= 0 {
		// Fallback to a spinner when the container has no frame count
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 "+filepath.Base(video)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	rec := &recorder.Recorder{
		SkipFrames: cfg.Recorder.SkipFrames,
		MissStride: cfg.Recorder.MissStride,
		Downscale:  cfg.Recorder.Downscale,
		OnFrame:    func() { bar.Add(1) },
		Logger:     logging.WithComponent("recorder"),
	}
	stats, recErr := rec.Record(ctx, frames, src, m, detlog.NewWriter(f))
	if recErr != nil {
		cancel()
		decoder.Wait()
		return &workerError{err: recErr, cmd: m.Cmd}
	}
	if err := decoder.Wait(); err != nil {
		return &workerError{err: fmt.Errorf("FFmpeg execution failed: %w", err), cmd: decoder}
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n📼 %s: %d matches in %d frames (%d checked) -> %s\n",
		filepath.Base(video), stats.Hits, stats.Frames, stats.Matched, logPath)
	return nil
}
