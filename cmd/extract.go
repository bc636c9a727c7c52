package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/export"
	"github.com/andresmejia3/cameo/internal/ffmpeg"
	"github.com/andresmejia3/cameo/internal/logging"
	"github.com/andresmejia3/cameo/internal/publish"
	"github.com/andresmejia3/cameo/internal/segment"
	"github.com/andresmejia3/cameo/internal/store"
	"github.com/andresmejia3/cameo/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const statusPlanned = "planned"

var extractOpts Options

var extractCmd = &cobra.Command{
	Use:   "extract <video>...",
	Short: "Cut a cropped clip around every segment, for every configured variant",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExtract(cmd.Context(), os.Stdout, args, extractOpts)
	},
}

func init() {
	extractCmd.Flags().Float64SliceVarP(&extractOpts.Gaps, "gap", "g", nil, "Max gap in seconds (repeatable, default from config)")
	extractCmd.Flags().StringVarP(&extractOpts.OutputDir, "output", "o", "", "Directory for the clips (default from config)")
	extractCmd.Flags().IntVarP(&extractOpts.Jobs, "jobs", "j", 0, "Videos processed in parallel")
	extractCmd.Flags().BoolVar(&extractOpts.DryRun, "dry-run", false, "Print the extraction requests as JSON lines instead of running ffmpeg")
	extractCmd.Flags().BoolVar(&extractOpts.Publish, "publish", false, "Publish every request to Kafka")
	extractCmd.Flags().BoolVar(&extractOpts.SkipExisting, "skip-existing", false, "Do not re-encode clips that already exist")
	rootCmd.AddCommand(extractCmd)
}

// extractor holds what every per-video job shares.
type extractor struct {
	cfg       *config.Config
	planner   *export.Planner
	ffmpeg    *ffmpeg.Executor   // nil on dry runs
	db        *store.Store       // nil without a database
	publisher *publish.Publisher // nil without --publish
	runID     uuid.UUID
	dryRun    bool
	logger    zerolog.Logger
	bar       *progressbar.ProgressBar

	outMu sync.Mutex
	out   *json.Encoder
}

func runExtract(ctx context.Context, out io.Writer, paths []string, opts Options) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	cfg := config.FromContext(ctx)
	applyOverrides(cfg, opts)
	logger := logging.WithComponent("extract")

	jobs := pairVideos(paths, cfg.LogExtensions, logger)
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "No videos with a detection log found.")
		return nil
	}

	x := &extractor{
		cfg: cfg,
		planner: &export.Planner{
			OutputDir:      cfg.Export.OutputDir,
			MaxDimension:   cfg.Export.MaxDimension,
			FingerprintLen: cfg.Export.FingerprintLen,
			Logger:         logger,
		},
		db:     DB,
		runID:  uuid.New(),
		dryRun: opts.DryRun,
		logger: logger,
		out:    json.NewEncoder(out),
	}

	if !opts.DryRun {
		ex, err := ffmpeg.New(logger, ffmpeg.Options{
			BinaryPath:   cfg.FFmpeg.BinaryPath,
			ProbePath:    cfg.FFmpeg.ProbePath,
			VideoCodec:   cfg.FFmpeg.VideoCodec,
			Preset:       cfg.FFmpeg.Preset,
			CRF:          cfg.FFmpeg.CRF,
			Threads:      cfg.FFmpeg.Threads,
			SkipExisting: cfg.FFmpeg.SkipExisting,
		})
		if err != nil {
			return err
		}
		x.ffmpeg = ex
		if err := os.MkdirAll(cfg.Export.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		x.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("✂️  Extracting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	if opts.Publish {
		pub, err := publish.New(cfg.Kafka, x.runID, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		x.publisher = pub
	}

	logger.Info().Str("run_id", x.runID.String()).Int("videos", len(jobs)).Msg("starting extraction")

	// Bounded pool: one goroutine per video, at most Jobs at a time
	sem := make(chan struct{}, max(cfg.Export.Jobs, 1))
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, job := range jobs {
		wg.Add(1)
		go func(job videoJob) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if err := x.processVideo(ctx, job); err != nil {
				if ctx.Err() != nil {
					return
				}
				mu.Lock()
				failed++
				utils.ShowError(os.Stderr, fmt.Sprintf("Extraction for %s failed", job.Video), err, nil)
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()

	if x.bar != nil {
		x.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d videos failed", failed, len(jobs))
	}
	return nil
}

// processVideo plans one video and runs (or prints) its requests. A failed request is
// recorded and the rest continue.
func (x *extractor) processVideo(ctx context.Context, job videoJob) error {
	logger := x.logger.With().Str("video", job.Video).Logger()

	lg, err := detlog.Load(job.Log)
	if err != nil {
		return err
	}
	plan, err := x.planner.Plan(job.Video, lg, x.cfg.Variants)
	if err != nil {
		return err
	}
	logger.Info().
		Int("requests", len(plan.Requests)).
		Int("skipped", plan.Skipped).
		Int("duplicates", plan.Duplicates).
		Int("collisions", plan.Collisions).
		Msg("plan ready")

	videoID, err := utils.GenerateVideoID(job.Video)
	if err != nil {
		return fmt.Errorf("failed to generate video ID: %w", err)
	}
	if err := x.storeSegments(ctx, videoID, job.Video, lg); err != nil {
		return err
	}

	if x.dryRun {
		for _, req := range plan.Requests {
			if err := x.printRequest(req); err != nil {
				return err
			}
			x.publishRequest(logger, videoID, req, statusPlanned)
		}
		return nil
	}

	failures := 0
	for _, req := range plan.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}

		status := store.StatusDone
		extractErr := x.ffmpeg.Extract(ctx, req)
		switch {
		case errors.Is(extractErr, ffmpeg.ErrSkipped):
			status, extractErr = store.StatusSkipped, nil
		case extractErr != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			status = store.StatusFailed
			failures++
			logger.Error().Err(extractErr).Str("output", req.Output).Msg("extraction failed")
		}
		x.bar.Add(1)

		if x.db != nil {
			if err := x.db.RecordExtraction(ctx, videoID, x.runID, req, status, extractErr); err != nil {
				logger.Error().Err(err).Str("output", req.Output).Msg("failed to record extraction")
			}
		}
		x.publishRequest(logger, videoID, req, status)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d extractions failed", failures, len(plan.Requests))
	}
	return nil
}

func (x *extractor) storeSegments(ctx context.Context, videoID, video string, lg *detlog.Log) error {
	if x.db == nil {
		return nil
	}
	if err := x.db.EnsureVideoMetadata(ctx, videoID, video, lg.Source); err != nil {
		return fmt.Errorf("failed to register video metadata: %w", err)
	}
	for _, gap := range x.cfg.Variants.Gaps {
		segs := segment.Collect(lg.Detections, lg.Source.FPS, gap)
		if err := x.db.InsertSegments(ctx, videoID, gap, segs); err != nil {
			return fmt.Errorf("failed to store segments: %w", err)
		}
	}
	return nil
}

func (x *extractor) printRequest(req export.Request) error {
	x.outMu.Lock()
	defer x.outMu.Unlock()
	return x.out.Encode(req)
}

func (x *extractor) publishRequest(logger zerolog.Logger, videoID string, req export.Request, status string) {
	if x.publisher == nil {
		return
	}
	if err := x.publisher.Publish(videoID, req, status); err != nil {
		logger.Error().Err(err).Str("output", req.Output).Msg("failed to publish request")
	}
}
