package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/logging"
	"github.com/andresmejia3/cameo/internal/segment"
	"github.com/andresmejia3/cameo/internal/utils"
	"github.com/spf13/cobra"
)

var segmentsOpts Options

var segmentsCmd = &cobra.Command{
	Use:   "segments <video>...",
	Short: "Print the segments found in each video's detection log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSegments(cmd.Context(), os.Stdout, args, segmentsOpts)
	},
}

func init() {
	segmentsCmd.Flags().Float64SliceVarP(&segmentsOpts.Gaps, "gap", "g", nil, "Max gap in seconds (repeatable, default from config)")
	rootCmd.AddCommand(segmentsCmd)
}

func runSegments(ctx context.Context, out io.Writer, paths []string, opts Options) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	cfg := config.FromContext(ctx)
	applyOverrides(cfg, opts)
	logger := logging.WithComponent("segments")

	failed := 0
	jobs := pairVideos(paths, cfg.LogExtensions, logger)
	for _, job := range jobs {
		lg, err := detlog.Load(job.Log)
		if err != nil {
			failed++
			utils.ShowError(os.Stderr, "Could not read detection log", err, nil)
			continue
		}
		printSegments(out, job, lg, cfg.Variants.Gaps)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d logs could not be read", failed, len(jobs))
	}
	return nil
}

func printSegments(out io.Writer, job videoJob, lg *detlog.Log, gaps []float64) {
	fmt.Fprintf(out, "\n📼 %s (%v fps, %dx%d, %d detections)\n",
		job.Video, lg.Source.FPS, lg.Source.Width, lg.Source.Height, len(lg.Detections))
	if !lg.Ordered() {
		fmt.Fprintf(out, "⚠️  %s is not ordered by frame, skipping\n", job.Log)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "GAP\t#\tSTART\tEND\tFRAMES\tDETECTIONS\tCOVERAGE")
	fmt.Fprintln(w, "---\t-\t-----\t---\t------\t----------\t--------")
	for _, gap := range gaps {
		n := 0
		for seg := range segment.FromLog(lg, gap) {
			n++
			cov := seg.Coverage()
			fmt.Fprintf(w, "%gs\t%d\t%s\t%s\t%d-%d\t%d\t%s\n",
				gap, n, fmtTime(seg.StartSeconds()), fmtTime(seg.EndSeconds()),
				seg.FrameStart(), seg.FrameEnd(), seg.Len(), cov.Round().Crop().Filter())
		}
		if n == 0 {
			fmt.Fprintf(w, "%gs\t-\t\t\t\t\tno segments\n", gap)
		}
	}
	w.Flush()
}
