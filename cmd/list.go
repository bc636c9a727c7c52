package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/cameo/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recorded extractions in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if DB == nil {
			return fmt.Errorf("no database configured (use --db or POSTGRES_HOST)")
		}
		return runList(cmd.Context(), os.Stdout, DB)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, out io.Writer, db *store.Store) error {
	rows, err := db.ListExtractions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list extractions: %w", err)
	}
	printExtractions(out, rows)
	return nil
}

func printExtractions(out io.Writer, rows []store.Extraction) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No extractions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "OUTPUT\tSTATUS\tSTART\tFRAMES\tCROP\tRUN\tCREATED")
	fmt.Fprintln(w, "------\t------\t-----\t------\t----\t---\t-------")

	for _, e := range rows {
		status := e.Status
		if e.Error != "" {
			status += " (" + e.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			filepath.Base(e.Output), status, fmtTime(max(e.Seek, 0)), e.FrameCount, e.Crop,
			e.RunID.String()[:8], e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
