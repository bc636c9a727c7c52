package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/cameo/internal/config"
	"github.com/andresmejia3/cameo/internal/logging"
	"github.com/andresmejia3/cameo/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds flag values shared by record, segments and extract.
// Zero values fall back to the loaded configuration.
type Options struct {
	Gaps         []float64
	OutputDir    string
	Jobs         int
	DryRun       bool
	Publish      bool
	SkipExisting bool
	RefsDir      string
	Tolerance    float64
	SkipFrames   int
	MissStride   int
	Downscale    int
}

var (
	// DB is the optional database connection shared by subcommands. Nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL   string
	cfgPath string
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "cameo",
	Short:   "Find one face across videos and cut padded, cropped clips around every appearance",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win
		_ = godotenv.Load()

		logging.Init(verbose)
		logger := logging.WithComponent("cli")

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))

		url := dbURL
		if url == "" {
			url = cfg.DatabaseURL()
		}
		if url == "" {
			logger.Debug().Msg("no database configured, results will not be stored")
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* variables, none when unset)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: ./cameo.yaml or ~/.cameo/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
