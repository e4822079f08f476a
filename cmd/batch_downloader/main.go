package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/italolelis/batch_downloader/internal/config"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/storage/jsonfile"
	"github.com/italolelis/batch_downloader/internal/storage/sqlite"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

var version = "dev"

// errTasksFailed is returned by run when the pass finished but some tasks failed.
var errTasksFailed = errors.New("some downloads failed")

type app struct {
	cfg *config.Config

	catalogPath     string
	destDir         string
	batchSize       int
	progressBackend string
	logLevel        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)

	switch {
	case err == nil:
	case errors.Is(err, errTasksFailed):
		stop()
		os.Exit(2)
	default:
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "batch_downloader",
		Short:         "Fetch every file of a link catalog, in parallel and resumable",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.catalogPath, "catalog", "c", "", "path to the link catalog (overrides CATALOG_PATH)")
	flags.StringVarP(&a.destDir, "dest", "d", "", "destination directory (overrides DEST_DIR)")
	flags.IntVarP(&a.batchSize, "batch-size", "b", 0, "maximum concurrent transfers (overrides BATCH_SIZE)")
	flags.StringVar(&a.progressBackend, "progress-backend", "", "progress store backend: file or sqlite (overrides PROGRESS_BACKEND)")
	flags.StringVar(&a.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newProgressCmd(a))

	return root
}

// setup loads the configuration, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("catalog") {
		cfg.CatalogPath = a.catalogPath
	}

	if flags.Changed("dest") {
		cfg.DestDir = a.destDir
	}

	if flags.Changed("batch-size") {
		cfg.BatchSize = a.batchSize
	}

	if flags.Changed("progress-backend") {
		cfg.ProgressBackend = a.progressBackend
	}

	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg

	logger := slog.New(logctx.NewContextHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

	return nil
}

// openStore builds the configured progress store. tel may be nil.
func (a *app) openStore(tel *telemetry.Telemetry) (storage.ProgressStore, error) {
	var store storage.ProgressStore

	switch a.cfg.ProgressBackend {
	case config.BackendSQLite:
		db, err := sqlite.InitDB(a.cfg.ProgressDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open progress database: %w", err)
		}

		store = sqlite.NewProgressRepository(db)
	default:
		store = jsonfile.New(filepath.Join(a.cfg.DestDir, storage.ProgressFileName))
	}

	return storage.NewInstrumented(store, tel), nil
}
