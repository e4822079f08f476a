package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/http/rest"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/notifier"
	"github.com/italolelis/batch_downloader/internal/orchestrator"
	"github.com/italolelis/batch_downloader/internal/report"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var markdown bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch every catalog record not yet completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, markdown)
		},
	}

	cmd.Flags().BoolVar(&markdown, "markdown", false, "print the summary as a markdown table")

	return cmd
}

func (a *app) run(cmd *cobra.Command, markdown bool) error {
	ctx := cmd.Context()
	logger := logctx.LoggerFromContext(ctx)
	cfg := a.cfg

	logger.Info("batch downloader starting...",
		"version", version,
		"catalog", cfg.CatalogPath,
		"dest_dir", cfg.DestDir,
		"batch_size", cfg.BatchSize,
		"progress_backend", cfg.ProgressBackend,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Progress Store
	store, err := a.openStore(tel)
	if err != nil {
		return err
	}
	defer store.Close()

	// =========================================================================
	// Start Downloader
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tel.TracerProvider())),
	}

	limiter := downloader.NewLimiter(cfg.BatchSize)
	tracker := progress.NewTracker()

	d := downloader.NewDownloader(client, store, limiter, tracker, tel, downloader.Options{
		DestDir:          cfg.DestDir,
		FetchTimeout:     cfg.FetchTimeout,
		StallTimeout:     cfg.StallTimeout,
		ProgressInterval: cfg.ProgressInterval,
		UserAgent:        cfg.UserAgent,
	})

	// =========================================================================
	// Start Status Server
	if cfg.StatusAddr != "" {
		server := rest.NewServer(ctx, cfg.StatusAddr, rest.NewStatusHandler(tracker, limiter, tel), tel)

		go func() {
			logger.Info("initializing status server", "host", cfg.StatusAddr)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the status server", "err", err)
				_ = server.Close()
			}
		}()
	}

	// =========================================================================
	// Run
	summary, err := orchestrator.New(cfg.CatalogPath, cfg.DestDir, store, d).RunAll(ctx)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Render(summary, markdown))

	if cfg.DiscordWebhookURL != "" && summary.Remaining > 0 {
		notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, nil)

		if err := notif.Notify(context.WithoutCancel(ctx), report.Message(summary)); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}

	if summary.HasFailures() {
		return fmt.Errorf("%w: %d of %d", errTasksFailed, len(summary.Failed), summary.Remaining)
	}

	return nil
}
