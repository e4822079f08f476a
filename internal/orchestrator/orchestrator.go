package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/batch_downloader/internal/catalog"
	"github.com/italolelis/batch_downloader/internal/cleanup"
	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/storage"
)

const dirPerm = 0755

// Fetcher runs single fetch tasks. *downloader.Downloader implements it.
type Fetcher interface {
	NewTask(rec catalog.LinkRecord) (downloader.Task, error)
	Fetch(ctx context.Context, task downloader.Task) downloader.Result
}

// Summary aggregates the results of one pass, each list in catalog order.
type Summary struct {
	RunID     string
	Total     int // records in the catalog
	Remaining int // records not yet in the progress store at start
	Done      []downloader.Result
	Skipped   []downloader.Result
	Failed    []downloader.Result
	Elapsed   time.Duration
}

func (s Summary) HasFailures() bool {
	return len(s.Failed) > 0
}

// Bytes returns the total bytes written by completed tasks.
func (s Summary) Bytes() int64 {
	var n int64
	for _, r := range s.Done {
		n += r.Bytes
	}

	return n
}

// Orchestrator computes the remaining work of a catalog and runs it.
type Orchestrator struct {
	catalogPath string
	destDir     string
	store       storage.ProgressStore
	fetcher     Fetcher
}

func New(catalogPath, destDir string, store storage.ProgressStore, fetcher Fetcher) *Orchestrator {
	return &Orchestrator{
		catalogPath: catalogPath,
		destDir:     destDir,
		store:       store,
		fetcher:     fetcher,
	}
}

// RunAll fetches every catalog record not yet marked complete and waits for
// all of them. Only catalog and progress loading errors are returned; task
// failures are reported in the Summary and never stop sibling tasks.
func (o *Orchestrator) RunAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}

	ctx = logctx.WithRunID(ctx, summary.RunID)
	logger := logctx.LoggerFromContext(ctx)

	records, err := catalog.Load(ctx, o.catalogPath)
	if err != nil {
		return summary, fmt.Errorf("failed to load catalog: %w", err)
	}

	summary.Total = len(records)

	if err := os.MkdirAll(o.destDir, dirPerm); err != nil {
		return summary, fmt.Errorf("failed to create destination directory: %w", err)
	}

	if n, err := cleanup.DeletePartialFiles(ctx, o.destDir, downloader.PartSuffix); err != nil {
		logger.WarnContext(ctx, "failed to sweep partial files", "dir", o.destDir, "err", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "removed partial files from an interrupted run", "count", n)
	}

	completed, err := o.store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load progress: %w", err)
	}

	remaining := make([]catalog.LinkRecord, 0, len(records))
	for _, rec := range records {
		if !completed.Has(rec.SourceIdentifier) {
			remaining = append(remaining, rec)
		}
	}

	summary.Remaining = len(remaining)

	if len(remaining) == 0 {
		logger.InfoContext(ctx, "all downloads completed, nothing to do", "total", len(records))
		summary.Elapsed = time.Since(start)

		return summary, nil
	}

	logger.InfoContext(ctx, "starting downloads", "remaining", len(remaining), "total", len(records))

	results := make([]downloader.Result, len(remaining))

	var wg errgroup.Group

	for i, rec := range remaining {
		wg.Go(func() error {
			results[i] = o.runOne(ctx, rec)

			return nil
		})
	}

	_ = wg.Wait()

	for _, r := range results {
		switch r.Outcome {
		case downloader.Done:
			summary.Done = append(summary.Done, r)
		case downloader.Skipped:
			summary.Skipped = append(summary.Skipped, r)
		default:
			summary.Failed = append(summary.Failed, r)
		}
	}

	summary.Elapsed = time.Since(start)

	logger.InfoContext(ctx, "downloads finished",
		"done", len(summary.Done),
		"skipped", len(summary.Skipped),
		"failed", len(summary.Failed),
		"downloaded", humanize.Bytes(uint64(summary.Bytes())),
		"elapsed", summary.Elapsed.Round(time.Millisecond).String(),
	)

	return summary, nil
}

func (o *Orchestrator) runOne(ctx context.Context, rec catalog.LinkRecord) downloader.Result {
	task, err := o.fetcher.NewTask(rec)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to resolve destination", "identifier", rec.SourceIdentifier, "err", err)

		return downloader.Result{
			Identifier: rec.SourceIdentifier,
			Outcome:    downloader.Failed,
			Err:        &downloader.FilesystemError{Op: "resolve", Path: o.destDir, Err: err},
		}
	}

	return o.fetcher.Fetch(ctx, task)
}
