package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/batch_downloader/internal/catalog"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	// ChunkSize is the read buffer used while streaming a body to disk.
	ChunkSize = 8 * 1024

	// PartSuffix marks a file that is still being written.
	PartSuffix = catalog.PartialSuffix
)

// Outcome is the terminal state of a fetch task.
type Outcome int

const (
	Done Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task pairs a catalog record with the local path it is written to.
type Task struct {
	Record     catalog.LinkRecord
	FileName   string
	TargetPath string
}

// Result describes how a task ended.
type Result struct {
	Identifier string
	FileName   string
	Path       string
	Outcome    Outcome
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Options tunes a Downloader.
type Options struct {
	DestDir string
	// FetchTimeout bounds connect plus stream of one task. Zero disables it.
	FetchTimeout time.Duration
	// StallTimeout fails a transfer that receives no bytes for this long. Zero disables it.
	StallTimeout     time.Duration
	ProgressInterval time.Duration
	UserAgent        string
}

// Downloader executes fetch tasks. One Downloader is shared by all tasks of a run.
type Downloader struct {
	client    *http.Client
	store     storage.ProgressStore
	limiter   *Limiter
	tracker   *progress.Tracker
	telemetry *telemetry.Telemetry
	opts      Options
}

func NewDownloader(
	client *http.Client,
	store storage.ProgressStore,
	limiter *Limiter,
	tracker *progress.Tracker,
	tel *telemetry.Telemetry,
	opts Options,
) *Downloader {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}

	return &Downloader{
		client:    client,
		store:     store,
		limiter:   limiter,
		tracker:   tracker,
		telemetry: tel,
		opts:      opts,
	}
}

// NewTask resolves the destination of rec inside the destination directory.
func (d *Downloader) NewTask(rec catalog.LinkRecord) (Task, error) {
	name, err := rec.FileName()
	if err != nil {
		return Task{}, err
	}

	return Task{
		Record:     rec,
		FileName:   name,
		TargetPath: filepath.Join(d.opts.DestDir, name),
	}, nil
}

// Fetch runs one task to a terminal state. It never panics on transfer
// errors and never retries; the error, if any, is in Result.Err.
func (d *Downloader) Fetch(ctx context.Context, task Task) (res Result) {
	start := time.Now()
	id := task.Record.SourceIdentifier

	ctx, finish := d.telemetry.StartFetch(ctx)
	logger := logctx.LoggerFromContext(ctx).With("identifier", id, "file", task.FileName)

	res = Result{Identifier: id, FileName: task.FileName, Path: task.TargetPath}

	defer func() {
		res.Duration = time.Since(start)
		finish(res.Outcome.String(), res.Err)
	}()

	fail := func(err error) Result {
		res.Outcome = Failed
		res.Err = err
		logger.ErrorContext(ctx, "failed to download file", "err", err)

		return res
	}

	if _, err := os.Stat(task.TargetPath); err == nil {
		logger.InfoContext(ctx, "skipping file, already exists")

		res.Outcome = Skipped

		return res
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fail(&FilesystemError{Op: "stat", Path: task.TargetPath, Err: err})
	}

	if err := d.limiter.Acquire(ctx); err != nil {
		return fail(fmt.Errorf("waiting for a download slot: %w", err))
	}

	released := false
	release := func() {
		if !released {
			released = true
			d.limiter.Release()
		}
	}
	defer release()

	d.telemetry.IncrementActiveFetches()
	written, err := d.transfer(ctx, task, logger)
	d.telemetry.DecrementActiveFetches()
	release()

	res.Bytes = written
	if err != nil {
		return fail(err)
	}

	// The file is already at its final path; record it even if the run is being cancelled.
	if err := d.store.MarkComplete(context.WithoutCancel(ctx), id); err != nil {
		return fail(fmt.Errorf("failed to mark download complete: %w", err))
	}

	res.Outcome = Done

	elapsed := time.Since(start)
	logger.InfoContext(ctx, "downloaded and saved file",
		"target", task.TargetPath,
		"size", humanize.Bytes(uint64(written)),
		"speed", humanize.Bytes(uint64(rate(written, elapsed)))+"/s",
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)

	return res
}

// transfer performs Connect and Stream. The body is written to a .part file
// which is renamed onto the target only after every byte has been written;
// on any error the .part file is removed.
func (d *Downloader) transfer(ctx context.Context, task Task, logger *slog.Logger) (int64, error) {
	url := task.Record.FetchURL

	fetchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if d.opts.FetchTimeout > 0 {
		timer := time.AfterFunc(d.opts.FetchTimeout, func() { cancel(errTimedOut) })
		defer timer.Stop()
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &ConnectionError{URL: url, Err: err}
	}

	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &ConnectionError{URL: url, Err: causeOr(fetchCtx, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if err := os.MkdirAll(filepath.Dir(task.TargetPath), dirPerm); err != nil {
		return 0, &FilesystemError{Op: "mkdir", Path: filepath.Dir(task.TargetPath), Err: err}
	}

	partPath := task.TargetPath + PartSuffix

	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, &FilesystemError{Op: "create", Path: partPath, Err: err}
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		out.Close()

		if err := os.Remove(partPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove partial file", "path", partPath, "err", err)
		}
	}()

	expected := resp.ContentLength

	logger.InfoContext(ctx, "downloading file", "file_path", task.TargetPath, "file_size", sizeLabel(expected))

	pr := progress.NewReader(resp.Body, expected, d.opts.ProgressInterval, func(s progress.Snapshot) {
		logProgress(ctx, logger, s)
	})

	untrack := d.tracker.Track(task.Record.SourceIdentifier, task.FileName, pr)
	defer untrack()

	if d.opts.StallTimeout > 0 {
		stopWatch := watchStall(fetchCtx, pr, d.opts.StallTimeout, cancel)
		defer stopWatch()
	}

	written, err := d.stream(out, pr)
	if err != nil {
		var fsErr *FilesystemError
		if errors.As(err, &fsErr) {
			return written, err
		}

		return written, &StreamError{Path: task.TargetPath, Written: written, Expected: expected, Err: causeOr(fetchCtx, err)}
	}

	if expected >= 0 && written != expected {
		return written, &StreamError{Path: task.TargetPath, Written: written, Expected: expected, Err: errShortWrite}
	}

	if err := out.Sync(); err != nil {
		return written, &FilesystemError{Op: "sync", Path: partPath, Err: err}
	}

	if err := out.Close(); err != nil {
		return written, &FilesystemError{Op: "close", Path: partPath, Err: err}
	}

	if err := os.Rename(partPath, task.TargetPath); err != nil {
		return written, &FilesystemError{Op: "rename", Path: task.TargetPath, Err: err}
	}

	committed = true

	return written, nil
}

// stream copies r to out chunk by chunk, in arrival order.
func (d *Downloader) stream(out io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)

	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, &FilesystemError{Op: "write", Path: fileName(out), Err: err}
			}

			written += int64(n)
			d.telemetry.AddBytes(int64(n))
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, readErr
		}
	}
}

// watchStall cancels ctx with errStalled once pr has seen no bytes for timeout.
func watchStall(ctx context.Context, pr *progress.Reader, timeout time.Duration, cancel context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})

	tick := timeout / 4
	if tick <= 0 {
		tick = timeout
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(pr.LastActivity()) >= timeout {
					cancel(errStalled)

					return
				}
			}
		}
	}()

	return func() { close(done) }
}

// causeOr prefers the cancellation cause of ctx (timeout, stall) over err.
func causeOr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		return fmt.Errorf("%w: %w", cause, err)
	}

	return err
}

func logProgress(ctx context.Context, logger *slog.Logger, s progress.Snapshot) {
	attrs := []any{
		"downloaded", humanize.Bytes(uint64(s.Bytes)),
		"speed", humanize.Bytes(uint64(s.BytesPerSecond)) + "/s",
	}

	if s.Total > 0 {
		attrs = append(attrs,
			"total", humanize.Bytes(uint64(s.Total)),
			"percent", humanize.FtoaWithDigits(s.Percent(), 2),
		)
	}

	logger.InfoContext(ctx, "download progress", attrs...)
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(n))
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}

	return float64(n) / d.Seconds()
}

func fileName(w io.Writer) string {
	if f, ok := w.(*os.File); ok {
		return f.Name()
	}

	return ""
}
