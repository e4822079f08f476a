package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/batch_downloader/internal/catalog"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/storage/jsonfile"
)

type fixture struct {
	dir     string
	store   *jsonfile.Store
	limiter *Limiter
	d       *Downloader
}

func newFixture(t *testing.T, slots int, opts Options) *fixture {
	t.Helper()

	dir := t.TempDir()
	opts.DestDir = dir

	store := jsonfile.New(filepath.Join(dir, storage.ProgressFileName))
	limiter := NewLimiter(slots)

	return &fixture{
		dir:     dir,
		store:   store,
		limiter: limiter,
		d:       NewDownloader(http.DefaultClient, store, limiter, progress.NewTracker(), nil, opts),
	}
}

func (f *fixture) task(t *testing.T, name, url string) Task {
	t.Helper()

	task, err := f.d.NewTask(catalog.LinkRecord{
		SourceIdentifier: "https://site/page#" + name,
		FetchURL:         url,
		DiscoveredAt:     time.Now(),
	})
	require.NoError(t, err)

	return task
}

func (f *fixture) completed(t *testing.T) storage.ProgressSet {
	t.Helper()

	set, err := jsonfile.New(f.store.Path()).Load(context.Background())
	require.NoError(t, err)

	return set
}

func TestNewTask_FilenameDerivation(t *testing.T) {
	f := newFixture(t, 1, Options{})

	task := f.task(t, "My-Game.zip", "https://cdn/dl/1")
	assert.Equal(t, "My-Game.zip", task.FileName)
	assert.Equal(t, filepath.Join(f.dir, "My-Game.zip"), task.TargetPath)

	_, err := f.d.NewTask(catalog.LinkRecord{SourceIdentifier: "https://site/page", FetchURL: "u"})
	assert.Error(t, err)
}

func TestFetch_Success(t *testing.T) {
	body := strings.Repeat("0123456789", 5000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	f := newFixture(t, 1, Options{ProgressInterval: time.Millisecond})
	task := f.task(t, "a.bin", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	require.NoError(t, res.Err)
	assert.Equal(t, Done, res.Outcome)
	assert.EqualValues(t, len(body), res.Bytes)

	got, err := os.ReadFile(task.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	assert.NoFileExists(t, task.TargetPath+PartSuffix)
	assert.True(t, f.completed(t).Has(task.Record.SourceIdentifier))
	assert.Zero(t, f.limiter.InFlight())
}

func TestFetch_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("chunk-1;"))
		flusher.Flush()
		_, _ = w.Write([]byte("chunk-2"))
	}))
	defer srv.Close()

	f := newFixture(t, 1, Options{})
	task := f.task(t, "stream.txt", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	require.NoError(t, res.Err)

	got, err := os.ReadFile(task.TargetPath)
	require.NoError(t, err)
	assert.Equal(t, "chunk-1;chunk-2", string(got))
}

func TestFetch_SkipsExistingFile(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, 1, Options{})
	task := f.task(t, "exists.bin", srv.URL)
	require.NoError(t, os.WriteFile(task.TargetPath, []byte("old"), 0o644))

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Skipped, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Zero(t, hits.Load())
	assert.False(t, f.completed(t).Has(task.Record.SourceIdentifier))
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFixture(t, 1, Options{})
	task := f.task(t, "missing.bin", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)

	var statusErr *StatusError
	require.ErrorAs(t, res.Err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	assert.NoFileExists(t, task.TargetPath)
	assert.NoFileExists(t, task.TargetPath+PartSuffix)
	assert.Empty(t, f.completed(t))
	assert.Zero(t, f.limiter.InFlight())
}

func TestFetch_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newFixture(t, 1, Options{})
	task := f.task(t, "down.bin", url)

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)

	var connErr *ConnectionError
	require.ErrorAs(t, res.Err, &connErr)
	assert.NoFileExists(t, task.TargetPath)
}

func TestFetch_ConnectionDropsMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write(make([]byte, 20000))
		w.(http.Flusher).Flush()

		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	f := newFixture(t, 1, Options{})
	task := f.task(t, "partial.bin", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)

	var streamErr *StreamError
	require.ErrorAs(t, res.Err, &streamErr)
	assert.EqualValues(t, 100000, streamErr.Expected)

	assert.NoFileExists(t, task.TargetPath)
	assert.NoFileExists(t, task.TargetPath+PartSuffix)
	assert.Empty(t, f.completed(t))
}

func TestFetch_StalledTransfer(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("first bytes"))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t, 1, Options{StallTimeout: 100 * time.Millisecond})
	task := f.task(t, "stalled.bin", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, errStalled)
	assert.NoFileExists(t, task.TargetPath+PartSuffix)
	assert.Zero(t, f.limiter.InFlight())
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t, 1, Options{FetchTimeout: 100 * time.Millisecond})
	task := f.task(t, "slow.bin", srv.URL)

	res := f.d.Fetch(context.Background(), task)
	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, errTimedOut)

	var connErr *ConnectionError
	assert.ErrorAs(t, res.Err, &connErr)
}

func TestFetch_CanceledWhileWaitingForSlot(t *testing.T) {
	f := newFixture(t, 1, Options{})
	require.NoError(t, f.limiter.Acquire(context.Background()))
	defer f.limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := f.d.Fetch(ctx, f.task(t, "queued.bin", "http://127.0.0.1:1/never"))
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestFetch_RespectsLimiter(t *testing.T) {
	const slots = 2

	var (
		active atomic.Int32
		peak   atomic.Int32
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := active.Add(1)
		defer active.Add(-1)

		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}

		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newFixture(t, slots, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		task := f.task(t, "f"+strconv.Itoa(i)+".bin", srv.URL)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, Done, f.d.Fetch(context.Background(), task).Outcome)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), slots)
	assert.LessOrEqual(t, f.limiter.Peak(), slots)
	assert.Len(t, f.completed(t), 8)
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InFlight())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(short))

	l.Release()
	require.NoError(t, l.Acquire(ctx))

	l.Release()
	l.Release()
	assert.Zero(t, l.InFlight())
	assert.Equal(t, 2, l.Peak())
	assert.Equal(t, 2, l.Size())

	assert.Panics(t, func() { NewLimiter(0) })
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
