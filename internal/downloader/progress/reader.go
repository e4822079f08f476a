package progress

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of one transfer.
type Snapshot struct {
	Identifier     string        `json:"identifier,omitempty"`
	File           string        `json:"file,omitempty"`
	Bytes          int64         `json:"bytes"`
	Total          int64         `json:"total,omitempty"` // 0 when the server declared no length
	BytesPerSecond float64       `json:"bytes_per_second"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}

	return float64(s.Bytes) * 100 / float64(s.Total)
}

// Reader wraps an io.Reader, counts bytes and calls OnProgress at most once
// per interval. Snapshot and LastActivity are safe to call from other goroutines.
type Reader struct {
	reader     io.Reader
	total      int64
	interval   time.Duration
	onProgress func(Snapshot)
	now        func() time.Time

	read         atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	start        time.Time

	mu         sync.Mutex
	lastReport time.Time
}

// NewReader wraps r. total <= 0 means the size is unknown. cb may be nil.
func NewReader(r io.Reader, total int64, interval time.Duration, cb func(Snapshot)) *Reader {
	if total < 0 {
		total = 0
	}

	pr := &Reader{
		reader:     r,
		total:      total,
		interval:   interval,
		onProgress: cb,
		now:        time.Now,
	}

	pr.start = pr.now()
	pr.lastReport = pr.start
	pr.lastActivity.Store(pr.start.UnixNano())

	return pr
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read.Add(int64(n))
		now := pr.now()
		pr.lastActivity.Store(now.UnixNano())
		pr.maybeReport(now)
	}

	return n, err
}

func (pr *Reader) maybeReport(now time.Time) {
	if pr.onProgress == nil {
		return
	}

	pr.mu.Lock()
	if now.Sub(pr.lastReport) < pr.interval {
		pr.mu.Unlock()
		return
	}
	pr.lastReport = now
	pr.mu.Unlock()

	pr.onProgress(pr.snapshotAt(now))
}

// Snapshot returns the bytes read so far and the average rate since start.
func (pr *Reader) Snapshot() Snapshot {
	return pr.snapshotAt(pr.now())
}

func (pr *Reader) snapshotAt(now time.Time) Snapshot {
	read := pr.read.Load()
	elapsed := now.Sub(pr.start)

	var rate float64
	if elapsed > 0 {
		rate = float64(read) / elapsed.Seconds()
	}

	return Snapshot{
		Bytes:          read,
		Total:          pr.total,
		BytesPerSecond: rate,
		Elapsed:        elapsed,
	}
}

// LastActivity returns when bytes last arrived, or the start time if none have.
func (pr *Reader) LastActivity() time.Time {
	return time.Unix(0, pr.lastActivity.Load())
}
