package downloader

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting gate bounding how many transfers run at once.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewLimiter returns a limiter with size permits. size must be positive.
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		panic("downloader: limiter size must be positive")
	}

	return &Limiter{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire blocks until a permit is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	cur := l.inFlight.Add(1)
	for {
		peak := l.peak.Load()
		if cur <= peak || l.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	return nil
}

// Release returns a permit obtained by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

func (l *Limiter) Size() int {
	return l.size
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest number of permits held at the same time.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}
