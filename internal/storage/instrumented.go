package storage

import (
	"context"

	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// Instrumented wraps a ProgressStore with telemetry.
type Instrumented struct {
	store     ProgressStore
	telemetry *telemetry.Telemetry
}

// NewInstrumented creates a new instrumented progress store.
func NewInstrumented(store ProgressStore, tel *telemetry.Telemetry) *Instrumented {
	return &Instrumented{
		store:     store,
		telemetry: tel,
	}
}

// Load loads the progress set with telemetry.
func (s *Instrumented) Load(ctx context.Context) (ProgressSet, error) {
	var result ProgressSet

	err := s.telemetry.InstrumentDBOperation(ctx, "load", func(ctx context.Context) error {
		var err error

		result, err = s.store.Load(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkComplete marks an identifier complete with telemetry.
func (s *Instrumented) MarkComplete(ctx context.Context, identifier string) error {
	return s.telemetry.InstrumentDBOperation(ctx, "mark_complete", func(ctx context.Context) error {
		return s.store.MarkComplete(ctx, identifier)
	})
}

// Reset clears the store with telemetry.
func (s *Instrumented) Reset(ctx context.Context) error {
	return s.telemetry.InstrumentDBOperation(ctx, "reset", func(ctx context.Context) error {
		return s.store.Reset(ctx)
	})
}

func (s *Instrumented) Close() error {
	return s.store.Close()
}
