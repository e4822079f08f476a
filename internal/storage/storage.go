package storage

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
)

// ProgressFileName is the default name of the progress file inside the destination directory.
const ProgressFileName = "download_progress.json"

// ProgressSet holds the identifiers whose transfers completed in full.
type ProgressSet map[string]struct{}

// NewProgressSet builds a set from ids.
func NewProgressSet(ids ...string) ProgressSet {
	s := make(ProgressSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}

	return s
}

func (s ProgressSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s ProgressSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the identifiers in lexical order.
func (s ProgressSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// ProgressStore persists completed identifiers across runs.
// MarkComplete must be safe for concurrent use and durable once it returns.
type ProgressStore interface {
	Load(ctx context.Context) (ProgressSet, error)
	MarkComplete(ctx context.Context, identifier string) error
	Reset(ctx context.Context) error
	Close() error
}

// InstanceID identifies the writing process in backends that keep per-row metadata.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
