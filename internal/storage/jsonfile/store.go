// Package jsonfile keeps the progress set as a JSON array of identifiers,
// the format written by earlier versions of the downloader.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/italolelis/batch_downloader/internal/storage"
)

const filePerm = 0o644

// Store owns the progress file for the lifetime of the process. The set is
// read once and every later change is applied in memory under mu and written
// out with an atomic replace, so concurrent MarkComplete calls never lose updates.
type Store struct {
	path string

	mu     sync.Mutex
	set    storage.ProgressSet
	loaded bool
}

// New returns a store backed by the file at path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the progress file.
func (s *Store) Path() string {
	return s.path
}

// Load returns a copy of the persisted set, or an empty set if no file exists yet.
func (s *Store) Load(ctx context.Context) (storage.ProgressSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	out := make(storage.ProgressSet, len(s.set))
	for id := range s.set {
		out.Add(id)
	}

	return out, nil
}

// MarkComplete adds identifier and persists the whole set before returning.
func (s *Store) MarkComplete(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if s.set.Has(identifier) {
		return nil
	}

	s.set.Add(identifier)

	if err := s.persist(); err != nil {
		delete(s.set, identifier)

		return err
	}

	return nil
}

// Reset forgets every completed identifier and removes the file.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove progress file: %w", err)
	}

	s.set = storage.NewProgressSet()
	s.loaded = true

	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.set = storage.NewProgressSet()
		s.loaded = true

		return nil
	case err != nil:
		return fmt.Errorf("failed to read progress file: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("failed to decode progress file %s: %w", s.path, err)
	}

	s.set = storage.NewProgressSet(ids...)
	s.loaded = true

	return nil
}

// persist writes the set to a sibling temp file, syncs it and renames it over path.
func (s *Store) persist() error {
	data, err := json.Marshal(s.set.Sorted())
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write progress: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to sync progress: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to close progress: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to chmod progress: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	return nil
}
