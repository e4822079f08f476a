package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/batch_downloader/internal/storage"
)

var _ storage.ProgressStore = (*Store)(nil)

func TestStore_LoadWithoutFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), storage.ProgressFileName))

	set, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestStore_MarkCompleteIsDurable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), storage.ProgressFileName)

	s := New(path)
	require.NoError(t, s.MarkComplete(ctx, "https://h/p#a.zip"))
	require.NoError(t, s.MarkComplete(ctx, "https://h/p#a.zip"))
	require.NoError(t, s.MarkComplete(ctx, "https://h/p#b.zip"))

	// A fresh instance stands in for a restarted process.
	set, err := New(path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://h/p#a.zip", "https://h/p#b.zip"}, set.Sorted())

	var onDisk []string
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 2)
}

func TestStore_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), storage.ProgressFileName)
	require.NoError(t, os.WriteFile(path, []byte(`["x#1.bin","x#2.bin"]`), 0o644))

	set, err := New(path).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, set.Has("x#1.bin"))
	assert.True(t, set.Has("x#2.bin"))
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), storage.ProgressFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"oops"`), 0o644))

	_, err := New(path).Load(context.Background())
	assert.Error(t, err)
}

func TestStore_ConcurrentMarkComplete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), storage.ProgressFileName)
	s := New(path)

	const k = 64

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.MarkComplete(ctx, fmt.Sprintf("https://h/p#file-%02d.bin", i)))
		}(i)
	}

	wg.Wait()

	set, err := New(path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, set, k)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), storage.ProgressFileName))

	set, err := s.Load(ctx)
	require.NoError(t, err)
	set.Add("mutated#x")

	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, again.Has("mutated#x"))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), storage.ProgressFileName)
	s := New(path)

	require.NoError(t, s.MarkComplete(ctx, "a#b"))
	require.NoError(t, s.Reset(ctx))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	set, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(filepath.Join(t.TempDir(), storage.ProgressFileName))
	assert.ErrorIs(t, s.MarkComplete(ctx, "a#b"), context.Canceled)
}
