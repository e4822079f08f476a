package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// DeletePartialFiles removes files ending in suffix directly inside dir.
// They are leftovers of transfers interrupted before completion; no
// transfer of the current run has started when this is called.
// A missing dir is not an error. It returns the number of files removed.
func DeletePartialFiles(ctx context.Context, dir, suffix string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}

		path := filepath.Join(dir, e.Name())

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete partial file", "file", path, "err", err)

			return removed, err
		}

		logger.Info("deleted partial file", "file", path)

		removed++
	}

	return removed, nil
}
