package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/storage"
	"gopkg.in/yaml.v3"
)

const (
	// TimestampLayout is the layout the link-discovery stage writes.
	TimestampLayout = "2006-01-02 15:04:05"

	// PartialSuffix marks files still being written in the destination
	// directory. Catalog filenames may not end with it, so the startup sweep
	// never removes a completed download.
	PartialSuffix = ".part"
)

// LinkRecord is one entry of the catalog produced by link discovery.
type LinkRecord struct {
	SourceIdentifier string
	FetchURL         string
	DiscoveredAt     time.Time
}

// FileName returns the destination filename encoded in the identifier.
func (r LinkRecord) FileName() (string, error) {
	return FileNameFromIdentifier(r.SourceIdentifier)
}

// FileNameFromIdentifier returns the part of identifier after its first '#'.
// Names that would escape the destination directory are rejected.
func FileNameFromIdentifier(identifier string) (string, error) {
	_, name, found := strings.Cut(identifier, "#")
	if !found {
		return "", fmt.Errorf("identifier %q has no '#' filename suffix", identifier)
	}

	switch {
	case name == "":
		return "", fmt.Errorf("identifier %q has an empty filename", identifier)
	case name == "." || name == "..":
		return "", fmt.Errorf("identifier %q has a reserved filename %q", identifier, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return "", fmt.Errorf("identifier %q has filename %q with a path separator", identifier, name)
	case strings.EqualFold(name, storage.ProgressFileName):
		return "", fmt.Errorf("identifier %q has filename %q reserved for the progress file", identifier, name)
	case strings.HasSuffix(strings.ToLower(name), PartialSuffix):
		return "", fmt.Errorf("identifier %q has filename %q ending in %s", identifier, name, PartialSuffix)
	}

	return name, nil
}

// ParseError is returned when the catalog cannot be read or a record is invalid.
type ParseError struct {
	Path   string // Catalog file path
	Index  int    // Record index, -1 for whole-file errors
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("catalog %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("catalog %s: record %d: %s", e.Path, e.Index, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// wireRecord mirrors the on-disk format of the discovery stage.
type wireRecord struct {
	InitialURL *string `json:"initial_url" yaml:"initial_url"`
	FinalURL   *string `json:"final_url" yaml:"final_url"`
	Timestamp  *string `json:"timestamp" yaml:"timestamp"`
}

// Load reads the catalog at path. YAML is used for .yaml/.yml files, JSON otherwise.
// Records keep file order; a repeated identifier keeps its first occurrence.
func Load(ctx context.Context, path string) ([]LinkRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Index: -1, Reason: "failed to read file", Err: err}
	}

	return Parse(ctx, path, data)
}

// Parse decodes catalog bytes. path selects the encoding and labels errors.
func Parse(ctx context.Context, path string, data []byte) ([]LinkRecord, error) {
	logger := logctx.LoggerFromContext(ctx)

	var raw []wireRecord

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(&raw); err != nil {
			return nil, &ParseError{Path: path, Index: -1, Reason: "malformed yaml", Err: err}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&raw); err != nil {
			return nil, &ParseError{Path: path, Index: -1, Reason: "malformed json", Err: err}
		}
	}

	records := make([]LinkRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	names := make(map[string]string, len(raw))

	for i, w := range raw {
		rec, err := w.toRecord()
		if err != nil {
			return nil, &ParseError{Path: path, Index: i, Reason: err.Error(), Err: err}
		}

		if _, dup := seen[rec.SourceIdentifier]; dup {
			logger.Warn("dropping duplicate catalog record", "index", i, "identifier", rec.SourceIdentifier)

			continue
		}

		// Two identifiers with the same suffix would share one target path.
		// Case is folded because the destination may be case-insensitive.
		name, _ := rec.FileName()
		nameKey := strings.ToLower(name)

		if first, taken := names[nameKey]; taken {
			logger.Warn("dropping catalog record with a filename already in use",
				"index", i, "identifier", rec.SourceIdentifier, "file", name, "kept", first)

			continue
		}

		seen[rec.SourceIdentifier] = struct{}{}
		names[nameKey] = rec.SourceIdentifier
		records = append(records, rec)
	}

	return records, nil
}

func (w wireRecord) toRecord() (LinkRecord, error) {
	if w.InitialURL == nil || strings.TrimSpace(*w.InitialURL) == "" {
		return LinkRecord{}, fmt.Errorf("missing initial_url")
	}

	if w.FinalURL == nil || strings.TrimSpace(*w.FinalURL) == "" {
		return LinkRecord{}, fmt.Errorf("missing final_url")
	}

	if w.Timestamp == nil || strings.TrimSpace(*w.Timestamp) == "" {
		return LinkRecord{}, fmt.Errorf("missing timestamp")
	}

	discoveredAt, err := parseTimestamp(*w.Timestamp)
	if err != nil {
		return LinkRecord{}, err
	}

	rec := LinkRecord{
		SourceIdentifier: *w.InitialURL,
		FetchURL:         *w.FinalURL,
		DiscoveredAt:     discoveredAt,
	}

	if _, err := rec.FileName(); err != nil {
		return LinkRecord{}, err
	}

	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}

	return t, nil
}
