// Package ingest reads raw source exports (JSON, CSV, XLSX) into batches.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Format is a supported export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
}

// Options describe how to read one file. Source and IngestedAt are required
// unless a JSON batch envelope supplies them.
type Options struct {
	Source     model.Source
	IngestedAt time.Time
	SheetName  string // xlsx only
}

// ReadFile parses a whole export into one batch. Any structural parse error
// fails the whole file.
func ReadFile(ctx context.Context, path string, opts Options) (*model.RawBatch, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var batch *model.RawBatch
	switch format {
	case FormatJSON:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		batch, err = ReadJSON(ctx, f)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", path)
		}
	case FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		records, err := ReadCSV(ctx, f)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", path)
		}
		batch = &model.RawBatch{Records: records}
	case FormatXLSX:
		records, err := ReadXLSX(path, XLSXOptions{SheetName: opts.SheetName})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", path)
		}
		batch = &model.RawBatch{Records: records}
	}

	if opts.Source != "" {
		batch.Source = opts.Source
	}
	if !opts.IngestedAt.IsZero() {
		batch.IngestedAt = opts.IngestedAt
	}
	if batch.Source == "" {
		return nil, eris.Errorf("ingest: %s: source is required", path)
	}
	src, err := model.ParseSource(string(batch.Source))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", path)
	}
	batch.Source = src
	if batch.IngestedAt.IsZero() {
		return nil, eris.Errorf("ingest: %s: ingested_at is required", path)
	}
	batch.IngestedAt = batch.IngestedAt.UTC()
	return batch, nil
}

// rowsToRecords turns tabular rows into JSON objects keyed by a normalized
// header. Blank rows are skipped.
func rowsToRecords(header []string, rows [][]string) ([]json.RawMessage, error) {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = headerKey(h)
	}

	out := make([]json.RawMessage, 0, len(rows))
	for n, row := range rows {
		obj := make(map[string]string, len(keys))
		blank := true
		for i, v := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				blank = false
			}
			obj[keys[i]] = v
		}
		if blank {
			continue
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: encode row %d", n+1)
		}
		out = append(out, data)
	}
	return out, nil
}

// headerKey lower-cases a column header and joins words with underscores,
// so "Facility Name" and "facility_name" read the same.
func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.' || r == '/'
	}), "_")
}
