package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// envelope is a batch file with metadata. NPPES API responses carry their
// records under "results".
type envelope struct {
	Source     model.Source      `json:"source"`
	IngestedAt time.Time         `json:"ingested_at"`
	Records    []json.RawMessage `json:"records"`
	Results    []json.RawMessage `json:"results"`
}

// ReadJSON reads either a bare array of records or a batch envelope.
func ReadJSON(ctx context.Context, r io.Reader) (*model.RawBatch, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, eris.Wrap(err, "json: read")
	}

	switch first {
	case '[':
		var records []json.RawMessage
		items, errs := DecodeJSONArray[json.RawMessage](ctx, br)
		for item := range items {
			records = append(records, item)
		}
		if err := <-errs; err != nil {
			return nil, err
		}
		return &model.RawBatch{Records: records}, nil
	case '{':
		var env envelope
		if err := json.NewDecoder(br).Decode(&env); err != nil {
			return nil, eris.Wrap(err, "json: decode batch")
		}
		records := env.Records
		if records == nil {
			records = env.Results
		}
		return &model.RawBatch{Source: env.Source, IngestedAt: env.IngestedAt, Records: records}, nil
	}
	return nil, eris.Errorf("json: expected array or object, got %q", first)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}
