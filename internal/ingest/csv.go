package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// ctxCheckEvery is how many rows are read between context checks.
const ctxCheckEvery = 1000

// ReadCSV reads a delimited export with a header row into JSON records.
// Registry downloads come as either comma or tab separated; the header line
// decides which.
func ReadCSV(ctx context.Context, r io.Reader) ([]json.RawMessage, error) {
	br := bufio.NewReader(r)
	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	var rows [][]string
	for n := 1; ; n++ {
		if n%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: read cancelled")
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", n)
		}
		rows = append(rows, row)
	}
	return rowsToRecords(header, rows)
}

// sniffDelimiter peeks at the header line without consuming it.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte{'\t'}) > bytes.Count(head, []byte{','}) {
		return '\t'
	}
	return ','
}
