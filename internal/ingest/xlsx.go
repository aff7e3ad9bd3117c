package ingest

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read. SheetName wins over SheetIndex.
type XLSXOptions struct {
	SheetIndex int
	SheetName  string
}

// ReadXLSX reads a spreadsheet export into JSON records. Title rows above the
// column header are skipped: the header is the first row with at least two
// non-empty cells.
func ReadXLSX(path string, opts XLSXOptions) ([]json.RawMessage, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	var sheet *xlsx.Sheet
	switch {
	case opts.SheetName != "":
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: no sheet named %q", opts.SheetName)
		}
		sheet = s
	case opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets):
		return nil, eris.Errorf("xlsx: sheet %d requested, workbook has %d", opts.SheetIndex, len(f.Sheets))
	default:
		sheet = f.Sheets[opts.SheetIndex]
	}

	var header []string
	var rows [][]string
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		filled := 0
		for i, c := range row.Cells {
			cells[i] = c.String()
			if cells[i] != "" {
				filled++
			}
		}
		if header == nil {
			if filled >= 2 {
				header = cells
			}
			continue
		}
		rows = append(rows, cells)
	}
	if header == nil {
		return nil, nil
	}
	return rowsToRecords(header, rows)
}
