package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Table is an uploaded tabular dataset: a header row plus data rows.
// Every row has exactly len(Columns) cells; ParseCSV rejects anything else.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ParseCSV reads a full CSV stream into a Table. The first record is the
// header; column names are trimmed. Rows with a different field count than
// the header are a parse error, not silently padded.
func ParseCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

// ColumnIndex returns the position of a named column, or false if the
// table has no such column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, col := range t.Columns {
		if col == name {
			return i, true
		}
	}
	return 0, false
}

// Cell returns the value at (row, column name), or "" if the column is
// unknown.
func (t *Table) Cell(row int, name string) string {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return ""
	}
	return t.Rows[row][idx]
}

// CleanNumeric converts a raw cell into a number the way voter files
// need: strip everything except digits and the decimal point, then parse.
// "1,234" -> 1234, "$50" -> 50, blanks and junk -> 0.
func CleanNumeric(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
