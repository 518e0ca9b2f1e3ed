package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// A RowRule locates one metric row in human-formatted tabular output.
// Negative offsets count from the end of the output, which tolerates
// variable-length preambles (STREAM prints its configuration banner before
// the result table).
type RowRule struct {
	Metric     string
	LineOffset int
}

// A ColumnRule extracts one named value from a located row. Scale is a unit
// conversion divisor applied to the parsed number; zero means no conversion.
type ColumnRule struct {
	Value  string
	Column int
	Scale  float64
}

// A TableSpec drives a positional scrape of tabular text output.
type TableSpec struct {
	// Substring required at MarkerOffset before any value is trusted
	// (e.g. STREAM's "Solution Validates").
	Marker       string
	MarkerOffset int

	Rows    []RowRule
	Columns []ColumnRule
}

// ScrapeTable extracts a Record from human-formatted tabular output. Each row
// is whitespace-normalized and split into columns; a fixed column index per
// named value is converted to a float. Any failure returns a ParseError and
// never a partial record.
func ScrapeTable(raw []byte, spec TableSpec) (Record, error) {
	lines := strings.Split(string(raw), "\n")
	if len(lines) <= 1 {
		return nil, &ParseError{Reason: "output has no lines to scrape", Raw: raw}
	}

	if spec.Marker != "" {
		marker, err := lineAt(lines, spec.MarkerOffset)
		if err != nil {
			return nil, &ParseError{Reason: err.Error(), Raw: raw}
		}
		if !strings.Contains(marker, spec.Marker) {
			return nil, &ParseError{
				Reason: fmt.Sprintf("marker %q not found at line offset %d", spec.Marker, spec.MarkerOffset),
				Raw:    raw,
			}
		}
	}

	record := Record{}
	for _, row := range spec.Rows {
		line, err := lineAt(lines, row.LineOffset)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("row %q: %v", row.Metric, err), Raw: raw}
		}
		fields := strings.Fields(line)

		for _, col := range spec.Columns {
			if col.Column >= len(fields) {
				return nil, &ParseError{
					Reason: fmt.Sprintf("row %q has %d columns, want index %d", row.Metric, len(fields), col.Column),
					Raw:    raw,
				}
			}
			v, err := strconv.ParseFloat(fields[col.Column], 64)
			if err != nil {
				return nil, &ParseError{
					Reason: fmt.Sprintf("row %q column %q: %v", row.Metric, col.Value, err),
					Raw:    raw,
				}
			}
			if col.Scale != 0 {
				v /= col.Scale
			}
			record.Set(row.Metric, col.Value, v)
		}
	}
	return record, nil
}

func lineAt(lines []string, offset int) (string, error) {
	idx := offset
	if idx < 0 {
		idx = len(lines) + offset
	}
	if idx < 0 || idx >= len(lines) {
		return "", fmt.Errorf("line offset %d out of range (%d lines)", offset, len(lines))
	}
	return lines[idx], nil
}
