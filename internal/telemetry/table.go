// Package telemetry holds the in-memory state of a monitored host: source
// tables cached per connector, the monitor registry and metric values.
package telemetry

import (
	"strings"
)

const (
	// TableSeparator separates cells in the CSV-like rendering of a table.
	TableSeparator = ";"
	lineSeparator  = "\n"
)

// SourceTable is the result of one source execution. Once stored in a
// ConnectorNamespace it is never mutated; new results replace it wholesale.
type SourceTable struct {
	Rows    [][]string
	RawData string
}

// EmptyTable returns a table with no rows and no raw data.
func EmptyTable() *SourceTable {
	return &SourceTable{Rows: [][]string{}}
}

// NewTable wraps rows in a SourceTable.
func NewTable(rows [][]string) *SourceTable {
	if rows == nil {
		rows = [][]string{}
	}
	return &SourceTable{Rows: rows}
}

// IsEmpty reports whether the table carries no data at all. A nil table is empty.
func (t *SourceTable) IsEmpty() bool {
	if t == nil {
		return true
	}
	return len(t.Rows) == 0 && strings.TrimSpace(t.RawData) == ""
}

// Clone returns a deep copy of the table.
func (t *SourceTable) Clone() *SourceTable {
	if t == nil {
		return EmptyTable()
	}
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = append([]string(nil), row...)
	}
	return &SourceTable{Rows: rows, RawData: t.RawData}
}

// Text renders the table: each cell followed by ";" and rows joined by
// newlines. A table without rows renders as its raw data.
func (t *SourceTable) Text() string {
	if t == nil {
		return ""
	}
	if len(t.Rows) == 0 {
		return t.RawData
	}
	var b strings.Builder
	for i, row := range t.Rows {
		if i > 0 {
			b.WriteString(lineSeparator)
		}
		for _, cell := range row {
			b.WriteString(cell)
			b.WriteString(TableSeparator)
		}
	}
	return b.String()
}

// ParseTable splits text into rows on newlines and into cells on separator.
// A trailing separator on a line does not produce an extra empty cell and
// blank lines are dropped.
func ParseTable(text, separator string) [][]string {
	if separator == "" {
		separator = TableSeparator
	}
	rows := [][]string{}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", lineSeparator), lineSeparator) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		line = strings.TrimSuffix(line, separator)
		rows = append(rows, strings.Split(line, separator))
	}
	return rows
}
