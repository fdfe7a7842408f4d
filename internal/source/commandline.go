package source

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// processCommandOutput filters the command output by line range and
// keep/exclude patterns, then splits the remaining lines into cells.
// RawData holds the filtered lines.
func processCommandOutput(output string, params connector.CommandLineParams) (*telemetry.SourceTable, error) {
	keep, err := compileOptional(params.Keep)
	if err != nil {
		return nil, fmt.Errorf("keep: %w", err)
	}
	exclude, err := compileOptional(params.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	var columns []int
	if params.SelectColumns != "" {
		for _, c := range splitList(params.SelectColumns) {
			n, err := strconv.Atoi(c)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidSelectColumns, params.SelectColumns)
			}
			columns = append(columns, n)
		}
	}

	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if end := params.EndAtLineNumber; end > 0 && end < len(lines) {
		lines = lines[:end]
	}
	if begin := params.BeginAtLineNumber; begin > 1 {
		if begin > len(lines) {
			lines = nil
		} else {
			lines = lines[begin-1:]
		}
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if keep != nil && !keep.MatchString(line) {
			continue
		}
		if exclude != nil && exclude.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	t := telemetry.EmptyTable()
	t.RawData = strings.Join(kept, "\n")
	for _, line := range kept {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitCells(line, params.Separators)
		if columns != nil {
			cells = selectCells(cells, columns)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// splitCells splits on any rune of separators. Whitespace-only separators
// collapse runs; other separators keep empty cells.
func splitCells(line, separators string) []string {
	if separators == "" {
		return []string{line}
	}
	isSep := func(r rune) bool { return strings.ContainsRune(separators, r) }
	if strings.TrimFunc(separators, unicode.IsSpace) == "" {
		return strings.FieldsFunc(line, isSep)
	}

	var cells []string
	start := 0
	for i, r := range line {
		if isSep(r) {
			cells = append(cells, strings.TrimSpace(line[start:i]))
			start = i + len(string(r))
		}
	}
	return append(cells, strings.TrimSpace(line[start:]))
}

func selectCells(cells []string, columns []int) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c <= len(cells) {
			out = append(out, cells[c-1])
		}
	}
	return out
}
