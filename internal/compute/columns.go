package compute

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

var columnRefPattern = regexp.MustCompile(`^\$(\d+)$`)

// columnRef parses a "$N" reference.
func columnRef(s string) (int, bool) {
	m := columnRefPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

func cellIndex(row []string, column int) (int, bool) {
	i := column - 1
	return i, i >= 0 && i < len(row)
}

// operand resolves value against row: "$N" yields cell N, anything else is
// a literal. ok is false when the referenced cell does not exist.
func operand(row []string, value string) (string, bool) {
	if n, isRef := columnRef(value); isRef {
		i, ok := cellIndex(row, n)
		if !ok {
			return "", false
		}
		return row[i], true
	}
	return value, true
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (p *Pipeline) arithmetic(t *telemetry.SourceTable, op connector.ComputeType, params connector.ArithmeticParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		value, ok := operand(row, params.Value)
		if !ok {
			continue
		}

		if op == connector.ComputeAnd {
			a, errA := strconv.ParseInt(strings.TrimSpace(row[i]), 10, 64)
			b, errB := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if errA != nil || errB != nil {
				p.logger.Debug("Skipping non-integer cell", "compute", op, "cell", row[i], "operand", value)
				continue
			}
			row[i] = strconv.FormatInt(a&b, 10)
			continue
		}

		a, errA := parseNumber(row[i])
		b, errB := parseNumber(value)
		if errA != nil || errB != nil {
			p.logger.Debug("Skipping non-numeric cell", "compute", op, "cell", row[i], "operand", value)
			continue
		}

		var result float64
		switch op {
		case connector.ComputeAdd:
			result = a + b
		case connector.ComputeSubtract:
			result = a - b
		case connector.ComputeMultiply:
			result = a * b
		case connector.ComputeDivide:
			if b == 0 {
				p.logger.Debug("Skipping division by zero", "cell", row[i])
				continue
			}
			result = a / b
		default:
			continue
		}
		row[i] = formatNumber(result)
	}
}

func concat(t *telemetry.SourceTable, left bool, params connector.ConcatParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		value, ok := operand(row, params.Value)
		if !ok {
			continue
		}
		if left {
			row[i] = value + row[i]
		} else {
			row[i] += value
		}
	}
}

func replace(t *telemetry.SourceTable, params connector.ReplaceParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		existing, ok := operand(row, params.ExistingValue)
		if !ok || existing == "" {
			continue
		}
		replacement, ok := operand(row, params.NewValue)
		if !ok {
			continue
		}
		row[i] = strings.ReplaceAll(row[i], existing, replacement)
	}
}

// matchingLines keeps (keepOnly) or drops the rows whose cell satisfies
// every configured criterion.
func matchingLines(t *telemetry.SourceTable, keepOnly bool, params connector.MatchingLinesParams) error {
	var re *regexp.Regexp
	if params.RegExp != "" {
		var err error
		if re, err = regexp.Compile(params.RegExp); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRegExp, err)
		}
	}
	var values map[string]bool
	if params.ValueList != "" {
		values = make(map[string]bool)
		for _, v := range strings.Split(params.ValueList, ",") {
			values[strings.TrimSpace(v)] = true
		}
	}
	if re == nil && values == nil {
		return nil
	}

	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			rows = append(rows, row)
			continue
		}
		match := true
		if re != nil && !re.MatchString(row[i]) {
			match = false
		}
		if values != nil && !values[strings.TrimSpace(row[i])] {
			match = false
		}
		if match == keepOnly {
			rows = append(rows, row)
		}
	}
	t.Rows = rows
	return nil
}

func parseColumnList(list string) ([]int, error) {
	var cols []int
	for _, s := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColumnList, list)
		}
		cols = append(cols, n)
	}
	return cols, nil
}

func keepColumns(t *telemetry.SourceTable, params connector.KeepColumnsParams) error {
	cols, err := parseColumnList(params.ColumnNumbers)
	if err != nil {
		return err
	}
	for r, row := range t.Rows {
		kept := make([]string, 0, len(cols))
		for _, c := range cols {
			if i, ok := cellIndex(row, c); ok {
				kept = append(kept, row[i])
			}
		}
		t.Rows[r] = kept
	}
	return nil
}

func duplicateColumn(t *telemetry.SourceTable, params connector.DuplicateColumnParams) {
	for r, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		dup := make([]string, 0, len(row)+1)
		dup = append(dup, row[:i+1]...)
		dup = append(dup, row[i])
		dup = append(dup, row[i+1:]...)
		t.Rows[r] = dup
	}
}

func (p *Pipeline) substring(t *telemetry.SourceTable, params connector.SubstringParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		startStr, okStart := operand(row, params.Start)
		lengthStr, okLength := operand(row, params.Length)
		if !okStart || !okLength {
			continue
		}
		start, errStart := strconv.Atoi(strings.TrimSpace(startStr))
		length, errLength := strconv.Atoi(strings.TrimSpace(lengthStr))
		if errStart != nil || errLength != nil || start < 1 || length < 0 {
			p.logger.Debug("Skipping invalid substring bounds", "start", startStr, "length", lengthStr)
			continue
		}

		runes := []rune(row[i])
		if start > len(runes) {
			row[i] = ""
			continue
		}
		end := start - 1 + length
		if end > len(runes) {
			end = len(runes)
		}
		row[i] = string(runes[start-1 : end])
	}
}

func extract(t *telemetry.SourceTable, params connector.ExtractParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		parts := strings.FieldsFunc(row[i], func(r rune) bool {
			return strings.ContainsRune(params.SubSeparators, r)
		})
		if j, ok := cellIndex(parts, params.SubColumn); ok {
			row[i] = parts[j]
		}
	}
}

func extractPropertyFromWbemPath(t *telemetry.SourceTable, params connector.ExtractPropertyFromWbemPathParams) {
	re := regexp.MustCompile(`(?i)(?:^|[.,:])\s*` + regexp.QuoteMeta(params.PropertyName) + `\s*=\s*"?([^",]*)"?`)
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		if m := re.FindStringSubmatch(row[i]); m != nil {
			row[i] = m[1]
		} else {
			row[i] = ""
		}
	}
}
