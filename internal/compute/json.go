package compute

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// json2CSV reads the JSON document held in RawData (or the first cell) and
// produces one row per element of the array at EntryKey.
func json2CSV(t *telemetry.SourceTable, params connector.JSON2CSVParams) error {
	input := t.RawData
	if strings.TrimSpace(input) == "" && len(t.Rows) > 0 && len(t.Rows[0]) > 0 {
		input = t.Rows[0][0]
	}
	t.RawData = ""
	if strings.TrimSpace(input) == "" {
		t.Rows = [][]string{}
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var entries []any
	switch v := lookupPath(doc, params.EntryKey).(type) {
	case nil:
	case []any:
		entries = v
	default:
		entries = []any{v}
	}

	var props []string
	for _, p := range strings.Split(params.Properties, ";") {
		if p = strings.TrimSpace(p); p != "" {
			props = append(props, p)
		}
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		row := make([]string, len(props))
		for i, p := range props {
			row[i] = jsonString(lookupPath(e, p))
		}
		rows = append(rows, row)
	}
	t.Rows = rows
	return nil
}

// lookupPath follows a "/" separated path of object keys and array indexes.
func lookupPath(node any, path string) any {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		switch v := node.(type) {
		case map[string]any:
			node = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			node = v[i]
		default:
			return nil
		}
	}
	return node
}

func jsonString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
