package source

import (
	"strings"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

const keyTypeWBEM = "wbem"

// joinTables appends to each left row the cells of every right row whose
// key matches. Keys compare case-insensitively. A left row without a match
// is kept with DefaultRightLine when one is set, dropped otherwise.
func joinTables(left, right *telemetry.SourceTable, params connector.TableJoinParams) *telemetry.SourceTable {
	out := telemetry.EmptyTable()
	if left.IsEmpty() {
		return out
	}

	index := make(map[string][][]string)
	if right != nil {
		for _, row := range right.Rows {
			if params.RightKeyColumn > len(row) {
				continue
			}
			k := joinKey(row[params.RightKeyColumn-1], params.KeyType)
			index[k] = append(index[k], row)
		}
	}

	var defaultRight []string
	if params.DefaultRightLine != "" {
		if rows := telemetry.ParseTable(params.DefaultRightLine, telemetry.TableSeparator); len(rows) > 0 {
			defaultRight = rows[0]
		}
	}

	for _, row := range left.Rows {
		if params.LeftKeyColumn > len(row) {
			continue
		}
		matches := index[joinKey(row[params.LeftKeyColumn-1], params.KeyType)]
		if len(matches) == 0 {
			if defaultRight != nil {
				out.Rows = append(out.Rows, concatRows(row, defaultRight))
			}
			continue
		}
		for _, m := range matches {
			out.Rows = append(out.Rows, concatRows(row, m))
		}
	}
	return out
}

// joinKey normalizes a key. WBEM object paths compare without their
// namespace prefix.
func joinKey(k, keyType string) string {
	k = strings.TrimSpace(k)
	if keyType == keyTypeWBEM {
		if i := strings.Index(k, ":"); i >= 0 {
			k = k[i+1:]
		}
	}
	return strings.ToLower(k)
}

func concatRows(a, b []string) []string {
	row := make([]string, 0, len(a)+len(b))
	return append(append(row, a...), b...)
}

func unionTables(tables []*telemetry.SourceTable) *telemetry.SourceTable {
	out := telemetry.EmptyTable()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			out.Rows = append(out.Rows, append([]string(nil), row...))
		}
	}
	return out
}
