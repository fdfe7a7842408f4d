package compute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

func testPipeline() *Pipeline {
	return NewPipeline(&connector.Connector{
		ID: "cx",
		Translations: map[string]connector.TranslationTable{
			"status": {"1": "ok", "2": "degraded", "default": "failed"},
			"strict": {"OK": "ok"},
			"bits":   {"0,1": "Fan failure", "1,1": "Overheat", "2,0": "No power"},
		},
	}, nil)
}

func rows(r ...[]string) *telemetry.SourceTable {
	return telemetry.NewTable(r)
}

func TestPipeline_Apply(t *testing.T) {
	tests := []struct {
		name    string
		in      *telemetry.SourceTable
		compute connector.Compute
		want    [][]string
	}{
		{
			name:    "add literal",
			in:      rows([]string{"1", "10"}, []string{"2", "x"}),
			compute: connector.Compute{Type: connector.ComputeAdd, Params: connector.ArithmeticParams{Column: 2, Value: "5"}},
			want:    [][]string{{"1", "15"}, {"2", "x"}},
		},
		{
			name:    "multiply by column",
			in:      rows([]string{"3", "4"}),
			compute: connector.Compute{Type: connector.ComputeMultiply, Params: connector.ArithmeticParams{Column: 1, Value: "$2"}},
			want:    [][]string{{"12", "4"}},
		},
		{
			name:    "divide by zero leaves row",
			in:      rows([]string{"3", "0"}, []string{"9", "3"}),
			compute: connector.Compute{Type: connector.ComputeDivide, Params: connector.ArithmeticParams{Column: 1, Value: "$2"}},
			want:    [][]string{{"3", "0"}, {"3", "3"}},
		},
		{
			name:    "bitwise and",
			in:      rows([]string{"13"}),
			compute: connector.Compute{Type: connector.ComputeAnd, Params: connector.ArithmeticParams{Column: 1, Value: "4"}},
			want:    [][]string{{"4"}},
		},
		{
			name:    "column out of range is a no-op",
			in:      rows([]string{"1"}),
			compute: connector.Compute{Type: connector.ComputeSubtract, Params: connector.ArithmeticParams{Column: 3, Value: "1"}},
			want:    [][]string{{"1"}},
		},
		{
			name:    "left concat",
			in:      rows([]string{"1", "fan"}),
			compute: connector.Compute{Type: connector.ComputeLeftConcat, Params: connector.ConcatParams{Column: 2, Value: "$1"}},
			want:    [][]string{{"1", "1fan"}},
		},
		{
			name:    "right concat",
			in:      rows([]string{"fan"}),
			compute: connector.Compute{Type: connector.ComputeRightConcat, Params: connector.ConcatParams{Column: 1, Value: " A"}},
			want:    [][]string{{"fan A"}},
		},
		{
			name:    "replace",
			in:      rows([]string{"a_b_c"}),
			compute: connector.Compute{Type: connector.ComputeReplace, Params: connector.ReplaceParams{Column: 1, ExistingValue: "_", NewValue: "-"}},
			want:    [][]string{{"a-b-c"}},
		},
		{
			name:    "keep only matching regexp",
			in:      rows([]string{"Fan 1"}, []string{"Temp"}, []string{"Fan 2"}),
			compute: connector.Compute{Type: connector.ComputeKeepOnlyMatchingLines, Params: connector.MatchingLinesParams{Column: 1, RegExp: "^Fan"}},
			want:    [][]string{{"Fan 1"}, {"Fan 2"}},
		},
		{
			name:    "exclude value list",
			in:      rows([]string{"a", "1"}, []string{"b", "2"}, []string{"c", "3"}),
			compute: connector.Compute{Type: connector.ComputeExcludeMatchingLines, Params: connector.MatchingLinesParams{Column: 2, ValueList: "1, 3"}},
			want:    [][]string{{"b", "2"}},
		},
		{
			name:    "keep columns",
			in:      rows([]string{"a", "b", "c"}),
			compute: connector.Compute{Type: connector.ComputeKeepColumns, Params: connector.KeepColumnsParams{ColumnNumbers: "3,1,9"}},
			want:    [][]string{{"c", "a"}},
		},
		{
			name:    "duplicate column",
			in:      rows([]string{"a", "b"}),
			compute: connector.Compute{Type: connector.ComputeDuplicateColumn, Params: connector.DuplicateColumnParams{Column: 1}},
			want:    [][]string{{"a", "a", "b"}},
		},
		{
			name:    "translate with default",
			in:      rows([]string{"2"}, []string{"7"}),
			compute: connector.Compute{Type: connector.ComputeTranslate, Params: connector.TranslateParams{Column: 1, TranslationTable: "${translation::status}"}},
			want:    [][]string{{"degraded"}, {"failed"}},
		},
		{
			name:    "translate without match or default",
			in:      rows([]string{"ok"}, []string{"bad"}),
			compute: connector.Compute{Type: connector.ComputeTranslate, Params: connector.TranslateParams{Column: 1, TranslationTable: "strict"}},
			want:    [][]string{{"ok"}, {""}},
		},
		{
			name: "array translate",
			in:   rows([]string{"1,2,9"}),
			compute: connector.Compute{Type: connector.ComputeArrayTranslate, Params: connector.ArrayTranslateParams{
				Column: 1, TranslationTable: "strict", ResultSeparator: "+",
			}},
			want: [][]string{{""}},
		},
		{
			name: "array translate with default",
			in:   rows([]string{"1;2"}),
			compute: connector.Compute{Type: connector.ComputeArrayTranslate, Params: connector.ArrayTranslateParams{
				Column: 1, TranslationTable: "status", ArraySeparator: ";",
			}},
			want: [][]string{{"ok|degraded"}},
		},
		{
			name: "per bit translation",
			in:   rows([]string{"3"}),
			compute: connector.Compute{Type: connector.ComputePerBitTranslation, Params: connector.PerBitTranslationParams{
				Column: 1, BitList: "0,1,2", TranslationTable: "bits",
			}},
			want: [][]string{{"Fan failure - Overheat - No power"}},
		},
		{
			name:    "hex to decimal",
			in:      rows([]string{"0x1F"}, []string{"zz"}),
			compute: connector.Compute{Type: connector.ComputeConvert, Params: connector.ConvertParams{Column: 1, ConversionType: connector.ConvertHex2Dec}},
			want:    [][]string{{"31"}, {"zz"}},
		},
		{
			name:    "array to simple status",
			in:      rows([]string{"OK|warn|OK"}, []string{"ok|ALARM|WARN"}, []string{""}),
			compute: connector.Compute{Type: connector.ComputeConvert, Params: connector.ConvertParams{Column: 1, ConversionType: connector.ConvertArray2SimpleStatus}},
			want:    [][]string{{"WARN"}, {"ALARM"}, {"OK"}},
		},
		{
			name:    "substring",
			in:      rows([]string{"PowerEdge R740", "6"}),
			compute: connector.Compute{Type: connector.ComputeSubstring, Params: connector.SubstringParams{Column: 1, Start: "1", Length: "$2"}},
			want:    [][]string{{"PowerE", "6"}},
		},
		{
			name:    "substring past end",
			in:      rows([]string{"abc"}),
			compute: connector.Compute{Type: connector.ComputeSubstring, Params: connector.SubstringParams{Column: 1, Start: "2", Length: "10"}},
			want:    [][]string{{"bc"}},
		},
		{
			name:    "extract",
			in:      rows([]string{"disk(0:1)"}),
			compute: connector.Compute{Type: connector.ComputeExtract, Params: connector.ExtractParams{Column: 1, SubColumn: 3, SubSeparators: "():"}},
			want:    [][]string{{"1"}},
		},
		{
			name: "extract property from wbem path",
			in:   rows([]string{`root/cimv2:CIM_Fan.CreationClassName="CIM_Fan",DeviceID="fan1"`}),
			compute: connector.Compute{Type: connector.ComputeExtractPropertyFromWbemPath, Params: connector.ExtractPropertyFromWbemPathParams{
				Column: 1, PropertyName: "deviceid",
			}},
			want: [][]string{{"fan1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.in.Clone()

			out, err := testPipeline().Apply(tt.in, tt.compute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Rows)
			assert.Equal(t, before, tt.in, "input table must not change")
		})
	}
}

func TestPipeline_JSON2CSV(t *testing.T) {
	in := &telemetry.SourceTable{RawData: `{
		"data": {"fans": [
			{"id": "1", "status": {"health": "OK"}, "rpm": 5400, "redundant": true},
			{"id": "2", "status": {"health": "Critical"}, "rpm": null}
		]}
	}`}
	c := connector.Compute{Type: connector.ComputeJSON2CSV, Params: connector.JSON2CSVParams{
		EntryKey:   "/data/fans",
		Properties: "id;status/health;rpm;redundant",
	}}

	out, err := testPipeline().Apply(in, c)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"1", "OK", "5400", "true"},
		{"2", "Critical", "", ""},
	}, out.Rows)
	assert.Empty(t, out.RawData)
}

func TestPipeline_Errors(t *testing.T) {
	p := testPipeline()
	in := rows([]string{"a"})

	_, err := p.Apply(in, connector.Compute{Type: connector.ComputeTranslate, Params: connector.TranslateParams{Column: 1, TranslationTable: "nope"}})
	assert.True(t, errors.Is(err, ErrUnknownTranslationTable))

	_, err = p.Apply(in, connector.Compute{Type: connector.ComputeKeepOnlyMatchingLines, Params: connector.MatchingLinesParams{Column: 1, RegExp: "("}})
	assert.True(t, errors.Is(err, ErrInvalidRegExp))

	_, err = p.Apply(in, connector.Compute{Type: connector.ComputeKeepColumns, Params: connector.KeepColumnsParams{ColumnNumbers: "1,x"}})
	assert.True(t, errors.Is(err, ErrInvalidColumnList))

	_, err = p.Apply(&telemetry.SourceTable{RawData: "{"}, connector.Compute{Type: connector.ComputeJSON2CSV, Params: connector.JSON2CSVParams{Properties: "a"}})
	assert.True(t, errors.Is(err, ErrInvalidJSON))

	_, err = p.Apply(in, connector.Compute{Type: "mystery"})
	assert.True(t, errors.Is(err, ErrUnsupportedCompute))
}
