package compute

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

const (
	defaultArraySeparator  = ","
	defaultResultSeparator = "|"
	bitSeparator           = " - "
)

// translate replaces the cell by its translation. Without a match or a
// default entry the cell becomes empty.
func translate(t *telemetry.SourceTable, column int, table connector.TranslationTable) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, column)
		if !ok {
			continue
		}
		v, _ := table.Lookup(strings.TrimSpace(row[i]))
		row[i] = v
	}
}

func arrayTranslate(t *telemetry.SourceTable, params connector.ArrayTranslateParams, table connector.TranslationTable) {
	arraySep := params.ArraySeparator
	if arraySep == "" {
		arraySep = defaultArraySeparator
	}
	resultSep := params.ResultSeparator
	if resultSep == "" {
		resultSep = defaultResultSeparator
	}

	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		var out []string
		for _, item := range strings.Split(row[i], arraySep) {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if v, ok := table.Lookup(item); ok && v != "" {
				out = append(out, v)
			}
		}
		row[i] = strings.Join(out, resultSep)
	}
}

// perBitTranslation looks up "bit,value" for each listed bit of an
// integer cell; the default entry is not used.
func (p *Pipeline) perBitTranslation(t *telemetry.SourceTable, params connector.PerBitTranslationParams, table connector.TranslationTable) {
	bits, err := parseBitList(params.BitList)
	if err != nil {
		p.logger.Debug("Skipping per-bit translation", "bit_list", params.BitList, "error", err)
		return
	}

	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		value, err := strconv.ParseInt(strings.TrimSpace(row[i]), 10, 64)
		if err != nil {
			p.logger.Debug("Skipping non-integer cell", "compute", "perBitTranslation", "cell", row[i])
			continue
		}
		var out []string
		for _, bit := range bits {
			key := fmt.Sprintf("%d,%d", bit, (value>>bit)&1)
			if v, ok := table[key]; ok && v != "" {
				out = append(out, v)
			}
		}
		row[i] = strings.Join(out, bitSeparator)
	}
}

func parseBitList(list string) ([]uint, error) {
	var bits []uint
	for _, s := range strings.Split(list, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 6)
		if err != nil {
			return nil, err
		}
		bits = append(bits, uint(n))
	}
	return bits, nil
}

var simpleStatusRank = map[string]int{"OK": 0, "WARN": 1, "ALARM": 2}

func (p *Pipeline) convert(t *telemetry.SourceTable, params connector.ConvertParams) {
	for _, row := range t.Rows {
		i, ok := cellIndex(row, params.Column)
		if !ok {
			continue
		}
		switch params.ConversionType {
		case connector.ConvertHex2Dec:
			s := strings.TrimSpace(row[i])
			s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
			s = strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
			v, err := strconv.ParseUint(s, 16, 64)
			if err != nil {
				p.logger.Debug("Skipping non-hexadecimal cell", "cell", row[i])
				continue
			}
			row[i] = strconv.FormatUint(v, 10)
		case connector.ConvertArray2SimpleStatus:
			worst := "OK"
			for _, item := range strings.Split(row[i], "|") {
				s := strings.ToUpper(strings.TrimSpace(item))
				if rank, ok := simpleStatusRank[s]; ok && rank > simpleStatusRank[worst] {
					worst = s
				}
			}
			row[i] = worst
		}
	}
}
