// Package compute applies connector computes to source tables.
package compute

import (
	"fmt"
	"log/slog"

	"github.com/nmslite/engine/internal/connector"
	"github.com/nmslite/engine/internal/telemetry"
)

// Pipeline applies the computes of one connector. Columns are 1-based; a
// column outside a row leaves that row untouched.
type Pipeline struct {
	connector *connector.Connector
	logger    *slog.Logger
}

// NewPipeline creates the pipeline of c. Translation tables are resolved
// against c.
func NewPipeline(c *connector.Connector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		connector: c,
		logger:    logger.With("component", "compute", "connector", c.ID),
	}
}

// Apply runs c on in and returns a new table; in is never modified.
func (p *Pipeline) Apply(in *telemetry.SourceTable, c connector.Compute) (*telemetry.SourceTable, error) {
	out := in.Clone()

	switch params := c.Params.(type) {
	case connector.ArithmeticParams:
		p.arithmetic(out, c.Type, params)
	case connector.ConcatParams:
		concat(out, c.Type == connector.ComputeLeftConcat, params)
	case connector.ReplaceParams:
		replace(out, params)
	case connector.MatchingLinesParams:
		if err := matchingLines(out, c.Type == connector.ComputeKeepOnlyMatchingLines, params); err != nil {
			return nil, err
		}
	case connector.KeepColumnsParams:
		if err := keepColumns(out, params); err != nil {
			return nil, err
		}
	case connector.DuplicateColumnParams:
		duplicateColumn(out, params)
	case connector.TranslateParams:
		table, err := p.translationTable(params.TranslationTable)
		if err != nil {
			return nil, err
		}
		translate(out, params.Column, table)
	case connector.ArrayTranslateParams:
		table, err := p.translationTable(params.TranslationTable)
		if err != nil {
			return nil, err
		}
		arrayTranslate(out, params, table)
	case connector.PerBitTranslationParams:
		table, err := p.translationTable(params.TranslationTable)
		if err != nil {
			return nil, err
		}
		p.perBitTranslation(out, params, table)
	case connector.ConvertParams:
		p.convert(out, params)
	case connector.SubstringParams:
		p.substring(out, params)
	case connector.ExtractParams:
		extract(out, params)
	case connector.ExtractPropertyFromWbemPathParams:
		extractPropertyFromWbemPath(out, params)
	case connector.JSON2CSVParams:
		if err := json2CSV(out, params); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompute, c.Type)
	}
	return out, nil
}

func (p *Pipeline) translationTable(name string) (connector.TranslationTable, error) {
	t, ok := p.connector.Translation(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTranslationTable, name)
	}
	return t, nil
}
