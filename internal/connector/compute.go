package connector

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ComputeType identifies a table transformation.
type ComputeType string

const (
	ComputeAdd                         ComputeType = "add"
	ComputeSubtract                    ComputeType = "subtract"
	ComputeMultiply                    ComputeType = "multiply"
	ComputeDivide                      ComputeType = "divide"
	ComputeAnd                         ComputeType = "and"
	ComputeLeftConcat                  ComputeType = "leftConcat"
	ComputeRightConcat                 ComputeType = "rightConcat"
	ComputeReplace                     ComputeType = "replace"
	ComputeKeepOnlyMatchingLines       ComputeType = "keepOnlyMatchingLines"
	ComputeExcludeMatchingLines        ComputeType = "excludeMatchingLines"
	ComputeKeepColumns                 ComputeType = "keepColumns"
	ComputeDuplicateColumn             ComputeType = "duplicateColumn"
	ComputeTranslate                   ComputeType = "translate"
	ComputeArrayTranslate              ComputeType = "arrayTranslate"
	ComputePerBitTranslation           ComputeType = "perBitTranslation"
	ComputeConvert                     ComputeType = "convert"
	ComputeSubstring                   ComputeType = "substring"
	ComputeExtract                     ComputeType = "extract"
	ComputeExtractPropertyFromWbemPath ComputeType = "extractPropertyFromWbemPath"
	ComputeJSON2CSV                    ComputeType = "json2Csv"
)

// Conversion types of the convert compute.
const (
	ConvertHex2Dec            = "hex2Dec"
	ConvertArray2SimpleStatus = "array2SimpleStatus"
)

// Compute is one transformation step applied to a source table.
type Compute struct {
	Type   ComputeType
	Params ComputeParams
}

// ComputeParams is implemented by the parameter struct of every compute
// type. Substitute returns a specialized copy.
type ComputeParams interface {
	Substitute(r Replacer) ComputeParams
}

// Specialize returns a copy of the compute whose parameters went through r.
func (c Compute) Specialize(r Replacer) Compute {
	out := c
	if c.Params != nil {
		out.Params = c.Params.Substitute(r)
	}
	return out
}

// ArithmeticParams applies Value to Column. Value is a literal or a "$N"
// column reference. Used by add, subtract, multiply, divide and and.
type ArithmeticParams struct {
	Column int    `yaml:"column" validate:"min=1"`
	Value  string `yaml:"value" validate:"required"`
}

func (p ArithmeticParams) Substitute(r Replacer) ComputeParams {
	p.Value = r(p.Value)
	return p
}

// ConcatParams is used by leftConcat and rightConcat.
type ConcatParams struct {
	Column int    `yaml:"column" validate:"min=1"`
	Value  string `yaml:"value"`
}

func (p ConcatParams) Substitute(r Replacer) ComputeParams {
	p.Value = r(p.Value)
	return p
}

type ReplaceParams struct {
	Column        int    `yaml:"column" validate:"min=1"`
	ExistingValue string `yaml:"existingValue" validate:"required"`
	NewValue      string `yaml:"newValue"`
}

func (p ReplaceParams) Substitute(r Replacer) ComputeParams {
	p.ExistingValue = r(p.ExistingValue)
	p.NewValue = r(p.NewValue)
	return p
}

// MatchingLinesParams filters rows on Column, either by regular expression
// or by a comma-separated list of exact values.
type MatchingLinesParams struct {
	Column    int    `yaml:"column" validate:"min=1"`
	RegExp    string `yaml:"regExp"`
	ValueList string `yaml:"valueList"`
}

func (p MatchingLinesParams) Substitute(r Replacer) ComputeParams {
	p.RegExp = r(p.RegExp)
	p.ValueList = r(p.ValueList)
	return p
}

type KeepColumnsParams struct {
	ColumnNumbers string `yaml:"columnNumbers" validate:"required"`
}

func (p KeepColumnsParams) Substitute(Replacer) ComputeParams { return p }

type DuplicateColumnParams struct {
	Column int `yaml:"column" validate:"min=1"`
}

func (p DuplicateColumnParams) Substitute(Replacer) ComputeParams { return p }

// TranslateParams names a connector translation table, either bare or as
// ${translation::NAME}.
type TranslateParams struct {
	Column           int    `yaml:"column" validate:"min=1"`
	TranslationTable string `yaml:"translationTable" validate:"required"`
}

func (p TranslateParams) Substitute(Replacer) ComputeParams { return p }

type ArrayTranslateParams struct {
	Column           int    `yaml:"column" validate:"min=1"`
	TranslationTable string `yaml:"translationTable" validate:"required"`
	ArraySeparator   string `yaml:"arraySeparator"`
	ResultSeparator  string `yaml:"resultSeparator"`
}

func (p ArrayTranslateParams) Substitute(Replacer) ComputeParams { return p }

// PerBitTranslationParams translates each listed bit of an integer column.
// Translation keys have the form "bit,value".
type PerBitTranslationParams struct {
	Column           int    `yaml:"column" validate:"min=1"`
	BitList          string `yaml:"bitList" validate:"required"`
	TranslationTable string `yaml:"translationTable" validate:"required"`
}

func (p PerBitTranslationParams) Substitute(Replacer) ComputeParams { return p }

type ConvertParams struct {
	Column         int    `yaml:"column" validate:"min=1"`
	ConversionType string `yaml:"conversionType" validate:"required,oneof=hex2Dec array2SimpleStatus"`
}

func (p ConvertParams) Substitute(Replacer) ComputeParams { return p }

// SubstringParams keeps Length characters from Start (1-based). Both may be
// "$N" column references.
type SubstringParams struct {
	Column int    `yaml:"column" validate:"min=1"`
	Start  string `yaml:"start" validate:"required"`
	Length string `yaml:"length" validate:"required"`
}

func (p SubstringParams) Substitute(r Replacer) ComputeParams {
	p.Start = r(p.Start)
	p.Length = r(p.Length)
	return p
}

type ExtractParams struct {
	Column        int    `yaml:"column" validate:"min=1"`
	SubColumn     int    `yaml:"subColumn" validate:"min=1"`
	SubSeparators string `yaml:"subSeparators" validate:"required"`
}

func (p ExtractParams) Substitute(Replacer) ComputeParams { return p }

type ExtractPropertyFromWbemPathParams struct {
	Column       int    `yaml:"column" validate:"min=1"`
	PropertyName string `yaml:"propertyName" validate:"required"`
}

func (p ExtractPropertyFromWbemPathParams) Substitute(r Replacer) ComputeParams {
	p.PropertyName = r(p.PropertyName)
	return p
}

// JSON2CSVParams flattens the array found at EntryKey ("/" separated path)
// into one row per element holding the listed ";"-separated Properties.
type JSON2CSVParams struct {
	EntryKey   string `yaml:"entryKey"`
	Properties string `yaml:"properties" validate:"required"`
}

func (p JSON2CSVParams) Substitute(r Replacer) ComputeParams {
	p.EntryKey = r(p.EntryKey)
	return p
}

// UnmarshalYAML decodes the compute type, then its parameters.
func (c *Compute) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}

	t := ComputeType(head.Type)
	params, err := decodeComputeParams(t, node)
	if err != nil {
		return err
	}
	c.Type = t
	c.Params = params
	return nil
}

func decodeComputeParams(t ComputeType, node *yaml.Node) (ComputeParams, error) {
	switch t {
	case ComputeAdd, ComputeSubtract, ComputeMultiply, ComputeDivide, ComputeAnd:
		return decodeCompute[ArithmeticParams](node)
	case ComputeLeftConcat, ComputeRightConcat:
		return decodeCompute[ConcatParams](node)
	case ComputeReplace:
		return decodeCompute[ReplaceParams](node)
	case ComputeKeepOnlyMatchingLines, ComputeExcludeMatchingLines:
		return decodeCompute[MatchingLinesParams](node)
	case ComputeKeepColumns:
		return decodeCompute[KeepColumnsParams](node)
	case ComputeDuplicateColumn:
		return decodeCompute[DuplicateColumnParams](node)
	case ComputeTranslate:
		return decodeCompute[TranslateParams](node)
	case ComputeArrayTranslate:
		return decodeCompute[ArrayTranslateParams](node)
	case ComputePerBitTranslation:
		return decodeCompute[PerBitTranslationParams](node)
	case ComputeConvert:
		return decodeCompute[ConvertParams](node)
	case ComputeSubstring:
		return decodeCompute[SubstringParams](node)
	case ComputeExtract:
		return decodeCompute[ExtractParams](node)
	case ComputeExtractPropertyFromWbemPath:
		return decodeCompute[ExtractPropertyFromWbemPathParams](node)
	case ComputeJSON2CSV:
		return decodeCompute[JSON2CSVParams](node)
	default:
		return nil, fmt.Errorf("line %d: %w %q", node.Line, ErrUnknownComputeType, t)
	}
}

func decodeCompute[P ComputeParams](node *yaml.Node) (ComputeParams, error) {
	var p P
	if err := node.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}
