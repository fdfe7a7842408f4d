package compute

import "errors"

var (
	ErrUnsupportedCompute      = errors.New("unsupported compute")
	ErrUnknownTranslationTable = errors.New("unknown translation table")
	ErrInvalidColumnList       = errors.New("invalid column list")
	ErrInvalidRegExp           = errors.New("invalid regular expression")
	ErrInvalidJSON             = errors.New("invalid JSON input")
)
