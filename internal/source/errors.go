package source

import "errors"

var (
	ErrSerializationTimeout = errors.New("timed out waiting for force-serialization lock")
	ErrUnsupportedSource    = errors.New("unsupported source type")
	ErrSourcePanic          = errors.New("source execution panicked")
	ErrInvalidSelectColumns = errors.New("invalid selectColumns")
)
