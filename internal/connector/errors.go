package connector

import "errors"

var (
	ErrUnknownSourceType    = errors.New("unknown source type")
	ErrUnknownComputeType   = errors.New("unknown compute type")
	ErrUnknownCriterionType = errors.New("unknown criterion type")
	ErrUnknownCollectType   = errors.New("unknown collect type")
	ErrInvalidReference     = errors.New("invalid source reference")
	ErrMissingIDAttribute   = errors.New("discovery mapping has no id attribute")
	ErrMissingMapping       = errors.New("job has no mapping")
	ErrConnectorNotFound    = errors.New("connector not found")
)
