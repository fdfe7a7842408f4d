package strategy

import "errors"

var (
	ErrStrategyTimeout = errors.New("strategy timed out")
	ErrInvalidMapping  = errors.New("invalid mapping expression")
)
