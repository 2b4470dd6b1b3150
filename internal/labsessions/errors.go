package labsessions

import "errors"

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("iteration out of order")
	ErrGeneration   = errors.New("generation failed")
)
