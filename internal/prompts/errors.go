package prompts

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownType  = errors.New("unknown prompt type")
)
