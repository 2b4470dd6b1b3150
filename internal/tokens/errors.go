package tokens

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnusable covers unknown, already used and invalidated tokens.
	ErrUnusable = errors.New("token unusable")
)
