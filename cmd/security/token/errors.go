package token

import "errors"

// Public, stable errors for callers.
var (
	ErrEmptyToken     = errors.New("token empty")
	ErrMalformedToken = errors.New("token malformed")
)
