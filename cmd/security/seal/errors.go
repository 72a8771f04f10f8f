package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing = errors.New("seal key missing")
	ErrKeyInvalid = errors.New("seal key invalid")
	ErrCiphertext = errors.New("seal ciphertext invalid")
	ErrNotSealed  = errors.New("value not sealed")
)
