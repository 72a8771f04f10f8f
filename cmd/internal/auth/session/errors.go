package session

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrNoSession is returned by operations that need a logged-in user.
	ErrNoSession = errors.New("no active session")

	// ErrAuthRequired is returned by the write gate after logout or expiry.
	ErrAuthRequired = errors.New("auth required")

	// ErrTokenExpired is returned when a token is set whose own exp has already passed.
	ErrTokenExpired = errors.New("token already expired")
)
