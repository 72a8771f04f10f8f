package bridge

import (
	"errors"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/auth/session"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
)

// Wire error codes.
const (
	CodeBadJSON       = "bad_json"
	CodeBadEnvelope   = "bad_envelope"
	CodeBadPayload    = "bad_payload"
	CodeRateLimited   = "rate_limited"
	CodeUnsupported   = "unsupported"
	CodeAuthRequired  = "auth_required"
	CodeTokenExpired  = "token_expired"
	CodeInvalidInput  = "invalid_input"
	CodeConflict      = "conflict"
	CodeUnauthorized  = "unauthorized"
	CodeNetwork       = "network"
	CodeNotFound      = "not_found"
	CodeFailed        = "failed"
	CodeBackpressured = "backpressure"
)

var (
	errBackpressure = errors.New("backpressure")
	errUnsupported  = errors.New("unsupported type")
)

// payloadError marks a payload that failed to decode.
type payloadError struct{ err error }

func (e payloadError) Error() string { return e.err.Error() }
func (e payloadError) Unwrap() error { return e.err }

// codeFor maps an agent error onto a stable wire code.
func codeFor(err error) string {
	var pe payloadError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return CodeBadPayload
	case errors.Is(err, errUnsupported):
		return CodeUnsupported
	case errors.Is(err, session.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, progress.ErrAuthRequired), errors.Is(err, session.ErrAuthRequired), errors.Is(err, session.ErrNoSession):
		return CodeAuthRequired
	case errors.Is(err, progress.ErrInvalidInput), errors.Is(err, backend.ErrValidation):
		return CodeInvalidInput
	case errors.Is(err, backend.ErrConflict):
		return CodeConflict
	case errors.Is(err, backend.ErrUnauthorized), errors.Is(err, backend.ErrForbidden):
		return CodeUnauthorized
	case errors.Is(err, backend.ErrNetwork):
		return CodeNetwork
	case errors.Is(err, backend.ErrNotFound):
		return CodeNotFound
	default:
		return CodeFailed
	}
}
