package progress

import (
	"errors"
	"fmt"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
)

// Sentinel error kinds (stable for errors.Is).
var (
	// ErrAuthRequired is returned by write operations once the session is gone.
	ErrAuthRequired = errors.New("auth_required")
	// ErrInvalidInput is a locally rejected request; it also matches backend.ErrValidation.
	ErrInvalidInput = fmt.Errorf("invalid_input: %w", backend.ErrValidation)
)

// OpError is a typed operation error with a stable Op + Kind contract.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a create conflict that the single re-read could not resolve:
// the backend rejected the create as a duplicate yet still reports no record.
type ConflictError struct {
	Op      string
	UserID  string
	StageID string
	Cause   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %v: user=%s stage=%s still missing after conflict", e.Op, backend.ErrConflict, e.UserID, e.StageID)
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause == nil {
		return []error{backend.ErrConflict}
	}
	return []error{backend.ErrConflict, e.Cause}
}

// IsFatalConflict reports whether err is an unresolved create conflict.
func IsFatalConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuthRequired reports whether err represents ErrAuthRequired.
func IsAuthRequired(err error) bool { return errors.Is(err, ErrAuthRequired) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
