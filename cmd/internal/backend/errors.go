package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel error kinds (stable for errors.Is).
var (
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNetwork      = errors.New("network")
	ErrValidation   = errors.New("validation")
	ErrServer       = errors.New("server")
	ErrConfig       = errors.New("backend config invalid")
)

// conflictMarkers are substrings the backend uses to report a uniqueness violation
// when it does not answer with 409.
var conflictMarkers = []string{"Unique constraint", "P2002"}

// APIError is the typed failure returned by every Client call.
// Status is 0 for transport failures. Message never carries request bodies or tokens.
type APIError struct {
	Op      string
	Kind    error
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause (e.g. context.DeadlineExceeded).
func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// kindLabel is the metrics label for an outcome.
func kindLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ae *APIError
	if errors.As(err, &ae) && ae.Kind != nil {
		return ae.Kind.Error()
	}
	return "error"
}

// classifyStatus maps an HTTP failure to a kind. Conflict markers win over the
// status because the backend sometimes reports uniqueness violations as 400/500.
func classifyStatus(status int, body string) error {
	if status == http.StatusConflict || hasConflictMarker(body) {
		return ErrConflict
	}
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrValidation
	}
}

func hasConflictMarker(s string) bool {
	for _, m := range conflictMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents a uniqueness violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUnauthorized reports whether err represents a 401.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNetwork reports whether err represents a transport failure or timeout.
func IsNetwork(err error) bool { return errors.Is(err, ErrNetwork) }

// IsValidation reports whether err represents a rejected (malformed) request.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
