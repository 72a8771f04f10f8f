package session

import "time"

// State is a lifecycle state.
type State int

const (
	LoggedOut State = iota
	Active
	Warning
	// Expired is transient: it is emitted as an event and immediately becomes LoggedOut.
	Expired
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Active:
		return "active"
	case Warning:
		return "warning"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind classifies coordinator events.
type EventKind string

const (
	// EventState is a state change.
	EventState EventKind = "state"
	// EventWarning is the one-shot pre-expiry warning.
	EventWarning EventKind = "warning"
	// EventExpired is a forced logout; Reason says why.
	EventExpired EventKind = "expired"
)

// Forced logout reasons.
const (
	ReasonClock        = "clock"
	ReasonUnauthorized = "unauthorized"
	ReasonRestore      = "restore"
)

// Event is delivered to coordinator subscribers.
type Event struct {
	Kind      EventKind
	State     State
	Remaining time.Duration
	Reason    string
	At        time.Time
}

// Status is a point-in-time view for status endpoints and the bridge.
type Status struct {
	State            State         `json:"state"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remainingSeconds"`
	Expiry           *time.Time    `json:"expiry,omitempty"`
	User             []byte        `json:"-"`
	TokenFingerprint string        `json:"tokenFingerprint,omitempty"`
	Warned           bool          `json:"warned"`
}
