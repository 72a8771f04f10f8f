// Package v1 defines the lassmuo bridge protocol v1 between the UI host and the sync agent.
//
// This package is dependency-light; it is shared by the agent and its clients
// so the wire format stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must offer.
const Subprotocol = "lassmuo.bridge.v1"

// Client -> agent.
const (
	TypeHello             = "hello"
	TypeHostVisibility    = "host.visibility"
	TypeHostFocus         = "host.focus"
	TypeHostNetwork       = "host.network"
	TypeSessionExtend     = "session.extend"
	TypeSessionLogin      = "session.login"
	TypeSessionLogout     = "session.logout"
	TypeConnectivityRetry = "connectivity.retry"
	TypeRecordAttempt     = "progress.record_attempt"
	TypeCompleteStage     = "progress.complete_stage"
	TypeProgressSummary   = "progress.summary"
)

// Agent -> client. TypeProgressSummary is used in both directions.
const (
	TypeHelloAck            = "hello.ack"
	TypeSessionState        = "session.state"
	TypeSessionWarning      = "session.warning"
	TypeSessionExpired      = "session.expired"
	TypeConnectivityChanged = "connectivity.changed"
	TypeProgressResult      = "progress.result"
	TypeError               = "error"
)

// ClientTypes are the types an agent accepts.
var ClientTypes = map[string]struct{}{
	TypeHello:             {},
	TypeHostVisibility:    {},
	TypeHostFocus:         {},
	TypeHostNetwork:       {},
	TypeSessionExtend:     {},
	TypeSessionLogin:      {},
	TypeSessionLogout:     {},
	TypeConnectivityRetry: {},
	TypeRecordAttempt:     {},
	TypeCompleteStage:     {},
	TypeProgressSummary:   {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks an inbound (client -> agent) envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := ClientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
