package v1

import (
	"encoding/json"
	"time"
)

// HelloPayload opens a bridge session.
type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

// HelloAckPayload returns the bridge session id and the current snapshot.
type HelloAckPayload struct {
	SessionID    string                 `json:"session_id"`
	Session      SessionStatePayload    `json:"session"`
	Connectivity ConnectivityPayload    `json:"connectivity"`
	Progress     ProgressSummaryPayload `json:"progress"`
}

// VisibilityPayload reports the host page becoming visible or hidden.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// NetworkPayload reports the host's native online/offline event.
type NetworkPayload struct {
	Online bool `json:"online"`
}

// LoginPayload either exchanges credentials or installs a token directly.
type LoginPayload struct {
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Token    string          `json:"token,omitempty"`
	User     json.RawMessage `json:"user,omitempty"`
}

// RecordAttemptPayload records one play of a stage for the logged-in user.
type RecordAttemptPayload struct {
	StageID string `json:"stage_id"`
	Score   int    `json:"score"`
}

// CompleteStagePayload marks a stage completed for the logged-in user.
type CompleteStagePayload struct {
	StageID string `json:"stage_id"`
	Score   int    `json:"score"`
	Stars   int    `json:"stars"`
}

// SummaryRequestPayload asks for totals; StageIDs (ordered) adds per-stage unlock views.
type SummaryRequestPayload struct {
	StageIDs []string `json:"stage_ids,omitempty"`
}

// SessionStatePayload is the lifecycle snapshot.
type SessionStatePayload struct {
	State            string     `json:"state"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Expiry           *time.Time `json:"expiry,omitempty"`
}

// SessionWarningPayload is the one-shot pre-expiry warning.
type SessionWarningPayload struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// SessionExpiredPayload reports a forced logout.
type SessionExpiredPayload struct {
	Reason string `json:"reason"`
}

// ConnectivityPayload mirrors the connectivity monitor.
type ConnectivityPayload struct {
	Online    bool   `json:"online"`
	Checking  bool   `json:"checking"`
	LastError string `json:"last_error,omitempty"`
}

// StageView is one ordered stage with its unlock flag.
type StageView struct {
	StageID     string `json:"stage_id"`
	Unlocked    bool   `json:"unlocked"`
	Completed   bool   `json:"completed"`
	BestScore   int    `json:"best_score"`
	StarsEarned int    `json:"stars_earned"`
}

// ProgressSummaryPayload is the aggregated view of the active user.
type ProgressSummaryPayload struct {
	UserID         string      `json:"user_id,omitempty"`
	Stages         int         `json:"stages"`
	CompletedCount int         `json:"completed_count"`
	TotalStars     int         `json:"total_stars"`
	TotalBestScore int         `json:"total_best_score"`
	TotalAttempts  int         `json:"total_attempts"`
	Views          []StageView `json:"views,omitempty"`
}

// ProgressResultPayload answers a progress command; ReplyTo is the request envelope id.
type ProgressResultPayload struct {
	ReplyTo string          `json:"reply_to"`
	Op      string          `json:"op"`
	Record  json.RawMessage `json:"record,omitempty"`
}

// ErrorPayload is a generic error; ReplyTo is set when it answers a request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ReplyTo string `json:"reply_to,omitempty"`
}
