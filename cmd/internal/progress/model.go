package progress

import (
	"encoding/json"
	"time"
)

// StageProgress is one learner's record for one stage. (UserID, StageID) is unique server-side.
type StageProgress struct {
	ID            string     `json:"id,omitempty"`
	UserID        string     `json:"userId"`
	StageID       string     `json:"stageId"`
	IsCompleted   bool       `json:"isCompleted"`
	IsUnlocked    bool       `json:"isUnlocked"`
	CurrentScore  int        `json:"currentScore"`
	BestScore     int        `json:"bestScore"`
	StarsEarned   int        `json:"starsEarned"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// newRecord returns the defaults a fresh record is created with.
// A stage being played is reachable, so it starts unlocked.
func newRecord(userID, stageID string) StageProgress {
	return StageProgress{
		UserID:     userID,
		StageID:    stageID,
		IsUnlocked: true,
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	IsCompleted   *bool
	IsUnlocked    *bool
	CurrentScore  *int
	BestScore     *int
	StarsEarned   *int
	Attempts      *int
	LastAttemptAt *time.Time
	CompletedAt   *time.Time

	// reset marks the explicit reset operation: it may clear completion and
	// sends completedAt as null.
	reset bool
}

// IsZero reports whether p changes nothing.
func (p Patch) IsZero() bool {
	return p.IsCompleted == nil && p.IsUnlocked == nil && p.CurrentScore == nil &&
		p.BestScore == nil && p.StarsEarned == nil && p.Attempts == nil &&
		p.LastAttemptAt == nil && p.CompletedAt == nil && !p.reset
}

// MarshalJSON emits only the fields being changed.
func (p Patch) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8)
	if p.IsCompleted != nil {
		m["isCompleted"] = *p.IsCompleted
	}
	if p.IsUnlocked != nil {
		m["isUnlocked"] = *p.IsUnlocked
	}
	if p.CurrentScore != nil {
		m["currentScore"] = *p.CurrentScore
	}
	if p.BestScore != nil {
		m["bestScore"] = *p.BestScore
	}
	if p.StarsEarned != nil {
		m["starsEarned"] = *p.StarsEarned
	}
	if p.Attempts != nil {
		m["attempts"] = *p.Attempts
	}
	if p.LastAttemptAt != nil {
		m["lastAttemptAt"] = p.LastAttemptAt.UTC()
	}
	switch {
	case p.CompletedAt != nil:
		m["completedAt"] = p.CompletedAt.UTC()
	case p.reset:
		m["completedAt"] = nil
	}
	return json.Marshal(m)
}

// applyTo overlays p onto rec.
func (p Patch) applyTo(rec *StageProgress) {
	if p.IsCompleted != nil {
		rec.IsCompleted = *p.IsCompleted
	}
	if p.IsUnlocked != nil {
		rec.IsUnlocked = *p.IsUnlocked
	}
	if p.CurrentScore != nil {
		rec.CurrentScore = *p.CurrentScore
	}
	if p.BestScore != nil {
		rec.BestScore = *p.BestScore
	}
	if p.StarsEarned != nil {
		rec.StarsEarned = *p.StarsEarned
	}
	if p.Attempts != nil {
		rec.Attempts = *p.Attempts
	}
	if p.LastAttemptAt != nil {
		t := *p.LastAttemptAt
		rec.LastAttemptAt = &t
	}
	switch {
	case p.CompletedAt != nil:
		t := *p.CompletedAt
		rec.CompletedAt = &t
	case p.reset:
		rec.CompletedAt = nil
	}
}

// guard drops changes that would move a monotonic field of existing backwards.
// The explicit reset is exempt. bestScore is not guarded here: CompleteStage
// writes it unconditionally and callers own the max.
func (p Patch) guard(existing StageProgress) Patch {
	if p.reset {
		return p
	}
	if existing.IsCompleted && p.IsCompleted != nil && !*p.IsCompleted {
		p.IsCompleted = nil
	}
	if p.StarsEarned != nil && *p.StarsEarned < existing.StarsEarned {
		p.StarsEarned = nil
	}
	if p.Attempts != nil && *p.Attempts < existing.Attempts {
		p.Attempts = nil
	}
	return p
}

// Bool returns a pointer to v for building patches.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Time returns a pointer to v.
func Time(v time.Time) *time.Time { return &v }
