package progress

import (
	"context"
	"sort"
	"sync"
)

// Board holds the active user's records keyed by stage and recomputes the
// Summary on every change. Listeners are called outside the lock.
type Board struct {
	mu        sync.RWMutex
	userID    string
	records   map[string]StageProgress
	summary   Summary
	listeners []func(Summary)
}

// NewBoard returns an empty board with no active user.
func NewBoard() *Board {
	return &Board{records: make(map[string]StageProgress)}
}

// Subscribe registers fn for summary changes.
func (b *Board) Subscribe(fn func(Summary)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// UserID returns the active user ("" when none).
func (b *Board) UserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID
}

// Replace swaps in a full record set for userID.
func (b *Board) Replace(userID string, recs []StageProgress) {
	b.mu.Lock()
	b.userID = userID
	b.records = make(map[string]StageProgress, len(recs))
	for _, r := range recs {
		if r.UserID == "" || r.UserID == userID {
			b.records[r.StageID] = r
		}
	}
	s := b.recomputeLocked()
	fns := b.listeners
	b.mu.Unlock()

	notify(fns, s)
}

// Apply merges one written record. Records for another user are ignored.
// With no active user the record's owner becomes active.
func (b *Board) Apply(rec StageProgress) {
	b.mu.Lock()
	if b.userID == "" {
		b.userID = rec.UserID
	}
	if rec.UserID != b.userID {
		b.mu.Unlock()
		return
	}
	b.records[rec.StageID] = rec
	s := b.recomputeLocked()
	fns := b.listeners
	b.mu.Unlock()

	notify(fns, s)
}

// Clear drops the active user and all records (logout).
func (b *Board) Clear() {
	b.mu.Lock()
	b.userID = ""
	b.records = make(map[string]StageProgress)
	s := b.recomputeLocked()
	fns := b.listeners
	b.mu.Unlock()

	notify(fns, s)
}

// Summary returns the current totals.
func (b *Board) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summary
}

// Records returns a copy of the active records ordered by stage id.
func (b *Board) Records() []StageProgress {
	b.mu.RLock()
	out := make([]StageProgress, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out
}

// Load fetches userID's records through c and replaces the board.
func (b *Board) Load(ctx context.Context, c *Client, userID string) error {
	recs, err := c.ListUserProgress(ctx, userID)
	if err != nil {
		return err
	}
	b.Replace(userID, recs)
	return nil
}

func (b *Board) recomputeLocked() Summary {
	recs := make([]StageProgress, 0, len(b.records))
	for _, r := range b.records {
		recs = append(recs, r)
	}
	s := Summarize(recs)
	s.UserID = b.userID
	b.summary = s
	return s
}

func notify(fns []func(Summary), s Summary) {
	for _, fn := range fns {
		fn(s)
	}
}
