package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the Session Clock: validity and remaining time derived from a
// locally held expiry. No expiry means expired.
type Clock struct {
	clk    clockwork.Clock
	length time.Duration

	mu     sync.RWMutex
	expiry time.Time
}

// NewClock returns a Clock with no expiry. A nil clk uses real time.
func NewClock(clk clockwork.Clock, length time.Duration) *Clock {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Clock{clk: clk, length: length}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time { return c.clk.Now() }

// Set replaces the expiry.
func (c *Clock) Set(expiry time.Time) {
	c.mu.Lock()
	c.expiry = expiry
	c.mu.Unlock()
}

// Clear drops the expiry.
func (c *Clock) Clear() { c.Set(time.Time{}) }

// Expiry returns the current expiry and whether one is set.
func (c *Clock) Expiry() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry, !c.expiry.IsZero()
}

// IsValid reports now < expiry.
func (c *Clock) IsValid() bool { return c.Remaining() > 0 }

// Remaining returns expiry - now, or 0 when expired or unset.
func (c *Clock) Remaining() time.Duration {
	c.mu.RLock()
	exp := c.expiry
	c.mu.RUnlock()

	if exp.IsZero() {
		return 0
	}
	if d := exp.Sub(c.clk.Now()); d > 0 {
		return d
	}
	return 0
}

// Refresh slides the expiry to now + length and returns it.
func (c *Clock) Refresh() time.Time {
	exp := c.clk.Now().Add(c.length)
	c.Set(exp)
	return exp
}

// Extended returns now + length without changing the clock.
func (c *Clock) Extended() time.Time { return c.clk.Now().Add(c.length) }
