// Package location keeps the user's most recent location fix.
package location

import (
	"sync"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

// Fix is a position and the time it was taken.
type Fix struct {
	Position model.Position `json:"position"`
	At       time.Time      `json:"at"`
}

// Tracker is fed by the host and answers "where is the user now".
// A fix older than maxAge counts as no fix.
type Tracker struct {
	clock  timeutil.Clock
	maxAge time.Duration

	mu  sync.RWMutex
	fix *Fix
}

func NewTracker(clock timeutil.Clock, maxAge time.Duration) *Tracker {
	return &Tracker{clock: clock, maxAge: maxAge}
}

// Update records a new fix. Fixes older than the current one are ignored.
func (t *Tracker) Update(pos model.Position, at time.Time) bool {
	if at.IsZero() {
		at = t.clock.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fix != nil && at.Before(t.fix.At) {
		return false
	}
	t.fix = &Fix{Position: pos, At: at}
	return true
}

// Current returns the latest fix if it is still fresh.
func (t *Tracker) Current() (model.Position, bool) {
	fix, ok := t.Last()
	if !ok {
		return model.Position{}, false
	}
	if t.maxAge > 0 && t.clock.Since(fix.At) > t.maxAge {
		return model.Position{}, false
	}
	return fix.Position, true
}

// Last returns the latest fix regardless of age.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.fix == nil {
		return Fix{}, false
	}
	return *t.fix, true
}
