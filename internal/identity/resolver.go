// Package identity maps rotating BLE addresses onto stable device identities.
package identity

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/follower-watch/internal/model"
)

// Options bounds continuity matching and the size of the resolver caches.
type Options struct {
	ContinuityWindow   time.Duration
	ContinuityDeltaDBM int
	TTL                time.Duration
	MaxIdentifiers     int
	TrimIdentifiersTo  int
	MaxFingerprints    int
	TrimFingerprintsTo int
}

func DefaultOptions() Options {
	return Options{
		ContinuityWindow:   30 * time.Second,
		ContinuityDeltaDBM: 8,
		TTL:                4 * time.Hour,
		MaxIdentifiers:     5000,
		TrimIdentifiersTo:  3000,
		MaxFingerprints:    2000,
		TrimFingerprintsTo: 1000,
	}
}

type binding struct {
	stableID string
	seq      uint64
}

type lastSeen struct {
	rssi     int
	at       time.Time
	stableID string
}

// Resolver assigns stable IDs to BLE observations. Non-BLE identifiers are
// returned unchanged. Safe for concurrent use.
type Resolver struct {
	opts   Options
	newID  func() string
	logger *slog.Logger

	mu            sync.Mutex
	seq           uint64
	byIdentifier  map[string]binding
	byFingerprint map[string]binding
	active        map[string]lastSeen
	disappeared   map[string]lastSeen
}

func New(opts Options, logger *slog.Logger) *Resolver {
	return NewWithGenerator(opts, logger, func() string { return "ble_" + uuid.NewString() })
}

// NewWithGenerator creates a resolver that mints stable IDs with newID.
func NewWithGenerator(opts Options, logger *slog.Logger, newID func() string) *Resolver {
	return &Resolver{
		opts:          opts,
		newID:         newID,
		logger:        logger,
		byIdentifier:  map[string]binding{},
		byFingerprint: map[string]binding{},
		active:        map[string]lastSeen{},
		disappeared:   map[string]lastSeen{},
	}
}

// Resolve returns the stable ID for obs.
func (r *Resolver) Resolve(obs model.Observation) string {
	identifier := NormalizeIdentifier(obs.Identifier)
	if obs.RadioType != model.RadioBLE {
		return identifier
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byIdentifier[identifier]; ok {
		delete(r.disappeared, identifier)
		r.touch(identifier, obs, b.stableID)
		return b.stableID
	}

	if key, ok := Fingerprint(obs); ok {
		b, known := r.byFingerprint[key]
		if !known {
			b = r.bind(r.newID())
			r.byFingerprint[key] = b
		}
		r.byIdentifier[identifier] = r.bind(b.stableID)
		r.touch(identifier, obs, b.stableID)
		r.debug("fingerprint match", "identifier", identifier, "stable_id", b.stableID, "reused", known)
		return b.stableID
	}

	if stableID, ok := r.continuityMatch(obs); ok {
		r.byIdentifier[identifier] = r.bind(stableID)
		r.touch(identifier, obs, stableID)
		r.debug("signal continuity match", "identifier", identifier, "stable_id", stableID)
		return stableID
	}

	stableID := r.newID()
	r.byIdentifier[identifier] = r.bind(stableID)
	r.touch(identifier, obs, stableID)
	return stableID
}

// MarkDisappeared moves the identifier's last observation into the pool used
// for signal-continuity matching.
func (r *Resolver) MarkDisappeared(identifier string) {
	identifier = NormalizeIdentifier(identifier)

	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.active[identifier]
	if !ok {
		return
	}
	delete(r.active, identifier)
	r.disappeared[identifier] = last
}

// IdleIdentifiers lists identifiers last observed more than after before now.
func (r *Resolver) IdleIdentifiers(now time.Time, after time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for identifier, last := range r.active {
		if now.Sub(last.at) > after {
			out = append(out, identifier)
		}
	}
	return out
}

// Cleanup drops observation records older than the TTL and trims the
// identifier and fingerprint maps oldest-first once they exceed their caps.
func (r *Resolver) Cleanup(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.opts.TTL)
	for identifier, last := range r.active {
		if last.at.Before(cutoff) {
			delete(r.active, identifier)
		}
	}
	for identifier, last := range r.disappeared {
		if last.at.Before(cutoff) {
			delete(r.disappeared, identifier)
		}
	}

	trimmedIDs := trimOldest(r.byIdentifier, r.opts.MaxIdentifiers, r.opts.TrimIdentifiersTo)
	trimmedFingerprints := trimOldest(r.byFingerprint, r.opts.MaxFingerprints, r.opts.TrimFingerprintsTo)
	if trimmedIDs > 0 || trimmedFingerprints > 0 {
		r.debug("identity caches trimmed", "identifiers", trimmedIDs, "fingerprints", trimmedFingerprints)
	}
}

// Stats reports current cache sizes.
type Stats struct {
	Identifiers  int `json:"identifiers"`
	Fingerprints int `json:"fingerprints"`
	Active       int `json:"active"`
	Disappeared  int `json:"disappeared"`
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Identifiers:  len(r.byIdentifier),
		Fingerprints: len(r.byFingerprint),
		Active:       len(r.active),
		Disappeared:  len(r.disappeared),
	}
}

// continuityMatch picks the recently disappeared identity whose last signal
// is closest to obs, and consumes it. Equal deltas go to the identity that
// disappeared most recently, then to the lowest identifier.
func (r *Resolver) continuityMatch(obs model.Observation) (string, bool) {
	var (
		bestKey   string
		bestAt    time.Time
		bestDelta = -1
	)
	for identifier, gone := range r.disappeared {
		age := obs.Timestamp.Sub(gone.at)
		if age < 0 || age > r.opts.ContinuityWindow {
			continue
		}
		delta := abs(obs.RSSI - gone.rssi)
		if delta > r.opts.ContinuityDeltaDBM {
			continue
		}
		better := bestDelta < 0 || delta < bestDelta
		if delta == bestDelta {
			better = gone.at.After(bestAt) || (gone.at.Equal(bestAt) && identifier < bestKey)
		}
		if better {
			bestKey, bestAt, bestDelta = identifier, gone.at, delta
		}
	}
	if bestDelta < 0 {
		return "", false
	}
	stableID := r.disappeared[bestKey].stableID
	delete(r.disappeared, bestKey)
	return stableID, true
}

func (r *Resolver) bind(stableID string) binding {
	r.seq++
	return binding{stableID: stableID, seq: r.seq}
}

func (r *Resolver) touch(identifier string, obs model.Observation, stableID string) {
	r.active[identifier] = lastSeen{rssi: obs.RSSI, at: obs.Timestamp, stableID: stableID}
}

func (r *Resolver) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func trimOldest(m map[string]binding, limit, keep int) int {
	if limit <= 0 || len(m) <= limit {
		return 0
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]].seq < m[keys[j]].seq })
	drop := len(m) - keep
	for _, key := range keys[:drop] {
		delete(m, key)
	}
	return drop
}

// NormalizeIdentifier upper-cases a hardware address and unifies separators.
func NormalizeIdentifier(identifier string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(identifier)), "-", ":")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
