// Package pipeline sequences observations through identity resolution,
// persistence, scoring and alerting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/follower-watch/internal/domain/detection"
	"github.com/micro-ha/follower-watch/internal/geo"
	"github.com/micro-ha/follower-watch/internal/identity"
	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/oui"
	"github.com/micro-ha/follower-watch/internal/suspicion"
	"github.com/micro-ha/follower-watch/internal/timeutil"
	"github.com/micro-ha/follower-watch/internal/tracker"
)

// Repository is the storage the pipeline writes through.
type Repository interface {
	FindDevice(ctx context.Context, id string) (model.Device, bool, error)
	UpsertDevice(ctx context.Context, device model.Device) error
	InsertSighting(ctx context.Context, sighting model.Sighting) (int64, error)
	SightingsSince(ctx context.Context, deviceID string, since time.Time) ([]model.Sighting, error)
	DistinctLocationCount(ctx context.Context, deviceID string) (int, error)
	DeleteSightingsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteDevicesSeenBefore(ctx context.Context, before time.Time) (int64, error)
	InsertAlert(ctx context.Context, alert model.Alert) (int64, error)
	LatestAlertForDevice(ctx context.Context, deviceID string) (model.Alert, bool, error)
}

// LocationProvider returns the user's current position, if known.
type LocationProvider interface {
	Current() (model.Position, bool)
}

// SettingsProvider returns the cached detection settings.
type SettingsProvider interface {
	Get() model.Settings
}

// Notifier receives emitted alerts. Delivery errors are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// CalibrationSink collects scoring results while calibration mode is on.
type CalibrationSink interface {
	RecordSample(result suspicion.Result, avgSignal float64) bool
}

// VendorLookup resolves a hardware address to a vendor name.
type VendorLookup interface {
	Lookup(mac string) string
}

type Options struct {
	AlertCooldown           time.Duration
	ScoringWindow           time.Duration
	MovementThresholdMeters float64
	DisappearAfter          time.Duration
	Retention               time.Duration
	ThrottleRetention       time.Duration
	AmbientWindow           time.Duration
	TrackerConfidence       float64

	Clock    timeutil.Clock
	Resolver *identity.Resolver
	Vendors  VendorLookup
}

func DefaultOptions() Options {
	return Options{
		AlertCooldown:           15 * time.Minute,
		ScoringWindow:           6 * time.Hour,
		MovementThresholdMeters: 50,
		DisappearAfter:          10 * time.Second,
		Retention:               7 * 24 * time.Hour,
		ThrottleRetention:       time.Hour,
		AmbientWindow:           5 * time.Minute,
		TrackerConfidence:       0.7,
	}
}

type Pipeline struct {
	repo     Repository
	loc      LocationProvider
	cfg      SettingsProvider
	opts     Options
	logger   *slog.Logger
	clock    timeutil.Clock
	resolver *identity.Resolver
	detector tracker.Detector
	devices  *keyedMutex

	running  atomic.Bool
	enhanced atomic.Bool

	mu        sync.Mutex
	lastScan  map[string]time.Time
	lastScore map[string]time.Time
	ambient   map[string]time.Time
	anchor    *model.Position

	hookMu      sync.RWMutex
	notifier    Notifier
	calibration CalibrationSink
}

func New(repo Repository, loc LocationProvider, cfg SettingsProvider, opts Options, logger *slog.Logger) *Pipeline {
	defaults := DefaultOptions()
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = defaults.AlertCooldown
	}
	if opts.ScoringWindow <= 0 {
		opts.ScoringWindow = defaults.ScoringWindow
	}
	if opts.MovementThresholdMeters <= 0 {
		opts.MovementThresholdMeters = defaults.MovementThresholdMeters
	}
	if opts.DisappearAfter <= 0 {
		opts.DisappearAfter = defaults.DisappearAfter
	}
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	if opts.ThrottleRetention <= 0 {
		opts.ThrottleRetention = defaults.ThrottleRetention
	}
	if opts.AmbientWindow <= 0 {
		opts.AmbientWindow = defaults.AmbientWindow
	}
	if opts.TrackerConfidence <= 0 {
		opts.TrackerConfidence = defaults.TrackerConfidence
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.New(identity.DefaultOptions(), logger)
	}

	return &Pipeline{
		repo:      repo,
		loc:       loc,
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		clock:     opts.Clock,
		resolver:  opts.Resolver,
		detector:  tracker.New(),
		devices:   newKeyedMutex(),
		lastScan:  map[string]time.Time{},
		lastScore: map[string]time.Time{},
		ambient:   map[string]time.Time{},
	}
}

func (p *Pipeline) Start() {
	if !p.running.Swap(true) {
		p.logger.Info("detection started")
	}
}

func (p *Pipeline) Stop() {
	if p.running.Swap(false) {
		p.logger.Info("detection stopped")
	}
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Enhanced reports whether a raw 802.11 capture source is attached.
func (p *Pipeline) Enhanced() bool {
	return p.enhanced.Load()
}

func (p *Pipeline) SetEnhanced(v bool) {
	p.enhanced.Store(v)
}

// ScoringWindow is how far back sightings feed a score.
func (p *Pipeline) ScoringWindow() time.Duration {
	return p.opts.ScoringWindow
}

func (p *Pipeline) SetNotifier(n Notifier) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.notifier = n
}

func (p *Pipeline) SetCalibration(c CalibrationSink) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.calibration = c
}

// ProcessObservation runs one observation through the pipeline and returns
// the alerts it produced. Stopped pipelines and throttled observations
// return no alerts and no error. A storage failure aborts the observation.
func (p *Pipeline) ProcessObservation(ctx context.Context, obs model.Observation) ([]model.Alert, error) {
	if !p.running.Load() {
		return nil, nil
	}
	if obs.Identifier == "" {
		p.logger.Debug("observation dropped", "reason", "empty identifier")
		return nil, nil
	}

	now := p.clock.Now()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = now
	}
	// Throttles run on observation time so replayed captures keep their
	// original spacing. Future stamps are clamped to the clock.
	seen := obs.Timestamp
	if seen.After(now) {
		seen = now
	}
	settings := p.cfg.Get()

	if obs.RadioType == model.RadioBLE {
		for _, identifier := range p.resolver.IdleIdentifiers(obs.Timestamp, p.opts.DisappearAfter) {
			p.resolver.MarkDisappeared(identifier)
		}
	}
	stableID := p.resolver.Resolve(obs)

	ambient, ok := p.admit(stableID, seen, settings.ScanThrottle())
	if !ok {
		return nil, nil
	}

	unlock := p.devices.Lock(stableID)
	defer unlock()

	if match, ok := p.detector.Detect(obs); ok && match.Confidence >= p.opts.TrackerConfidence {
		return p.handleTracker(ctx, stableID, obs, match, now)
	}

	if settings.ScanOnlyWhenMoving && !p.userMoving() {
		if _, err := p.record(ctx, stableID, obs, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}

	device, err := p.record(ctx, stableID, obs, "")
	if err != nil {
		return nil, err
	}

	if !p.claimScore(stableID, seen, settings.ScoreThrottle()) {
		return nil, nil
	}

	result, sightings, err := p.score(ctx, device, settings, ambient, now)
	if err != nil {
		return nil, err
	}
	device.Score = result.Score
	device.ThreatLevel = result.Level
	if err := p.repo.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update score: %w", err)
	}

	if settings.CalibrationMode {
		if sink := p.calibrationSink(); sink != nil {
			sink.RecordSample(result, averageSignal(sightings))
		}
	}

	if device.Whitelisted || result.Score <= settings.LowThreshold {
		return nil, nil
	}
	alert, ok, err := p.emitAlert(ctx, device, model.Alert{
		DeviceName:    device.Name,
		Score:         result.Score,
		Level:         result.Level,
		LocationCount: result.DistinctLocations,
	}, now)
	if err != nil || !ok {
		return nil, err
	}
	return []model.Alert{alert}, nil
}

// RecalculateScore scores a device over the scoring window without
// persisting the result.
func (p *Pipeline) RecalculateScore(ctx context.Context, device model.Device) (suspicion.Result, error) {
	now := p.clock.Now()
	result, _, err := p.score(ctx, device, p.cfg.Get(), p.ambientCount(now), now)
	return result, err
}

// Rescore recomputes and persists the score of a stored device under its
// device lock. Known trackers stay at the maximum unless whitelisted.
func (p *Pipeline) Rescore(ctx context.Context, id string) (suspicion.Result, error) {
	unlock := p.devices.Lock(id)
	defer unlock()

	device, found, err := p.repo.FindDevice(ctx, id)
	if err != nil {
		return suspicion.Result{}, fmt.Errorf("load device: %w", err)
	}
	if !found {
		return suspicion.Result{}, detection.ErrDeviceNotFound
	}

	now := p.clock.Now()
	result, _, err := p.score(ctx, device, p.cfg.Get(), p.ambientCount(now), now)
	if err != nil {
		return suspicion.Result{}, err
	}
	if device.TrackerKind != "" && !device.Whitelisted {
		result.Score = 100
		result.Level = model.ThreatLevelHigh
		result.KnownTracker = true
	}
	device.Score = result.Score
	device.ThreatLevel = result.Level
	if err := p.repo.UpsertDevice(ctx, device); err != nil {
		return suspicion.Result{}, fmt.Errorf("update score: %w", err)
	}
	return result, nil
}

// PerformMaintenance applies retention, trims identity caches and prunes
// throttle state.
func (p *Pipeline) PerformMaintenance(ctx context.Context) (detection.MaintenanceReport, error) {
	now := p.clock.Now()
	report := detection.MaintenanceReport{RanAt: now}

	cutoff := now.Add(-p.opts.Retention)
	deleted, err := p.repo.DeleteSightingsBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("delete sightings: %w", err)
	}
	report.SightingsDeleted = deleted

	removed, err := p.repo.DeleteDevicesSeenBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("delete devices: %w", err)
	}
	report.DevicesDeleted = removed

	p.resolver.Cleanup(now)
	report.ThrottlesPruned = p.pruneThrottles(now)

	identities := p.resolver.Stats()
	p.logger.Info("maintenance completed",
		"sightings_deleted", report.SightingsDeleted,
		"devices_deleted", report.DevicesDeleted,
		"throttles_pruned", report.ThrottlesPruned,
		"identifiers", identities.Identifiers,
		"fingerprints", identities.Fingerprints,
	)
	return report, nil
}

// admit applies the scan throttle and records the device in the ambient
// set. It returns the ambient device count. Observations older than the last
// admitted one are dropped as well.
func (p *Pipeline) admit(stableID string, now time.Time, throttle time.Duration) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastScan[stableID]; ok && now.Sub(last) < throttle {
		return 0, false
	}
	p.lastScan[stableID] = now

	p.ambient[stableID] = now
	cutoff := now.Add(-p.opts.AmbientWindow)
	for id, at := range p.ambient {
		if at.Before(cutoff) {
			delete(p.ambient, id)
		}
	}
	return len(p.ambient), true
}

func (p *Pipeline) claimScore(stableID string, now time.Time, throttle time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastScore[stableID]; ok && now.Sub(last) < throttle {
		return false
	}
	p.lastScore[stableID] = now
	return true
}

func (p *Pipeline) ambientCount(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-p.opts.AmbientWindow)
	count := 0
	for _, at := range p.ambient {
		if !at.Before(cutoff) {
			count++
		}
	}
	return count
}

// userMoving reports whether the user left the anchor radius since the
// anchor was last set. Without a fix the user counts as stationary.
func (p *Pipeline) userMoving() bool {
	pos, ok := p.loc.Current()
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.anchor == nil {
		p.anchor = &pos
		return false
	}
	if geo.Distance(*p.anchor, pos) > p.opts.MovementThresholdMeters {
		p.anchor = &pos
		return true
	}
	return false
}

func (p *Pipeline) pruneThrottles(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.opts.ThrottleRetention)
	pruned := 0
	for _, m := range []map[string]time.Time{p.lastScan, p.lastScore} {
		for id, at := range m {
			if at.Before(cutoff) {
				delete(m, id)
				pruned++
			}
		}
	}
	ambientCutoff := now.Add(-p.opts.AmbientWindow)
	for id, at := range p.ambient {
		if at.Before(ambientCutoff) {
			delete(p.ambient, id)
		}
	}
	return pruned
}

func (p *Pipeline) handleTracker(ctx context.Context, stableID string, obs model.Observation, match tracker.Match, now time.Time) ([]model.Alert, error) {
	device, err := p.record(ctx, stableID, obs, match.Kind)
	if err != nil {
		return nil, err
	}
	if device.Name == "" {
		device.Name = match.Description
	}
	device.Score = 100
	device.ThreatLevel = model.ThreatLevelHigh
	if err := p.repo.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update tracker score: %w", err)
	}

	if device.Whitelisted {
		return nil, nil
	}
	alert, ok, err := p.emitAlert(ctx, device, model.Alert{
		DeviceName:    match.Description,
		Score:         100,
		Level:         model.ThreatLevelHigh,
		LocationCount: device.LocationCount,
		TrackerKind:   match.Kind,
	}, now)
	if err != nil || !ok {
		return nil, err
	}
	return []model.Alert{alert}, nil
}

// record upserts the device and appends a sighting. Observations with no
// position and no current fix update the device only.
func (p *Pipeline) record(ctx context.Context, stableID string, obs model.Observation, kind model.TrackerKind) (model.Device, error) {
	device, found, err := p.repo.FindDevice(ctx, stableID)
	if err != nil {
		return model.Device{}, fmt.Errorf("load device: %w", err)
	}
	if !found {
		device = p.newDevice(stableID, obs)
	} else {
		device.DetectionCount++
		if obs.Timestamp.After(device.LastSeen) {
			device.LastSeen = obs.Timestamp
		}
		if obs.Timestamp.Before(device.FirstSeen) {
			device.FirstSeen = obs.Timestamp
		}
		if obs.Name != "" {
			device.Name = obs.Name
		}
	}
	device.LastRSSI = obs.RSSI
	if kind != "" {
		device.TrackerKind = kind
	}

	sighting := model.Sighting{
		DeviceID:  stableID,
		Timestamp: obs.Timestamp,
		RSSI:      obs.RSSI,
		RadioType: obs.RadioType,
		Channel:   obs.Channel,
		Frequency: obs.Frequency,
	}
	switch obs.RadioType {
	case model.RadioWiFiProbe:
		sighting.ProbedSSID = obs.ProbedSSID
		device.ProbedSSIDs = unionSSID(device.ProbedSSIDs, obs.ProbedSSID)
	case model.RadioWiFiAP:
		sighting.APSSID = obs.APSSID
	}

	if pos, ok := p.sightingPosition(obs); ok {
		sighting.Position = pos
		if _, err := p.repo.InsertSighting(ctx, sighting); err != nil {
			return model.Device{}, fmt.Errorf("insert sighting: %w", err)
		}
	} else {
		p.logger.Debug("sighting skipped", "device_id", stableID, "reason", "no location")
	}

	count, err := p.repo.DistinctLocationCount(ctx, stableID)
	if err != nil {
		return model.Device{}, fmt.Errorf("count locations: %w", err)
	}
	device.LocationCount = count

	if err := p.repo.UpsertDevice(ctx, device); err != nil {
		return model.Device{}, fmt.Errorf("upsert device: %w", err)
	}
	return device, nil
}

func (p *Pipeline) newDevice(stableID string, obs model.Observation) model.Device {
	device := model.Device{
		ID:             stableID,
		RadioType:      obs.RadioType,
		Name:           obs.Name,
		FirstSeen:      obs.Timestamp,
		LastSeen:       obs.Timestamp,
		DetectionCount: 1,
		ThreatLevel:    model.ThreatLevelLow,
	}
	if obs.RadioType != model.RadioBLE && p.opts.Vendors != nil {
		device.Vendor = p.opts.Vendors.Lookup(obs.Identifier)
		if device.Name == "" {
			device.Name = oui.GeneratedName(obs.Identifier, device.Vendor)
		}
	}
	return device
}

func (p *Pipeline) sightingPosition(obs model.Observation) (model.Position, bool) {
	if obs.Position.Latitude != 0 || obs.Position.Longitude != 0 {
		return obs.Position, true
	}
	return p.loc.Current()
}

func (p *Pipeline) score(ctx context.Context, device model.Device, settings model.Settings, ambient int, now time.Time) (suspicion.Result, []model.Sighting, error) {
	sightings, err := p.repo.SightingsSince(ctx, device.ID, now.Add(-p.opts.ScoringWindow))
	if err != nil {
		return suspicion.Result{}, nil, fmt.Errorf("load sightings: %w", err)
	}
	result := suspicion.New(settings).Score(device, sightings, suspicion.Environment{Now: now, AmbientDevices: ambient})
	return result, sightings, nil
}

// emitAlert persists and publishes an alert built from draft unless the
// device is in cooldown or no location is known.
func (p *Pipeline) emitAlert(ctx context.Context, device model.Device, draft model.Alert, now time.Time) (model.Alert, bool, error) {
	latest, ok, err := p.repo.LatestAlertForDevice(ctx, device.ID)
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("load latest alert: %w", err)
	}
	if ok && now.Sub(latest.Timestamp) < p.opts.AlertCooldown {
		return model.Alert{}, false, nil
	}

	pos, ok := p.loc.Current()
	if !ok {
		p.logger.Debug("alert skipped", "device_id", device.ID, "reason", "no location")
		return model.Alert{}, false, nil
	}

	alert := draft
	alert.DeviceID = device.ID
	alert.RadioType = device.RadioType
	alert.Timestamp = now
	alert.Position = pos
	alert.SightingCount = device.DetectionCount
	alert.FollowDurationSec = int64(device.LastSeen.Sub(device.FirstSeen).Seconds())
	alert.Action = model.AlertActionNone

	id, err := p.repo.InsertAlert(ctx, alert)
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("insert alert: %w", err)
	}
	alert.ID = id

	p.logger.Warn("alert emitted",
		"device_id", alert.DeviceID,
		"score", alert.Score,
		"level", alert.Level,
		"tracker_kind", alert.TrackerKind,
	)

	p.hookMu.RLock()
	notifier := p.notifier
	p.hookMu.RUnlock()
	if notifier != nil {
		if err := notifier.Notify(ctx, alert); err != nil {
			p.logger.Warn("alert delivery failed", "device_id", alert.DeviceID, "err", err)
		}
	}
	return alert, true, nil
}

func (p *Pipeline) calibrationSink() CalibrationSink {
	p.hookMu.RLock()
	defer p.hookMu.RUnlock()
	return p.calibration
}

func unionSSID(existing []string, ssid string) []string {
	if ssid == "" {
		return existing
	}
	for _, s := range existing {
		if s == ssid {
			return existing
		}
	}
	return append(existing, ssid)
}

func averageSignal(sightings []model.Sighting) float64 {
	if len(sightings) == 0 {
		return 0
	}
	total := 0
	for _, s := range sightings {
		total += s.RSSI
	}
	return float64(total) / float64(len(sightings))
}
