// Package calibration learns score thresholds from encounters the user
// marks as benign by enabling calibration mode.
package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/micro-ha/follower-watch/internal/model"
	"github.com/micro-ha/follower-watch/internal/suspicion"
	"github.com/micro-ha/follower-watch/internal/timeutil"
)

const (
	minLowThreshold    = 15
	maxLowThreshold    = 50
	maxHighThreshold   = 90
	minThresholdSpread = 10
)

// SampleStore persists the calibration sample set.
type SampleStore interface {
	LoadCalibrationSamples(ctx context.Context) ([]model.CalibrationSample, error)
	SaveCalibrationSamples(ctx context.Context, samples []model.CalibrationSample) error
}

// SettingsStore exposes the calibration flag and accepts tuned thresholds.
type SettingsStore interface {
	Get() model.Settings
	UpdateThresholds(ctx context.Context, low, high int) (model.Settings, error)
}

type Options struct {
	MinSamples int
	MaxSamples int
	FlushEvery int
}

func DefaultOptions() Options {
	return Options{MinSamples: 50, MaxSamples: 500, FlushEvery: 10}
}

// FlushResult reports the outcome of one flush.
type FlushResult struct {
	Stored int  `json:"stored"`
	Tuned  bool `json:"tuned"`
	Low    int  `json:"low,omitempty"`
	High   int  `json:"high,omitempty"`
}

type Manager struct {
	store    SampleStore
	settings SettingsStore
	clock    timeutil.Clock
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	pending  []model.CalibrationSample
	flushDue chan struct{}

	flushMu sync.Mutex
}

func New(store SampleStore, settings SettingsStore, clock timeutil.Clock, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		settings: settings,
		clock:    clock,
		opts:     opts,
		logger:   logger,
		flushDue: make(chan struct{}, 1),
	}
}

// RecordSample buffers a scoring outcome as a benign sample when calibration
// mode is on. Once FlushEvery samples are pending it signals FlushDue and
// returns true; the flush itself runs off the ingestion path.
func (m *Manager) RecordSample(result suspicion.Result, avgSignal float64) bool {
	if !m.settings.Get().CalibrationMode {
		return false
	}

	m.mu.Lock()
	m.pending = append(m.pending, model.CalibrationSample{
		ExposureMinutes:      result.ExposureMinutes,
		LongestStreakMinutes: result.LongestStreakMinutes,
		DistinctLocations:    result.DistinctLocations,
		AvgSignal:            avgSignal,
		Score:                result.Score,
		RecordedAt:           m.clock.Now(),
	})
	due := len(m.pending) >= m.opts.FlushEvery
	m.mu.Unlock()

	if due {
		select {
		case m.flushDue <- struct{}{}:
		default:
		}
	}
	return due
}

// FlushDue fires when enough samples are buffered to warrant a flush.
func (m *Manager) FlushDue() <-chan struct{} {
	return m.flushDue
}

// FlushPendingSamples merges buffered samples into the stored set, keeps the
// newest MaxSamples and retunes thresholds once MinSamples are available.
func (m *Manager) FlushPendingSamples(ctx context.Context) (FlushResult, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(batch) == 0 {
		return FlushResult{}, nil
	}

	samples := append(m.load(ctx), batch...)
	if len(samples) > m.opts.MaxSamples {
		samples = samples[len(samples)-m.opts.MaxSamples:]
	}
	if err := m.store.SaveCalibrationSamples(ctx, samples); err != nil {
		m.mu.Lock()
		m.pending = append(batch, m.pending...)
		m.mu.Unlock()
		return FlushResult{}, fmt.Errorf("save calibration samples: %w", err)
	}

	res := FlushResult{Stored: len(samples)}
	m.logger.Debug("calibration samples flushed", "stored", len(samples))
	if len(samples) < m.opts.MinSamples {
		return res, nil
	}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = float64(s.Score)
	}
	low, high := Thresholds(scores)
	if _, err := m.settings.UpdateThresholds(ctx, low, high); err != nil {
		return res, fmt.Errorf("apply tuned thresholds: %w", err)
	}
	res.Tuned, res.Low, res.High = true, low, high
	m.logger.Info("thresholds auto-tuned", "low", low, "high", high, "samples", len(samples))
	return res, nil
}

// SampleCount returns stored plus buffered samples.
func (m *Manager) SampleCount(ctx context.Context) int {
	stored := len(m.load(ctx))
	m.mu.Lock()
	defer m.mu.Unlock()
	return stored + len(m.pending)
}

// ClearSamples drops buffered and stored samples.
func (m *Manager) ClearSamples(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	if err := m.store.SaveCalibrationSamples(ctx, nil); err != nil {
		return fmt.Errorf("clear calibration samples: %w", err)
	}
	m.logger.Info("calibration samples cleared")
	return nil
}

// load treats unreadable samples as an empty set.
func (m *Manager) load(ctx context.Context) []model.CalibrationSample {
	samples, err := m.store.LoadCalibrationSamples(ctx)
	if err != nil {
		m.logger.Warn("calibration samples unreadable; starting empty", "err", err)
		return nil
	}
	return samples
}

// Thresholds derives low and high score thresholds from benign scores:
// low = mean+1.5σ within [15,50], high = mean+2.5σ within [low+10,90].
func Thresholds(scores []float64) (low, high int) {
	mean, variance := stat.PopMeanVariance(scores, nil)
	sigma := math.Sqrt(variance)
	if len(scores) < 2 {
		sigma = 0
	}

	low = clamp(int(mean+1.5*sigma), minLowThreshold, maxLowThreshold)
	high = clamp(int(mean+2.5*sigma), low+minThresholdSpread, maxHighThreshold)
	return low, high
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
