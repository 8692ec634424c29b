// Package suspicion scores how likely a device is to be following the user.
//
// A score is the sum of three factors, each capped:
//
//	duration  0-30  total exposure and longest continuous streak
//	location  0-50  distinct places the device was seen at
//	pattern   0-20  reacquisition after gaps and in-order route visits
//
// scaled by multiplicative modifiers for signal stability, movement
// correlation, time decay, device density and static placement, then
// rounded and clamped to 0-100.
package suspicion

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/micro-ha/follower-watch/internal/geo"
	"github.com/micro-ha/follower-watch/internal/model"
)

const (
	maxDurationPoints = 30.0
	maxExposurePoints = 15.0
	maxStreakPoints   = 15.0
	exposureFullScale = 60.0 // minutes
	streakFullScale   = 30.0 // minutes

	pointsPerLocation = 10.0
	maxLocationPoints = 50.0

	pointsPerReacquisition = 5.0
	maxReacquisitionPoints = 10.0
	maxRoutePoints         = 10.0
	maxPatternPoints       = 20.0

	rssiMinSightings   = 4
	rssiMinPathMeters  = 100.0
	rssiStableStdDev   = 5.0
	rssiSteadyStdDev   = 8.0
	rssiStableModifier = 1.15
	rssiSteadyModifier = 1.08

	maxCorrelationBonus = 0.3
	decayHorizonHours   = 24.0

	densityFloorDevices = 5
	minDensityModifier  = 0.5

	staticDisplacementMeters = 200.0
	staticPenalty            = 0.3
)

// Environment carries the inputs to a score that come from outside the
// device history.
type Environment struct {
	Now            time.Time
	AmbientDevices int
}

// Result is a score with its factor and modifier breakdown.
type Result struct {
	Score                int               `json:"score"`
	Level                model.ThreatLevel `json:"level"`
	DurationFactor       float64           `json:"duration_factor"`
	LocationFactor       float64           `json:"location_factor"`
	PatternFactor        float64           `json:"pattern_factor"`
	RSSIModifier         float64           `json:"rssi_modifier"`
	CorrelationModifier  float64           `json:"correlation_modifier"`
	DecayModifier        float64           `json:"decay_modifier"`
	DensityModifier      float64           `json:"density_modifier"`
	StaticModifier       float64           `json:"static_modifier"`
	DistinctLocations    int               `json:"distinct_locations"`
	ExposureMinutes      float64           `json:"exposure_minutes"`
	LongestStreakMinutes float64           `json:"longest_streak_minutes"`
	KnownTracker         bool              `json:"known_tracker"`
}

// Empty is the result for devices that cannot be scored.
func Empty() Result {
	return Result{
		Level:               model.ThreatLevelLow,
		RSSIModifier:        1,
		CorrelationModifier: 1,
		DecayModifier:       1,
		DensityModifier:     1,
		StaticModifier:      1,
	}
}

// Calculator scores device histories against one settings snapshot.
// Score is a pure function of its arguments.
type Calculator struct {
	settings model.Settings
}

func New(settings model.Settings) Calculator {
	return Calculator{settings: settings.Normalize()}
}

// Level maps a score onto the configured thresholds.
func (c Calculator) Level(score int) model.ThreatLevel {
	switch {
	case score >= c.settings.HighThreshold:
		return model.ThreatLevelHigh
	case score > c.settings.LowThreshold:
		return model.ThreatLevelMedium
	default:
		return model.ThreatLevelLow
	}
}

func (c Calculator) Score(device model.Device, sightings []model.Sighting, env Environment) Result {
	if device.Whitelisted || len(sightings) < 2 {
		return Empty()
	}

	sorted := make([]model.Sighting, len(sightings))
	copy(sorted, sightings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	clusters, assignment := clusterSightings(sorted, c.settings.LocationClusterMeters)

	duration, exposure, streak := c.durationFactor(sorted)
	location := math.Min(math.Max(float64(len(clusters)-1)*pointsPerLocation, 0), maxLocationPoints)
	pattern := c.patternFactor(sorted, clusters, assignment)
	raw := clamp(duration+location+pattern, 0, 100)

	res := Result{
		DurationFactor:       duration,
		LocationFactor:       location,
		PatternFactor:        pattern,
		RSSIModifier:         rssiModifier(sorted),
		CorrelationModifier:  c.correlationModifier(clusters),
		DecayModifier:        decayModifier(device, env.Now),
		DensityModifier:      densityModifier(env.AmbientDevices),
		StaticModifier:       staticModifier(len(clusters), sorted),
		DistinctLocations:    len(clusters),
		ExposureMinutes:      exposure,
		LongestStreakMinutes: streak,
	}
	final := raw * res.RSSIModifier * res.CorrelationModifier * res.DecayModifier * res.DensityModifier * res.StaticModifier
	res.Score = int(clamp(math.Round(final), 0, 100))
	res.Level = c.Level(res.Score)
	return res
}

// durationFactor accumulates gaps no longer than the streak gap into total
// exposure and the current streak; a longer gap closes the streak.
func (c Calculator) durationFactor(sorted []model.Sighting) (score, exposureMin, streakMin float64) {
	maxGap := c.settings.StreakGap()
	var exposure, current, longest time.Duration
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		if gap >= 0 && gap <= maxGap {
			exposure += gap
			current += gap
			continue
		}
		longest = max(longest, current)
		current = 0
	}
	longest = max(longest, current)

	exposureMin = exposure.Minutes()
	streakMin = longest.Minutes()
	base := math.Min(exposureMin/exposureFullScale*maxExposurePoints, maxExposurePoints)
	bonus := math.Min(streakMin/streakFullScale*maxStreakPoints, maxStreakPoints)
	return math.Min(base+bonus, maxDurationPoints), exposureMin, streakMin
}

func (c Calculator) patternFactor(sorted []model.Sighting, clusters []*cluster, assignment []int) float64 {
	if len(clusters) < 2 || len(sorted) < 3 {
		return 0
	}

	maxGap := c.settings.StreakGap()
	reacquisitions := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Timestamp.Sub(sorted[i-1].Timestamp) > maxGap && assignment[i] != assignment[i-1] {
			reacquisitions++
		}
	}
	reacquisitionScore := math.Min(float64(reacquisitions)*pointsPerReacquisition, maxReacquisitionPoints)

	sequence := make([]int, 0, len(assignment))
	for _, idx := range assignment {
		if len(sequence) == 0 || sequence[len(sequence)-1] != idx {
			sequence = append(sequence, idx)
		}
	}
	inOrder := 0
	for i := 1; i < len(sequence); i++ {
		if sequence[i] > sequence[i-1] {
			inOrder++
		}
	}
	transitions := max(len(sequence)-1, 1)
	routeScore := math.Min(float64(inOrder)/float64(transitions)*maxRoutePoints, maxRoutePoints)

	return math.Min(reacquisitionScore+routeScore, maxPatternPoints)
}

// rssiModifier rewards a steady signal while the user covers real distance.
func rssiModifier(sorted []model.Sighting) float64 {
	if len(sorted) < rssiMinSightings {
		return 1
	}
	path := make([]model.Position, len(sorted))
	values := make([]float64, len(sorted))
	for i, s := range sorted {
		path[i] = s.Position
		values[i] = float64(s.RSSI)
	}
	if geo.PathLength(path) <= rssiMinPathMeters {
		return 1
	}

	_, variance := stat.PopMeanVariance(values, nil)
	switch stdDev := math.Sqrt(variance); {
	case stdDev < rssiStableStdDev:
		return rssiStableModifier
	case stdDev < rssiSteadyStdDev:
		return rssiSteadyModifier
	default:
		return 1
	}
}

// correlationModifier scales with the share of cluster-to-cluster transitions
// where the device shows up at the next place within the correlation window.
func (c Calculator) correlationModifier(clusters []*cluster) float64 {
	if len(clusters) < 2 {
		return 1
	}
	ordered := make([]*cluster, len(clusters))
	copy(ordered, clusters)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].first.Before(ordered[j].first) })

	window := c.settings.CorrelationWindow()
	correlated := 0
	for i := 1; i < len(ordered); i++ {
		gap := ordered[i].first.Sub(ordered[i-1].last)
		if gap >= 0 && gap <= window {
			correlated++
		}
	}
	return 1 + float64(correlated)/float64(len(ordered)-1)*maxCorrelationBonus
}

func decayModifier(device model.Device, now time.Time) float64 {
	hours := now.Sub(device.LastSeen).Hours()
	return clamp(1-hours/decayHorizonHours, 0, 1)
}

func densityModifier(ambient int) float64 {
	if ambient <= densityFloorDevices {
		return 1
	}
	return clamp(1/math.Log2(float64(ambient+1)), minDensityModifier, 1)
}

// staticModifier penalizes a device that stays in one cluster while the user
// moves away from the first sighting by more than the displacement limit.
func staticModifier(clusterCount int, sorted []model.Sighting) float64 {
	if clusterCount > 1 || len(sorted) < 2 {
		return 1
	}
	first := sorted[0].Position
	for _, s := range sorted[1:] {
		if geo.Distance(first, s.Position) > staticDisplacementMeters {
			return staticPenalty
		}
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
