package services

import (
	"sync"
	"time"

	"posturewatch/models"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultSeriesCapacity caps both the timeline and heart-rate history.
	DefaultSeriesCapacity = 20

	timelineLabelLayout  = "15:04"
	heartRateLabelLayout = "15:04:05"
)

// RollingAggregator folds classified readings into bounded session views:
// per-level counters, a risk-score timeline and a heart-rate history.
type RollingAggregator struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	stats     models.DailyStats
	timeline  *boundedSeries[models.TimelinePoint]
	heartRate *boundedSeries[models.HeartRatePoint]
	latest    *models.ClassifiedReading
}

// NewRollingAggregator creates an empty aggregator whose series hold at most
// capacity entries each.
func NewRollingAggregator(capacity int, logger *zap.Logger) *RollingAggregator {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &RollingAggregator{
		logger:    logger,
		now:       time.Now,
		timeline:  newBoundedSeries[models.TimelinePoint](capacity),
		heartRate: newBoundedSeries[models.HeartRatePoint](capacity),
	}
}

// WithClock overrides the label clock, mainly for tests.
func (a *RollingAggregator) WithClock(now func() time.Time) *RollingAggregator {
	a.now = now
	return a
}

// Record folds one classified reading into every view under a single lock,
// so readers see either all of the update or none of it.
func (a *RollingAggregator) Record(reading *models.Reading, level models.RiskLevel) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Increment(level)
	a.timeline.Append(models.TimelinePoint{
		Label:     now.Format(timelineLabelLayout),
		RiskScore: level.Score(),
	})

	if reading.HasHeartRate() {
		a.heartRate.Append(models.HeartRatePoint{
			Label: now.Format(heartRateLabelLayout),
			BPM:   *reading.HeartRate,
		})
	}

	latest := models.ClassifiedReading{Reading: *reading, RiskLevel: level}
	if reading.HeartRate != nil {
		hr := *reading.HeartRate
		latest.Reading.HeartRate = &hr
	}
	a.latest = &latest

	a.logger.Debug("Recorded classified reading",
		zap.String("risk_level", string(level)),
		zap.Int("total", a.stats.Total()),
		zap.Int("timeline_len", a.timeline.Len()),
		zap.Int("heart_rate_len", a.heartRate.Len()),
	)
}

// ClearLatest forgets the most recent reading. Histories are kept.
func (a *RollingAggregator) ClearLatest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = nil
}

func (a *RollingAggregator) DailyStats() models.DailyStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

func (a *RollingAggregator) Timeline() []models.TimelinePoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.timeline.Items()
}

func (a *RollingAggregator) HeartRateHistory() []models.HeartRatePoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.heartRate.Items()
}

// Latest returns a copy of the most recent classified reading, or nil.
func (a *RollingAggregator) Latest() *models.ClassifiedReading {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestCopy()
}

// Fill copies every view into snap in one consistent read.
func (a *RollingAggregator) Fill(snap *models.DashboardSnapshot) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap.DailyStats = a.stats
	snap.TotalReadings = a.stats.Total()
	snap.Timeline = a.timeline.Items()
	snap.HeartRate = a.heartRate.Items()
	snap.HeartRateSummary = summarizeHeartRate(snap.HeartRate)
	snap.Latest = a.latestCopy()
}

func (a *RollingAggregator) latestCopy() *models.ClassifiedReading {
	if a.latest == nil {
		return nil
	}
	latest := *a.latest
	if a.latest.Reading.HeartRate != nil {
		hr := *a.latest.Reading.HeartRate
		latest.Reading.HeartRate = &hr
	}
	return &latest
}

// summarizeHeartRate returns nil for an empty history.
func summarizeHeartRate(points []models.HeartRatePoint) *models.HeartRateSummary {
	if len(points) == 0 {
		return nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = float64(p.BPM)
	}

	latest := points[len(points)-1].BPM
	return &models.HeartRateSummary{
		Average: stat.Mean(values, nil),
		Max:     int(floats.Max(values)),
		Min:     int(floats.Min(values)),
		Latest:  latest,
		Band:    models.BandForBPM(latest),
	}
}
