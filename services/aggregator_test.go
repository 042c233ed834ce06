package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"posturewatch/models"
	"posturewatch/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// steppingClock returns base, base+step, base+2*step, ...
func steppingClock(base time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts := next
		next = next.Add(step)
		return ts
	}
}

func TestRollingAggregator_EmptySnapshot(t *testing.T) {
	agg := services.NewRollingAggregator(20, zap.NewNop())

	var snap models.DashboardSnapshot
	agg.Fill(&snap)

	require.Equal(t, models.DailyStats{}, snap.DailyStats)
	require.Empty(t, snap.Timeline)
	require.Empty(t, snap.HeartRate)
	require.Nil(t, snap.HeartRateSummary)
	require.Nil(t, snap.Latest)
}

func TestRollingAggregator_SeriesLengthIsMinOfNAndCap(t *testing.T) {
	for _, n := range []int{0, 1, 19, 20, 21, 57} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			agg := services.NewRollingAggregator(20, zap.NewNop())
			for i := 0; i < n; i++ {
				agg.Record(&models.Reading{ActivityState: models.ActivityWalking, HeartRate: bpm(70 + i)}, models.RiskWarning)
			}

			expected := min(n, 20)
			require.Len(t, agg.Timeline(), expected)
			require.Len(t, agg.HeartRateHistory(), expected)
			require.Equal(t, n, agg.DailyStats().Total())
		})
	}
}

func TestRollingAggregator_EvictionIsFIFO(t *testing.T) {
	agg := services.NewRollingAggregator(20, zap.NewNop())
	for i := 1; i <= 45; i++ {
		agg.Record(&models.Reading{ActivityState: models.ActivityWalking, HeartRate: bpm(i)}, models.RiskWarning)
	}

	history := agg.HeartRateHistory()
	require.Len(t, history, 20)
	for i, point := range history {
		require.Equal(t, 26+i, point.BPM)
	}
}

func TestRollingAggregator_HeartRateOnlyWhenPresent(t *testing.T) {
	agg := services.NewRollingAggregator(20, zap.NewNop())

	agg.Record(&models.Reading{PosturePattern: models.PatternClass1, ReportedRisk: models.RiskSafe}, models.RiskSafe)
	agg.Record(&models.Reading{ActivityState: models.ActivityRunning, HeartRate: bpm(140)}, models.RiskDanger)
	agg.Record(&models.Reading{PosturePattern: models.PatternClass4, ReportedRisk: models.RiskWarning}, models.RiskWarning)

	require.Len(t, agg.Timeline(), 3)
	require.Len(t, agg.HeartRateHistory(), 1)
	require.Equal(t, models.DailyStats{Safe: 1, Warning: 1, Danger: 1}, agg.DailyStats())
}

func TestRollingAggregator_ScoresAndLabels(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 30, 15, 0, time.Local)
	agg := services.NewRollingAggregator(20, zap.NewNop()).WithClock(steppingClock(base, time.Minute))

	agg.Record(&models.Reading{}, models.RiskSafe)
	agg.Record(&models.Reading{}, models.RiskWarning)
	agg.Record(&models.Reading{HeartRate: bpm(101)}, models.RiskDanger)

	require.Equal(t, []models.TimelinePoint{
		{Label: "09:30", RiskScore: 30},
		{Label: "09:31", RiskScore: 60},
		{Label: "09:32", RiskScore: 90},
	}, agg.Timeline())
	require.Equal(t, []models.HeartRatePoint{{Label: "09:32:15", BPM: 101}}, agg.HeartRateHistory())
}

func TestRollingAggregator_WearableScenario(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	agg := services.NewRollingAggregator(20, zap.NewNop()).WithClock(steppingClock(base, time.Minute))
	classifier := services.NewActivityRiskClassifier(defaultThresholds())

	for i := 0; i < 25; i++ {
		activity := models.ActivityWalking
		if i >= 22 {
			activity = models.ActivityRunning
		}
		reading := &models.Reading{ActivityState: activity, HeartRate: bpm(60 + 5*i)}
		agg.Record(reading, classifier.Classify(reading))
	}

	stats := agg.DailyStats()
	require.Equal(t, 25, stats.Total())
	require.Equal(t, models.DailyStats{Safe: 0, Warning: 13, Danger: 12}, stats)

	timeline := agg.Timeline()
	require.Len(t, timeline, 20)
	// samples 6..25 are retained; sample 6 arrived at 10:05
	require.Equal(t, "10:05", timeline[0].Label)
	require.Equal(t, "10:24", timeline[19].Label)
	for i, point := range timeline {
		sample := i + 6
		if sample < 14 {
			require.Equal(t, 60, point.RiskScore, "sample %d", sample)
		} else {
			require.Equal(t, 90, point.RiskScore, "sample %d", sample)
		}
	}

	history := agg.HeartRateHistory()
	require.Len(t, history, 20)
	require.Equal(t, 85, history[0].BPM)
	require.Equal(t, 180, history[19].BPM)

	var snap models.DashboardSnapshot
	agg.Fill(&snap)
	require.NotNil(t, snap.HeartRateSummary)
	require.Equal(t, 180, snap.HeartRateSummary.Max)
	require.Equal(t, 85, snap.HeartRateSummary.Min)
	require.InDelta(t, 132.5, snap.HeartRateSummary.Average, 1e-9)
	require.Equal(t, models.HeartRateVeryHigh, snap.HeartRateSummary.Band)
	require.NotNil(t, snap.Latest)
	require.Equal(t, models.RiskDanger, snap.Latest.RiskLevel)
}

func TestRollingAggregator_LatestIsACopy(t *testing.T) {
	agg := services.NewRollingAggregator(20, zap.NewNop())
	hr := 90
	agg.Record(&models.Reading{ActivityState: models.ActivityWalking, HeartRate: &hr}, models.RiskWarning)

	hr = 200
	latest := agg.Latest()
	require.Equal(t, 90, *latest.Reading.HeartRate)

	*latest.Reading.HeartRate = 10
	require.Equal(t, 90, *agg.Latest().Reading.HeartRate)

	agg.ClearLatest()
	require.Nil(t, agg.Latest())
	require.Len(t, agg.HeartRateHistory(), 1)
}

func TestRollingAggregator_ConcurrentReadersSeeWholeUpdates(t *testing.T) {
	agg := services.NewRollingAggregator(20, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			agg.Record(&models.Reading{HeartRate: bpm(i % 200)}, models.RiskDanger)
		}
	}()

	for i := 0; i < 200; i++ {
		var snap models.DashboardSnapshot
		agg.Fill(&snap)
		require.Equal(t, min(snap.DailyStats.Total(), 20), len(snap.Timeline))
		require.Equal(t, len(snap.Timeline), len(snap.HeartRate))
	}
	wg.Wait()
}
