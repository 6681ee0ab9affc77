package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fittrail/pkg/model"
)

var testStart = time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// rawAt builds a timestamped sample n seconds after testStart.
func rawAt(n float64, mutate func(*model.RawSample)) model.RawSample {
	s := model.RawSample{Timestamp: testStart.Add(time.Duration(n * float64(time.Second)))}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

// TestNormalizeDerivesSpeedAndPace checks the distance/elapsed fallback for
// average speed and the seconds-per-kilometre pace derived from it.
func TestNormalizeDerivesSpeedAndPace(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:       model.FormatGPX,
		StartTime:    testStart,
		ElapsedTimeS: fptr(300),
		DistanceM:    fptr(1000),
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)

	require.NotNil(t, res.Activity.AvgSpeedMps)
	assert.InDelta(t, 1000.0/300.0, *res.Activity.AvgSpeedMps, 1e-9)
	require.NotNil(t, res.Activity.AvgPaceSPerKm)
	assert.InDelta(t, 300.0, *res.Activity.AvgPaceSPerKm, 1e-9)
}

// TestNormalizePaceNeverInfinite pins the zero-speed edge: no pace rather
// than a division by zero.
func TestNormalizePaceNeverInfinite(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:       model.FormatGPX,
		StartTime:    testStart,
		ElapsedTimeS: fptr(300),
		AvgSpeedMps:  fptr(0),
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, res.Activity.AvgPaceSPerKm)
}

// TestNormalizeMovingTime sums only the deltas at or above the configured
// speed threshold.
func TestNormalizeMovingTime(t *testing.T) {
	speeds := []float64{2.0, 2.0, 0.2, 0.3, 2.0, 2.0}
	parsed := &model.ParsedActivity{Format: model.FormatFIT, StartTime: testStart}
	for i, v := range speeds {
		speed := v
		parsed.Samples = append(parsed.Samples, rawAt(float64(i*10), func(s *model.RawSample) {
			s.SpeedMps = &speed
		}))
	}

	res, err := Normalize(parsed, Config{MovingSpeedThreshold: 1.0})
	require.NoError(t, err)

	// Five 10 s deltas; the two ending on slow samples are stopped time.
	require.NotNil(t, res.Activity.MovingTimeS)
	assert.InDelta(t, 30.0, *res.Activity.MovingTimeS, 1e-9)
	assert.Equal(t, 50.0, res.Activity.ElapsedTimeS)
}

// TestNormalizeMovingTimeCappedAtElapsed keeps the derived moving time from
// exceeding a shorter summary elapsed time.
func TestNormalizeMovingTimeCappedAtElapsed(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:       model.FormatFIT,
		StartTime:    testStart,
		ElapsedTimeS: fptr(15),
	}
	for i := 0; i < 4; i++ {
		parsed.Samples = append(parsed.Samples, rawAt(float64(i*10), func(s *model.RawSample) {
			s.SpeedMps = fptr(3.0)
		}))
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, res.Activity.MovingTimeS)
	assert.Equal(t, 15.0, *res.Activity.MovingTimeS)
}

// TestNormalizeElevationSmoothing verifies a clean climb survives smoothing
// and that noise contributes less gain than its raw deltas would.
func TestNormalizeElevationSmoothing(t *testing.T) {
	climb := &model.ParsedActivity{Format: model.FormatGPX, StartTime: testStart}
	for i := 0; i < 11; i++ {
		alt := float64(i * 5)
		climb.Samples = append(climb.Samples, rawAt(float64(i), func(s *model.RawSample) {
			s.AltitudeM = &alt
		}))
	}
	res, err := Normalize(climb, Config{ElevationSmoothingWindow: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Activity.ElevationGainM)
	assert.InDelta(t, 50.0, *res.Activity.ElevationGainM, 1e-9)
	require.NotNil(t, res.Activity.ElevationLossM)
	assert.InDelta(t, 0.0, *res.Activity.ElevationLossM, 1e-9)

	// One metre of oscillation per sample is GPS noise, not 20 m of climbing.
	noisy := &model.ParsedActivity{Format: model.FormatGPX, StartTime: testStart}
	for i := 0; i < 40; i++ {
		alt := float64(i % 2)
		noisy.Samples = append(noisy.Samples, rawAt(float64(i), func(s *model.RawSample) {
			s.AltitudeM = &alt
		}))
	}
	res, err = Normalize(noisy, Config{ElevationSmoothingWindow: 9})
	require.NoError(t, err)
	require.NotNil(t, res.Activity.ElevationGainM)
	assert.Less(t, *res.Activity.ElevationGainM, 5.0)
}

// TestNormalizeValidityFilter drops out-of-range coordinates and negative
// elapsed offsets while keeping the rest of the activity intact.
func TestNormalizeValidityFilter(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:    model.FormatGPX,
		StartTime: testStart,
		Samples: []model.RawSample{
			rawAt(0, func(s *model.RawSample) {
				s.Latitude, s.Longitude = fptr(59.33), fptr(18.06)
			}),
			// Latitude beyond the pole: rejected.
			rawAt(1, func(s *model.RawSample) {
				s.Latitude, s.Longitude = fptr(95.0), fptr(18.06)
			}),
			// Before the activity start: rejected.
			rawAt(-5, func(s *model.RawSample) {
				s.Latitude, s.Longitude = fptr(59.33), fptr(18.06)
			}),
			// One-sided coordinate: kept, position dropped.
			rawAt(2, func(s *model.RawSample) {
				s.Latitude = fptr(59.33)
				s.HeartRate = iptr(140)
			}),
			rawAt(3, func(s *model.RawSample) {
				s.Latitude, s.Longitude = fptr(59.34), fptr(18.07)
			}),
		},
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, res.RejectedSamples)
	require.Len(t, res.Samples, 3)
	assert.False(t, res.Samples[1].HasPosition())
	require.NotNil(t, res.Samples[1].HeartRate)
	assert.Equal(t, 140, *res.Samples[1].HeartRate)

	// Route points come only from positioned samples, sequence dense.
	require.Len(t, res.RoutePoints, 2)
	assert.Equal(t, 0, res.RoutePoints[0].Sequence)
	assert.Equal(t, 1, res.RoutePoints[1].Sequence)
}

// TestNormalizeHeartRateDerivation computes rounded average and max from
// samples when the summary omitted them.
func TestNormalizeHeartRateDerivation(t *testing.T) {
	parsed := &model.ParsedActivity{Format: model.FormatTCX, StartTime: testStart}
	for i, hr := range []int{120, 131, 140} {
		rate := hr
		parsed.Samples = append(parsed.Samples, rawAt(float64(i*10), func(s *model.RawSample) {
			s.HeartRate = &rate
		}))
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, res.Activity.AvgHeartRate)
	assert.Equal(t, 130, *res.Activity.AvgHeartRate)
	require.NotNil(t, res.Activity.MaxHeartRate)
	assert.Equal(t, 140, *res.Activity.MaxHeartRate)
}

// TestNormalizeSummaryWins keeps source-provided summary values over
// derived ones.
func TestNormalizeSummaryWins(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:       model.FormatFIT,
		StartTime:    testStart,
		AvgHeartRate: iptr(150),
		MaxHeartRate: iptr(180),
	}
	for i, hr := range []int{120, 130, 140} {
		rate := hr
		parsed.Samples = append(parsed.Samples, rawAt(float64(i*10), func(s *model.RawSample) {
			s.HeartRate = &rate
		}))
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 150, *res.Activity.AvgHeartRate)
	assert.Equal(t, 180, *res.Activity.MaxHeartRate)
}

// TestNormalizeTimezone keeps stated offsets and leaves unknown zones empty
// instead of guessing.
func TestNormalizeTimezone(t *testing.T) {
	offset := 2 * 3600
	parsed := &model.ParsedActivity{
		Format:           model.FormatTCX,
		StartTime:        testStart,
		UTCOffsetSeconds: &offset,
		ElapsedTimeS:     fptr(60),
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "UTC+02:00", res.Activity.LocalTimezone)

	negative := -(5*3600 + 30*60)
	parsed.UTCOffsetSeconds = &negative
	res, err = Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "UTC-05:30", res.Activity.LocalTimezone)

	parsed.UTCOffsetSeconds = nil
	res, err = Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Activity.LocalTimezone)
}

// TestNormalizeStartTimeFallback anchors the activity at the first sample
// timestamp when the source has no summary start.
func TestNormalizeStartTimeFallback(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format: model.FormatGPX,
		Samples: []model.RawSample{
			rawAt(0, nil),
			rawAt(10, nil),
		},
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, testStart, res.Activity.StartTime)
	assert.Equal(t, 10.0, res.Activity.ElapsedTimeS)
}

// TestNormalizeLaps preserves lap summaries as pass-through data with a
// dense index.
func TestNormalizeLaps(t *testing.T) {
	parsed := &model.ParsedActivity{
		Format:       model.FormatTCX,
		StartTime:    testStart,
		ElapsedTimeS: fptr(1200),
		Laps: []model.RawLap{
			{StartTime: testStart, ElapsedTimeS: 600, DistanceM: fptr(1500)},
			{StartTime: testStart.Add(10 * time.Minute), ElapsedTimeS: 600, DistanceM: fptr(1480)},
		},
	}
	res, err := Normalize(parsed, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Laps, 2)
	assert.Equal(t, 0, res.Laps[0].LapIndex)
	assert.Equal(t, 1, res.Laps[1].LapIndex)
	assert.Equal(t, 600.0, res.Laps[1].ElapsedTimeS)
	require.NotNil(t, res.Laps[1].DistanceM)
	assert.Equal(t, 1480.0, *res.Laps[1].DistanceM)
}
