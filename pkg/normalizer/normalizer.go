// Package normalizer converts a format parser's ParsedActivity into the
// canonical Activity/Sample/RoutePoint rows, deriving whatever summary
// metrics the source format left out. Derived fields stay nil rather than
// zero or infinite when the inputs cannot support them.
package normalizer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fittrail/pkg/model"
)

// Config carries the tunables the source material left ambiguous between
// hardcoded and configurable. Both are configuration here.
type Config struct {
	// MovingSpeedThreshold is the instantaneous speed, in m/s, below
	// which a sample counts as stopped for moving-time purposes.
	MovingSpeedThreshold float64
	// ElevationSmoothingWindow is the moving-average window, in samples,
	// applied to the altitude series before summing gain and loss.
	ElevationSmoothingWindow int
}

// DefaultConfig matches the defaults the original system intended.
func DefaultConfig() Config {
	return Config{MovingSpeedThreshold: 1.0, ElevationSmoothingWindow: 9}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MovingSpeedThreshold <= 0 {
		c.MovingSpeedThreshold = d.MovingSpeedThreshold
	}
	if c.ElevationSmoothingWindow <= 0 {
		c.ElevationSmoothingWindow = d.ElevationSmoothingWindow
	}
	return c
}

// Result is a fully normalized activity ready for a single persistence
// transaction. RejectedSamples counts readings dropped by the validity
// filter; dropping a sample never fails the whole import.
type Result struct {
	Activity        model.Activity
	Samples         []model.Sample
	RoutePoints     []model.RoutePoint
	Laps            []model.Lap
	RejectedSamples int
}

// Normalize maps parsed data onto the canonical model. Failures here are
// per-activity: a batch driver records them and moves on.
func Normalize(parsed *model.ParsedActivity, cfg Config) (*Result, error) {
	if parsed == nil {
		return nil, fmt.Errorf("nil parsed activity")
	}
	cfg = cfg.withDefaults()

	start := parsed.StartTime
	tzKnown := parsed.UTCOffsetSeconds != nil
	if start.IsZero() {
		start = firstSampleTime(parsed.Samples)
	}
	if start.IsZero() {
		// No timestamps anywhere. Anchor at ingestion time with the
		// zone flagged unknown, mirroring how the source behaved.
		start = time.Now().UTC()
		tzKnown = false
	}
	start = start.UTC()

	res := &Result{}
	res.Samples, res.RejectedSamples = buildSamples(parsed.Samples, start)
	sort.SliceStable(res.Samples, func(i, j int) bool {
		return res.Samples[i].ElapsedTimeS < res.Samples[j].ElapsedTimeS
	})

	act := model.Activity{
		ExternalID:     parsed.ExternalID,
		SourceFormat:   parsed.Format,
		Sport:          parsed.Sport,
		SubSport:       parsed.SubSport,
		StartTime:      start,
		DistanceM:      parsed.DistanceM,
		AvgSpeedMps:    parsed.AvgSpeedMps,
		AvgHeartRate:   parsed.AvgHeartRate,
		MaxHeartRate:   parsed.MaxHeartRate,
		AvgPowerW:      parsed.AvgPowerW,
		MaxPowerW:      parsed.MaxPowerW,
		ElevationGainM: parsed.ElevationGainM,
		ElevationLossM: parsed.ElevationLossM,
		Calories:       parsed.Calories,
		MovingTimeS:    parsed.MovingTimeS,
		ElapsedTimeS:   elapsedTotal(parsed, res.Samples),
		IngestedAt:     time.Now().UTC(),
	}
	if tzKnown {
		act.LocalTimezone = formatUTCOffset(*parsed.UTCOffsetSeconds)
	}

	deriveSpeedAndPace(&act, cfg, res.Samples)
	deriveHeartRate(&act, res.Samples)
	derivePower(&act, res.Samples)
	deriveElevation(&act, cfg, res.Samples)
	if act.MovingTimeS != nil && *act.MovingTimeS > act.ElapsedTimeS {
		act.MovingTimeS = floatPtr(act.ElapsedTimeS)
	}

	res.Activity = act
	res.RoutePoints = extractRoute(res.Samples)
	res.Laps = normalizeLaps(parsed.Laps)
	return res, nil
}

// buildSamples converts raw readings to canonical samples, applying the
// validity filter: out-of-range coordinates or a negative elapsed offset
// drop the sample and bump the rejected tally. A lone latitude without a
// longitude (or vice versa) is tolerated by discarding the pair, not the
// sample.
func buildSamples(raw []model.RawSample, start time.Time) ([]model.Sample, int) {
	samples := make([]model.Sample, 0, len(raw))
	rejected := 0
	for i, r := range raw {
		elapsed := float64(i)
		if !r.Timestamp.IsZero() {
			elapsed = r.Timestamp.Sub(start).Seconds()
		}
		if elapsed < 0 {
			rejected++
			continue
		}

		s := model.Sample{
			ElapsedTimeS: elapsed,
			AltitudeM:    r.AltitudeM,
			HeartRate:    r.HeartRate,
			PowerW:       r.PowerW,
			Cadence:      r.Cadence,
			SpeedMps:     r.SpeedMps,
			TemperatureC: r.TemperatureC,
		}
		switch {
		case r.Latitude != nil && r.Longitude != nil:
			if *r.Latitude < -90 || *r.Latitude > 90 || *r.Longitude < -180 || *r.Longitude > 180 {
				rejected++
				continue
			}
			s.Latitude, s.Longitude = r.Latitude, r.Longitude
		default:
			// One-sided coordinates are useless for mapping; keep the
			// sensor data and treat the pair as absent.
		}
		samples = append(samples, s)
	}
	return samples, rejected
}

func firstSampleTime(raw []model.RawSample) time.Time {
	for _, r := range raw {
		if !r.Timestamp.IsZero() {
			return r.Timestamp
		}
	}
	return time.Time{}
}

func elapsedTotal(parsed *model.ParsedActivity, samples []model.Sample) float64 {
	if parsed.ElapsedTimeS != nil && *parsed.ElapsedTimeS >= 0 {
		return *parsed.ElapsedTimeS
	}
	if len(samples) > 0 {
		return samples[len(samples)-1].ElapsedTimeS
	}
	return 0
}

// deriveSpeedAndPace fills average speed from distance/elapsed when absent,
// moving time from the speed threshold, and pace in seconds per km. Pace is
// nil, never infinite, when average speed is zero or unknown.
func deriveSpeedAndPace(act *model.Activity, cfg Config, samples []model.Sample) {
	if act.AvgSpeedMps == nil && act.DistanceM != nil && act.ElapsedTimeS > 0 {
		act.AvgSpeedMps = floatPtr(*act.DistanceM / act.ElapsedTimeS)
	}
	if act.MovingTimeS == nil {
		if moving, ok := movingTime(samples, cfg.MovingSpeedThreshold); ok {
			act.MovingTimeS = floatPtr(moving)
		}
	}
	if act.AvgSpeedMps != nil && *act.AvgSpeedMps > 0 {
		act.AvgPaceSPerKm = floatPtr(1000.0 / *act.AvgSpeedMps)
	}
}

// movingTime sums inter-sample deltas whose instantaneous speed clears the
// threshold. Stopped samples are excluded from the total but stay in the
// sample set. Speed falls back to coordinate deltas when no sensor speed
// was recorded.
func movingTime(samples []model.Sample, threshold float64) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	var total float64
	sawSpeed := false
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := cur.ElapsedTimeS - prev.ElapsedTimeS
		if dt <= 0 {
			continue
		}
		speed, ok := instantSpeed(prev, cur, dt)
		if !ok {
			continue
		}
		sawSpeed = true
		if speed >= threshold {
			total += dt
		}
	}
	return total, sawSpeed
}

func instantSpeed(prev, cur model.Sample, dt float64) (float64, bool) {
	if cur.SpeedMps != nil {
		return *cur.SpeedMps, true
	}
	if prev.HasPosition() && cur.HasPosition() {
		d := haversineMeters(*prev.Latitude, *prev.Longitude, *cur.Latitude, *cur.Longitude)
		return d / dt, true
	}
	return 0, false
}

func deriveHeartRate(act *model.Activity, samples []model.Sample) {
	if act.AvgHeartRate != nil && act.MaxHeartRate != nil {
		return
	}
	var sum, count, max int
	for _, s := range samples {
		if s.HeartRate == nil {
			continue
		}
		sum += *s.HeartRate
		count++
		if *s.HeartRate > max {
			max = *s.HeartRate
		}
	}
	if count == 0 {
		return
	}
	if act.AvgHeartRate == nil {
		act.AvgHeartRate = intPtr(int(math.Round(float64(sum) / float64(count))))
	}
	if act.MaxHeartRate == nil {
		act.MaxHeartRate = intPtr(max)
	}
}

func derivePower(act *model.Activity, samples []model.Sample) {
	if act.AvgPowerW != nil && act.MaxPowerW != nil {
		return
	}
	var sum, max float64
	count := 0
	for _, s := range samples {
		if s.PowerW == nil {
			continue
		}
		sum += *s.PowerW
		count++
		if *s.PowerW > max {
			max = *s.PowerW
		}
	}
	if count == 0 {
		return
	}
	if act.AvgPowerW == nil {
		act.AvgPowerW = floatPtr(sum / float64(count))
	}
	if act.MaxPowerW == nil {
		act.MaxPowerW = floatPtr(max)
	}
}

// deriveElevation smooths the altitude series with a centered moving
// average to suppress GPS and barometric noise, then sums positive deltas
// as gain and absolute negative deltas as loss.
func deriveElevation(act *model.Activity, cfg Config, samples []model.Sample) {
	if act.ElevationGainM != nil && act.ElevationLossM != nil {
		return
	}
	altitudes := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.AltitudeM != nil {
			altitudes = append(altitudes, *s.AltitudeM)
		}
	}
	if len(altitudes) < 2 {
		return
	}
	smoothed := movingAverage(altitudes, cfg.ElevationSmoothingWindow)
	var gain, loss float64
	for i := 1; i < len(smoothed); i++ {
		delta := smoothed[i] - smoothed[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if act.ElevationGainM == nil {
		act.ElevationGainM = floatPtr(gain)
	}
	if act.ElevationLossM == nil {
		act.ElevationLossM = floatPtr(loss)
	}
}

// movingAverage applies a centered window, shrinking it at the edges so the
// output length always matches the input.
func movingAverage(values []float64, window int) []float64 {
	if window <= 1 || len(values) < 3 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	half := window / 2
	out := make([]float64, len(values))
	for i := range values {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(values)-1 {
			hi = len(values) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// extractRoute emits one RoutePoint per coordinate-bearing sample, in
// elapsed order, with a strictly increasing sequence.
func extractRoute(samples []model.Sample) []model.RoutePoint {
	route := make([]model.RoutePoint, 0)
	for _, s := range samples {
		if !s.HasPosition() {
			continue
		}
		route = append(route, model.RoutePoint{
			Sequence:  len(route),
			Latitude:  *s.Latitude,
			Longitude: *s.Longitude,
			AltitudeM: s.AltitudeM,
		})
	}
	return route
}

func normalizeLaps(raw []model.RawLap) []model.Lap {
	laps := make([]model.Lap, 0, len(raw))
	for i, r := range raw {
		laps = append(laps, model.Lap{
			LapIndex:     i,
			StartTime:    r.StartTime.UTC(),
			ElapsedTimeS: r.ElapsedTimeS,
			DistanceM:    r.DistanceM,
			AvgSpeedMps:  r.AvgSpeedMps,
			AvgHeartRate: r.AvgHeartRate,
			MaxHeartRate: r.MaxHeartRate,
			AvgPowerW:    r.AvgPowerW,
		})
	}
	return laps
}

// formatUTCOffset renders a stored offset as "UTC+02:00" style text.
func formatUTCOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}

const earthRadiusM = 6371000.0

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180.0
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
