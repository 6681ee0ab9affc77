package parser

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/tormoder/fit"

	"fittrail/pkg/model"
)

// ParseFIT decodes a binary FIT file. Session messages supply the summary,
// file_id supplies the external identity, record messages become samples.
// Unknown or vendor developer fields are ignored, not errors.
func ParseFIT(path string, data []byte) (*model.ParsedActivity, error) {
	decoded, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	parsed := &model.ParsedActivity{
		Format:     model.FormatFIT,
		ExternalID: externalIDFromPath(path),
		Sport:      "unknown",
	}
	if serial := uint32(decoded.FileId.SerialNumber); serial != 0 && serial != math.MaxUint32 {
		parsed.ExternalID = strconv.FormatUint(uint64(serial), 10)
	}

	if len(activity.Sessions) > 0 {
		applyFITSession(parsed, activity.Sessions[0])
	}
	if activity.Activity != nil {
		if offset, ok := fitLocalOffset(activity.Activity.Timestamp, activity.Activity.LocalTimestamp); ok {
			parsed.UTCOffsetSeconds = &offset
		}
	}

	parsed.Samples = fitRecordSamples(activity.Records)
	parsed.Laps = fitLaps(activity.Laps)

	if parsed.StartTime.IsZero() && len(parsed.Samples) > 0 {
		parsed.StartTime = parsed.Samples[0].Timestamp
	}
	return parsed, nil
}

// applyFITSession maps the first session message onto summary fields.
// FIT encodes "not measured" as the type's max value; those stay nil.
func applyFITSession(parsed *model.ParsedActivity, s *fit.SessionMsg) {
	if sport := s.Sport.String(); sport != "" {
		parsed.Sport = sport
	}
	parsed.SubSport = s.SubSport.String()
	if t := fitTime(s.StartTime); !t.IsZero() {
		parsed.StartTime = t
	}
	if v := s.GetTotalElapsedTimeScaled(); finitePositive(v) {
		parsed.ElapsedTimeS = floatPtr(v)
	}
	if v := s.GetTotalTimerTimeScaled(); finitePositive(v) {
		parsed.MovingTimeS = floatPtr(v)
	}
	if v := s.GetTotalDistanceScaled(); finitePositive(v) {
		parsed.DistanceM = floatPtr(v)
	}
	if v := s.GetEnhancedAvgSpeedScaled(); finitePositive(v) {
		parsed.AvgSpeedMps = floatPtr(v)
	} else if v := s.GetAvgSpeedScaled(); finitePositive(v) {
		parsed.AvgSpeedMps = floatPtr(v)
	}
	if s.AvgHeartRate != math.MaxUint8 {
		parsed.AvgHeartRate = intPtr(int(s.AvgHeartRate))
	}
	if s.MaxHeartRate != math.MaxUint8 {
		parsed.MaxHeartRate = intPtr(int(s.MaxHeartRate))
	}
	if s.AvgPower != math.MaxUint16 {
		parsed.AvgPowerW = floatPtr(float64(s.AvgPower))
	}
	if s.MaxPower != math.MaxUint16 {
		parsed.MaxPowerW = floatPtr(float64(s.MaxPower))
	}
	if s.TotalAscent != math.MaxUint16 {
		parsed.ElevationGainM = floatPtr(float64(s.TotalAscent))
	}
	if s.TotalDescent != math.MaxUint16 {
		parsed.ElevationLossM = floatPtr(float64(s.TotalDescent))
	}
	if s.TotalCalories != math.MaxUint16 {
		parsed.Calories = intPtr(int(s.TotalCalories))
	}
}

// fitRecordSamples converts record messages in document order. Consecutive
// records sharing one timestamp are partial writes of the same instant and
// are folded into a single sample; distinct readings are never merged.
func fitRecordSamples(records []*fit.RecordMsg) []model.RawSample {
	samples := make([]model.RawSample, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		s := model.RawSample{Timestamp: fitTime(rec.Timestamp)}

		if lat, lon, ok := fitPosition(rec); ok {
			s.Latitude = floatPtr(lat)
			s.Longitude = floatPtr(lon)
		}
		if v := rec.GetEnhancedAltitudeScaled(); finiteValue(v) {
			s.AltitudeM = floatPtr(v)
		} else if v := rec.GetAltitudeScaled(); finiteValue(v) {
			s.AltitudeM = floatPtr(v)
		}
		if rec.HeartRate != math.MaxUint8 {
			s.HeartRate = intPtr(int(rec.HeartRate))
		}
		if rec.Power != math.MaxUint16 {
			s.PowerW = floatPtr(float64(rec.Power))
		}
		if rec.Cadence != math.MaxUint8 {
			s.Cadence = intPtr(int(rec.Cadence))
		}
		if v := rec.GetEnhancedSpeedScaled(); finiteValue(v) && v >= 0 {
			s.SpeedMps = floatPtr(v)
		} else if v := rec.GetSpeedScaled(); finiteValue(v) && v >= 0 {
			s.SpeedMps = floatPtr(v)
		}
		if rec.Temperature != math.MaxInt8 {
			s.TemperatureC = floatPtr(float64(rec.Temperature))
		}

		if n := len(samples); n > 0 && !s.Timestamp.IsZero() && s.Timestamp.Equal(samples[n-1].Timestamp) {
			mergeSample(&samples[n-1], s)
			continue
		}
		samples = append(samples, s)
	}
	return samples
}

// mergeSample fills fields the earlier partial record left empty.
func mergeSample(dst *model.RawSample, src model.RawSample) {
	if dst.Latitude == nil && src.Latitude != nil {
		dst.Latitude, dst.Longitude = src.Latitude, src.Longitude
	}
	if dst.AltitudeM == nil {
		dst.AltitudeM = src.AltitudeM
	}
	if dst.HeartRate == nil {
		dst.HeartRate = src.HeartRate
	}
	if dst.PowerW == nil {
		dst.PowerW = src.PowerW
	}
	if dst.Cadence == nil {
		dst.Cadence = src.Cadence
	}
	if dst.SpeedMps == nil {
		dst.SpeedMps = src.SpeedMps
	}
	if dst.TemperatureC == nil {
		dst.TemperatureC = src.TemperatureC
	}
}

func fitLaps(laps []*fit.LapMsg) []model.RawLap {
	out := make([]model.RawLap, 0, len(laps))
	for _, lap := range laps {
		if lap == nil {
			continue
		}
		elapsed := lap.GetTotalElapsedTimeScaled()
		if !finitePositive(elapsed) {
			elapsed = 0
		}
		raw := model.RawLap{
			StartTime:    fitTime(lap.StartTime),
			ElapsedTimeS: elapsed,
		}
		if v := lap.GetTotalDistanceScaled(); finitePositive(v) {
			raw.DistanceM = floatPtr(v)
		}
		if v := lap.GetAvgSpeedScaled(); finitePositive(v) {
			raw.AvgSpeedMps = floatPtr(v)
		} else if raw.DistanceM != nil && elapsed > 0 {
			raw.AvgSpeedMps = floatPtr(*raw.DistanceM / elapsed)
		}
		if lap.AvgHeartRate != math.MaxUint8 {
			raw.AvgHeartRate = intPtr(int(lap.AvgHeartRate))
		}
		if lap.MaxHeartRate != math.MaxUint8 {
			raw.MaxHeartRate = intPtr(int(lap.MaxHeartRate))
		}
		if lap.AvgPower != math.MaxUint16 {
			raw.AvgPowerW = floatPtr(float64(lap.AvgPower))
		}
		out = append(out, raw)
	}
	return out
}

// SemicirclesToDegrees converts the FIT coordinate encoding to decimal
// degrees: value * (180 / 2^31).
func SemicirclesToDegrees(semicircles int32) float64 {
	return float64(semicircles) * (180.0 / float64(int64(1)<<31))
}

func fitPosition(rec *fit.RecordMsg) (lat, lon float64, ok bool) {
	// Degrees() is NaN for the invalid-position sentinel; the conversion
	// itself runs over the raw semicircle values.
	if !finiteValue(rec.PositionLat.Degrees()) || !finiteValue(rec.PositionLong.Degrees()) {
		return 0, 0, false
	}
	lat = SemicirclesToDegrees(rec.PositionLat.Semicircles())
	lon = SemicirclesToDegrees(rec.PositionLong.Semicircles())
	return lat, lon, true
}

// fitTime drops the FIT base-time sentinel used for "no timestamp".
func fitTime(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t.UTC()
}

// fitLocalOffset derives the device's UTC offset from the activity
// message's paired local/UTC timestamps, rounded to whole minutes.
func fitLocalOffset(utc, local time.Time) (int, bool) {
	utc, local = fitTime(utc), fitTime(local)
	if utc.IsZero() || local.IsZero() {
		return 0, false
	}
	offset := local.Sub(utc).Round(time.Minute)
	return int(offset.Seconds()), true
}

func finiteValue(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finitePositive(v float64) bool { return finiteValue(v) && v > 0 }
