// Package model declares the canonical activity schema shared by the
// parsers, the normalizer, and the persistence layer. Optional metrics are
// pointers so a missing reading stays distinguishable from a true zero:
// a power meter that never reported is nil, a rider coasting is 0.
package model

import "time"

// SourceFormat identifies the file format an activity was ingested from.
type SourceFormat string

const (
	FormatFIT SourceFormat = "fit"
	FormatTCX SourceFormat = "tcx"
	FormatGPX SourceFormat = "gpx"
)

// Activity is one recorded workout session with its summary metrics.
// ContentFingerprint is unique: at most one Activity exists per distinct
// source file content.
type Activity struct {
	ID                 int64        `json:"id"`
	ExternalID         string       `json:"external_id,omitempty"`
	ContentFingerprint string       `json:"content_fingerprint"`
	SourceFormat       SourceFormat `json:"source_format"`
	Sport              string       `json:"sport,omitempty"`
	SubSport           string       `json:"sub_sport,omitempty"`

	// StartTime is normalized to UTC. LocalTimezone keeps the original
	// UTC offset ("UTC+02:00") when the source supplied one; empty means
	// the offset is unknown, never guessed.
	StartTime     time.Time `json:"start_time"`
	LocalTimezone string    `json:"local_timezone,omitempty"`

	ElapsedTimeS   float64  `json:"elapsed_time_s"`
	MovingTimeS    *float64 `json:"moving_time_s,omitempty"`
	DistanceM      *float64 `json:"distance_m,omitempty"`
	AvgSpeedMps    *float64 `json:"avg_speed_mps,omitempty"`
	AvgPaceSPerKm  *float64 `json:"avg_pace_s_per_km,omitempty"`
	AvgHeartRate   *int     `json:"avg_heart_rate,omitempty"`
	MaxHeartRate   *int     `json:"max_heart_rate,omitempty"`
	AvgPowerW      *float64 `json:"avg_power_w,omitempty"`
	MaxPowerW      *float64 `json:"max_power_w,omitempty"`
	ElevationGainM *float64 `json:"elevation_gain_m,omitempty"`
	ElevationLossM *float64 `json:"elevation_loss_m,omitempty"`
	Calories       *int     `json:"calories,omitempty"`

	SourceFilePath string    `json:"source_file_path,omitempty"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// Sample is one time-indexed sensor reading belonging to exactly one
// Activity. Within an activity samples are ordered by ElapsedTimeS
// ascending; duplicate offsets from sensor jitter are kept as received.
type Sample struct {
	ActivityID   int64    `json:"activity_id"`
	ElapsedTimeS float64  `json:"elapsed_time_s"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	AltitudeM    *float64 `json:"altitude_m,omitempty"`
	HeartRate    *int     `json:"heart_rate,omitempty"`
	PowerW       *float64 `json:"power_w,omitempty"`
	Cadence      *int     `json:"cadence,omitempty"`
	SpeedMps     *float64 `json:"speed_mps,omitempty"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
}

// HasPosition reports whether the sample carries a usable coordinate pair.
// A lone latitude or longitude is treated as no position at all.
func (s Sample) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// RoutePoint is a thinned geometry-only point for map rendering, always
// derivable by replaying the GPS-bearing samples in elapsed order.
type RoutePoint struct {
	ActivityID int64    `json:"activity_id"`
	Sequence   int      `json:"sequence"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
}

// Lap is a per-lap summary captured as pass-through data: it is persisted
// and returned with activity detail but nothing in the core derives from it.
type Lap struct {
	ActivityID   int64     `json:"activity_id"`
	LapIndex     int       `json:"lap_index"`
	StartTime    time.Time `json:"start_time,omitempty"`
	ElapsedTimeS float64   `json:"elapsed_time_s"`
	DistanceM    *float64  `json:"distance_m,omitempty"`
	AvgSpeedMps  *float64  `json:"avg_speed_mps,omitempty"`
	AvgHeartRate *int      `json:"avg_heart_rate,omitempty"`
	MaxHeartRate *int      `json:"max_heart_rate,omitempty"`
	AvgPowerW    *float64  `json:"avg_power_w,omitempty"`
}

// RawSample is one reading as extracted by a format parser, before the
// normalizer derives elapsed offsets and filters validity.
type RawSample struct {
	Timestamp    time.Time
	Latitude     *float64
	Longitude    *float64
	AltitudeM    *float64
	HeartRate    *int
	PowerW       *float64
	Cadence      *int
	SpeedMps     *float64
	TemperatureC *float64
}

// RawLap mirrors Lap for parser output.
type RawLap struct {
	StartTime    time.Time
	ElapsedTimeS float64
	DistanceM    *float64
	AvgSpeedMps  *float64
	AvgHeartRate *int
	MaxHeartRate *int
	AvgPowerW    *float64
}

// ParsedActivity is the transient intermediate between a format parser and
// the normalizer. Summary fields are optional; whatever the source omitted
// the normalizer derives from the raw samples.
type ParsedActivity struct {
	ExternalID string
	Format     SourceFormat
	Sport      string
	SubSport   string

	// StartTime may be zero when the source carries no timestamps at all.
	// UTCOffsetSeconds is set only when the source stated its offset.
	StartTime        time.Time
	UTCOffsetSeconds *int

	ElapsedTimeS   *float64
	MovingTimeS    *float64
	DistanceM      *float64
	AvgSpeedMps    *float64
	AvgHeartRate   *int
	MaxHeartRate   *int
	AvgPowerW      *float64
	MaxPowerW      *float64
	ElevationGainM *float64
	ElevationLossM *float64
	Calories       *int

	Samples []RawSample
	Laps    []RawLap
}

// HasSummary reports whether any summary metric was supplied by the source.
// A file with neither samples nor summary data is an empty activity.
func (p *ParsedActivity) HasSummary() bool {
	return p.ElapsedTimeS != nil || p.DistanceM != nil || p.AvgHeartRate != nil ||
		p.AvgPowerW != nil || p.Calories != nil || !p.StartTime.IsZero()
}
