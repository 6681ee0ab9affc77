package parser

import (
	"encoding/xml"

	"fittrail/pkg/model"
)

// TCX document shape. encoding/xml matches local element names, so the
// ns3-prefixed ActivityTrackpointExtension resolves through the plain
// "TPX" tag. The extension block is routinely absent; every field below
// is read defensively.
type tcxDocument struct {
	XMLName    xml.Name      `xml:"TrainingCenterDatabase"`
	Activities []tcxActivity `xml:"Activities>Activity"`
}

type tcxActivity struct {
	Sport string   `xml:"Sport,attr"`
	ID    string   `xml:"Id"`
	Laps  []tcxLap `xml:"Lap"`
}

type tcxLap struct {
	StartTime        string        `xml:"StartTime,attr"`
	TotalTimeSeconds *float64      `xml:"TotalTimeSeconds"`
	DistanceMeters   *float64      `xml:"DistanceMeters"`
	Calories         *int          `xml:"Calories"`
	AverageHeartRate *tcxHeartRate `xml:"AverageHeartRateBpm"`
	MaximumHeartRate *tcxHeartRate `xml:"MaximumHeartRateBpm"`
	Tracks           []tcxTrack    `xml:"Track"`
}

type tcxHeartRate struct {
	Value int `xml:"Value"`
}

type tcxTrack struct {
	Points []tcxTrackpoint `xml:"Trackpoint"`
}

type tcxTrackpoint struct {
	Time           string         `xml:"Time"`
	Position       *tcxPosition   `xml:"Position"`
	AltitudeMeters *float64       `xml:"AltitudeMeters"`
	HeartRateBpm   *tcxHeartRate  `xml:"HeartRateBpm"`
	Cadence        *int           `xml:"Cadence"`
	Extensions     *tcxExtensions `xml:"Extensions"`
}

type tcxPosition struct {
	LatitudeDegrees  float64 `xml:"LatitudeDegrees"`
	LongitudeDegrees float64 `xml:"LongitudeDegrees"`
}

type tcxExtensions struct {
	TPX *tcxTPX `xml:"TPX"`
}

type tcxTPX struct {
	Speed      *float64 `xml:"Speed"`
	Watts      *float64 `xml:"Watts"`
	RunCadence *int     `xml:"RunCadence"`
}

// ParseTCX decodes a Training Center XML document. Lap elements carry the
// summary totals; trackpoints across all laps become one sample sequence.
func ParseTCX(path string, data []byte) (*model.ParsedActivity, error) {
	var doc tcxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	parsed := &model.ParsedActivity{
		Format:     model.FormatTCX,
		ExternalID: externalIDFromPath(path),
		Sport:      "unknown",
	}
	if len(doc.Activities) == 0 {
		return parsed, nil
	}
	activity := doc.Activities[0]
	if activity.Sport != "" {
		parsed.Sport = activity.Sport
	}
	if activity.ID != "" {
		parsed.ExternalID = activity.ID
	}

	var (
		totalTime     float64
		totalDistance float64
		totalCalories int
		haveTime      bool
		haveDistance  bool
		haveCalories  bool
	)
	for _, lap := range activity.Laps {
		if lap.TotalTimeSeconds != nil {
			totalTime += *lap.TotalTimeSeconds
			haveTime = true
		}
		if lap.DistanceMeters != nil {
			totalDistance += *lap.DistanceMeters
			haveDistance = true
		}
		if lap.Calories != nil {
			totalCalories += *lap.Calories
			haveCalories = true
		}

		rawLap := model.RawLap{
			DistanceM:    lap.DistanceMeters,
			AvgHeartRate: heartRateValue(lap.AverageHeartRate),
			MaxHeartRate: heartRateValue(lap.MaximumHeartRate),
		}
		if lap.TotalTimeSeconds != nil {
			rawLap.ElapsedTimeS = *lap.TotalTimeSeconds
		}
		if lap.DistanceMeters != nil && rawLap.ElapsedTimeS > 0 {
			rawLap.AvgSpeedMps = floatPtr(*lap.DistanceMeters / rawLap.ElapsedTimeS)
		}
		if t, hasOffset, err := parseXMLTime(lap.StartTime); err == nil {
			rawLap.StartTime = t.UTC()
			if parsed.StartTime.IsZero() {
				parsed.StartTime = t.UTC()
				if hasOffset {
					_, offset := t.Zone()
					parsed.UTCOffsetSeconds = &offset
				}
			}
		}

		for _, track := range lap.Tracks {
			for _, pt := range track.Points {
				parsed.Samples = append(parsed.Samples, tcxSample(pt))
			}
		}
		parsed.Laps = append(parsed.Laps, rawLap)
	}

	if haveTime {
		parsed.ElapsedTimeS = floatPtr(totalTime)
	}
	if haveDistance {
		parsed.DistanceM = floatPtr(totalDistance)
	}
	if haveCalories {
		parsed.Calories = intPtr(totalCalories)
	}
	if parsed.StartTime.IsZero() && len(parsed.Samples) > 0 {
		parsed.StartTime = parsed.Samples[0].Timestamp
	}
	return parsed, nil
}

func tcxSample(pt tcxTrackpoint) model.RawSample {
	s := model.RawSample{
		AltitudeM: pt.AltitudeMeters,
		HeartRate: heartRateValue(pt.HeartRateBpm),
		Cadence:   pt.Cadence,
	}
	if t, _, err := parseXMLTime(pt.Time); err == nil {
		s.Timestamp = t.UTC()
	}
	if pt.Position != nil {
		s.Latitude = floatPtr(pt.Position.LatitudeDegrees)
		s.Longitude = floatPtr(pt.Position.LongitudeDegrees)
	}
	if pt.Extensions != nil && pt.Extensions.TPX != nil {
		s.SpeedMps = pt.Extensions.TPX.Speed
		s.PowerW = pt.Extensions.TPX.Watts
		if s.Cadence == nil {
			s.Cadence = pt.Extensions.TPX.RunCadence
		}
	}
	return s
}

func heartRateValue(hr *tcxHeartRate) *int {
	if hr == nil || hr.Value <= 0 {
		return nil
	}
	return intPtr(hr.Value)
}
