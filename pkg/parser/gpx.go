package parser

import (
	"encoding/xml"
	"math"

	"fittrail/pkg/model"
)

// GPX document shape. The Garmin TrackPointExtension carries heart rate,
// cadence and air temperature; some exporters put power directly under
// <extensions>. All optional.
type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Type     string       `xml:"type"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat        float64        `xml:"lat,attr"`
	Lon        float64        `xml:"lon,attr"`
	Elevation  *float64       `xml:"ele"`
	Time       string         `xml:"time"`
	Extensions *gpxExtensions `xml:"extensions"`
}

type gpxExtensions struct {
	TrackPoint *gpxTrackPointExtension `xml:"TrackPointExtension"`
	Power      *float64                `xml:"power"`
}

type gpxTrackPointExtension struct {
	HeartRate   *int     `xml:"hr"`
	Cadence     *int     `xml:"cad"`
	Temperature *float64 `xml:"atemp"`
}

// earthRadiusM is the mean Earth radius used for great-circle distances.
const earthRadiusM = 6371000.0

// ParseGPX decodes a GPS Exchange document. Segments within a track are
// concatenated in document order into one continuous sample sequence; the
// canonical schema has no per-segment modeling.
func ParseGPX(path string, data []byte) (*model.ParsedActivity, error) {
	var doc gpxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	parsed := &model.ParsedActivity{
		Format:     model.FormatGPX,
		ExternalID: externalIDFromPath(path),
		Sport:      "unknown",
	}
	for _, track := range doc.Tracks {
		if parsed.Sport == "unknown" && track.Type != "" {
			parsed.Sport = track.Type
		}
		for _, segment := range track.Segments {
			for _, pt := range segment.Points {
				parsed.Samples = append(parsed.Samples, gpxSample(pt))
			}
		}
	}
	if len(parsed.Samples) == 0 {
		return parsed, nil
	}

	first := parsed.Samples[0]
	if !first.Timestamp.IsZero() {
		parsed.StartTime = first.Timestamp
	}
	// GPX has no summary block: total distance comes from the point
	// geometry and elapsed time from the first/last timestamps.
	if distance := gpxTrackDistance(parsed.Samples); distance > 0 {
		parsed.DistanceM = floatPtr(distance)
	}
	last := parsed.Samples[len(parsed.Samples)-1]
	if !first.Timestamp.IsZero() && !last.Timestamp.IsZero() && last.Timestamp.After(first.Timestamp) {
		parsed.ElapsedTimeS = floatPtr(last.Timestamp.Sub(first.Timestamp).Seconds())
	}
	return parsed, nil
}

func gpxSample(pt gpxPoint) model.RawSample {
	s := model.RawSample{
		Latitude:  floatPtr(pt.Lat),
		Longitude: floatPtr(pt.Lon),
		AltitudeM: pt.Elevation,
	}
	if t, hasOffset, err := parseXMLTime(pt.Time); err == nil {
		if hasOffset {
			s.Timestamp = t.UTC()
		} else {
			s.Timestamp = t
		}
	}
	if pt.Extensions != nil {
		s.PowerW = pt.Extensions.Power
		if tpe := pt.Extensions.TrackPoint; tpe != nil {
			s.HeartRate = tpe.HeartRate
			s.Cadence = tpe.Cadence
			s.TemperatureC = tpe.Temperature
		}
	}
	return s
}

// gpxTrackDistance sums great-circle legs over the coordinate sequence.
func gpxTrackDistance(samples []model.RawSample) float64 {
	var total float64
	var prev *model.RawSample
	for i := range samples {
		s := &samples[i]
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		if prev != nil {
			total += haversineMeters(*prev.Latitude, *prev.Longitude, *s.Latitude, *s.Longitude)
		}
		prev = s
	}
	return total
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180.0
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
