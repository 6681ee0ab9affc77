// Package parser turns raw activity files into model.ParsedActivity
// records. One parser per format; none of them knows about storage or
// about the other formats. Unusual but spec-valid data never fails a
// parse — only structurally corrupt input does.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fittrail/pkg/model"
)

// ParseError wraps a structurally corrupt file: unparseable XML, a
// truncated binary stream, an unrecognizable format. Batch drivers catch
// it per file and continue.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// EmptyActivityError marks a well-formed file with zero extractable samples
// and no summary fields. Kept distinct from ParseError so callers can report
// "imported 0 points" instead of "corrupt file".
type EmptyActivityError struct {
	Path string
}

func (e *EmptyActivityError) Error() string { return fmt.Sprintf("no usable data in %s", e.Path) }

// ErrUnknownFormat is returned by Detect when neither the extension nor the
// file content identifies a supported format.
var ErrUnknownFormat = errors.New("unknown activity file format")

// fitMagicOffset is where the ".FIT" signature sits in a FIT file header.
const fitMagicOffset = 8

// Detect picks the source format, extension first with a content sniff as
// fallback for missing or unfamiliar extensions.
func Detect(path string, data []byte) (model.SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fit":
		return model.FormatFIT, nil
	case ".tcx":
		return model.FormatTCX, nil
	case ".gpx":
		return model.FormatGPX, nil
	}
	return sniff(data)
}

// sniff inspects the first bytes: FIT files carry ".FIT" at a fixed header
// offset, the XML formats are told apart by their document element.
func sniff(data []byte) (model.SourceFormat, error) {
	if len(data) >= fitMagicOffset+4 && bytes.Equal(data[fitMagicOffset:fitMagicOffset+4], []byte(".FIT")) {
		return model.FormatFIT, nil
	}
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		switch {
		case bytes.Contains(head, []byte("<TrainingCenterDatabase")):
			return model.FormatTCX, nil
		case bytes.Contains(head, []byte("<gpx")):
			return model.FormatGPX, nil
		}
	}
	return "", ErrUnknownFormat
}

// Parse dispatches to the per-format parser and applies the shared
// empty-activity check so every format reports it the same way.
func Parse(path string, data []byte) (*model.ParsedActivity, error) {
	format, err := Detect(path, data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var parsed *model.ParsedActivity
	switch format {
	case model.FormatFIT:
		parsed, err = ParseFIT(path, data)
	case model.FormatTCX:
		parsed, err = ParseTCX(path, data)
	case model.FormatGPX:
		parsed, err = ParseGPX(path, data)
	}
	if err != nil {
		return nil, err
	}

	if len(parsed.Samples) == 0 && !parsed.HasSummary() {
		return nil, &EmptyActivityError{Path: path}
	}
	return parsed, nil
}

// externalIDFromPath falls back to the file name without extension when the
// source format has no identity of its own.
func externalIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// parseXMLTime accepts the timestamp shapes seen in TCX/GPX exports.
// The second return value reports whether the string stated a UTC offset;
// bare local times are taken as given, never guessed into a zone.
func parseXMLTime(value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, errors.New("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true, nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized timestamp %q", value)
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
