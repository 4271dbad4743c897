// Package decode classifies broker topics and turns raw payloads into device
// descriptors plus canonical telemetry points.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

// TopicClass selects which protocol parser applies to a topic.
type TopicClass int

const (
	ClassNone TopicClass = iota
	ClassAirQuality
	ClassSinglePhase
	ClassThreePhase
)

// String returns the class name for logs.
func (c TopicClass) String() string {
	switch c {
	case ClassAirQuality:
		return "air_quality"
	case ClassSinglePhase:
		return "single_phase"
	case ClassThreePhase:
		return "three_phase"
	default:
		return "none"
	}
}

const reservedTopicPrefix = "$SYS/"

// ReservedTopic reports whether a topic belongs to the broker's system
// namespace and must never be dispatched.
func ReservedTopic(topic string) bool {
	return strings.HasPrefix(topic, reservedTopicPrefix)
}

// Classify maps an inbound topic to a parser class. Classification is
// ordered first-match: an air-quality keyword wins over the three-segment
// bridge reading path, which wins over a three-phase keyword.
func Classify(topic string) TopicClass {
	if topic == "" || ReservedTopic(topic) {
		return ClassNone
	}
	lower := strings.ToLower(topic)
	if strings.Contains(lower, "airq") {
		return ClassAirQuality
	}
	segments := strings.Split(topic, "/")
	if len(segments) == 3 && segments[2] == "reading" {
		return ClassSinglePhase
	}
	if strings.Contains(lower, "3phase") || strings.Contains(lower, "threephase") {
		return ClassThreePhase
	}
	return ClassNone
}

// Result is the outcome of parsing one message. Points carry no device or
// site identity yet; the registrar fills those in after resolution.
type Result struct {
	Descriptor telemetry.DeviceDescriptor
	Points     []telemetry.TelemetryPoint
}

// ErrMissingDeviceID marks a payload without any accepted identity field.
var ErrMissingDeviceID = errors.New("decode: missing device identifier")

// ErrUnroutableTopic marks a topic no parser claims.
var ErrUnroutableTopic = errors.New("decode: unroutable topic")

// Parse decodes one payload with the parser selected by class.
func Parse(class TopicClass, broker, topic string, payload []byte, receivedAt time.Time) (*Result, error) {
	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("decode: malformed payload on %s: %w", topic, err)
	}
	switch class {
	case ClassAirQuality:
		return parseAirQuality(broker, doc, receivedAt)
	case ClassSinglePhase:
		return parseSinglePhase(broker, doc, receivedAt)
	case ClassThreePhase:
		return parseThreePhase(broker, doc, receivedAt)
	default:
		return nil, ErrUnroutableTopic
	}
}

// decodeDocument unmarshals a payload keeping numbers as json.Number so the
// validity filter decides coercion.
func decodeDocument(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// stringField returns the first present, non-empty alias as a string.
func stringField(doc map[string]any, aliases ...string) (string, bool) {
	for _, key := range aliases {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v, true
			}
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

// intField returns the first alias coercible to an int, for signal strength.
func intField(doc map[string]any, aliases ...string) *int {
	for _, key := range aliases {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if num, ok := raw.(json.Number); ok {
			if v, err := num.Int64(); err == nil {
				value := int(v)
				return &value
			}
		}
	}
	return nil
}

// epochMillisThreshold splits epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// normalizeTimestamp coerces device-reported timestamps to a UTC instant.
// Space-separated ISO-like strings and RFC 3339 are accepted; numeric values
// are epoch seconds or milliseconds depending on magnitude. Anything else
// falls back to ingestion time.
func normalizeTimestamp(raw any, fallback time.Time) time.Time {
	switch v := raw.(type) {
	case string:
		if strings.Contains(v, " ") {
			if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
				return t.UTC()
			}
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
		if num, err := json.Number(v).Float64(); err == nil {
			return epochToTime(num)
		}
	case json.Number:
		if num, err := v.Float64(); err == nil {
			return epochToTime(num)
		}
	}
	return fallback.UTC()
}

func epochToTime(value float64) time.Time {
	if value >= epochMillisThreshold {
		return time.UnixMilli(int64(value)).UTC()
	}
	return time.Unix(int64(value), 0).UTC()
}

// timestampField normalizes the first present timestamp alias.
func timestampField(doc map[string]any, fallback time.Time, aliases ...string) time.Time {
	for _, key := range aliases {
		if raw, ok := doc[key]; ok {
			return normalizeTimestamp(raw, fallback)
		}
	}
	return fallback.UTC()
}

// collectPoints extracts the listed raw fields, applying the validity filter
// and the canonical catalog. A field failing either step is skipped; its
// siblings still emit.
func collectPoints(doc map[string]any, fields []string, ts time.Time) []telemetry.TelemetryPoint {
	var points []telemetry.TelemetryPoint
	for _, field := range fields {
		raw, ok := doc[field]
		if !ok {
			continue
		}
		value, ok := telemetry.ValidValue(raw)
		if !ok {
			continue
		}
		spec, ok := telemetry.LookupMetric(field)
		if !ok {
			continue
		}
		points = append(points, telemetry.TelemetryPoint{
			TS:     ts,
			Metric: spec.Name,
			Value:  value,
			Unit:   spec.Unit,
		})
	}
	return points
}
