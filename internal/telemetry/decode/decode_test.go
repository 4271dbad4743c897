package decode

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestClassifyOrderedFirstMatch(t *testing.T) {
	cases := []struct {
		topic string
		want  TopicClass
	}{
		{"site/airq/room-12", ClassAirQuality},
		{"tele/AirQ-04/SENSOR", ClassAirQuality},
		{"bridge/S1/reading", ClassSinglePhase},
		{"meters/em3phase/main", ClassThreePhase},
		{"plant/threephase", ClassThreePhase},
		// Air-quality keyword beats the bridge path shape.
		{"airq/S1/reading", ClassAirQuality},
		// Bridge path beats a three-phase keyword in the id segment.
		{"bridge/3phase-7/reading", ClassSinglePhase},
		{"$SYS/broker/uptime", ClassNone},
		{"tele/unrelated/STATE", ClassNone},
		{"", ClassNone},
	}
	for _, tc := range cases {
		if got := Classify(tc.topic); got != tc.want {
			t.Errorf("Classify(%q)=%v want %v", tc.topic, got, tc.want)
		}
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := normalizeTimestamp("2023-11-14 22:13:20", fallback)
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("space-separated: got %v want %v", got, want)
	}

	got = normalizeTimestamp(json.Number("1700000000"), fallback)
	if !got.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("epoch seconds: got %v", got)
	}

	got = normalizeTimestamp(json.Number("1700000000000"), fallback)
	if !got.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("epoch millis: got %v", got)
	}

	if got = normalizeTimestamp("not a time", fallback); !got.Equal(fallback) {
		t.Fatalf("unparseable: got %v want fallback", got)
	}
	if got = normalizeTimestamp(nil, fallback); !got.Equal(fallback) {
		t.Fatalf("missing: got %v want fallback", got)
	}
}

func TestParseAirQualityReport(t *testing.T) {
	receivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"DeviceID":"X1","CO2":776,"Temp":21.1}`)

	result, err := Parse(ClassAirQuality, "site-broker", "site/airq/room-12", payload, receivedAt)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if result.Descriptor.ExternalID != "X1" {
		t.Fatalf("external id: got %q", result.Descriptor.ExternalID)
	}
	if len(result.Points) != 2 {
		t.Fatalf("points: got %d want 2", len(result.Points))
	}
	byMetric := map[string]float64{}
	units := map[string]string{}
	for _, p := range result.Points {
		byMetric[p.Metric] = p.Value
		units[p.Metric] = p.Unit
		if !p.TS.Equal(receivedAt) {
			t.Fatalf("timestamp fallback: got %v", p.TS)
		}
	}
	if byMetric["iaq.co2"] != 776 || units["iaq.co2"] != "ppm" {
		t.Fatalf("co2 point wrong: %v %q", byMetric["iaq.co2"], units["iaq.co2"])
	}
	if byMetric["env.temperature"] != 21.1 || units["env.temperature"] != "°C" {
		t.Fatalf("temperature point wrong: %v %q", byMetric["env.temperature"], units["env.temperature"])
	}
}

func TestParseMissingIdentity(t *testing.T) {
	payload := []byte(`{"CO2":776}`)
	_, err := Parse(ClassAirQuality, "b", "site/airq/x", payload, time.Now())
	if !errors.Is(err, ErrMissingDeviceID) {
		t.Fatalf("want ErrMissingDeviceID, got %v", err)
	}
}

func TestParseMalformedPayload(t *testing.T) {
	_, err := Parse(ClassAirQuality, "b", "site/airq/x", []byte("{nope"), time.Now())
	if err == nil || errors.Is(err, ErrMissingDeviceID) {
		t.Fatalf("want decode error, got %v", err)
	}
}

func TestParseSinglePhaseSentinelRejected(t *testing.T) {
	payload := []byte(`{"sensor_sn":"S9","current_A":-555555}`)
	result, err := Parse(ClassSinglePhase, "b", "bridge/S9/reading", payload, time.Now())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(result.Points) != 0 {
		t.Fatalf("sentinel should yield zero points, got %d", len(result.Points))
	}
}

func TestParseSinglePhaseEpochSeconds(t *testing.T) {
	payload := []byte(`{"sensor_sn":"S1","current_A":1.58,"ts":1700000000}`)
	result, err := Parse(ClassSinglePhase, "b", "bridge/S1/reading", payload, time.Now())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(result.Points) != 1 {
		t.Fatalf("points: got %d want 1", len(result.Points))
	}
	p := result.Points[0]
	if p.Metric != "energy.current_a" {
		t.Fatalf("metric: got %q", p.Metric)
	}
	if !p.TS.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("timestamp: got %v", p.TS)
	}
}

func TestParseSinglePhaseWaterMeter(t *testing.T) {
	payload := []byte(`{"sensor_sn":"W3","flow_rate":12.5,"total_volume":8841}`)
	result, err := Parse(ClassSinglePhase, "b", "bridge/W3/reading", payload, time.Now())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if result.Descriptor.DeviceType != "water_meter" {
		t.Fatalf("device type: got %q", result.Descriptor.DeviceType)
	}
	if len(result.Points) != 2 {
		t.Fatalf("points: got %d want 2", len(result.Points))
	}
}

func TestParseThreePhaseEstimate(t *testing.T) {
	payload := []byte(`{
		"DeviceID":"EM3-1",
		"current_a":1.0,"current_b":2.0,"current_c":3.0,
		"voltage_a":230,"voltage_b":231,"voltage_c":229,
		"ts":1700000000
	}`)
	result, err := Parse(ClassThreePhase, "b", "meters/3phase/main", payload, time.Now())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	var estimate *float64
	for _, p := range result.Points {
		if p.Metric == "energy.power_estimate" {
			v := p.Value
			estimate = &v
			if p.Labels["estimate"] != "unity_pf" {
				t.Fatalf("estimate must be labeled, got %v", p.Labels)
			}
		}
	}
	if estimate == nil {
		t.Fatalf("expected power estimate point")
	}
	want := 1.0*230 + 2.0*231 + 3.0*229
	if *estimate != want {
		t.Fatalf("estimate: got %v want %v", *estimate, want)
	}
}

func TestParseThreePhaseNoEstimateWhenPhaseMissing(t *testing.T) {
	payload := []byte(`{
		"DeviceID":"EM3-2",
		"current_a":1.0,"current_b":2.0,
		"voltage_a":230,"voltage_b":231,"voltage_c":229
	}`)
	result, err := Parse(ClassThreePhase, "b", "meters/3phase/main", payload, time.Now())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	for _, p := range result.Points {
		if p.Metric == "energy.power_estimate" {
			t.Fatalf("estimate must require all six phase sub-metrics")
		}
	}
	// The present metrics still emit.
	if len(result.Points) != 5 {
		t.Fatalf("points: got %d want 5", len(result.Points))
	}
}
