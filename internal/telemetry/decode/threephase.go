package decode

import (
	"time"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

var (
	threePhaseIDAliases   = []string{"DeviceID", "device_id", "sn"}
	threePhaseTimeAliases = []string{"ts", "timestamp", "time"}

	threePhaseCurrentFields = []string{"current_a", "current_b", "current_c"}
	threePhaseVoltageFields = []string{"voltage_a", "voltage_b", "voltage_c"}
	threePhaseExtraFields   = []string{"energy_total_Wh", "power_factor"}
)

// parseThreePhase decodes a three-phase energy reading. When all six phase
// sub-metrics are present it additionally emits a convenience power estimate
// assuming unity power factor; the real figure belongs to downstream
// analytics, so the point is labeled as an estimate.
func parseThreePhase(broker string, doc map[string]any, receivedAt time.Time) (*Result, error) {
	externalID, ok := stringField(doc, threePhaseIDAliases...)
	if !ok {
		return nil, ErrMissingDeviceID
	}

	ts := timestampField(doc, receivedAt, threePhaseTimeAliases...)

	fields := make([]string, 0, 8)
	fields = append(fields, threePhaseCurrentFields...)
	fields = append(fields, threePhaseVoltageFields...)
	fields = append(fields, threePhaseExtraFields...)
	points := collectPoints(doc, fields, ts)

	if estimate, ok := unityPowerEstimate(doc); ok {
		spec, known := telemetry.LookupMetric("power_estimate")
		if known {
			points = append(points, telemetry.TelemetryPoint{
				TS:     ts,
				Metric: spec.Name,
				Value:  estimate,
				Unit:   spec.Unit,
				Labels: map[string]string{"estimate": "unity_pf"},
			})
		}
	}

	model, _ := stringField(doc, "model", "Model")

	return &Result{
		Descriptor: telemetry.DeviceDescriptor{
			ExternalID: externalID,
			Broker:     broker,
			Model:      model,
			DeviceType: telemetry.DeviceTypeEnergyMonitor,
			RSSI:       intField(doc, "rssi", "RSSI"),
		},
		Points: points,
	}, nil
}

// unityPowerEstimate sums per-phase voltage·current. It requires all six
// sub-metrics to pass the validity filter.
func unityPowerEstimate(doc map[string]any) (float64, bool) {
	total := 0.0
	for i := range threePhaseCurrentFields {
		current, ok := validField(doc, threePhaseCurrentFields[i])
		if !ok {
			return 0, false
		}
		voltage, ok := validField(doc, threePhaseVoltageFields[i])
		if !ok {
			return 0, false
		}
		total += current * voltage
	}
	return total, true
}

func validField(doc map[string]any, field string) (float64, bool) {
	raw, ok := doc[field]
	if !ok {
		return 0, false
	}
	return telemetry.ValidValue(raw)
}
