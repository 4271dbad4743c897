package decode

import (
	"time"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

// Field aliases accepted from air-quality firmwares, in match order.
var (
	airQualityIDAliases   = []string{"DeviceID", "device_id", "id"}
	airQualityTimeAliases = []string{"time", "Time", "timestamp", "ts"}

	airQualityMetricFields = []string{
		"CO2", "eCO2", "TVOC", "PM25", "PM10",
		"Temp", "Temperature", "Hum", "Humidity", "Pressure",
	}
)

// parseAirQuality decodes a single-metric-per-field air-quality report.
func parseAirQuality(broker string, doc map[string]any, receivedAt time.Time) (*Result, error) {
	externalID, ok := stringField(doc, airQualityIDAliases...)
	if !ok {
		return nil, ErrMissingDeviceID
	}

	model, _ := stringField(doc, "model", "Model")
	mac, _ := stringField(doc, "mac", "MAC")
	rssi := intField(doc, "rssi", "RSSI")

	ts := timestampField(doc, receivedAt, airQualityTimeAliases...)
	points := collectPoints(doc, airQualityMetricFields, ts)

	return &Result{
		Descriptor: telemetry.DeviceDescriptor{
			ExternalID: externalID,
			Broker:     broker,
			Model:      model,
			DeviceType: telemetry.DeviceTypeAirQuality,
			MAC:        mac,
			RSSI:       rssi,
		},
		Points: points,
	}, nil
}
