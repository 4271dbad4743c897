package decode

import (
	"time"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

var (
	singlePhaseIDAliases   = []string{"sensor_sn", "device_id", "sn"}
	singlePhaseTimeAliases = []string{"ts", "timestamp", "time"}

	singlePhaseElectricalFields = []string{
		"current_A", "voltage_V", "power_W", "energy_Wh",
		"frequency_Hz", "power_factor",
	}
	singlePhaseWaterFields = []string{"flow_rate", "total_volume"}
)

// parseSinglePhase decodes a bridge reading. Bridges forward both
// single-phase energy meters and pulse water meters on the same topic shape;
// the device type follows whichever field family the payload carries.
func parseSinglePhase(broker string, doc map[string]any, receivedAt time.Time) (*Result, error) {
	externalID, ok := stringField(doc, singlePhaseIDAliases...)
	if !ok {
		return nil, ErrMissingDeviceID
	}

	ts := timestampField(doc, receivedAt, singlePhaseTimeAliases...)

	points := collectPoints(doc, singlePhaseElectricalFields, ts)
	electrical := len(points) > 0
	points = append(points, collectPoints(doc, singlePhaseWaterFields, ts)...)

	deviceType := telemetry.DeviceTypeEnergyMonitor
	if !electrical && hasAnyField(doc, singlePhaseWaterFields) {
		deviceType = telemetry.DeviceTypeWaterMeter
	}

	model, _ := stringField(doc, "model", "Model")

	return &Result{
		Descriptor: telemetry.DeviceDescriptor{
			ExternalID: externalID,
			Broker:     broker,
			Model:      model,
			DeviceType: deviceType,
			RSSI:       intField(doc, "rssi", "RSSI"),
		},
		Points: points,
	}, nil
}

func hasAnyField(doc map[string]any, fields []string) bool {
	for _, field := range fields {
		if _, ok := doc[field]; ok {
			return true
		}
	}
	return false
}
