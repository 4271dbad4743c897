package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
)

// Sentinel exclusion band. Hardware emits large placeholder codes to signal
// error/no-reading conditions; anything at or beyond these bounds is rejected.
const (
	sentinelFloor   = -100000.0
	sentinelCeiling = 100000000.0
)

// ValidValue applies the value validity filter to one decoded JSON value:
// the value must be non-null, coercible to a finite number, and strictly
// inside the sentinel exclusion band. Rejection drops only this metric, never the
// enclosing message.
func ValidValue(raw any) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		value = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		value = parsed
	case bool:
		return 0, false
	default:
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if value <= sentinelFloor || value >= sentinelCeiling {
		return 0, false
	}
	return value, true
}
