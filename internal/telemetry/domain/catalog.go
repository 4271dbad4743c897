package telemetry

// MetricSpec is one canonical catalog entry.
type MetricSpec struct {
	Name string
	Unit string
}

// metricCatalog maps hardware field names to the canonical metric vocabulary.
// A parser output whose raw field is absent here never reaches the buffer.
var metricCatalog = map[string]MetricSpec{
	// Air-quality reports.
	"CO2":         {Name: "iaq.co2", Unit: "ppm"},
	"eCO2":        {Name: "iaq.eco2", Unit: "ppm"},
	"TVOC":        {Name: "iaq.tvoc", Unit: "ppb"},
	"PM25":        {Name: "iaq.pm25", Unit: "µg/m³"},
	"PM10":        {Name: "iaq.pm10", Unit: "µg/m³"},
	"Temp":        {Name: "env.temperature", Unit: "°C"},
	"Temperature": {Name: "env.temperature", Unit: "°C"},
	"Hum":         {Name: "env.humidity", Unit: "%"},
	"Humidity":    {Name: "env.humidity", Unit: "%"},
	"Pressure":    {Name: "env.pressure", Unit: "hPa"},

	// Single-phase bridge readings.
	"current_A":    {Name: "energy.current_a", Unit: "A"},
	"voltage_V":    {Name: "energy.voltage_v", Unit: "V"},
	"power_W":      {Name: "energy.power_w", Unit: "W"},
	"energy_Wh":    {Name: "energy.total_wh", Unit: "Wh"},
	"frequency_Hz": {Name: "energy.frequency_hz", Unit: "Hz"},
	"power_factor": {Name: "energy.power_factor", Unit: ""},

	// Water meters report through the same bridge path.
	"flow_rate":    {Name: "water.flow_rate", Unit: "L/min"},
	"total_volume": {Name: "water.total_volume", Unit: "L"},

	// Three-phase readings.
	"current_a":       {Name: "energy.current_a", Unit: "A"},
	"current_b":       {Name: "energy.current_b", Unit: "A"},
	"current_c":       {Name: "energy.current_c", Unit: "A"},
	"voltage_a":       {Name: "energy.voltage_a", Unit: "V"},
	"voltage_b":       {Name: "energy.voltage_b", Unit: "V"},
	"voltage_c":       {Name: "energy.voltage_c", Unit: "V"},
	"energy_total_Wh": {Name: "energy.total_wh", Unit: "Wh"},

	// Derived convenience estimate, emitted by the three-phase parser only.
	"power_estimate": {Name: "energy.power_estimate", Unit: "W"},
}

// LookupMetric resolves a raw hardware field name against the canonical
// catalog.
func LookupMetric(rawField string) (MetricSpec, bool) {
	spec, ok := metricCatalog[rawField]
	return spec, ok
}
