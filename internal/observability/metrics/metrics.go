package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "collector_"

	resultSuccess = "success"
)

var (
	registerOnce sync.Once

	messagesTotal   *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec

	pointsBuffered prometheus.Counter
	pointsInserted prometheus.Counter
	rawInserted    prometheus.Counter

	flushTotal   *prometheus.CounterVec
	flushLatency *prometheus.HistogramVec
	batchesShed  *prometheus.CounterVec
	bufferDepth  *prometheus.GaugeVec

	resolveErrors  *prometheus.CounterVec
	autoRegistered prometheus.Counter

	brokerConnected prometheus.Gauge
)

// Init registers collector metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		messagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_total",
				Help: "Total inbound broker messages by result",
			},
			[]string{"result"},
		)
		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_dropped_total",
				Help: "Total dropped messages by reason",
			},
			[]string{"reason"},
		)

		pointsBuffered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_buffered_total",
				Help: "Total telemetry points accepted into the buffer",
			},
		)
		pointsInserted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_inserted_total",
				Help: "Total telemetry points durably written",
			},
		)
		rawInserted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "raw_messages_inserted_total",
				Help: "Total raw-audit records durably written",
			},
		)

		flushTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_total",
				Help: "Total flush write attempts by buffer and result",
			},
			[]string{"buffer", "result"},
		)
		flushLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "flush_latency_seconds",
				Help:    "Flush write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"buffer", "result"},
		)
		batchesShed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_shed_total",
				Help: "Total failed batches dropped at the buffer ceiling",
			},
			[]string{"buffer"},
		)
		bufferDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "buffer_depth",
				Help: "Current buffered item count per buffer",
			},
			[]string{"buffer"},
		)

		resolveErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "resolve_errors_total",
				Help: "Total device resolution failures by stage",
			},
			[]string{"stage"},
		)
		autoRegistered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "devices_autoregistered_total",
				Help: "Total devices auto-registered against the fallback site",
			},
		)

		brokerConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "broker_connected",
				Help: "Broker connection state (1 connected, 0 otherwise)",
			},
		)

		prometheus.MustRegister(
			messagesTotal,
			messagesDropped,
			pointsBuffered,
			pointsInserted,
			rawInserted,
			flushTotal,
			flushLatency,
			batchesShed,
			bufferDepth,
			resolveErrors,
			autoRegistered,
			brokerConnected,
		)
	})
}

// IncMessage records one dispatched message by result.
func IncMessage(result string) {
	if result == "" {
		result = resultSuccess
	}
	if messagesTotal != nil {
		messagesTotal.WithLabelValues(result).Inc()
	}
}

// IncMessageDropped records one dropped message by reason.
func IncMessageDropped(reason string) {
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(reason).Inc()
	}
}

// AddPointsBuffered records points accepted into the buffer.
func AddPointsBuffered(n int) {
	if pointsBuffered != nil && n > 0 {
		pointsBuffered.Add(float64(n))
	}
}

// AddPointsInserted records durably written points.
func AddPointsInserted(n int) {
	if pointsInserted != nil && n > 0 {
		pointsInserted.Add(float64(n))
	}
}

// AddRawInserted records durably written raw-audit records.
func AddRawInserted(n int) {
	if rawInserted != nil && n > 0 {
		rawInserted.Add(float64(n))
	}
}

// ObserveFlush records one flush write attempt.
func ObserveFlush(buffer, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if flushTotal != nil {
		flushTotal.WithLabelValues(buffer, result).Inc()
	}
	if flushLatency != nil {
		flushLatency.WithLabelValues(buffer, result).Observe(duration.Seconds())
	}
}

// IncBatchShed records one failed batch dropped at the ceiling.
func IncBatchShed(buffer string) {
	if batchesShed != nil {
		batchesShed.WithLabelValues(buffer).Inc()
	}
}

// SetBufferDepth publishes the current depth of a buffer.
func SetBufferDepth(buffer string, depth int) {
	if bufferDepth != nil {
		bufferDepth.WithLabelValues(buffer).Set(float64(depth))
	}
}

// IncResolveError records a device resolution failure.
func IncResolveError(stage string) {
	if resolveErrors != nil {
		resolveErrors.WithLabelValues(stage).Inc()
	}
}

// IncDeviceAutoRegistered records one auto-registered device.
func IncDeviceAutoRegistered() {
	if autoRegistered != nil {
		autoRegistered.Inc()
	}
}

// SetBrokerConnected publishes the broker connection state.
func SetBrokerConnected(connected bool) {
	if brokerConnected == nil {
		return
	}
	if connected {
		brokerConnected.Set(1)
	} else {
		brokerConnected.Set(0)
	}
}
