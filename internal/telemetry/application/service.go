package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	masterdata "sitesense-collector/internal/masterdata/application"
	"sitesense-collector/internal/observability/metrics"
	"sitesense-collector/internal/telemetry/decode"
	telemetry "sitesense-collector/internal/telemetry/domain"
)

const resolveTimeout = 5 * time.Second

// ServiceConfig configures the ingestion service.
type ServiceConfig struct {
	Broker         string
	RawAudit       bool
	BufferCapacity int
	Flush          FlushConfig
	Debug          bool
}

// Service is the ingestion pipeline context: it owns the dual buffer, the
// device resolver, the flusher and the counters, and is constructed once at
// startup. Broker and store collaborators are injected so tests can fake
// them.
type Service struct {
	broker   string
	rawAudit bool
	debug    bool

	resolver *masterdata.DeviceResolver
	raw      *Queue[telemetry.RawMessage]
	points   *Queue[telemetry.TelemetryPoint]
	flusher  *Flusher
	logger   *log.Logger
	stats    *Stats

	runStarted atomic.Bool
	runDone    chan struct{}
}

// NewService wires the pipeline.
func NewService(cfg ServiceConfig, resolver *masterdata.DeviceResolver, rawRepo telemetry.RawMessageRepository, pointRepo telemetry.PointRepository, logger *log.Logger) (*Service, error) {
	if resolver == nil {
		return nil, errors.New("ingest service: nil resolver")
	}
	if cfg.RawAudit && rawRepo == nil {
		return nil, errors.New("ingest service: raw audit enabled without repository")
	}
	if logger == nil {
		logger = log.Default()
	}

	stats := &Stats{}
	raw := NewQueue[telemetry.RawMessage](cfg.BufferCapacity)
	points := NewQueue[telemetry.TelemetryPoint](cfg.BufferCapacity)

	if !cfg.RawAudit {
		rawRepo = nil
	}
	flusher, err := NewFlusher(cfg.Flush, raw, points, rawRepo, pointRepo, logger, stats)
	if err != nil {
		return nil, err
	}

	return &Service{
		broker:   cfg.Broker,
		rawAudit: cfg.RawAudit,
		debug:    cfg.Debug,
		resolver: resolver,
		raw:      raw,
		points:   points,
		flusher:  flusher,
		logger:   logger,
		stats:    stats,
		runDone:  make(chan struct{}),
	}, nil
}

// HandleMessage dispatches one inbound broker message through the pipeline.
// It only classifies, decodes, resolves and enqueues; durable writes happen
// on the flush timer, never inline. Every failure here is local: the message
// (or a single metric) is dropped, counted, and the pipeline continues.
func (s *Service) HandleMessage(topic string, payload []byte) {
	receivedAt := time.Now().UTC()

	if decode.ReservedTopic(topic) {
		return
	}
	s.stats.MessagesReceived.Add(1)

	class := decode.Classify(topic)
	if class == decode.ClassNone {
		s.drop("unroutable")
		if s.debug {
			s.logger.Printf("ingest: no parser for topic, message dropped: topic=%s", topic)
		}
		return
	}

	result, err := decode.Parse(class, s.broker, topic, payload, receivedAt)
	if err != nil {
		if errors.Is(err, decode.ErrMissingDeviceID) {
			s.drop("missing_identity")
			s.logger.Printf("ingest: payload carries no device identity, message dropped: topic=%s", topic)
			return
		}
		s.stats.DecodeErrors.Add(1)
		s.drop("decode_error")
		s.logger.Printf("ingest: %v", err)
		return
	}

	if s.rawAudit {
		s.raw.Append(telemetry.RawMessage{
			ReceivedAt:       receivedAt,
			Broker:           s.broker,
			Topic:            topic,
			Payload:          json.RawMessage(append([]byte(nil), payload...)),
			DeviceExternalID: result.Descriptor.ExternalID,
			SourceType:       result.Descriptor.DeviceType,
		})
		metrics.SetBufferDepth(bufferNameRaw, s.raw.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	identity, ok := s.resolver.Resolve(ctx, result.Descriptor)
	cancel()
	if !ok {
		s.drop("unresolved_device")
		s.logger.Printf("ingest: device not resolvable, telemetry dropped: external_id=%s topic=%s", result.Descriptor.ExternalID, topic)
		return
	}

	for i := range result.Points {
		result.Points[i].DeviceID = identity.DeviceID
		result.Points[i].SiteID = identity.SiteID
		s.points.Append(result.Points[i])
	}
	if n := len(result.Points); n > 0 {
		s.stats.PointsBuffered.Add(uint64(n))
		metrics.AddPointsBuffered(n)
	}
	metrics.SetBufferDepth(bufferNamePoints, s.points.Len())
	metrics.IncMessage("success")
}

func (s *Service) drop(reason string) {
	s.stats.MessagesDropped.Add(1)
	metrics.IncMessage("dropped")
	metrics.IncMessageDropped(reason)
}

// Run drives the flush timer until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	s.runStarted.Store(true)
	defer close(s.runDone)
	s.flusher.Run(ctx)
}

// Shutdown waits for an in-flight flush cycle, then drains both buffers to
// empty and waits for background registry updates. Call only after the
// broker stopped delivering messages and the Run context is canceled.
func (s *Service) Shutdown(ctx context.Context) {
	if s.runStarted.Load() {
		<-s.runDone
	}
	s.flusher.Drain(ctx)
	s.resolver.Close()
}

// Status is the read-only projection served by the status endpoint.
type Status struct {
	RawBufferDepth   int       `json:"raw_buffer_depth"`
	PointBufferDepth int       `json:"point_buffer_depth"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesDropped  uint64    `json:"messages_dropped"`
	DecodeErrors     uint64    `json:"decode_errors"`
	PointsBuffered   uint64    `json:"points_buffered"`
	PointsInserted   uint64    `json:"points_inserted"`
	RawInserted      uint64    `json:"raw_inserted"`
	FlushErrors      uint64    `json:"flush_errors"`
	BatchesShed      uint64    `json:"batches_shed"`
	DevicesCached    int       `json:"devices_cached"`
	AutoRegistered   uint64    `json:"devices_autoregistered"`
	ResolveErrors    uint64    `json:"resolve_errors"`
	LastFlush        time.Time `json:"last_flush"`
}

// Status snapshots the pipeline counters.
func (s *Service) Status() Status {
	return Status{
		RawBufferDepth:   s.raw.Len(),
		PointBufferDepth: s.points.Len(),
		MessagesReceived: s.stats.MessagesReceived.Load(),
		MessagesDropped:  s.stats.MessagesDropped.Load(),
		DecodeErrors:     s.stats.DecodeErrors.Load(),
		PointsBuffered:   s.stats.PointsBuffered.Load(),
		PointsInserted:   s.stats.PointsInserted.Load(),
		RawInserted:      s.stats.RawInserted.Load(),
		FlushErrors:      s.stats.FlushErrors.Load(),
		BatchesShed:      s.stats.BatchesShed.Load(),
		DevicesCached:    s.resolver.CacheSize(),
		AutoRegistered:   s.resolver.AutoRegistered(),
		ResolveErrors:    s.resolver.Errors(),
		LastFlush:        s.stats.LastFlush(),
	}
}

// FlushCycle runs one flush cycle immediately. Exposed for tests and for the
// shutdown path.
func (s *Service) FlushCycle(ctx context.Context) {
	s.flusher.FlushCycle(ctx)
}
