package application

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"sitesense-collector/internal/observability/metrics"
	telemetry "sitesense-collector/internal/telemetry/domain"
)

const (
	bufferNameRaw    = "raw"
	bufferNamePoints = "points"
)

// FlushConfig tunes the batch flusher.
type FlushConfig struct {
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	Interval   time.Duration
}

func (c FlushConfig) withDefaults() FlushConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	return c
}

// Flusher periodically drains both buffers into durable storage with bounded
// retry. Delivery is at-least-once: a retried write may duplicate rows, which
// storage absorbs by upsert.
type Flusher struct {
	cfg       FlushConfig
	raw       *Queue[telemetry.RawMessage]
	points    *Queue[telemetry.TelemetryPoint]
	rawRepo   telemetry.RawMessageRepository
	pointRepo telemetry.PointRepository
	logger    *log.Logger
	stats     *Stats
}

// NewFlusher constructs a flusher over the two buffers.
func NewFlusher(cfg FlushConfig, raw *Queue[telemetry.RawMessage], points *Queue[telemetry.TelemetryPoint], rawRepo telemetry.RawMessageRepository, pointRepo telemetry.PointRepository, logger *log.Logger, stats *Stats) (*Flusher, error) {
	if raw == nil || points == nil {
		return nil, errors.New("flusher: nil buffer")
	}
	if pointRepo == nil {
		return nil, errors.New("flusher: nil point repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Flusher{
		cfg:       cfg.withDefaults(),
		raw:       raw,
		points:    points,
		rawRepo:   rawRepo,
		pointRepo: pointRepo,
		logger:    logger,
		stats:     stats,
	}, nil
}

// Run drives the flush timer until the context is canceled. The in-flight
// cycle always completes: its writes run on their own context, so
// cancellation is observed between cycles and never aborts a write.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.FlushCycle(context.Background())
		}
	}
}

// FlushCycle drains one bounded batch from each buffer.
func (f *Flusher) FlushCycle(ctx context.Context) {
	flushQueue(ctx, f, bufferNamePoints, f.points, func(ctx context.Context, batch []telemetry.TelemetryPoint) error {
		return f.pointRepo.InsertPoints(ctx, batch)
	}, func(n int) {
		f.stats.PointsInserted.Add(uint64(n))
		metrics.AddPointsInserted(n)
	})
	if f.rawRepo != nil {
		flushQueue(ctx, f, bufferNameRaw, f.raw, func(ctx context.Context, batch []telemetry.RawMessage) error {
			return f.rawRepo.InsertRawMessages(ctx, batch)
		}, func(n int) {
			f.stats.RawInserted.Add(uint64(n))
			metrics.AddRawInserted(n)
		})
	}
	f.stats.lastFlushUnix.Store(time.Now().Unix())
	metrics.SetBufferDepth(bufferNamePoints, f.points.Len())
	metrics.SetBufferDepth(bufferNameRaw, f.raw.Len())
}

// Drain repeats flush cycles until both buffers are empty. Used during
// graceful shutdown. The loop carries no timeout of its own; with the store
// down it keeps retrying until the caller cancels the context.
func (f *Flusher) Drain(ctx context.Context) {
	for f.points.Len() > 0 || f.raw.Len() > 0 {
		f.FlushCycle(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// flushQueue drains one batch and writes it with bounded exponential-backoff
// retry. On exhaustion the batch is requeued at the head, or shed at the
// capacity ceiling.
func flushQueue[T any](ctx context.Context, f *Flusher, name string, q *Queue[T], write func(context.Context, []T) error, inserted func(int)) {
	batch := q.DrainUpTo(f.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}

	err := writeWithRetry(ctx, f, name, batch, write)
	if err == nil {
		inserted(len(batch))
		return
	}

	f.stats.FlushErrors.Add(1)
	if q.Requeue(batch) {
		f.logger.Printf("flusher: %s flush failed, batch requeued: size=%d err=%v", name, len(batch), err)
		return
	}
	f.stats.BatchesShed.Add(1)
	metrics.IncBatchShed(name)
	f.logger.Printf("flusher: %s buffer at capacity, batch dropped (data loss): size=%d err=%v", name, len(batch), err)
}

// writeWithRetry performs the initial write plus up to MaxRetries identical
// retries, delaying BaseDelay*2^(attempt-1) before each retry.
func writeWithRetry[T any](ctx context.Context, f *Flusher, name string, batch []T, write func(context.Context, []T) error) error {
	var err error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return err
			}
		}
		start := time.Now()
		err = write(ctx, batch)
		if err == nil {
			metrics.ObserveFlush(name, "success", time.Since(start))
			return nil
		}
		metrics.ObserveFlush(name, "error", time.Since(start))
		f.logger.Printf("flusher: %s write attempt %d failed: size=%d err=%v", name, attempt+1, len(batch), err)
	}
	return err
}

// Stats are the cumulative pipeline counters projected by the status
// endpoint.
type Stats struct {
	MessagesReceived atomic.Uint64
	MessagesDropped  atomic.Uint64
	DecodeErrors     atomic.Uint64
	PointsBuffered   atomic.Uint64
	PointsInserted   atomic.Uint64
	RawInserted      atomic.Uint64
	FlushErrors      atomic.Uint64
	BatchesShed      atomic.Uint64

	lastFlushUnix atomic.Int64
}

// LastFlush returns the wall time of the most recent flush cycle.
func (s *Stats) LastFlush() time.Time {
	unix := s.lastFlushUnix.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
