package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

type fakePointRepo struct {
	mu       sync.Mutex
	inserted [][]telemetry.TelemetryPoint
	failures int
}

func (f *fakePointRepo) InsertPoints(_ context.Context, points []telemetry.TelemetryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}
	batch := make([]telemetry.TelemetryPoint, len(points))
	copy(batch, points)
	f.inserted = append(f.inserted, batch)
	return nil
}

func (f *fakePointRepo) insertedBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeRawRepo struct {
	mu       sync.Mutex
	inserted int
	err      error
}

func (f *fakeRawRepo) InsertRawMessages(_ context.Context, messages []telemetry.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted += len(messages)
	return nil
}

func testFlusher(t *testing.T, cfg FlushConfig, raw *Queue[telemetry.RawMessage], points *Queue[telemetry.TelemetryPoint], rawRepo telemetry.RawMessageRepository, pointRepo telemetry.PointRepository) *Flusher {
	t.Helper()
	f, err := NewFlusher(cfg, raw, points, rawRepo, pointRepo, log.New(log.Writer(), "", 0), &Stats{})
	if err != nil {
		t.Fatalf("new flusher: %v", err)
	}
	return f
}

func point(metric string, value float64) telemetry.TelemetryPoint {
	return telemetry.TelemetryPoint{DeviceID: "d", SiteID: "s", TS: time.Now().UTC(), Metric: metric, Value: value}
}

func TestFlushCycleWritesBoundedBatches(t *testing.T) {
	raw := NewQueue[telemetry.RawMessage](100)
	points := NewQueue[telemetry.TelemetryPoint](100)
	for i := 0; i < 7; i++ {
		points.Append(point("iaq.co2", float64(i)))
	}
	repo := &fakePointRepo{}
	f := testFlusher(t, FlushConfig{BatchSize: 5, MaxRetries: 1, BaseDelay: time.Millisecond, Interval: time.Hour}, raw, points, &fakeRawRepo{}, repo)

	f.FlushCycle(context.Background())
	if len(repo.inserted) != 1 || len(repo.inserted[0]) != 5 {
		t.Fatalf("first cycle: got %d batches", len(repo.inserted))
	}
	if points.Len() != 2 {
		t.Fatalf("remaining: got %d", points.Len())
	}

	f.FlushCycle(context.Background())
	if len(repo.inserted) != 2 || len(repo.inserted[1]) != 2 {
		t.Fatalf("second cycle: got %v", repo.inserted)
	}
	if f.stats.PointsInserted.Load() != 7 {
		t.Fatalf("inserted counter: got %d", f.stats.PointsInserted.Load())
	}
	if f.stats.LastFlush().IsZero() {
		t.Fatalf("last flush not recorded")
	}
}

func TestFlushRetriesThenSucceeds(t *testing.T) {
	raw := NewQueue[telemetry.RawMessage](100)
	points := NewQueue[telemetry.TelemetryPoint](100)
	points.Append(point("iaq.co2", 1))
	repo := &fakePointRepo{failures: 2}
	f := testFlusher(t, FlushConfig{BatchSize: 10, MaxRetries: 3, BaseDelay: time.Millisecond, Interval: time.Hour}, raw, points, &fakeRawRepo{}, repo)

	f.FlushCycle(context.Background())
	if repo.insertedBatches() != 1 {
		t.Fatalf("batch not inserted after retries")
	}
	if points.Len() != 0 {
		t.Fatalf("buffer should be empty, len=%d", points.Len())
	}
	if f.stats.FlushErrors.Load() != 0 {
		t.Fatalf("recovered flush must not count as exhausted, errors=%d", f.stats.FlushErrors.Load())
	}
}

func TestFlushBackoffDelaysDouble(t *testing.T) {
	raw := NewQueue[telemetry.RawMessage](100)
	points := NewQueue[telemetry.TelemetryPoint](100)
	points.Append(point("iaq.co2", 1))
	repo := &fakePointRepo{failures: 100}
	base := 10 * time.Millisecond
	f := testFlusher(t, FlushConfig{BatchSize: 10, MaxRetries: 3, BaseDelay: base, Interval: time.Hour}, raw, points, &fakeRawRepo{}, repo)

	start := time.Now()
	f.FlushCycle(context.Background())
	elapsed := time.Since(start)

	// Delays are base, 2·base, 4·base across the three retries.
	if want := 7 * base; elapsed < want {
		t.Fatalf("backoff too short: elapsed=%v want>=%v", elapsed, want)
	}
	if points.Len() != 1 {
		t.Fatalf("failed batch must be requeued, len=%d", points.Len())
	}
	if f.stats.FlushErrors.Load() != 1 {
		t.Fatalf("flush errors: got %d", f.stats.FlushErrors.Load())
	}
}

func TestFlushShedsBatchAtCeiling(t *testing.T) {
	raw := NewQueue[telemetry.RawMessage](10)
	points := NewQueue[telemetry.TelemetryPoint](4)
	for i := 0; i < 4; i++ {
		points.Append(point("iaq.co2", float64(i)))
	}
	repo := &fakePointRepo{failures: 100}
	f := testFlusher(t, FlushConfig{BatchSize: 2, MaxRetries: 1, BaseDelay: 50 * time.Millisecond, Interval: time.Hour}, raw, points, &fakeRawRepo{}, repo)

	// Refill the buffer while the failing write backs off, so the drained
	// batch no longer fits when it comes back.
	go func() {
		time.Sleep(5 * time.Millisecond)
		points.Append(point("iaq.co2", 98))
		points.Append(point("iaq.co2", 99))
	}()
	f.FlushCycle(context.Background())

	if points.Len() > 4 {
		t.Fatalf("buffer exceeded ceiling: len=%d", points.Len())
	}
	if f.stats.BatchesShed.Load() != 1 {
		t.Fatalf("batches shed: got %d", f.stats.BatchesShed.Load())
	}
}

func TestDrainEmptiesBothBuffers(t *testing.T) {
	raw := NewQueue[telemetry.RawMessage](100)
	points := NewQueue[telemetry.TelemetryPoint](100)
	for i := 0; i < 12; i++ {
		points.Append(point("iaq.co2", float64(i)))
	}
	for i := 0; i < 3; i++ {
		raw.Append(telemetry.RawMessage{Broker: "b", Topic: "t", ReceivedAt: time.Now()})
	}
	pointRepo := &fakePointRepo{}
	rawRepo := &fakeRawRepo{}
	f := testFlusher(t, FlushConfig{BatchSize: 5, MaxRetries: 1, BaseDelay: time.Millisecond, Interval: time.Hour}, raw, points, rawRepo, pointRepo)

	f.Drain(context.Background())
	if points.Len() != 0 || raw.Len() != 0 {
		t.Fatalf("buffers not empty: points=%d raw=%d", points.Len(), raw.Len())
	}
	if rawRepo.inserted != 3 {
		t.Fatalf("raw inserted: got %d", rawRepo.inserted)
	}
	if f.stats.PointsInserted.Load() != 12 {
		t.Fatalf("points inserted: got %d", f.stats.PointsInserted.Load())
	}
}
