package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	masterdata "sitesense-collector/internal/masterdata/domain"
	"sitesense-collector/internal/observability/metrics"
	telemetry "sitesense-collector/internal/telemetry/domain"
)

const heartbeatTimeout = 5 * time.Second

// DeviceResolver resolves external device ids to internal identities with an
// in-memory cache and optional auto-registration against a fallback site.
//
// Cached identities normally live for the process lifetime. An optional TTL
// and the Invalidate hook exist so an out-of-band site reassignment can be
// picked up without a restart.
type DeviceResolver struct {
	repo           masterdata.DeviceRepository
	fallbackSiteID string
	ttl            time.Duration
	logger         *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	wg sync.WaitGroup

	autoRegistered atomic.Uint64
	resolveErrors  atomic.Uint64
}

type cacheEntry struct {
	identity   masterdata.Identity
	resolvedAt time.Time
}

// ResolverOption configures the resolver.
type ResolverOption func(*DeviceResolver)

// WithCacheTTL bounds how long a cached identity is trusted. Zero keeps
// entries for the process lifetime.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *DeviceResolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewDeviceResolver constructs a resolver. An empty fallbackSiteID disables
// auto-registration: unknown devices then resolve to nothing and their
// telemetry is dropped by the caller.
func NewDeviceResolver(repo masterdata.DeviceRepository, fallbackSiteID string, logger *log.Logger, opts ...ResolverOption) (*DeviceResolver, error) {
	if repo == nil {
		return nil, errors.New("device resolver: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &DeviceResolver{
		repo:           repo,
		fallbackSiteID: fallbackSiteID,
		logger:         logger,
		cache:          make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the internal identity for a descriptor. The second return
// is false when the device is unknown and no fallback site is configured, or
// when registry I/O fails; either way the message's telemetry must be
// dropped and the pipeline continues.
func (r *DeviceResolver) Resolve(ctx context.Context, desc telemetry.DeviceDescriptor) (masterdata.Identity, bool) {
	if r == nil || desc.ExternalID == "" {
		return masterdata.Identity{}, false
	}
	key := desc.ExternalID + "\x00" + desc.Broker

	r.mu.Lock()
	entry, cached := r.cache[key]
	if cached && r.expired(entry) {
		delete(r.cache, key)
		cached = false
	}
	r.mu.Unlock()
	if cached {
		return entry.identity, true
	}

	device, err := r.repo.FindByExternal(ctx, desc.ExternalID, desc.Broker)
	if err != nil {
		r.resolveErrors.Add(1)
		metrics.IncResolveError("lookup")
		r.logger.Printf("device resolver: lookup error: external_id=%s broker=%s err=%v", desc.ExternalID, desc.Broker, err)
		return masterdata.Identity{}, false
	}

	if device == nil {
		device, err = r.register(ctx, desc)
		if err != nil {
			r.resolveErrors.Add(1)
			metrics.IncResolveError("register")
			r.logger.Printf("device resolver: register error: external_id=%s err=%v", desc.ExternalID, err)
			return masterdata.Identity{}, false
		}
		if device == nil {
			return masterdata.Identity{}, false
		}
	} else {
		r.wg.Add(1)
		go r.updateHeartbeat(device.ID, desc)
	}

	identity := masterdata.Identity{DeviceID: device.ID, SiteID: device.SiteID}
	r.mu.Lock()
	r.cache[key] = cacheEntry{identity: identity, resolvedAt: time.Now()}
	r.mu.Unlock()
	return identity, true
}

// register inserts a new registry record bound to the fallback site.
// Returns (nil, nil) when auto-registration is disabled.
func (r *DeviceResolver) register(ctx context.Context, desc telemetry.DeviceDescriptor) (*masterdata.Device, error) {
	if r.fallbackSiteID == "" {
		return nil, nil
	}
	now := time.Now().UTC()
	device := &masterdata.Device{
		ID:         masterdata.NewDeviceID(),
		SiteID:     r.fallbackSiteID,
		ExternalID: desc.ExternalID,
		Broker:     desc.Broker,
		Model:      desc.Model,
		DeviceType: string(desc.DeviceType),
		Name:       masterdata.DisplayName(desc.Model, desc.ExternalID),
		Status:     masterdata.DeviceStatusOnline,
		SignalRSSI: desc.RSSI,
		LastSeenAt: now,
	}
	if err := r.repo.Insert(ctx, device); err != nil {
		return nil, err
	}
	r.autoRegistered.Add(1)
	metrics.IncDeviceAutoRegistered()
	r.logger.Printf("device resolver: auto-registered device: name=%s site=%s", device.Name, device.SiteID)
	return device, nil
}

// updateHeartbeat is the named background task refreshing last-seen, status,
// signal and model after a cache-miss lookup. Its failure is logged and never
// affects resolution.
func (r *DeviceResolver) updateHeartbeat(deviceID string, desc telemetry.DeviceDescriptor) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
	defer cancel()
	hb := masterdata.Heartbeat{
		Status: masterdata.DeviceStatusOnline,
		RSSI:   desc.RSSI,
		Model:  desc.Model,
		SeenAt: time.Now().UTC(),
	}
	if err := r.repo.UpdateHeartbeat(ctx, deviceID, hb); err != nil {
		r.logger.Printf("device resolver: heartbeat update failed: device=%s err=%v", deviceID, err)
	}
}

// Invalidate drops one cached identity so the next message re-resolves it.
func (r *DeviceResolver) Invalidate(externalID, broker string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, externalID+"\x00"+broker)
	r.mu.Unlock()
}

// Close waits for in-flight heartbeat tasks.
func (r *DeviceResolver) Close() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// CacheSize reports the number of cached identities.
func (r *DeviceResolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// AutoRegistered reports the cumulative auto-registration count.
func (r *DeviceResolver) AutoRegistered() uint64 {
	return r.autoRegistered.Load()
}

// Errors reports the cumulative resolve error count.
func (r *DeviceResolver) Errors() uint64 {
	return r.resolveErrors.Load()
}

func (r *DeviceResolver) expired(entry cacheEntry) bool {
	if r.ttl <= 0 {
		return false
	}
	return time.Since(entry.resolvedAt) > r.ttl
}
