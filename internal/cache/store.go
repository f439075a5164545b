package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// Stats receives cache hit/miss observations. The metrics package provides
// the Prometheus-backed implementation.
type Stats interface {
	CacheHit(entity string)
	CacheMiss(entity string)
}

type noopStats struct{}

func (noopStats) CacheHit(string)  {}
func (noopStats) CacheMiss(string) {}

// Store decorates a ConfigStore with read-through caching. Positive
// results are cached with a TTL; misses and the mutable ring-group member
// path always go to the underlying store.
type Store struct {
	next    routing.ConfigStore
	backend Backend
	stats   Stats
	logger  *slog.Logger

	extensionTTL time.Duration
	scheduleTTL  time.Duration
}

var _ routing.ConfigStore = (*Store)(nil)

// NewStore wraps next with the cache backend. extensionTTL covers DID and
// extension entries; scheduleTTL covers schedules, ring groups and
// conference rooms.
func NewStore(next routing.ConfigStore, backend Backend, extensionTTL, scheduleTTL time.Duration, logger *slog.Logger) *Store {
	return &Store{
		next:         next,
		backend:      backend,
		stats:        noopStats{},
		logger:       logger.With("subsystem", "config_cache"),
		extensionTTL: extensionTTL,
		scheduleTTL:  scheduleTTL,
	}
}

// SetStats wires hit/miss observation. Call before serving traffic.
func (s *Store) SetStats(stats Stats) {
	if stats != nil {
		s.stats = stats
	}
}

// readThrough serves key from the cache when possible, loading and caching
// on miss. Backend failures degrade to the loader; a nil load result is
// passed through uncached.
func readThrough[T any](ctx context.Context, s *Store, entity, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("config cache degraded", "op", "get", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			s.stats.CacheHit(entity)
			return &v, nil
		}
		// Unreadable entry: drop it and reload.
		_ = s.backend.Delete(ctx, key)
	}
	s.stats.CacheMiss(entity)

	v, err := load(ctx)
	if err != nil || v == nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := s.backend.Set(ctx, key, data, ttl); err != nil {
			s.logger.Warn("config cache degraded", "op", "set", "key", key, "error", err)
		}
	}
	return v, nil
}

func (s *Store) DidByNumber(ctx context.Context, tenantID, number string) (*models.DidNumber, error) {
	return readThrough(ctx, s, "did", didKey(tenantID, number), s.extensionTTL,
		func(ctx context.Context) (*models.DidNumber, error) {
			return s.next.DidByNumber(ctx, tenantID, number)
		})
}

func (s *Store) ExtensionByNumber(ctx context.Context, tenantID, extension string) (*models.Extension, error) {
	return readThrough(ctx, s, "extension", extensionKey(tenantID, extension), s.extensionTTL,
		func(ctx context.Context) (*models.Extension, error) {
			return s.next.ExtensionByNumber(ctx, tenantID, extension)
		})
}

func (s *Store) ScheduleByID(ctx context.Context, tenantID string, id int64) (*models.BusinessHoursSchedule, error) {
	return readThrough(ctx, s, "schedule", scheduleKey(tenantID, id), s.scheduleTTL,
		func(ctx context.Context) (*models.BusinessHoursSchedule, error) {
			return s.next.ScheduleByID(ctx, tenantID, id)
		})
}

func (s *Store) RingGroupByID(ctx context.Context, tenantID string, id int64) (*models.RingGroup, error) {
	return readThrough(ctx, s, "ring_group", ringGroupKey(tenantID, id), s.scheduleTTL,
		func(ctx context.Context) (*models.RingGroup, error) {
			return s.next.RingGroupByID(ctx, tenantID, id)
		})
}

func (s *Store) ConferenceRoomByID(ctx context.Context, tenantID string, id int64) (*models.ConferenceRoom, error) {
	return readThrough(ctx, s, "conference", conferenceKey(tenantID, id), s.scheduleTTL,
		func(ctx context.Context) (*models.ConferenceRoom, error) {
			return s.next.ConferenceRoomByID(ctx, tenantID, id)
		})
}

// RingGroupMembers is never cached: the member set mutates under the group
// lock and the routing path must observe replacements immediately.
func (s *Store) RingGroupMembers(ctx context.Context, groupID int64) ([]database.MemberSnapshot, error) {
	return s.next.RingGroupMembers(ctx, groupID)
}

// AdvanceRoundRobin passes through: the rotating offset is live state.
func (s *Store) AdvanceRoundRobin(ctx context.Context, groupID int64, memberCount int) (int, error) {
	return s.next.AdvanceRoundRobin(ctx, groupID, memberCount)
}

// InvalidateTenant drops every cached entry for a tenant.
func (s *Store) InvalidateTenant(ctx context.Context, tenantID string) error {
	return s.backend.DeletePrefix(ctx, tenantPrefix(tenantID))
}

// InvalidateDid drops one cached DID entry.
func (s *Store) InvalidateDid(ctx context.Context, tenantID, number string) error {
	return s.backend.Delete(ctx, didKey(tenantID, number))
}

// InvalidateExtension drops one cached extension entry.
func (s *Store) InvalidateExtension(ctx context.Context, tenantID, extension string) error {
	return s.backend.Delete(ctx, extensionKey(tenantID, extension))
}

// InvalidateSchedule drops one cached schedule aggregate.
func (s *Store) InvalidateSchedule(ctx context.Context, tenantID string, id int64) error {
	return s.backend.Delete(ctx, scheduleKey(tenantID, id))
}

// InvalidateRingGroup drops one cached ring group entry.
func (s *Store) InvalidateRingGroup(ctx context.Context, tenantID string, id int64) error {
	return s.backend.Delete(ctx, ringGroupKey(tenantID, id))
}

// InvalidateConference drops one cached conference room entry.
func (s *Store) InvalidateConference(ctx context.Context, tenantID string, id int64) error {
	return s.backend.Delete(ctx, conferenceKey(tenantID, id))
}
