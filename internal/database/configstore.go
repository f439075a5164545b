package database

import (
	"context"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// ConfigStore bundles the repositories behind the read surface the routing
// resolver consumes. The cache layer wraps this with read-through caching.
type ConfigStore struct {
	dids        DidNumberRepository
	extensions  ExtensionRepository
	schedules   ScheduleRepository
	ringGroups  RingGroupRepository
	conferences ConferenceRoomRepository
}

// NewConfigStore creates the uncached configuration read surface.
func NewConfigStore(db *DB) *ConfigStore {
	return &ConfigStore{
		dids:        NewDidNumberRepository(db),
		extensions:  NewExtensionRepository(db),
		schedules:   NewScheduleRepository(db),
		ringGroups:  NewRingGroupRepository(db),
		conferences: NewConferenceRoomRepository(db),
	}
}

func (s *ConfigStore) DidByNumber(ctx context.Context, tenantID, number string) (*models.DidNumber, error) {
	return s.dids.GetForTenant(ctx, tenantID, number)
}

func (s *ConfigStore) ExtensionByNumber(ctx context.Context, tenantID, extension string) (*models.Extension, error) {
	return s.extensions.GetByNumber(ctx, tenantID, extension)
}

func (s *ConfigStore) ScheduleByID(ctx context.Context, tenantID string, id int64) (*models.BusinessHoursSchedule, error) {
	return s.schedules.GetByID(ctx, tenantID, id)
}

func (s *ConfigStore) RingGroupByID(ctx context.Context, tenantID string, id int64) (*models.RingGroup, error) {
	return s.ringGroups.GetByID(ctx, tenantID, id)
}

func (s *ConfigStore) RingGroupMembers(ctx context.Context, groupID int64) ([]MemberSnapshot, error) {
	return s.ringGroups.ListMembers(ctx, groupID)
}

func (s *ConfigStore) ConferenceRoomByID(ctx context.Context, tenantID string, id int64) (*models.ConferenceRoom, error) {
	return s.conferences.GetByID(ctx, tenantID, id)
}

func (s *ConfigStore) AdvanceRoundRobin(ctx context.Context, groupID int64, memberCount int) (int, error) {
	return s.ringGroups.AdvanceRoundRobin(ctx, groupID, memberCount)
}
