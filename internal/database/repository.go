package database

import (
	"context"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// TenantRepository provides access to tenant records.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByDomainUUID(ctx context.Context, domainUUID string) (*models.Tenant, error)
	Create(ctx context.Context, t *models.Tenant) error
}

// CredentialRepository provides access to per-tenant webhook credentials.
type CredentialRepository interface {
	GetByTenant(ctx context.Context, tenantID string) (*models.WebhookCredential, error)
	Upsert(ctx context.Context, c *models.WebhookCredential) error
}

// DidNumberRepository provides access to DID records.
type DidNumberRepository interface {
	// GetByNumber resolves a dialed E.164 number across tenants. This is
	// the single deliberately unscoped lookup: tenant identity on the
	// voice webhook is implied by the dialed number itself.
	GetByNumber(ctx context.Context, number string) (*models.DidNumber, error)

	GetForTenant(ctx context.Context, tenantID, number string) (*models.DidNumber, error)
	Create(ctx context.Context, d *models.DidNumber) error
	UpdateRouting(ctx context.Context, tenantID string, id int64, routingType, routingConfig string) error
}

// ExtensionRepository provides access to extension records, scoped by tenant.
type ExtensionRepository interface {
	GetByNumber(ctx context.Context, tenantID, extension string) (*models.Extension, error)
	GetByID(ctx context.Context, tenantID string, id int64) (*models.Extension, error)
	Create(ctx context.Context, e *models.Extension) error
}

// MemberSnapshot is one ring-group member joined with its extension record,
// ordered by priority.
type MemberSnapshot struct {
	Extension models.Extension
	Priority  int
}

// RingGroupRepository provides access to ring groups and their member sets.
type RingGroupRepository interface {
	GetByID(ctx context.Context, tenantID string, id int64) (*models.RingGroup, error)

	// ListMembers returns the group's members joined with their extension
	// records, ordered by priority then id.
	ListMembers(ctx context.Context, groupID int64) ([]MemberSnapshot, error)

	// ReplaceMembers swaps the full member set in a single transaction.
	// Callers must hold the group's ConcurrencyGuard lock for the duration.
	ReplaceMembers(ctx context.Context, groupID int64, members []models.RingGroupMember) error

	// AdvanceRoundRobin atomically increments the group's rotating start
	// offset modulo memberCount and returns the offset to use for this call.
	AdvanceRoundRobin(ctx context.Context, groupID int64, memberCount int) (int, error)

	Create(ctx context.Context, g *models.RingGroup) error
}

// ScheduleRepository provides access to business-hours schedules, loaded
// complete with days, ranges and exceptions.
type ScheduleRepository interface {
	GetByID(ctx context.Context, tenantID string, id int64) (*models.BusinessHoursSchedule, error)
	Create(ctx context.Context, s *models.BusinessHoursSchedule) error
}

// ConferenceRoomRepository provides access to conference room records.
type ConferenceRoomRepository interface {
	GetByID(ctx context.Context, tenantID string, id int64) (*models.ConferenceRoom, error)
	Create(ctx context.Context, c *models.ConferenceRoom) error
}
