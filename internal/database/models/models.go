package models

import "time"

// Tenant is the isolation boundary. Every other entity carries a tenant id
// and all lookups are scoped by it.
type Tenant struct {
	ID         string // uuid
	Name       string
	DomainUUID string // platform-issued domain identifier, carried in CDR payloads
	Timezone   string
	CreatedAt  time.Time
}

// WebhookCredential holds the per-tenant bearer token used to authenticate
// real-time call-control webhooks. The token is stored as an Argon2id hash.
type WebhookCredential struct {
	TenantID  string
	TokenHash string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Routing types a DID can carry.
const (
	RoutingTypeExtension      = "extension"
	RoutingTypeRingGroup      = "ring_group"
	RoutingTypeBusinessHours  = "business_hours"
	RoutingTypeConferenceRoom = "conference_room"
)

// DidNumber is a dialable external number. The number itself is immutable
// once created; the routing target is not.
type DidNumber struct {
	ID            int64
	TenantID      string
	Number        string // E.164
	RoutingType   string
	RoutingConfig string // JSON, parsed once into a RoutingTarget at load
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Extension kinds.
const (
	ExtensionKindUser        = "user"
	ExtensionKindConference  = "conference"
	ExtensionKindRingGroup   = "ring_group"
	ExtensionKindIVR         = "ivr"
	ExtensionKindAIAssistant = "ai_assistant"
	ExtensionKindForward     = "forward"
	ExtensionKindCustomLogic = "custom_logic"
)

// Extension is an internal addressable endpoint. Lookup key is
// (tenant, extension number).
type Extension struct {
	ID            int64
	TenantID      string
	Extension     string
	Name          string
	Kind          string
	Active        bool
	Configuration string // JSON, shape depends on Kind
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ring group distribution strategies.
const (
	StrategySimultaneous = "simultaneous"
	StrategyRoundRobin   = "round_robin"
	StrategySequential   = "sequential"
)

// RingGroup distributes a call across a set of member extensions.
type RingGroup struct {
	ID             int64
	TenantID       string
	Name           string
	Strategy       string
	RingTimeout    int // seconds per ring attempt
	RingTurns      int
	FallbackAction string // routing type to fall back to, empty for none
	FallbackTarget string
	RROffset       int // rotating start offset for round_robin
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RingGroupMember links an extension into a ring group with an ordering
// priority. Members are replaced as a complete set on administrative update.
type RingGroupMember struct {
	ID          int64
	RingGroupID int64
	ExtensionID int64
	Priority    int
}

// Schedule statuses.
const (
	ScheduleActive   = "active"
	ScheduleInactive = "inactive"
)

// BusinessHoursSchedule is a weekly open/closed timetable with date
// exceptions, evaluated in the schedule's timezone.
type BusinessHoursSchedule struct {
	ID           int64
	TenantID     string
	Name         string
	Status       string
	Timezone     string
	OpenAction   string
	OpenTarget   string
	ClosedAction string
	ClosedTarget string
	Days         []ScheduleDay
	Exceptions   []ScheduleException
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduleDay is one weekday entry of the weekly schedule.
type ScheduleDay struct {
	Weekday time.Weekday
	Enabled bool
	Ranges  []TimeRange
}

// TimeRange is a local-time interval, start inclusive, end exclusive.
// Times are minutes since midnight; start < end (overnight hours are
// expressed as two ranges).
type TimeRange struct {
	StartMin int
	EndMin   int
}

// Exception kinds.
const (
	ExceptionClosed       = "closed"
	ExceptionSpecialHours = "special_hours"
)

// ScheduleException overrides the weekly schedule for one calendar date.
// At most one exception exists per (schedule, date).
type ScheduleException struct {
	ID     int64
	Date   string // YYYY-MM-DD in the schedule's timezone
	Name   string
	Kind   string
	Ranges []TimeRange // only for special_hours
}

// ConferenceRoom is a dial-in conference destination.
type ConferenceRoom struct {
	ID        int64
	TenantID  string
	Name      string
	Extension string
	Active    bool
	CreatedAt time.Time
}

// CDREvent is a call detail record delivered by the platform, archived
// verbatim alongside the parsed summary fields.
type CDREvent struct {
	ID          int64
	TenantID    string
	CallID      string
	Direction   string
	Caller      string
	Callee      string
	StartTime   *time.Time
	AnswerTime  *time.Time
	EndTime     *time.Time
	Duration    *int
	Disposition string
	Raw         string // full JSON payload
	ReceivedAt  time.Time
}
