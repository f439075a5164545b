package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/schedule"
)

// maxDepth caps routing recursion. A business-hours action may point at
// another routing kind once; beyond that the configuration is cyclic or
// broken and the call fails instead of looping.
const maxDepth = 2

// Direction of the inbound leg.
const (
	DirectionInbound  = "inbound"
	DirectionInternal = "internal"
)

// ConfigStore is the read surface the resolver needs. The cache package
// provides a read-through decorator with the same shape; correctness must
// not depend on which one is wired.
type ConfigStore interface {
	DidByNumber(ctx context.Context, tenantID, number string) (*models.DidNumber, error)
	ExtensionByNumber(ctx context.Context, tenantID, extension string) (*models.Extension, error)
	ScheduleByID(ctx context.Context, tenantID string, id int64) (*models.BusinessHoursSchedule, error)
	RingGroupByID(ctx context.Context, tenantID string, id int64) (*models.RingGroup, error)
	RingGroupMembers(ctx context.Context, groupID int64) ([]database.MemberSnapshot, error)
	ConferenceRoomByID(ctx context.Context, tenantID string, id int64) (*models.ConferenceRoom, error)
	AdvanceRoundRobin(ctx context.Context, groupID int64, memberCount int) (int, error)
}

// Locker provides bounded mutual exclusion keyed by string. Acquire blocks
// until the lock is held or the context expires; the returned function
// releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Request describes one routing computation.
type Request struct {
	TenantID  string
	Dialed    string // E.164 number or internal extension string
	Direction string // DirectionInbound or DirectionInternal
	CallID    string
	At        time.Time
}

// Resolver turns a dialed identifier into a routing Decision.
type Resolver struct {
	store    ConfigStore
	guard    Locker
	lockWait time.Duration
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store ConfigStore, guard Locker, lockWait time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		guard:    guard,
		lockWait: lockWait,
		logger:   logger.With("subsystem", "resolver"),
	}
}

var (
	e164Pattern      = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	extensionPattern = regexp.MustCompile(`^\d{2,7}$`)
)

// Resolve computes the routing decision for a request. Classified errors
// describe why routing failed; the handler converts them to a call-control
// document.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if req.TenantID == "" {
		return Decision{}, Errf(KindConfigurationError, "missing tenant id")
	}

	switch req.Direction {
	case DirectionInternal:
		ext, err := r.store.ExtensionByNumber(ctx, req.TenantID, req.Dialed)
		if err != nil {
			return Decision{}, fmt.Errorf("loading extension %q: %w", req.Dialed, err)
		}
		if ext == nil {
			return Decision{}, Errf(KindNotFound, "extension %s not found", req.Dialed)
		}
		return r.resolveExtension(ctx, req, ext, 0)

	default:
		did, err := r.store.DidByNumber(ctx, req.TenantID, req.Dialed)
		if err != nil {
			return Decision{}, fmt.Errorf("loading did %q: %w", req.Dialed, err)
		}
		if did == nil {
			return Decision{}, Errf(KindNotFound, "number %s not found", req.Dialed)
		}
		if !did.Active {
			return Decision{}, Errf(KindUnavailable, "number %s is disabled", req.Dialed)
		}
		if did.TenantID != req.TenantID {
			return Decision{}, Errf(KindConfigurationError, "number %s belongs to another tenant", req.Dialed)
		}

		target, err := models.ParseRoutingTarget(did.RoutingType, did.RoutingConfig)
		if err != nil {
			return Decision{}, Wrap(KindConfigurationError, err, "malformed routing config")
		}
		return r.resolveTarget(ctx, req, target, 0)
	}
}

// resolveTarget dispatches over the closed routing-target variant set.
// Every variant is handled; an unknown dynamic type is a configuration
// error, never silently ignored.
func (r *Resolver) resolveTarget(ctx context.Context, req Request, target models.RoutingTarget, depth int) (Decision, error) {
	if depth > maxDepth {
		return Decision{}, Errf(KindConfigurationError, "routing recursion exceeds depth %d", maxDepth)
	}

	switch t := target.(type) {
	case models.ExtensionTarget:
		ext, err := r.store.ExtensionByNumber(ctx, req.TenantID, t.ExtensionNumber)
		if err != nil {
			return Decision{}, fmt.Errorf("loading extension %q: %w", t.ExtensionNumber, err)
		}
		if ext == nil {
			return Decision{}, Errf(KindConfigurationError, "routing references missing extension %s", t.ExtensionNumber)
		}
		return r.resolveExtension(ctx, req, ext, depth)

	case models.RingGroupTarget:
		return r.resolveRingGroup(ctx, req, t.RingGroupID, depth)

	case models.ScheduleTarget:
		return r.resolveSchedule(ctx, req, t.ScheduleID, depth)

	case models.ConferenceTarget:
		return r.resolveConference(ctx, req, t.ConferenceRoomID)

	case models.ServiceTarget:
		if t.URL == "" {
			return Decision{}, Errf(KindUnavailable, "provider not configured")
		}
		svc := t
		return Decision{
			Action:   ActionDialService,
			TenantID: req.TenantID,
			Service:  &svc,
			Reason:   fmt.Sprintf("handed to %s provider", t.ServiceKind),
		}, nil

	case models.ForwardTarget:
		return r.resolveForward(ctx, req, t.Destination)

	case models.SIPTarget:
		if t.Address == "" {
			return Decision{}, Errf(KindUnavailable, "extension has no service address")
		}
		return Decision{
			Action:   ActionDialSIP,
			TenantID: req.TenantID,
			SIPURI:   t.Address,
			Reason:   "direct service address",
		}, nil

	default:
		return Decision{}, Errf(KindConfigurationError, "unhandled routing target %T", target)
	}
}

// resolveExtension routes to an extension according to its kind.
func (r *Resolver) resolveExtension(ctx context.Context, req Request, ext *models.Extension, depth int) (Decision, error) {
	if ext.TenantID != req.TenantID {
		return Decision{}, Errf(KindConfigurationError, "extension %s belongs to another tenant", ext.Extension)
	}
	if !ext.Active {
		return Decision{}, Errf(KindUnavailable, "extension %s is inactive", ext.Extension)
	}

	target, err := models.ParseExtensionTarget(ext)
	if err != nil {
		return Decision{}, Wrap(KindConfigurationError, err, "malformed extension config")
	}

	// User extensions ring directly; everything else re-enters the
	// variant dispatch.
	if sip, ok := target.(models.SIPTarget); ok {
		if sip.Address == "" {
			return Decision{}, Errf(KindUnavailable, "extension %s has no service address", ext.Extension)
		}
		return Decision{
			Action:     ActionDialExtensions,
			TenantID:   req.TenantID,
			Extensions: []string{ext.Extension},
			Reason:     fmt.Sprintf("ringing extension %s", ext.Extension),
		}, nil
	}

	return r.resolveTarget(ctx, req, target, depth+1)
}

// resolveRingGroup computes the ring plan for a group under its lock so a
// concurrent member replacement is never observed half-done. On lock
// timeout the group's fallback applies instead of blocking the call.
func (r *Resolver) resolveRingGroup(ctx context.Context, req Request, groupID int64, depth int) (Decision, error) {
	group, err := r.store.RingGroupByID(ctx, req.TenantID, groupID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading ring group %d: %w", groupID, err)
	}
	if group == nil {
		return Decision{}, Errf(KindConfigurationError, "routing references missing ring group %d", groupID)
	}

	dist, err := r.distributeLocked(ctx, req, group)
	if err != nil {
		if KindOf(err) == KindLockTimeout && group.FallbackAction != "" {
			r.logger.Warn("ring group lock timed out, taking fallback",
				"call_id", req.CallID,
				"tenant_id", req.TenantID,
				"ring_group_id", group.ID,
			)
			return r.resolveAction(ctx, req, group.FallbackAction, group.FallbackTarget, depth)
		}
		return Decision{}, err
	}

	if len(dist.Extensions) == 0 {
		if group.FallbackAction != "" {
			return r.resolveAction(ctx, req, group.FallbackAction, group.FallbackTarget, depth)
		}
		return Decision{}, Errf(KindUnavailable, "ring group %s has no active members", group.Name)
	}

	return Decision{
		Action:     ActionDialExtensions,
		TenantID:   req.TenantID,
		Extensions: dist.Extensions,
		Sequential: dist.Sequential,
		Timeout:    dist.Timeout,
		Turns:      dist.Turns,
		Reason:     fmt.Sprintf("ring group %s (%s)", group.Name, group.Strategy),
	}, nil
}

// distributeLocked reads the member snapshot and computes the distribution
// while holding the group lock with a bounded wait.
func (r *Resolver) distributeLocked(ctx context.Context, req Request, group *models.RingGroup) (Distribution, error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	defer cancel()

	release, err := r.guard.Acquire(lockCtx, GroupLockKey(group.TenantID, group.ID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Distribution{}, Errf(KindLockTimeout, "ring group %d lock not acquired within %s", group.ID, r.lockWait)
		}
		return Distribution{}, fmt.Errorf("acquiring ring group lock: %w", err)
	}
	defer release()

	members, err := r.store.RingGroupMembers(ctx, group.ID)
	if err != nil {
		return Distribution{}, fmt.Errorf("loading ring group members: %w", err)
	}

	rrOffset := 0
	if group.Strategy == models.StrategyRoundRobin {
		if n := countRingable(members); n > 0 {
			rrOffset, err = r.store.AdvanceRoundRobin(ctx, group.ID, n)
			if err != nil {
				return Distribution{}, fmt.Errorf("advancing round robin: %w", err)
			}
		}
	}

	return Distribute(group, members, rrOffset), nil
}

// countRingable counts members that survive distribution filtering.
func countRingable(members []database.MemberSnapshot) int {
	n := 0
	for _, m := range members {
		if m.Extension.Active && m.Extension.Kind == models.ExtensionKindUser {
			n++
		}
	}
	return n
}

// GroupLockKey is the lock key guarding a ring group's member set. The
// administrative member-replace path must hold the same key.
func GroupLockKey(tenantID string, groupID int64) string {
	return fmt.Sprintf("ringgroup:%s:%d", tenantID, groupID)
}

// resolveSchedule evaluates a business-hours schedule and follows the
// open or closed action.
func (r *Resolver) resolveSchedule(ctx context.Context, req Request, scheduleID int64, depth int) (Decision, error) {
	sched, err := r.store.ScheduleByID(ctx, req.TenantID, scheduleID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading schedule %d: %w", scheduleID, err)
	}
	if sched == nil {
		return Decision{}, Errf(KindConfigurationError, "routing references missing schedule %d", scheduleID)
	}
	if sched.TenantID != req.TenantID {
		return Decision{}, Errf(KindConfigurationError, "schedule %d belongs to another tenant", scheduleID)
	}

	result, err := schedule.Evaluate(sched, req.At)
	if err != nil {
		return Decision{}, Wrap(KindConfigurationError, err, "evaluating schedule")
	}

	r.logger.Debug("schedule evaluated",
		"call_id", req.CallID,
		"tenant_id", req.TenantID,
		"schedule_id", sched.ID,
		"status", string(result.Status),
		"reason", result.Reason,
		"exception", result.ExceptionApplied,
	)

	if result.Status == schedule.StatusOpen {
		return r.resolveAction(ctx, req, sched.OpenAction, sched.OpenTarget, depth+1)
	}
	return r.resolveAction(ctx, req, sched.ClosedAction, sched.ClosedTarget, depth+1)
}

// resolveConference places the caller into a conference room.
func (r *Resolver) resolveConference(ctx context.Context, req Request, roomID int64) (Decision, error) {
	room, err := r.store.ConferenceRoomByID(ctx, req.TenantID, roomID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading conference room %d: %w", roomID, err)
	}
	if room == nil {
		return Decision{}, Errf(KindConfigurationError, "routing references missing conference room %d", roomID)
	}
	if !room.Active {
		return Decision{}, Errf(KindUnavailable, "conference room %s is inactive", room.Name)
	}

	return Decision{
		Action:         ActionJoinConference,
		TenantID:       req.TenantID,
		ConferenceName: room.Name,
		Reason:         fmt.Sprintf("joining conference %s", room.Name),
	}, nil
}

// resolveForward classifies a forward destination as an internal
// extension, an external number, or a raw transport URI.
func (r *Resolver) resolveForward(ctx context.Context, req Request, destination string) (Decision, error) {
	switch {
	case extensionPattern.MatchString(destination):
		ext, err := r.store.ExtensionByNumber(ctx, req.TenantID, destination)
		if err != nil {
			return Decision{}, fmt.Errorf("loading forward extension %q: %w", destination, err)
		}
		if ext == nil {
			return Decision{}, Errf(KindUnavailable, "forward target %s not found", destination)
		}
		if !ext.Active {
			return Decision{}, Errf(KindUnavailable, "forward target %s is inactive", destination)
		}
		return Decision{
			Action:     ActionDialExtensions,
			TenantID:   req.TenantID,
			Extensions: []string{ext.Extension},
			Reason:     fmt.Sprintf("forwarded to extension %s", destination),
		}, nil

	case e164Pattern.MatchString(destination):
		return Decision{
			Action:   ActionDialNumber,
			TenantID: req.TenantID,
			Number:   destination,
			Reason:   "forwarded to external number",
		}, nil

	default:
		return Decision{
			Action:   ActionDialSIP,
			TenantID: req.TenantID,
			SIPURI:   destination,
			Reason:   "forwarded to transport uri",
		}, nil
	}
}

// Schedule and fallback action vocabulary. Actions reuse the DID routing
// types plus direct number dialing and an explicit hangup.
const (
	ActionKindExtension  = models.RoutingTypeExtension
	ActionKindRingGroup  = models.RoutingTypeRingGroup
	ActionKindSchedule   = models.RoutingTypeBusinessHours
	ActionKindConference = models.RoutingTypeConferenceRoom
	ActionKindNumber     = "number"
	ActionKindHangup     = "hangup"
)

// resolveAction follows a (action, target) pair from a schedule or a ring
// group fallback.
func (r *Resolver) resolveAction(ctx context.Context, req Request, action, target string, depth int) (Decision, error) {
	switch action {
	case ActionKindExtension:
		return r.resolveTarget(ctx, req, models.ExtensionTarget{ExtensionNumber: target}, depth)

	case ActionKindRingGroup:
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return Decision{}, Errf(KindConfigurationError, "bad ring group target %q", target)
		}
		return r.resolveTarget(ctx, req, models.RingGroupTarget{RingGroupID: id}, depth)

	case ActionKindSchedule:
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return Decision{}, Errf(KindConfigurationError, "bad schedule target %q", target)
		}
		return r.resolveTarget(ctx, req, models.ScheduleTarget{ScheduleID: id}, depth)

	case ActionKindConference:
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return Decision{}, Errf(KindConfigurationError, "bad conference target %q", target)
		}
		return r.resolveTarget(ctx, req, models.ConferenceTarget{ConferenceRoomID: id}, depth)

	case ActionKindNumber:
		if !e164Pattern.MatchString(target) {
			return Decision{}, Errf(KindConfigurationError, "bad number target %q", target)
		}
		return Decision{
			Action:   ActionDialNumber,
			TenantID: req.TenantID,
			Number:   target,
			Reason:   "routed to external number",
		}, nil

	case ActionKindHangup, "":
		message := target
		if message == "" {
			message = "We are currently closed. Please call back during business hours."
		}
		return HangupDecision(req.TenantID, message, "hangup action"), nil

	default:
		return Decision{}, Errf(KindConfigurationError, "unknown action %q", action)
	}
}
