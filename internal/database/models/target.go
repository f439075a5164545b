package models

import (
	"encoding/json"
	"fmt"
)

// RoutingTarget is the closed set of destination variants a DID or
// extension can route to. The raw JSON routing_config / configuration
// columns are parsed into one of these exactly once, at load time; untyped
// maps never cross the resolver boundary.
type RoutingTarget interface {
	// Kind returns the routing type tag the variant was parsed from.
	Kind() string
}

// ExtensionTarget routes to a single extension by number.
type ExtensionTarget struct {
	ExtensionNumber string `json:"extension"`
}

func (ExtensionTarget) Kind() string { return RoutingTypeExtension }

// RingGroupTarget routes to a ring group by id.
type RingGroupTarget struct {
	RingGroupID int64 `json:"ring_group_id"`
}

func (RingGroupTarget) Kind() string { return RoutingTypeRingGroup }

// ScheduleTarget routes through a business-hours schedule by id.
type ScheduleTarget struct {
	ScheduleID int64 `json:"schedule_id"`
}

func (ScheduleTarget) Kind() string { return RoutingTypeBusinessHours }

// ConferenceTarget routes into a conference room by id.
type ConferenceTarget struct {
	ConferenceRoomID int64 `json:"conference_room_id"`
}

func (ConferenceTarget) Kind() string { return RoutingTypeConferenceRoom }

// ServiceTarget carries an external IVR or AI-assistant provider
// configuration, passed through verbatim to the call-control document.
type ServiceTarget struct {
	ServiceKind string            `json:"-"` // ivr or ai_assistant
	URL         string            `json:"url"`
	Token       string            `json:"token,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

func (t ServiceTarget) Kind() string { return t.ServiceKind }

// ForwardTarget forwards the call. Destination may be an internal
// extension number, an E.164 number, or a raw transport URI; the resolver
// decides which at routing time.
type ForwardTarget struct {
	Destination string `json:"destination"`
}

func (ForwardTarget) Kind() string { return RoutingTypeForward }

// RoutingTypeForward tags forward extension configurations. DIDs do not
// carry this type directly; it exists only on extensions.
const RoutingTypeForward = "forward"

// SIPTarget is the resolved service address of a user extension. It is
// produced from the extension configuration, not from DID routing config.
type SIPTarget struct {
	Address string `json:"sip_address"`
}

func (SIPTarget) Kind() string { return ExtensionKindUser }

// ParseRoutingTarget parses a DID's routing_config JSON into the typed
// variant matching routingType.
func ParseRoutingTarget(routingType, rawConfig string) (RoutingTarget, error) {
	if rawConfig == "" {
		rawConfig = "{}"
	}

	switch routingType {
	case RoutingTypeExtension:
		var t ExtensionTarget
		if err := json.Unmarshal([]byte(rawConfig), &t); err != nil {
			return nil, fmt.Errorf("parsing extension routing config: %w", err)
		}
		if t.ExtensionNumber == "" {
			return nil, fmt.Errorf("extension routing config missing extension number")
		}
		return t, nil

	case RoutingTypeRingGroup:
		var t RingGroupTarget
		if err := json.Unmarshal([]byte(rawConfig), &t); err != nil {
			return nil, fmt.Errorf("parsing ring group routing config: %w", err)
		}
		if t.RingGroupID == 0 {
			return nil, fmt.Errorf("ring group routing config missing ring_group_id")
		}
		return t, nil

	case RoutingTypeBusinessHours:
		var t ScheduleTarget
		if err := json.Unmarshal([]byte(rawConfig), &t); err != nil {
			return nil, fmt.Errorf("parsing business hours routing config: %w", err)
		}
		if t.ScheduleID == 0 {
			return nil, fmt.Errorf("business hours routing config missing schedule_id")
		}
		return t, nil

	case RoutingTypeConferenceRoom:
		var t ConferenceTarget
		if err := json.Unmarshal([]byte(rawConfig), &t); err != nil {
			return nil, fmt.Errorf("parsing conference routing config: %w", err)
		}
		if t.ConferenceRoomID == 0 {
			return nil, fmt.Errorf("conference routing config missing conference_room_id")
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown routing type %q", routingType)
	}
}

// ParseExtensionTarget parses an extension's configuration JSON into the
// typed variant matching its kind. User extensions yield a SIPTarget,
// ring-group aliases a RingGroupTarget, and so on.
func ParseExtensionTarget(ext *Extension) (RoutingTarget, error) {
	raw := ext.Configuration
	if raw == "" {
		raw = "{}"
	}

	switch ext.Kind {
	case ExtensionKindUser:
		var t SIPTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing user extension config: %w", err)
		}
		return t, nil

	case ExtensionKindRingGroup:
		var t RingGroupTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing ring group alias config: %w", err)
		}
		if t.RingGroupID == 0 {
			return nil, fmt.Errorf("ring group alias missing ring_group_id")
		}
		return t, nil

	case ExtensionKindConference:
		var t ConferenceTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing conference extension config: %w", err)
		}
		if t.ConferenceRoomID == 0 {
			return nil, fmt.Errorf("conference extension missing conference_room_id")
		}
		return t, nil

	case ExtensionKindIVR, ExtensionKindAIAssistant:
		var t ServiceTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing service extension config: %w", err)
		}
		t.ServiceKind = ext.Kind
		return t, nil

	case ExtensionKindForward:
		var t ForwardTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing forward extension config: %w", err)
		}
		if t.Destination == "" {
			return nil, fmt.Errorf("forward extension missing destination")
		}
		return t, nil

	case ExtensionKindCustomLogic:
		// Custom logic extensions carry a service URL like IVR targets.
		var t ServiceTarget
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("parsing custom logic extension config: %w", err)
		}
		t.ServiceKind = ext.Kind
		return t, nil

	default:
		return nil, fmt.Errorf("unknown extension kind %q", ext.Kind)
	}
}
