package routing

import "github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"

// Action is what the call-control document should instruct the platform
// to do with the call leg.
type Action string

const (
	// ActionDialExtensions rings one or more internal extensions.
	ActionDialExtensions Action = "dial_extensions"

	// ActionDialNumber dials an external E.164 number.
	ActionDialNumber Action = "dial_number"

	// ActionDialSIP dials a raw SIP/transport URI.
	ActionDialSIP Action = "dial_sip"

	// ActionDialService hands the call to an external IVR or AI provider.
	ActionDialService Action = "dial_service"

	// ActionJoinConference places the caller into a conference room.
	ActionJoinConference Action = "join_conference"

	// ActionHangup says an announcement and ends the call.
	ActionHangup Action = "hangup"
)

// Decision is the resolved routing outcome, consumed by the response
// builder. Exactly the fields relevant to Action are populated.
type Decision struct {
	Action Action

	// TenantID of the entity that was routed. Flows explicitly; response
	// building never consults ambient state for identity.
	TenantID string

	// Extensions to ring, in ring order. For simultaneous distribution the
	// whole set rings in parallel; for sequential distribution the caller
	// advances through the list one webhook callback at a time.
	Extensions []string
	Sequential bool

	// Offset is the position in Extensions the sequential loop should ring
	// next. Carried in the callback state, not stored by the engine.
	Offset int

	// Turns is how many passes a sequential loop makes over Extensions
	// before giving up. Zero means one pass.
	Turns int

	Number  string
	SIPURI  string
	Service *models.ServiceTarget

	ConferenceName string

	// Timeout in seconds for dial attempts; 0 means platform default.
	Timeout int

	// Message is the announcement for ActionHangup.
	Message string

	// Reason records why this decision was made, for logs and CDR context.
	Reason string
}

// HangupDecision builds a say-and-hangup decision with the given
// announcement.
func HangupDecision(tenantID, message, reason string) Decision {
	return Decision{
		Action:   ActionHangup,
		TenantID: tenantID,
		Message:  message,
		Reason:   reason,
	}
}
