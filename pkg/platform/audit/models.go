package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers licensing facts with commercial significance
	// (grants issued, seats activated).
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers failed account authentication and denials.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine check traffic and can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the principal the event is about: an account id on the
	// warden, the product id on the client gate.
	Subject   string
	Action    string
	ProductID string
	MachineID string
	Decision  string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	// Client gate events
	EventEntitlementChecked AuditEvent = "entitlement_checked"
	EventEntitlementGranted AuditEvent = "entitlement_granted"
	EventEntitlementDenied  AuditEvent = "entitlement_denied"

	// Warden events
	EventAccountAuthFailed AuditEvent = "account_auth_failed"
	EventSeatActivated     AuditEvent = "seat_activated"
	EventSeatsExhausted    AuditEvent = "seats_exhausted"
	EventGrantIssued       AuditEvent = "grant_issued"
	EventGrantRevoked      AuditEvent = "grant_revoked"
	EventSeatReleased      AuditEvent = "seat_released"
	EventCheckThrottled    AuditEvent = "check_throttled"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventGrantIssued:   CategoryCompliance,
	EventGrantRevoked:  CategoryCompliance,
	EventSeatActivated: CategoryCompliance,
	EventSeatReleased:  CategoryCompliance,

	EventAccountAuthFailed: CategorySecurity,
	EventSeatsExhausted:    CategorySecurity,
	EventEntitlementDenied: CategorySecurity,
	EventCheckThrottled:    CategorySecurity,

	EventEntitlementChecked: CategoryOperations,
	EventEntitlementGranted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
