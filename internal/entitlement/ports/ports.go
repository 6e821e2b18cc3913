// Package ports defines the outbound interfaces of the entitlement gate.
package ports

import (
	"context"

	"ldgate/internal/entitlement/models"
	"ldgate/pkg/platform/audit"
)

// Warden is the external entitlement authority.
type Warden interface {
	// CheckEntitlement verifies the product for this machine. A denial is a
	// Verdict with Granted=false, not an error. Errors mean the check could
	// not complete (transport, authority unavailable, invalid grant).
	// Implementations own any user-facing presentation of a denial.
	CheckEntitlement(ctx context.Context, req models.CheckRequest) (*models.Verdict, error)
}

// AuditPublisher emits audit events for entitlement outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
