package models

import (
	"fmt"
	"time"
)

// ProductIdentity identifies the licensed product to the warden. It is
// fixed at build time.
type ProductIdentity struct {
	DisplayName   string
	CatalogItemID string
	ProductID     string
}

// DefaultProduct is the marketplace listing for Logic Driver Pro.
var DefaultProduct = ProductIdentity{
	DisplayName:   "Logic Driver Pro",
	CatalogItemID: "819543009be949c5b2d40236adcb8166",
	ProductID:     "9d8db9962594400988f8ddd3fb83cd88",
}

// DefaultUnauthorizedMessage is shown by the warden client when a check is denied.
const DefaultUnauthorizedMessage = "You are not authorized to use Logic Driver Pro. Marketplace plugin licenses are per-seat.\nWould you like to view the store page?"

// Validate requires both marketplace identifiers.
func (p ProductIdentity) Validate() error {
	if p.CatalogItemID == "" {
		return fmt.Errorf("catalog item id is required")
	}
	if p.ProductID == "" {
		return fmt.Errorf("product id is required")
	}
	return nil
}

// Name returns the display name, falling back to the product id.
func (p ProductIdentity) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ProductID
}

// UnauthorizedHandling tells the warden client how to react to a denial.
type UnauthorizedHandling int

const (
	HandlingSilent UnauthorizedHandling = iota
	HandlingShowMessage
	HandlingShowMessageOpenStore
)

func (h UnauthorizedHandling) String() string {
	switch h {
	case HandlingSilent:
		return "silent"
	case HandlingShowMessage:
		return "show_message"
	case HandlingShowMessageOpenStore:
		return "show_message_open_store"
	default:
		return fmt.Sprintf("unknown(%d)", int(h))
	}
}

func (h UnauthorizedHandling) IsValid() bool {
	return h >= HandlingSilent && h <= HandlingShowMessageOpenStore
}

// CheckRequest is everything the warden needs to verify one product.
type CheckRequest struct {
	Product             ProductIdentity
	MachineID           string
	UnauthorizedMessage string
	Handling            UnauthorizedHandling
	StoreURL            string
}

// Denial reasons reported by the warden.
const (
	ReasonNoGrant        = "no_grant"
	ReasonSeatsExhausted = "seats_exhausted"
	ReasonExpired        = "expired"
	ReasonRevoked        = "revoked"
)

// Verdict is the warden's answer to a CheckRequest.
type Verdict struct {
	Granted   bool
	Reason    string
	GrantID   string
	ExpiresAt time.Time
}

// State is the gate's verification state. Verified is terminal.
type State int

const (
	StateUnverified State = iota
	StateVerified
)

func (s State) String() string {
	if s == StateVerified {
		return "verified"
	}
	return "unverified"
}
