// Package models holds the warden's account, grant and seat records.
package models

import (
	"time"

	"ldgate/pkg/domain"
)

// Account is a customer who can hold grants. Secrets are stored as bcrypt
// hashes only.
type Account struct {
	ID         domain.AccountID
	SecretHash []byte
	CreatedAt  time.Time
}

// Grant entitles an account to a product on up to Seats machines.
type Grant struct {
	ID            domain.GrantID
	AccountID     domain.AccountID
	CatalogItemID string
	ProductID     string
	Seats         int
	ExpiresAt     *time.Time
	Revoked       bool
	CreatedAt     time.Time
}

// IsExpired reports whether the grant has lapsed at now. Grants without an
// expiry never lapse.
func (g *Grant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Activation binds one machine to one seat of a grant.
type Activation struct {
	GrantID     domain.GrantID
	MachineID   string
	Platform    string
	ActivatedAt time.Time
	LastSeenAt  time.Time
}

// CheckInput is an entitlement check as received over the wire.
type CheckInput struct {
	AccountToken  string
	CatalogItemID string
	ProductID     string
	MachineID     string
	Platform      string
}

// CheckResult is the warden's verdict. Token is set only when Entitled.
type CheckResult struct {
	Entitled  bool
	Reason    string
	GrantID   domain.GrantID
	Token     string
	ExpiresAt time.Time
}

// IssueInput creates or updates an account and its grant for one product.
type IssueInput struct {
	AccountID     domain.AccountID
	Secret        string
	CatalogItemID string
	ProductID     string
	Seats         int
	ExpiresAt     *time.Time
}

// IssueResult returns the stored grant and the bearer token clients use.
type IssueResult struct {
	Grant        *Grant
	AccountToken string
}

// ReleaseInput frees seats held by the given machines.
type ReleaseInput struct {
	AccountID     domain.AccountID
	CatalogItemID string
	ProductID     string
	MachineIDs    []string
}
