// Package domain holds typed identifiers shared across the warden and its clients.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "ldgate/pkg/domain-errors"
)

// AccountID identifies a marketplace account that owns grants.
type AccountID uuid.UUID

// GrantID identifies a single product grant (a purchase).
type GrantID uuid.UUID

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id GrantID) String() string   { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// IsNil reports whether the id is the zero UUID.
func (id GrantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewAccountID returns a random account id.
func NewAccountID() AccountID { return AccountID(uuid.New()) }

// NewGrantID returns a random grant id.
func NewGrantID() GrantID { return GrantID(uuid.New()) }

// ParseAccountID parses a non-nil account id.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account_id")
	return AccountID(u), err
}

// ParseGrantID parses a non-nil grant id.
func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s, "grant_id")
	return GrantID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}
