package ports

import (
	"context"

	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/audit"
)

// Store persists accounts, grants and seat activations.
//
// Missing records return sentinel.ErrNotFound. Activate returns
// sentinel.ErrConflict when every seat is held by another machine.
type Store interface {
	SaveAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, id domain.AccountID) (*models.Account, error)

	// SaveGrant upserts on (account, catalog item, product); the stored
	// grant keeps its original ID.
	SaveGrant(ctx context.Context, grant *models.Grant) (*models.Grant, error)
	FindGrant(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) (*models.Grant, error)

	// Activate refreshes an existing activation or claims a free seat, as
	// one atomic step. created reports whether a seat was claimed.
	Activate(ctx context.Context, activation models.Activation, seats int) (stored *models.Activation, created bool, err error)
	ListActivations(ctx context.Context, grantID domain.GrantID) ([]models.Activation, error)
	Release(ctx context.Context, grantID domain.GrantID, machineIDs []string) (int, error)

	Ping(ctx context.Context) error
}

// AuditPublisher records compliance and security events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
