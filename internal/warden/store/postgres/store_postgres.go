// Package postgres is the durable warden store. Seat claims lock the grant
// row so concurrent checks for the same grant serialize.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

// Migrate creates the warden tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate warden schema: %w", err)
		}
	}
	return nil
}

// PostgresStore implements ports.Store on database/sql.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO warden_accounts (id, secret_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash
	`
	_, err := s.db.ExecContext(ctx, query, uuid.UUID(account.ID), account.SecretHash, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAccount(ctx context.Context, id domain.AccountID) (*models.Account, error) {
	account := &models.Account{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT secret_hash, created_at FROM warden_accounts WHERE id = $1`, uuid.UUID(id),
	).Scan(&account.SecretHash, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) SaveGrant(ctx context.Context, grant *models.Grant) (*models.Grant, error) {
	query := `
		INSERT INTO warden_grants (id, account_id, catalog_item_id, product_id, seats, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, catalog_item_id, product_id) DO UPDATE SET
			seats = EXCLUDED.seats,
			expires_at = EXCLUDED.expires_at,
			revoked = EXCLUDED.revoked
		RETURNING id, created_at
	`
	stored := *grant
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		uuid.UUID(grant.ID),
		uuid.UUID(grant.AccountID),
		grant.CatalogItemID,
		grant.ProductID,
		grant.Seats,
		grant.ExpiresAt,
		grant.Revoked,
		grant.CreatedAt,
	).Scan(&id, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}
	stored.ID = domain.GrantID(id)
	return &stored, nil
}

func (s *PostgresStore) FindGrant(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) (*models.Grant, error) {
	query := `
		SELECT id, seats, expires_at, revoked, created_at
		FROM warden_grants
		WHERE account_id = $1 AND catalog_item_id = $2 AND product_id = $3
	`
	grant := &models.Grant{AccountID: accountID, CatalogItemID: catalogItemID, ProductID: productID}
	var id uuid.UUID
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(accountID), catalogItemID, productID).
		Scan(&id, &grant.Seats, &expiresAt, &grant.Revoked, &grant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find grant: %w", err)
	}
	grant.ID = domain.GrantID(id)
	if expiresAt.Valid {
		grant.ExpiresAt = &expiresAt.Time
	}
	return grant, nil
}

func (s *PostgresStore) Activate(ctx context.Context, activation models.Activation, seats int) (*models.Activation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin activation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	grantID := uuid.UUID(activation.GrantID)
	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM warden_grants WHERE id = $1 FOR UPDATE`, grantID); err != nil {
		return nil, false, fmt.Errorf("lock grant: %w", err)
	}

	out := activation
	err = tx.QueryRowContext(ctx, `
		UPDATE warden_activations
		SET last_seen_at = $3, platform = COALESCE(NULLIF($4, ''), platform)
		WHERE grant_id = $1 AND machine_id = $2
		RETURNING platform, activated_at, last_seen_at
	`, grantID, activation.MachineID, activation.LastSeenAt, activation.Platform,
	).Scan(&out.Platform, &out.ActivatedAt, &out.LastSeenAt)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit activation: %w", err)
		}
		return &out, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("refresh activation: %w", err)
	}

	var held int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM warden_activations WHERE grant_id = $1`, grantID,
	).Scan(&held); err != nil {
		return nil, false, fmt.Errorf("count activations: %w", err)
	}
	if held >= seats {
		return nil, false, sentinel.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO warden_activations (grant_id, machine_id, platform, activated_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, grantID, activation.MachineID, activation.Platform, activation.ActivatedAt, activation.LastSeenAt); err != nil {
		return nil, false, fmt.Errorf("insert activation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit activation: %w", err)
	}
	return &out, true, nil
}

func (s *PostgresStore) ListActivations(ctx context.Context, grantID domain.GrantID) ([]models.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT machine_id, platform, activated_at, last_seen_at
		FROM warden_activations
		WHERE grant_id = $1
		ORDER BY activated_at
	`, uuid.UUID(grantID))
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []models.Activation
	for rows.Next() {
		a := models.Activation{GrantID: grantID}
		if err := rows.Scan(&a.MachineID, &a.Platform, &a.ActivatedAt, &a.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return out, nil
}

// Release deletes the given machines' seats in one statement.
func (s *PostgresStore) Release(ctx context.Context, grantID domain.GrantID, machineIDs []string) (int, error) {
	if len(machineIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM warden_activations WHERE grant_id = $1 AND machine_id = ANY($2::text[])`,
		uuid.UUID(grantID), pq.Array(machineIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
