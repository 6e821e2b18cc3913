package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/sentinel"
	textutil "ldgate/pkg/platform/strings"
)

const (
	minSecretLength = 12
	maxSecretLength = 72 // bcrypt input limit
)

// Issue creates or updates an account and its grant for one product. An
// empty secret generates one; an empty account id creates a new account.
// Re-issuing rotates the secret, updates seats and expiry, and clears a
// revocation.
func (s *Service) Issue(ctx context.Context, in models.IssueInput) (*models.IssueResult, error) {
	if err := validateIssue(in); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate secret")
		}
		secret = generated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash secret")
	}

	accountID := in.AccountID
	if accountID.IsNil() {
		accountID = domain.NewAccountID()
	}
	now := s.clock(ctx)

	if err := s.store.SaveAccount(ctx, &models.Account{ID: accountID, SecretHash: hash, CreatedAt: now}); err != nil {
		return nil, storeError(err, "failed to save account")
	}

	grant, err := s.store.SaveGrant(ctx, &models.Grant{
		ID:            domain.NewGrantID(),
		AccountID:     accountID,
		CatalogItemID: in.CatalogItemID,
		ProductID:     in.ProductID,
		Seats:         in.Seats,
		ExpiresAt:     in.ExpiresAt,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, storeError(err, "failed to save grant")
	}

	if s.metrics != nil {
		s.metrics.IncrementGrantsIssued()
	}
	s.audit(ctx, audit.Event{
		Subject:   accountID.String(),
		Action:    string(audit.EventGrantIssued),
		ProductID: in.ProductID,
		Decision:  "issued",
	})
	s.logger.InfoContext(ctx, "grant issued",
		"account_id", accountID.String(),
		"grant_id", grant.ID.String(),
		"seats", grant.Seats,
	)

	return &models.IssueResult{
		Grant:        grant,
		AccountToken: accountID.String() + ":" + secret,
	}, nil
}

// Revoke marks a grant revoked. Later checks are denied with "revoked".
func (s *Service) Revoke(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) error {
	grant, err := s.findGrant(ctx, accountID, catalogItemID, productID)
	if err != nil {
		return err
	}
	grant.Revoked = true
	if _, err := s.store.SaveGrant(ctx, grant); err != nil {
		return storeError(err, "failed to revoke grant")
	}
	s.audit(ctx, audit.Event{
		Subject:   accountID.String(),
		Action:    string(audit.EventGrantRevoked),
		ProductID: productID,
		Decision:  "revoked",
	})
	return nil
}

// Release frees the seats held by the given machines and reports how many
// were freed.
func (s *Service) Release(ctx context.Context, in models.ReleaseInput) (int, error) {
	machineIDs := textutil.DedupeAndTrim(in.MachineIDs)
	if len(machineIDs) == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "at least one machine id is required")
	}
	grant, err := s.findGrant(ctx, in.AccountID, in.CatalogItemID, in.ProductID)
	if err != nil {
		return 0, err
	}

	n, err := s.store.Release(ctx, grant.ID, machineIDs)
	if err != nil {
		return 0, storeError(err, "failed to release seats")
	}
	if s.metrics != nil {
		s.metrics.AddSeatsReleased(n)
	}
	for _, machineID := range machineIDs {
		s.audit(ctx, audit.Event{
			Subject:   in.AccountID.String(),
			Action:    string(audit.EventSeatReleased),
			ProductID: in.ProductID,
			MachineID: machineID,
		})
	}
	return n, nil
}

// Activations lists the machines holding seats on a grant.
func (s *Service) Activations(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) ([]models.Activation, error) {
	grant, err := s.findGrant(ctx, accountID, catalogItemID, productID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListActivations(ctx, grant.ID)
	if err != nil {
		return nil, storeError(err, "failed to list activations")
	}
	return list, nil
}

func (s *Service) findGrant(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) (*models.Grant, error) {
	grant, err := s.store.FindGrant(ctx, accountID, catalogItemID, productID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "grant not found")
	}
	if err != nil {
		return nil, storeError(err, "failed to load grant")
	}
	return grant, nil
}

func validateIssue(in models.IssueInput) error {
	switch {
	case strings.TrimSpace(in.CatalogItemID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "catalog item id is required")
	case strings.TrimSpace(in.ProductID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "product id is required")
	case in.Seats < 1:
		return dErrors.New(dErrors.CodeInvalidInput, "seats must be at least 1")
	case in.Secret != "" && len(in.Secret) < minSecretLength:
		return dErrors.New(dErrors.CodeInvalidInput, "secret is too short")
	case len(in.Secret) > maxSecretLength:
		return dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
	case strings.Contains(in.Secret, ":"):
		return dErrors.New(dErrors.CodeInvalidInput, "secret must not contain ':'")
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
