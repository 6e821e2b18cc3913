package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	entitlement "ldgate/internal/entitlement/models"
	jwttoken "ldgate/internal/jwt_token"
	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/sentinel"
)

const reasonGranted = "granted"

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid account credentials")

// Check decides whether the token's account may use the product on the
// given machine, claiming a seat if the machine is new. A denial is a
// result, not an error; errors are reserved for bad input, bad credentials
// and store failures.
func (s *Service) Check(ctx context.Context, in models.CheckInput) (*models.CheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "warden.check", trace.WithAttributes(
		attribute.String("ldgate.catalog_item_id", in.CatalogItemID),
		attribute.String("ldgate.product_id", in.ProductID),
	))
	defer span.End()

	start := time.Now()
	result, err := s.check(ctx, in)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	reason := reasonGranted
	if !result.Entitled {
		reason = result.Reason
	}
	span.SetAttributes(attribute.String("ldgate.verdict", reason))
	if s.metrics != nil {
		s.metrics.ObserveVerdict(reason, elapsed)
	}
	return result, nil
}

func (s *Service) check(ctx context.Context, in models.CheckInput) (*models.CheckResult, error) {
	if err := validateCheck(in); err != nil {
		return nil, err
	}

	accountID, err := s.authenticate(ctx, in.AccountToken)
	if err != nil {
		return nil, err
	}

	grant, err := s.store.FindGrant(ctx, accountID, in.CatalogItemID, in.ProductID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.deny(ctx, accountID, in, entitlement.ReasonNoGrant), nil
	}
	if err != nil {
		return nil, storeError(err, "failed to load grant")
	}

	now := s.clock(ctx)
	switch {
	case grant.Revoked:
		return s.deny(ctx, accountID, in, entitlement.ReasonRevoked), nil
	case grant.IsExpired(now):
		return s.deny(ctx, accountID, in, entitlement.ReasonExpired), nil
	}

	_, created, err := s.store.Activate(ctx, models.Activation{
		GrantID:     grant.ID,
		MachineID:   in.MachineID,
		Platform:    in.Platform,
		ActivatedAt: now,
		LastSeenAt:  now,
	}, grant.Seats)
	if errors.Is(err, sentinel.ErrConflict) {
		s.audit(ctx, audit.Event{
			Subject:   accountID.String(),
			Action:    string(audit.EventSeatsExhausted),
			ProductID: in.ProductID,
			MachineID: in.MachineID,
		})
		return s.deny(ctx, accountID, in, entitlement.ReasonSeatsExhausted), nil
	}
	if err != nil {
		return nil, storeError(err, "failed to activate seat")
	}
	if created {
		if s.metrics != nil {
			s.metrics.IncrementSeatsActivated()
		}
		s.audit(ctx, audit.Event{
			Subject:   accountID.String(),
			Action:    string(audit.EventSeatActivated),
			ProductID: in.ProductID,
			MachineID: in.MachineID,
		})
	}

	expiresAt := now.Add(s.tokenTTL)
	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(expiresAt) {
		expiresAt = *grant.ExpiresAt
	}
	token, err := s.signer.Sign(jwttoken.GrantSubject{
		GrantID:       grant.ID.String(),
		AccountID:     accountID.String(),
		CatalogItemID: grant.CatalogItemID,
		ProductID:     grant.ProductID,
		MachineID:     in.MachineID,
	}, now, expiresAt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign grant")
	}

	s.audit(ctx, audit.Event{
		Subject:   accountID.String(),
		Action:    string(audit.EventEntitlementChecked),
		ProductID: in.ProductID,
		MachineID: in.MachineID,
		Decision:  reasonGranted,
	})
	return &models.CheckResult{
		Entitled:  true,
		GrantID:   grant.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) deny(ctx context.Context, accountID domain.AccountID, in models.CheckInput, reason string) *models.CheckResult {
	s.audit(ctx, audit.Event{
		Subject:   accountID.String(),
		Action:    string(audit.EventEntitlementDenied),
		ProductID: in.ProductID,
		MachineID: in.MachineID,
		Decision:  "denied",
		Reason:    reason,
	})
	return &models.CheckResult{Entitled: false, Reason: reason}
}

// authenticate verifies an "<account id>:<secret>" token. Every failure
// looks the same to the caller.
func (s *Service) authenticate(ctx context.Context, token string) (domain.AccountID, error) {
	rawID, secret, ok := strings.Cut(token, ":")
	if !ok || secret == "" {
		return s.authFailed(ctx, "", "malformed token")
	}
	accountID, err := domain.ParseAccountID(rawID)
	if err != nil {
		return s.authFailed(ctx, "", "malformed account id")
	}

	account, err := s.store.FindAccount(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.authFailed(ctx, accountID.String(), "unknown account")
	}
	if err != nil {
		return domain.AccountID{}, storeError(err, "failed to load account")
	}

	if err := bcrypt.CompareHashAndPassword(account.SecretHash, []byte(secret)); err != nil {
		return s.authFailed(ctx, accountID.String(), "secret mismatch")
	}
	return accountID, nil
}

func (s *Service) authFailed(ctx context.Context, subject, reason string) (domain.AccountID, error) {
	if s.metrics != nil {
		s.metrics.IncrementAuthFailures()
	}
	s.audit(ctx, audit.Event{
		Subject:  subject,
		Action:   string(audit.EventAccountAuthFailed),
		Decision: "denied",
		Reason:   reason,
	})
	return domain.AccountID{}, errInvalidCredentials
}

func validateCheck(in models.CheckInput) error {
	switch {
	case strings.TrimSpace(in.CatalogItemID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "catalog_item_id is required")
	case strings.TrimSpace(in.ProductID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "product_id is required")
	case strings.TrimSpace(in.MachineID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "machine_id is required")
	case len(in.MachineID) > 128:
		return dErrors.New(dErrors.CodeInvalidInput, "machine_id is too long")
	}
	return nil
}
