package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	entitlement "ldgate/internal/entitlement/models"
	jwttoken "ldgate/internal/jwt_token"
	"ldgate/internal/warden/metrics"
	"ldgate/internal/warden/models"
	"ldgate/internal/warden/ports"
	"ldgate/internal/warden/service/mocks"
	"ldgate/internal/warden/store/memory"
	"ldgate/pkg/domain"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/audit/publisher"
	auditmemory "ldgate/pkg/platform/audit/store/memory"
	"ldgate/pkg/platform/sentinel"
	"ldgate/pkg/requestcontext"
)

// =============================================================================
// Service Test Suite
// =============================================================================
// Flows run against the in-memory store; store failure paths use mocks.

type ServiceSuite struct {
	suite.Suite
	now      time.Time
	store    *memory.InMemoryStore
	signer   *jwttoken.Signer
	verifier *jwttoken.Verifier
	metrics  *metrics.Metrics
	audit    *publisher.Publisher
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.store = memory.New()
	s.signer, err = jwttoken.NewSignerFromSeed([]byte("0123456789abcdef0123456789abcdef"), "")
	s.Require().NoError(err)
	s.verifier, err = jwttoken.NewVerifier(s.signer.PublicKey(), "",
		jwttoken.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.audit = publisher.NewPublisher(auditmemory.NewInMemoryStore())
	s.service = s.newService(s.store)
}

func (s *ServiceSuite) newService(store ports.Store, opts ...Option) *Service {
	base := []Option{
		WithBcryptCost(bcrypt.MinCost),
		WithTokenTTL(time.Hour),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.audit),
		WithClock(func() time.Time { return s.now }),
	}
	svc, err := New(store, s.signer, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) issue(seats int, expiresAt *time.Time) *models.IssueResult {
	res, err := s.service.Issue(context.Background(), models.IssueInput{
		Secret:        "correct-horse-battery",
		CatalogItemID: entitlement.DefaultProduct.CatalogItemID,
		ProductID:     entitlement.DefaultProduct.ProductID,
		Seats:         seats,
		ExpiresAt:     expiresAt,
	})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) checkInput(token, machineID string) models.CheckInput {
	return models.CheckInput{
		AccountToken:  token,
		CatalogItemID: entitlement.DefaultProduct.CatalogItemID,
		ProductID:     entitlement.DefaultProduct.ProductID,
		MachineID:     machineID,
		Platform:      "Windows",
	}
}

func (s *ServiceSuite) auditActions(subject string) []string {
	events, err := s.audit.List(context.Background(), subject)
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil store", func() {
		_, err := New(nil, s.signer)
		s.ErrorContains(err, "store is required")
	})
	s.Run("nil signer", func() {
		_, err := New(s.store, nil)
		s.ErrorContains(err, "signer is required")
	})
	s.Run("bcrypt cost out of range", func() {
		_, err := New(s.store, s.signer, WithBcryptCost(99))
		s.Error(err)
	})
}

// =============================================================================
// Check Tests
// =============================================================================

func (s *ServiceSuite) TestCheckGrantsAndSignsToken() {
	issued := s.issue(1, nil)

	res, err := s.service.Check(context.Background(), s.checkInput(issued.AccountToken, "machine-1"))
	s.Require().NoError(err)
	s.True(res.Entitled)
	s.Equal(issued.Grant.ID, res.GrantID)
	s.Equal(s.now.Add(time.Hour), res.ExpiresAt)

	claims, err := s.verifier.Verify(res.Token)
	s.Require().NoError(err)
	s.Equal(issued.Grant.ID.String(), claims.GrantID())
	s.Equal("machine-1", claims.MachineID)
	s.Equal(entitlement.DefaultProduct.ProductID, claims.ProductID)

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Verdicts.WithLabelValues(reasonGranted)))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SeatsActivated))

	subject := issued.Grant.AccountID.String()
	s.Equal([]string{
		string(audit.EventGrantIssued),
		string(audit.EventSeatActivated),
		string(audit.EventEntitlementChecked),
	}, s.auditActions(subject))
}

func (s *ServiceSuite) TestTokenNeverOutlivesGrant() {
	expires := s.now.Add(10 * time.Minute)
	issued := s.issue(1, &expires)

	res, err := s.service.Check(context.Background(), s.checkInput(issued.AccountToken, "machine-1"))
	s.Require().NoError(err)
	s.True(res.Entitled)
	s.Equal(expires, res.ExpiresAt)
}

func (s *ServiceSuite) TestKnownMachineKeepsItsSeat() {
	issued := s.issue(1, nil)
	ctx := context.Background()

	_, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "machine-1"))
	s.Require().NoError(err)
	s.now = s.now.Add(time.Hour)
	res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "machine-1"))
	s.Require().NoError(err)
	s.True(res.Entitled)

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SeatsActivated))
	list, err := s.store.ListActivations(ctx, issued.Grant.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(s.now, list[0].LastSeenAt)
}

func (s *ServiceSuite) TestRecheckAtSameInstantIsNotANewSeat() {
	issued := s.issue(1, nil)
	ctx := context.Background()

	for range 2 {
		res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "machine-1"))
		s.Require().NoError(err)
		s.True(res.Entitled)
	}

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SeatsActivated))
	s.Equal([]string{
		string(audit.EventGrantIssued),
		string(audit.EventSeatActivated),
		string(audit.EventEntitlementChecked),
		string(audit.EventEntitlementChecked),
	}, s.auditActions(issued.Grant.AccountID.String()))
}

func (s *ServiceSuite) TestDenials() {
	ctx := context.Background()

	s.Run("no grant for product", func() {
		issued := s.issue(1, nil)
		in := s.checkInput(issued.AccountToken, "machine-1")
		in.ProductID = "ffffffffffffffffffffffffffffffff"

		res, err := s.service.Check(ctx, in)
		s.Require().NoError(err)
		s.False(res.Entitled)
		s.Equal(entitlement.ReasonNoGrant, res.Reason)
		s.Empty(res.Token)
	})

	s.Run("expired grant", func() {
		expires := s.now.Add(-time.Minute)
		issued := s.issue(1, &expires)

		res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "machine-1"))
		s.Require().NoError(err)
		s.Equal(entitlement.ReasonExpired, res.Reason)
	})

	s.Run("revoked grant", func() {
		issued := s.issue(1, nil)
		s.Require().NoError(s.service.Revoke(ctx, issued.Grant.AccountID,
			entitlement.DefaultProduct.CatalogItemID, entitlement.DefaultProduct.ProductID))

		res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "machine-1"))
		s.Require().NoError(err)
		s.Equal(entitlement.ReasonRevoked, res.Reason)
	})

	s.Run("seats exhausted", func() {
		issued := s.issue(2, nil)
		for _, m := range []string{"m1", "m2"} {
			res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, m))
			s.Require().NoError(err)
			s.Require().True(res.Entitled)
		}

		res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "m3"))
		s.Require().NoError(err)
		s.False(res.Entitled)
		s.Equal(entitlement.ReasonSeatsExhausted, res.Reason)
		s.Contains(s.auditActions(issued.Grant.AccountID.String()), string(audit.EventSeatsExhausted))
	})
}

func (s *ServiceSuite) TestAuthentication() {
	issued := s.issue(1, nil)
	accountID := issued.Grant.AccountID.String()
	ctx := context.Background()

	cases := map[string]string{
		"empty token":     "",
		"missing secret":  accountID,
		"wrong secret":    accountID + ":not-the-secret",
		"unknown account": domain.NewAccountID().String() + ":correct-horse-battery",
		"malformed uuid":  "nope:correct-horse-battery",
		"empty secret":    accountID + ":",
	}
	for name, token := range cases {
		s.Run(name, func() {
			_, err := s.service.Check(ctx, s.checkInput(token, "machine-1"))
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
			s.Equal("unauthorized: invalid account credentials", err.Error())
		})
	}
	s.Equal(float64(len(cases)), promtestutil.ToFloat64(s.metrics.AuthFailures))
}

func (s *ServiceSuite) TestCheckValidation() {
	issued := s.issue(1, nil)
	ctx := context.Background()

	s.Run("missing machine", func() {
		_, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, ""))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("oversized machine id", func() {
		_, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, strings.Repeat("x", 129)))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("missing product", func() {
		in := s.checkInput(issued.AccountToken, "m")
		in.ProductID = " "
		_, err := s.service.Check(ctx, in)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestStoreFailures() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	svc := s.newService(store)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	s.Require().NoError(err)
	accountID := domain.NewAccountID()
	token := accountID.String() + ":correct-horse-battery"

	s.Run("account lookup unavailable", func() {
		store.EXPECT().FindAccount(gomock.Any(), accountID).Return(nil, sentinel.ErrUnavailable)

		_, err := svc.Check(ctx, s.checkInput(token, "m"))
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("grant lookup fails", func() {
		store.EXPECT().FindAccount(gomock.Any(), accountID).Return(&models.Account{ID: accountID, SecretHash: hash}, nil)
		store.EXPECT().FindGrant(gomock.Any(), accountID, gomock.Any(), gomock.Any()).Return(nil, errors.New("disk on fire"))

		_, err := svc.Check(ctx, s.checkInput(token, "m"))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("activation fails", func() {
		grant := &models.Grant{ID: domain.NewGrantID(), AccountID: accountID, Seats: 1}
		store.EXPECT().FindAccount(gomock.Any(), accountID).Return(&models.Account{ID: accountID, SecretHash: hash}, nil)
		store.EXPECT().FindGrant(gomock.Any(), accountID, gomock.Any(), gomock.Any()).Return(grant, nil)
		store.EXPECT().Activate(gomock.Any(), gomock.Any(), 1).Return(nil, false, sentinel.ErrUnavailable)

		_, err := svc.Check(ctx, s.checkInput(token, "m"))
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("issue save fails", func() {
		store.EXPECT().SaveAccount(gomock.Any(), gomock.Any()).Return(errors.New("constraint"))

		_, err := svc.Issue(ctx, models.IssueInput{CatalogItemID: "c", ProductID: "p", Seats: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// =============================================================================
// Issue / Revoke / Release Tests
// =============================================================================

func (s *ServiceSuite) TestIssue() {
	ctx := context.Background()

	s.Run("generates account and secret", func() {
		res, err := s.service.Issue(ctx, models.IssueInput{
			CatalogItemID: "c",
			ProductID:     "p",
			Seats:         1,
		})
		s.Require().NoError(err)
		s.False(res.Grant.AccountID.IsNil())
		id, secret, ok := strings.Cut(res.AccountToken, ":")
		s.True(ok)
		s.Equal(res.Grant.AccountID.String(), id)
		s.Len(secret, 48)
	})

	s.Run("reissue keeps grant id and rotates secret", func() {
		first := s.issue(1, nil)
		second, err := s.service.Issue(ctx, models.IssueInput{
			AccountID:     first.Grant.AccountID,
			Secret:        "another-long-secret",
			CatalogItemID: entitlement.DefaultProduct.CatalogItemID,
			ProductID:     entitlement.DefaultProduct.ProductID,
			Seats:         5,
		})
		s.Require().NoError(err)
		s.Equal(first.Grant.ID, second.Grant.ID)
		s.Equal(5, second.Grant.Seats)

		_, err = s.service.Check(ctx, s.checkInput(first.AccountToken, "m"))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		res, err := s.service.Check(ctx, s.checkInput(second.AccountToken, "m"))
		s.Require().NoError(err)
		s.True(res.Entitled)
	})

	s.Run("validation", func() {
		bad := []models.IssueInput{
			{ProductID: "p", Seats: 1},
			{CatalogItemID: "c", Seats: 1},
			{CatalogItemID: "c", ProductID: "p", Seats: 0},
			{CatalogItemID: "c", ProductID: "p", Seats: 1, Secret: "short"},
			{CatalogItemID: "c", ProductID: "p", Seats: 1, Secret: "has:a-colon-inside"},
			{CatalogItemID: "c", ProductID: "p", Seats: 1, Secret: strings.Repeat("s", 73)},
		}
		for _, in := range bad {
			_, err := s.service.Issue(ctx, in)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "%+v", in)
		}
	})
}

func (s *ServiceSuite) TestRevokeUnknownGrant() {
	err := s.service.Revoke(context.Background(), domain.NewAccountID(), "c", "p")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestReleaseFreesSeat() {
	issued := s.issue(1, nil)
	ctx := context.Background()

	_, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "m1"))
	s.Require().NoError(err)
	res, err := s.service.Check(ctx, s.checkInput(issued.AccountToken, "m2"))
	s.Require().NoError(err)
	s.Require().False(res.Entitled)

	n, err := s.service.Release(ctx, models.ReleaseInput{
		AccountID:     issued.Grant.AccountID,
		CatalogItemID: entitlement.DefaultProduct.CatalogItemID,
		ProductID:     entitlement.DefaultProduct.ProductID,
		MachineIDs:    []string{"m1"},
	})
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.SeatsReleased))

	res, err = s.service.Check(ctx, s.checkInput(issued.AccountToken, "m2"))
	s.Require().NoError(err)
	s.True(res.Entitled)

	list, err := s.service.Activations(ctx, issued.Grant.AccountID,
		entitlement.DefaultProduct.CatalogItemID, entitlement.DefaultProduct.ProductID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("m2", list[0].MachineID)
}

func (s *ServiceSuite) TestReleaseRequiresMachines() {
	_, err := s.service.Release(context.Background(), models.ReleaseInput{AccountID: domain.NewAccountID()})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestReleaseIgnoresBlankAndRepeatedMachines() {
	res := s.issue(2, nil)
	ctx := context.Background()
	_, err := s.service.Check(ctx, s.checkInput(res.AccountToken, "m1"))
	s.Require().NoError(err)

	n, err := s.service.Release(ctx, models.ReleaseInput{
		AccountID:     res.Grant.AccountID,
		CatalogItemID: res.Grant.CatalogItemID,
		ProductID:     res.Grant.ProductID,
		MachineIDs:    []string{" m1 ", "m1", ""},
	})
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.service.Release(ctx, models.ReleaseInput{
		AccountID:     res.Grant.AccountID,
		CatalogItemID: res.Grant.CatalogItemID,
		ProductID:     res.Grant.ProductID,
		MachineIDs:    []string{" ", ""},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestDefaultsToRequestTime() {
	requestTime := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	grantExpiry := requestTime.Add(30 * time.Minute)
	svc, err := New(s.store, s.signer, WithBcryptCost(bcrypt.MinCost))
	s.Require().NoError(err)
	ctx := requestcontext.WithTime(context.Background(), requestTime)

	res, err := svc.Issue(ctx, models.IssueInput{
		Secret:        "correct-horse-battery",
		CatalogItemID: entitlement.DefaultProduct.CatalogItemID,
		ProductID:     entitlement.DefaultProduct.ProductID,
		Seats:         1,
		ExpiresAt:     &grantExpiry,
	})
	s.Require().NoError(err)
	s.Equal(requestTime, res.Grant.CreatedAt)

	result, err := svc.Check(ctx, s.checkInput(res.AccountToken, "m1"))
	s.Require().NoError(err)
	s.Require().True(result.Entitled)
	s.True(grantExpiry.Equal(result.ExpiresAt))

	list, err := svc.Activations(ctx, res.Grant.AccountID, res.Grant.CatalogItemID, res.Grant.ProductID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.True(requestTime.Equal(list[0].ActivatedAt))
}
