// Package service is the warden's licensing logic: account authentication,
// grant lookup, per-seat activation and grant token issuance.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	jwttoken "ldgate/internal/jwt_token"
	"ldgate/internal/warden/metrics"
	"ldgate/internal/warden/ports"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/sentinel"
	"ldgate/pkg/requestcontext"
)

const (
	tracerName      = "ldgate/internal/warden/service"
	defaultTokenTTL = 24 * time.Hour
)

// Service answers entitlement checks and manages grants.
type Service struct {
	store      ports.Store
	signer     *jwttoken.Signer
	tokenTTL   time.Duration
	bcryptCost int

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	tracer         trace.Tracer
	now            func() time.Time
}

type Option func(*Service)

// WithTokenTTL caps grant token lifetime. Tokens never outlive their grant.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithBcryptCost sets the cost for new account secrets.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the time source. By default the service uses the
// request time pinned in the context.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store ports.Store, signer *jwttoken.Signer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	s := &Service{
		store:      store,
		signer:     signer,
		tokenTTL:   defaultTokenTTL,
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bcryptCost < bcrypt.MinCost || s.bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return s, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}

func (s *Service) audit(ctx context.Context, event audit.Event) {
	audit.Log(ctx, s.logger, s.auditPublisher, event)
}

// storeError translates store failures into domain errors.
func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
