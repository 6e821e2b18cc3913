// Package gate runs caller-supplied work only after the product's
// marketplace entitlement has been confirmed by the warden.
//
// A Gate has two states. It starts Unverified and moves to Verified on the
// first granted check; Verified is terminal for the life of the Gate. A
// denied or failed check leaves it Unverified and the next call retries.
// Concurrent calls made while a check is outstanding share that check.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ldgate/internal/entitlement/models"
	"ldgate/internal/entitlement/ports"
	"ldgate/internal/platform/metrics"
	"ldgate/pkg/platform/audit"
)

const (
	tracerName = "ldgate/internal/entitlement/gate"
	flightKey  = "entitlement"
)

// Check outcomes used for metrics labels and audit decisions.
const (
	outcomeGranted = "granted"
	outcomeDenied  = "denied"
	outcomeError   = "error"
)

// Gate memoizes a successful entitlement check for its own lifetime. Own one
// per process and pass it to whatever needs gated execution.
type Gate struct {
	warden    ports.Warden
	product   models.ProductIdentity
	message   string
	handling  models.UnauthorizedHandling
	storeURL  string
	machineID string
	enforced  func() bool
	timeout   time.Duration

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	tracer         trace.Tracer

	authenticated atomic.Bool
	flight        singleflight.Group
}

type Option func(*Gate)

// WithProduct overrides the compiled-in product identity.
func WithProduct(product models.ProductIdentity) Option {
	return func(g *Gate) {
		g.product = product
	}
}

func WithUnauthorizedMessage(msg string) Option {
	return func(g *Gate) {
		g.message = msg
	}
}

func WithHandling(h models.UnauthorizedHandling) Option {
	return func(g *Gate) {
		g.handling = h
	}
}

func WithStoreURL(url string) Option {
	return func(g *Gate) {
		g.storeURL = url
	}
}

// WithMachineID sets the seat identifier sent with every check.
func WithMachineID(id string) Option {
	return func(g *Gate) {
		g.machineID = id
	}
}

// WithEnforcement replaces the build/platform predicate. When it reports
// false the gate is open and the warden is never called.
func WithEnforcement(enforced func() bool) Option {
	return func(g *Gate) {
		if enforced != nil {
			g.enforced = enforced
		}
	}
}

// WithCheckTimeout bounds each warden call. Zero means no bound.
func WithCheckTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(g *Gate) {
		g.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gate) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// New constructs a Gate in the Unverified state.
func New(warden ports.Warden, opts ...Option) (*Gate, error) {
	if warden == nil {
		return nil, fmt.Errorf("warden is required")
	}

	g := &Gate{
		warden:   warden,
		product:  models.DefaultProduct,
		message:  models.DefaultUnauthorizedMessage,
		handling: models.HandlingShowMessageOpenStore,
		enforced: DefaultEnforcement,
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.product.Validate(); err != nil {
		return nil, fmt.Errorf("invalid product: %w", err)
	}
	if !g.handling.IsValid() {
		return nil, fmt.Errorf("invalid unauthorized handling: %s", g.handling)
	}
	if g.timeout < 0 {
		return nil, fmt.Errorf("check timeout must not be negative")
	}
	return g, nil
}

// Authenticate runs onSuccess once entitlement is confirmed. When the gate
// is already verified (or not enforced) onSuccess runs synchronously and the
// warden is not called. When the check is denied, fails, or ctx ends first,
// onSuccess never runs and nothing is reported; the warden client presents
// its own message.
func (g *Gate) Authenticate(ctx context.Context, onSuccess func()) {
	if !g.Ensure(ctx) {
		return
	}
	if onSuccess != nil {
		onSuccess()
	}
}

// Ensure is the blocking form of Authenticate: it reports whether
// entitlement is confirmed, running a check if the gate is unverified.
func (g *Gate) Ensure(ctx context.Context) bool {
	if g.IsAuthenticated() {
		if g.metrics != nil {
			g.metrics.IncrementShortCircuits()
		}
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	// The shared check outlives any single waiter so a cancelled caller
	// cannot abort it for the others.
	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(flightKey, func() (any, error) {
		return g.check(detached), nil
	})

	select {
	case res := <-ch:
		granted, _ := res.Val.(bool)
		return granted
	case <-ctx.Done():
		g.logger.DebugContext(ctx, "stopped waiting for entitlement check",
			"product_id", g.product.ProductID,
			"error", ctx.Err(),
		)
		return false
	}
}

// IsAuthenticated reports the sticky state. Builds or platforms where the
// gate is not enforced always report true.
func (g *Gate) IsAuthenticated() bool {
	if !g.enforced() {
		return true
	}
	return g.authenticated.Load()
}

// State reports Verified once IsAuthenticated is true.
func (g *Gate) State() models.State {
	if g.IsAuthenticated() {
		return models.StateVerified
	}
	return models.StateUnverified
}

// Enforced reports whether this build and platform require a check.
func (g *Gate) Enforced() bool {
	return g.enforced()
}

// Product returns the identity the gate checks.
func (g *Gate) Product() models.ProductIdentity {
	return g.product
}

func (g *Gate) check(ctx context.Context) bool {
	// A caller may have raced a check that just succeeded.
	if g.authenticated.Load() {
		return true
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ctx, span := g.tracer.Start(ctx, "entitlement.check", trace.WithAttributes(
		attribute.String("ldgate.catalog_item_id", g.product.CatalogItemID),
		attribute.String("ldgate.product_id", g.product.ProductID),
	))
	defer span.End()

	start := time.Now()
	verdict, err := g.warden.CheckEntitlement(ctx, g.request())
	elapsed := time.Since(start)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "entitlement check failed")
		g.observe(outcomeError, elapsed)
		g.logger.WarnContext(ctx, "entitlement check failed",
			"product_id", g.product.ProductID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		g.emit(ctx, audit.EventEntitlementDenied, outcomeError, err.Error())
		return false

	case verdict == nil || !verdict.Granted:
		reason := models.ReasonNoGrant
		if verdict != nil && verdict.Reason != "" {
			reason = verdict.Reason
		}
		span.SetAttributes(attribute.String("ldgate.denial_reason", reason))
		g.observe(outcomeDenied, elapsed)
		g.logger.InfoContext(ctx, "entitlement denied",
			"product_id", g.product.ProductID,
			"reason", reason,
			"duration_ms", elapsed.Milliseconds(),
		)
		g.emit(ctx, audit.EventEntitlementDenied, outcomeDenied, reason)
		return false
	}

	g.authenticated.Store(true)
	span.SetAttributes(attribute.String("ldgate.grant_id", verdict.GrantID))
	g.observe(outcomeGranted, elapsed)
	if g.metrics != nil {
		g.metrics.SetAuthenticated()
	}
	g.logger.InfoContext(ctx, "entitlement verified",
		"product_id", g.product.ProductID,
		"grant_id", verdict.GrantID,
		"duration_ms", elapsed.Milliseconds(),
	)
	g.emit(ctx, audit.EventEntitlementGranted, outcomeGranted, "")
	return true
}

func (g *Gate) request() models.CheckRequest {
	return models.CheckRequest{
		Product:             g.product,
		MachineID:           g.machineID,
		UnauthorizedMessage: g.message,
		Handling:            g.handling,
		StoreURL:            g.storeURL,
	}
}

func (g *Gate) observe(outcome string, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.ObserveCheck(outcome, elapsed.Seconds())
}

func (g *Gate) emit(ctx context.Context, action audit.AuditEvent, decision, reason string) {
	if g.auditPublisher == nil {
		return
	}
	err := g.auditPublisher.Emit(ctx, audit.Event{
		Subject:   g.product.ProductID,
		Action:    string(action),
		ProductID: g.product.ProductID,
		MachineID: g.machineID,
		Decision:  decision,
		Reason:    reason,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "failed to emit audit event", "event", action, "error", err)
	}
}
