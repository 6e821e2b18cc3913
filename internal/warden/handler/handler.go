// Package handler exposes the warden over HTTP.
package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ldgate/internal/warden/metrics"
	"ldgate/internal/warden/models"
	"ldgate/internal/warden/ports"
	"ldgate/internal/warden/throttle"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/audit"
	"ldgate/pkg/platform/httputil"
	"ldgate/pkg/platform/middleware/metadata"
	"ldgate/pkg/platform/middleware/requesttime"
	"ldgate/pkg/requestcontext"
)

const (
	CheckPath   = "/v1/entitlements/check"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	requestTimeout = 30 * time.Second
)

// Service is the part of the warden service the HTTP layer needs.
type Service interface {
	Check(ctx context.Context, in models.CheckInput) (*models.CheckResult, error)
	Ping(ctx context.Context) error
}

// Limiter admits or rejects a check for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) throttle.Result
}

// CheckRequest is the JSON body of POST /v1/entitlements/check.
type CheckRequest struct {
	CatalogItemID string `json:"catalog_item_id"`
	ProductID     string `json:"product_id"`
	MachineID     string `json:"machine_id"`
}

// CheckResponse carries the verdict. Grant is the signed token, present
// only when Entitled.
type CheckResponse struct {
	Entitled bool   `json:"entitled"`
	Reason   string `json:"reason,omitempty"`
	Grant    string `json:"grant,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Handler serves the warden endpoints.
type Handler struct {
	service        Service
	limiter        Limiter
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	gatherer       prometheus.Gatherer
	now            func() time.Time
}

type Option func(*Handler)

// WithLimiter throttles checks per client IP and per account.
func WithLimiter(l Limiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(h *Handler) {
		h.auditPublisher = publisher
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		if g != nil {
			h.gatherer = g
		}
	}
}

// WithClock sets the time pinned on each request.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a Handler.
func New(service Service, opts ...Option) *Handler {
	h := &Handler{
		service:  service,
		logger:   slog.New(slog.DiscardHandler),
		gatherer: prometheus.DefaultGatherer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds a chi router with every warden route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts the warden routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(chimw.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware(h.now))
	r.Use(chimw.Timeout(requestTimeout))

	r.Post(CheckPath, h.handleCheck)
	r.Get(HealthPath, h.handleHealth)
	r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	if !h.admit(w, r, token) {
		return
	}

	req, err := httputil.DecodeJSON[CheckRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid entitlement check request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Check(ctx, models.CheckInput{
		AccountToken:  token,
		CatalogItemID: req.CatalogItemID,
		ProductID:     req.ProductID,
		MachineID:     req.MachineID,
		Platform:      metadata.Platform(requestcontext.UserAgent(ctx)),
	})
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "entitlement check failed",
				"request_id", requestID,
				"error", err,
			)
		} else {
			h.logger.WarnContext(ctx, "entitlement check rejected",
				"request_id", requestID,
				"error", err,
			)
		}
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, CheckResponse{
		Entitled: result.Entitled,
		Reason:   result.Reason,
		Grant:    result.Token,
	})
}

// admit applies the client IP limit and then the account limit. It writes
// the 429 itself and reports false when the request must stop.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, token string) bool {
	if h.limiter == nil {
		return true
	}
	ctx := r.Context()

	keys := []string{"ip:" + requestcontext.ClientIP(ctx)}
	if account, _, found := strings.Cut(token, ":"); found && account != "" {
		keys = append(keys, "account:"+account)
	}

	for _, key := range keys {
		res := h.limiter.Allow(ctx, key)
		setRateLimitHeaders(w, res)
		if res.Allowed {
			continue
		}

		retryAfter := res.RetryAfter(requestcontext.Now(ctx))
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		if h.metrics != nil {
			h.metrics.IncrementThrottled()
		}
		audit.Log(ctx, h.logger, h.auditPublisher, audit.Event{
			Category: audit.EventCheckThrottled.Category(),
			Subject:  key,
			Action:   string(audit.EventCheckThrottled),
			Decision: "throttled",
		})
		httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many entitlement checks"))
		return false
	}
	return true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "store unreachable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func setRateLimitHeaders(w http.ResponseWriter, res throttle.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
