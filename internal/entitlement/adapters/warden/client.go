// Package warden is the HTTP adapter for the entitlement authority. It
// verifies signed grants locally and owns the unauthorized-user experience.
package warden

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"ldgate/internal/entitlement/models"
	jwttoken "ldgate/internal/jwt_token"
	dErrors "ldgate/pkg/domain-errors"
	"ldgate/pkg/platform/httputil"
)

const (
	checkPath       = "/v1/entitlements/check"
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 64 << 10
)

// CheckPayload is the wire body of an entitlement check.
type CheckPayload struct {
	CatalogItemID string `json:"catalog_item_id"`
	ProductID     string `json:"product_id"`
	MachineID     string `json:"machine_id"`
}

// CheckResponse is the warden's answer. Grant is set only when Entitled.
type CheckResponse struct {
	Entitled bool   `json:"entitled"`
	Reason   string `json:"reason,omitempty"`
	Grant    string `json:"grant,omitempty"`
}

// Client implements ports.Warden over HTTP.
type Client struct {
	baseURL      string
	accountToken string
	httpClient   *http.Client
	verifier     *jwttoken.Verifier
	publicKey    ed25519.PublicKey
	presenter    Presenter
	userAgent    string
	logger       *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithPublicKey sets the key grant tokens are verified with.
func WithPublicKey(key ed25519.PublicKey) Option {
	return func(cl *Client) {
		cl.publicKey = key
	}
}

// WithVerifier replaces the verifier built from WithPublicKey.
func WithVerifier(v *jwttoken.Verifier) Option {
	return func(cl *Client) {
		cl.verifier = v
	}
}

func WithPresenter(p Presenter) Option {
	return func(cl *Client) {
		if p != nil {
			cl.presenter = p
		}
	}
}

// WithVersion stamps the product version into the User-Agent.
func WithVersion(version string) Option {
	return func(cl *Client) {
		cl.userAgent = UserAgent(version, runtime.GOOS, runtime.GOARCH)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func NewClient(baseURL, accountToken string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("warden url is required")
	}
	if accountToken == "" {
		return nil, fmt.Errorf("account token is required")
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accountToken: accountToken,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		presenter:    SilentPresenter{},
		userAgent:    UserAgent("dev", runtime.GOOS, runtime.GOARCH),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.verifier == nil {
		if c.publicKey == nil {
			return nil, fmt.Errorf("warden public key is required")
		}
		v, err := jwttoken.NewVerifier(c.publicKey, jwttoken.DefaultIssuer)
		if err != nil {
			return nil, err
		}
		c.verifier = v
	}
	return c, nil
}

// CheckEntitlement asks the warden whether the account owns req.Product on
// this machine. Anything other than a verified grant runs the unauthorized
// handling before returning.
func (c *Client) CheckEntitlement(ctx context.Context, req models.CheckRequest) (*models.Verdict, error) {
	verdict, err := c.check(ctx, req)
	if err != nil || !verdict.Granted {
		c.presentUnauthorized(ctx, req)
	}
	return verdict, err
}

func (c *Client) check(ctx context.Context, req models.CheckRequest) (*models.Verdict, error) {
	body, err := json.Marshal(CheckPayload{
		CatalogItemID: req.Product.CatalogItemID,
		ProductID:     req.Product.ProductID,
		MachineID:     req.MachineID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accountToken)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "warden unreachable")
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, limited)
	}

	var out CheckResponse
	if err := json.NewDecoder(limited).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode warden response")
	}

	if !out.Entitled {
		reason := out.Reason
		if reason == "" {
			reason = models.ReasonNoGrant
		}
		return &models.Verdict{Granted: false, Reason: reason}, nil
	}

	claims, err := c.verifier.Verify(out.Grant)
	if err != nil {
		return nil, err
	}
	verdict, err := jwttoken.ToVerdict(claims, req)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "grant token verified",
		"grant_id", verdict.GrantID,
		"expires_at", verdict.ExpiresAt,
	)
	return verdict, nil
}

func statusError(status int, body io.Reader) error {
	code := httputil.CodeFor(status)
	if status >= 500 {
		code = dErrors.CodeUnavailable
	}

	var envelope httputil.ErrorResponse
	msg := http.StatusText(status)
	if err := json.NewDecoder(body).Decode(&envelope); err == nil {
		if envelope.Description != "" {
			msg = envelope.Description
		} else if envelope.Error != "" {
			msg = envelope.Error
		}
	}
	return dErrors.New(code, fmt.Sprintf("warden returned %d: %s", status, msg))
}

func (c *Client) presentUnauthorized(ctx context.Context, req models.CheckRequest) {
	switch req.Handling {
	case models.HandlingSilent:
		return
	case models.HandlingShowMessage:
		c.presenter.Notify(ctx, req.Product, req.UnauthorizedMessage)
	case models.HandlingShowMessageOpenStore:
		c.presenter.Notify(ctx, req.Product, req.UnauthorizedMessage)
		if req.StoreURL == "" || !c.presenter.Confirm(ctx, "Open the store page now?") {
			return
		}
		if err := c.presenter.OpenStore(ctx, req.StoreURL); err != nil {
			c.logger.WarnContext(ctx, "failed to open store page", "url", req.StoreURL, "error", err)
		}
	}
}

// UserAgent formats the client identifier the warden derives the
// activation platform from. The Mozilla prefix keeps generic user agent
// parsers reading the platform comment.
func UserAgent(version, goos, goarch string) string {
	return fmt.Sprintf("Mozilla/5.0 (%s) ldgate/%s", platformComment(goos, goarch), version)
}

func platformComment(goos, goarch string) string {
	switch goos {
	case "windows":
		if goarch == "arm64" {
			return "Windows NT 10.0; ARM64"
		}
		return "Windows NT 10.0; Win64; x64"
	case "darwin":
		return "Macintosh; Intel Mac OS X 10_15_7"
	default:
		if goarch == "amd64" {
			return "X11; Linux x86_64"
		}
		return "X11; Linux " + goarch
	}
}
