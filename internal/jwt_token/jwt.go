// Package jwttoken signs and verifies grant tokens: short-lived EdDSA JWTs
// the warden hands out with a positive entitlement verdict.
package jwttoken

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	dErrors "ldgate/pkg/domain-errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultIssuer is the iss claim of warden-issued tokens.
const DefaultIssuer = "ldgate-warden"

// GrantClaims binds a grant to one product and one seat.
type GrantClaims struct {
	AccountID     string `json:"account_id"`
	CatalogItemID string `json:"catalog_item_id"`
	ProductID     string `json:"product_id"`
	MachineID     string `json:"machine_id"`
	jwt.RegisteredClaims
}

// GrantID returns the grant the token was issued for.
func (c *GrantClaims) GrantID() string {
	return c.Subject
}

// GrantSubject names what a token is being issued for.
type GrantSubject struct {
	GrantID       string
	AccountID     string
	CatalogItemID string
	ProductID     string
	MachineID     string
}

// Signer issues grant tokens with an Ed25519 private key.
type Signer struct {
	key    ed25519.PrivateKey
	issuer string
}

func NewSigner(key ed25519.PrivateKey, issuer string) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Signer{key: key, issuer: issuer}, nil
}

// NewSignerFromSeed derives the key pair from a 32 byte seed.
func NewSignerFromSeed(seed []byte, issuer string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewSigner(ed25519.NewKeyFromSeed(seed), issuer)
}

// PublicKey returns the key clients verify with.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign issues a token for subject valid from now until expiresAt.
func (s *Signer) Sign(subject GrantSubject, now, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, GrantClaims{
		AccountID:     subject.AccountID,
		CatalogItemID: subject.CatalogItemID,
		ProductID:     subject.ProductID,
		MachineID:     subject.MachineID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.GrantID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign grant token: %w", err)
	}
	return signed, nil
}

// Verifier checks grant tokens against the warden's public key.
type Verifier struct {
	key    ed25519.PublicKey
	issuer string
	now    func() time.Time
}

type VerifierOption func(*Verifier)

// WithClock overrides the time used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVerifier(key ed25519.PublicKey, issuer string, opts ...VerifierOption) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	v := &Verifier{key: key, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses a token and checks signature, issuer and expiry.
func (v *Verifier) Verify(tokenString string) (*GrantClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.key, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "grant token has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid grant token")
	}

	claims, ok := parsed.Claims.(*GrantClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid grant token claims")
	}
	return claims, nil
}
