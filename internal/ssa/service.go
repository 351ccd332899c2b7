package ssa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dsregister.org/internal/registry"
)

const defaultIssuer = "dsr-register"

// ErrNotAuthorized indicates the participation/brand/software product chain
// is not fully active. Callers must not surface which entity failed.
var ErrNotAuthorized = errors.New("ssa: software product not authorized")

// Service issues signed software statement assertions for resolved register
// entities. It holds no mutable per-request state.
type Service struct {
	store  registry.Store
	signer *Signer
	issuer string
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithIssuer overrides the assertion issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the issuance service.
func NewService(store registry.Store, signer *Signer, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		signer: signer,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issuer returns the issuer claim carried by every assertion.
func (s *Service) Issuer() string {
	return s.issuer
}

// IssueRequest identifies the software product an assertion is requested
// for. Version must already be negotiated.
type IssueRequest struct {
	Industry          string
	BrandID           string
	SoftwareProductID string
	Version           int
}

// Issue resolves the entity chain, gates on status and returns a signed
// assertion. Failures are terminal for the request: registry.ErrNotFound
// for unknown identifiers, registry.ErrInvalidIndustry for an unrecognized
// industry value, ErrNotAuthorized when any entity along the chain is not
// active.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, error) {
	industry, err := registry.ParseIndustry(req.Industry)
	if err != nil {
		return "", err
	}

	res, err := s.store.Resolve(ctx, industry, req.BrandID, req.SoftwareProductID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", registry.ErrNotFound
		}
		return "", fmt.Errorf("resolve software product: %w", err)
	}

	if !res.ActiveChain() {
		return "", ErrNotAuthorized
	}

	claims := BuildClaims(res, req.Version, s.issuer, s.now())
	return s.signer.Sign(claims)
}
