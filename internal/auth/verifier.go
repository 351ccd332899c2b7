package auth

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultSkew is the clock-skew tolerance applied to issued-at validation.
// Expiry is always checked strictly.
const defaultSkew = 2 * time.Minute

// ScopeList unmarshals a scope claim carried either as a JSON array or as a
// single space-separated string.
type ScopeList []string

func (s *ScopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = strings.Fields(single)
	return nil
}

type confirmation struct {
	X5tS256 string `json:"x5t#S256"`
}

// AccessClaims are the verified claims of a presented access token.
type AccessClaims struct {
	ClientID string       `json:"client_id"`
	Scope    ScopeList    `json:"scope"`
	Cnf      confirmation `json:"cnf"`
	jwt.RegisteredClaims
}

// Verifier validates bearer access tokens minted by the ecosystem's
// identity provider. It never issues tokens itself.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	skew      time.Duration
	now       func() time.Time
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithSkew overrides the issued-at clock-skew tolerance.
func WithSkew(skew time.Duration) VerifierOption {
	return func(v *Verifier) {
		if skew > 0 {
			v.skew = skew
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier trusting tokens signed by the given
// identity-provider key for the given issuer and audience.
func NewVerifier(publicKey *rsa.PublicKey, issuer, audience string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		skew:      defaultSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates the raw token and binds it to the presenting connection:
// the token's cnf thumbprint must match the thumbprint of the mTLS client
// certificate the connection was established with. Every failure collapses
// to ErrUnauthenticated.
func (v *Verifier) Verify(raw, certThumbprint string) (*AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || v.publicKey == nil {
		return nil, ErrUnauthenticated
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"PS256", "RS256"}),
		jwt.WithExpirationRequired(),
	)
	parsed, err := parser.ParseWithClaims(raw, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if err := v.validateClaims(claims, certThumbprint); err != nil {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func (v *Verifier) validateClaims(claims *AccessClaims, certThumbprint string) error {
	now := v.now().UTC()

	if v.issuer != "" && claims.Issuer != v.issuer {
		return ErrUnauthenticated
	}
	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return ErrUnauthenticated
	}
	// Expiry is strict: the parser already rejected expired tokens with no
	// leeway. Issued-at only needs to not be from the future beyond skew.
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(v.skew)) {
		return ErrUnauthenticated
	}

	// Holder-of-key binding. A token minted against certificate A presented
	// over a connection opened with certificate B must be rejected even when
	// the token is otherwise valid.
	if claims.Cnf.X5tS256 == "" || certThumbprint == "" {
		return ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(claims.Cnf.X5tS256), []byte(certThumbprint)) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// CertThumbprint computes the base64url-encoded SHA-256 digest of the DER
// certificate, the value carried in cnf "x5t#S256" confirmation claims.
func CertThumbprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
