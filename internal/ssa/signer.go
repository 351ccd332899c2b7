package ssa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Signer produces compact-serialized software statement assertions using
// RSA-PSS with SHA-256. The private key is loaded once at process start and
// only ever read afterwards, so a Signer is safe for concurrent use.
type Signer struct {
	key *rsa.PrivateKey
	kid string
}

// SignerOption configures Signer behavior.
type SignerOption func(*Signer)

// WithKeyID overrides the derived key identifier.
func WithKeyID(kid string) SignerOption {
	return func(s *Signer) {
		if kid != "" {
			s.kid = kid
		}
	}
}

// NewSigner wraps a private signing key. The key identifier defaults to the
// base64url-encoded SHA-256 digest of the PKIX public key, so a signer and
// the key set it publishes always agree on kid.
func NewSigner(key *rsa.PrivateKey, opts ...SignerOption) (*Signer, error) {
	if key == nil {
		return nil, errors.New("ssa: signing key is required")
	}
	s := &Signer{key: key}
	for _, opt := range opts {
		opt(s)
	}
	if s.kid == "" {
		kid, err := deriveKeyID(&key.PublicKey)
		if err != nil {
			return nil, err
		}
		s.kid = kid
	}
	return s, nil
}

// KeyID returns the identifier embedded in assertion headers and the
// published key set.
func (s *Signer) KeyID() string {
	return s.kid
}

// Sign serializes and signs the claim set. The header carries typ=JWT,
// alg=PS256 and the signer's kid.
func (s *Signer) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// JWKS returns the public key set relying parties use to validate
// assertion signatures. Served at the register's key-discovery endpoint.
func (s *Signer) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &s.key.PublicKey,
				KeyID:     s.kid,
				Algorithm: string(jose.PS256),
				Use:       "sig",
			},
		},
	}
}

func deriveKeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("derive kid: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ParsePrivateKeyPEM decodes a PKCS#1 or PKCS#8 encoded RSA private key.
func ParsePrivateKeyPEM(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("ssa: invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("ssa: unsupported private key type")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("ssa: unsupported private key type %s", block.Type)
	}
}

// GenerateKey creates an ephemeral 2048-bit signing key for local
// development. Production deployments must load a persisted key so the
// published JWKS stays stable across restarts.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
