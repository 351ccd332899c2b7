package ssa

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dsregister.org/internal/registry"
)

// AssertionTTL is the fixed lifetime of a software statement assertion.
// Relying parties depend on exp - iat being exactly this value.
const AssertionTTL = 600 * time.Second

// SoftwareRole is the fixed role marker carried by every assertion.
const SoftwareRole = "data-recipient-software-product"

// Claims is the software statement assertion claim set. tos_uri and
// policy_uri are emitted only when the underlying record carries a value;
// recipient_base_uri is emitted if and only if the negotiated version is 2
// or later, even when empty.
type Claims struct {
	OrgID             string   `json:"org_id"`
	OrgName           string   `json:"org_name"`
	ClientName        string   `json:"client_name"`
	ClientDescription string   `json:"client_description"`
	ClientURI         string   `json:"client_uri"`
	RedirectURIs      []string `json:"redirect_uris"`
	LogoURI           string   `json:"logo_uri"`
	TosURI            string   `json:"tos_uri,omitempty"`
	PolicyURI         string   `json:"policy_uri,omitempty"`
	JwksURI           string   `json:"jwks_uri"`
	RevocationURI     string   `json:"revocation_uri"`
	SoftwareID        string   `json:"software_id"`
	SoftwareRoles     string   `json:"software_roles"`
	Scope             string   `json:"scope"`
	RecipientBaseURI  *string  `json:"recipient_base_uri,omitempty"`
	jwt.RegisteredClaims
}

// BuildClaims maps a resolved brand and software product onto the assertion
// claim schema for the negotiated version. jti is freshly generated and
// never reused across issuances.
func BuildClaims(res registry.Resolution, version int, issuer string, now time.Time) Claims {
	now = now.UTC()
	sp := res.SoftwareProduct

	claims := Claims{
		OrgID:             res.Brand.ID,
		OrgName:           res.Brand.Name,
		ClientName:        sp.Name,
		ClientDescription: sp.Description,
		ClientURI:         sp.ClientURI,
		RedirectURIs:      sp.RedirectURIs,
		LogoURI:           sp.LogoURI,
		TosURI:            sp.TosURI,
		PolicyURI:         sp.PolicyURI,
		JwksURI:           sp.JwksURI,
		RevocationURI:     sp.RevocationURI,
		SoftwareID:        sp.ID,
		SoftwareRoles:     SoftwareRole,
		Scope:             sp.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AssertionTTL)),
			ID:        uuid.NewString(),
		},
	}
	if version >= 2 {
		uri := sp.RecipientBaseURI
		claims.RecipientBaseURI = &uri
	}
	return claims
}
