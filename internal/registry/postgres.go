package registry

import (
	"context"
	"database/sql"
	"strings"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const resolveQuery = `
select p.id, p.industry, p.status,
       b.id, b.name, b.status,
       sp.id, sp.name, sp.description, sp.client_uri, sp.redirect_uris,
       sp.logo_uri, sp.tos_uri, sp.policy_uri, sp.jwks_uri, sp.revocation_uri,
       sp.recipient_base_uri, sp.scope, sp.status
from software_products sp
join brands b on b.id = sp.brand_id
join participations p on p.id = b.participation_id
where p.industry = $1 and lower(b.id) = lower($2) and lower(sp.id) = lower($3)`

func (s *PGStore) Resolve(ctx context.Context, industry Industry, brandID, softwareProductID string) (Resolution, error) {
	row := s.db.QueryRowContext(ctx, resolveQuery, string(industry), brandID, softwareProductID)

	var (
		res          Resolution
		redirectURIs string
		tosURI       sql.NullString
		policyURI    sql.NullString
	)
	err := row.Scan(
		&res.Participation.ID, &res.Participation.Industry, &res.Participation.Status,
		&res.Brand.ID, &res.Brand.Name, &res.Brand.Status,
		&res.SoftwareProduct.ID, &res.SoftwareProduct.Name, &res.SoftwareProduct.Description,
		&res.SoftwareProduct.ClientURI, &redirectURIs,
		&res.SoftwareProduct.LogoURI, &tosURI, &policyURI,
		&res.SoftwareProduct.JwksURI, &res.SoftwareProduct.RevocationURI,
		&res.SoftwareProduct.RecipientBaseURI, &res.SoftwareProduct.Scope,
		&res.SoftwareProduct.Status,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Resolution{}, ErrNotFound
		}
		return Resolution{}, err
	}

	res.Brand.ParticipationID = res.Participation.ID
	res.SoftwareProduct.BrandID = res.Brand.ID
	res.SoftwareProduct.RedirectURIs = strings.Fields(redirectURIs)
	res.SoftwareProduct.TosURI = tosURI.String
	res.SoftwareProduct.PolicyURI = policyURI.String
	return res, nil
}
