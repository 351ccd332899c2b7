package registry

import "context"

// Store resolves register entities for assertion issuance. Reads reflect the
// latest committed state; read-committed consistency is sufficient since
// status flips are administrative and out of band.
type Store interface {
	// Resolve loads the participation/brand/software product chain for the
	// given identifiers under an industry. Returns ErrNotFound when either
	// the brand or the software product does not exist in that industry.
	Resolve(ctx context.Context, industry Industry, brandID, softwareProductID string) (Resolution, error)
}
