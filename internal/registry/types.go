package registry

import "time"

// Status is the lifecycle state of a register entity. Participations use the
// full set; brands and software products only move between active, inactive
// and removed.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusInactive    Status = "INACTIVE"
	StatusRemoved     Status = "REMOVED"
	StatusSuspended   Status = "SUSPENDED"
	StatusRevoked     Status = "REVOKED"
	StatusSurrendered Status = "SURRENDERED"
)

// Industry is the data-sharing sector a participation is accredited for.
type Industry string

const (
	IndustryBanking Industry = "banking"
	IndustryEnergy  Industry = "energy"
	IndustryTelco   Industry = "telco"
)

// ParseIndustry validates a raw industry path segment.
func ParseIndustry(raw string) (Industry, error) {
	switch Industry(raw) {
	case IndustryBanking, IndustryEnergy, IndustryTelco:
		return Industry(raw), nil
	default:
		return "", ErrInvalidIndustry
	}
}

// Participation is an onboarded organization. Its status is mutated by
// register administration out of band; this service only reads it.
type Participation struct {
	ID        string
	Industry  Industry
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Brand is a commercial brand owned by a participation.
type Brand struct {
	ID              string
	ParticipationID string
	Name            string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SoftwareProduct is a client application registered under a brand.
type SoftwareProduct struct {
	ID               string
	BrandID          string
	Name             string
	Description      string
	ClientURI        string
	RedirectURIs     []string
	LogoURI          string
	TosURI           string
	PolicyURI        string
	JwksURI          string
	RevocationURI    string
	RecipientBaseURI string
	Scope            string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Resolution is the entity chain for a requested (brand, software product)
// pair under an industry.
type Resolution struct {
	Participation   Participation
	Brand           Brand
	SoftwareProduct SoftwareProduct
}

// ActiveChain reports whether every entity along the chain is active. The
// result is deliberately a single boolean: callers must not surface which
// entity failed.
func (r Resolution) ActiveChain() bool {
	return r.Participation.Status == StatusActive &&
		r.Brand.Status == StatusActive &&
		r.SoftwareProduct.Status == StatusActive
}
