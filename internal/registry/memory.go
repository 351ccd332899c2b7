package registry

import (
	"context"
	"strings"
	"sync"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. Used for
// local development and tests; production runs against PGStore.
type InMemory struct {
	mu             sync.RWMutex
	participations map[string]*Participation
	brands         map[string]*Brand
	products       map[string]*SoftwareProduct
}

// NewInMemory creates an empty in-memory register.
func NewInMemory() *InMemory {
	return &InMemory{
		participations: make(map[string]*Participation),
		brands:         make(map[string]*Brand),
		products:       make(map[string]*SoftwareProduct),
	}
}

// AddParticipation inserts or replaces a participation record.
func (s *InMemory) AddParticipation(p Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participations[strings.ToLower(p.ID)] = &p
}

// AddBrand inserts or replaces a brand record.
func (s *InMemory) AddBrand(b Brand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brands[strings.ToLower(b.ID)] = &b
}

// AddSoftwareProduct inserts or replaces a software product record.
func (s *InMemory) AddSoftwareProduct(sp SoftwareProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[strings.ToLower(sp.ID)] = &sp
}

// SetParticipationStatus flips a participation status, mirroring the
// administrative mutation performed against the production store.
func (s *InMemory) SetParticipationStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participations[strings.ToLower(id)]; ok {
		p.Status = status
	}
}

// SetBrandStatus flips a brand status.
func (s *InMemory) SetBrandStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.brands[strings.ToLower(id)]; ok {
		b.Status = status
	}
}

// SetSoftwareProductStatus flips a software product status.
func (s *InMemory) SetSoftwareProductStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.products[strings.ToLower(id)]; ok {
		sp.Status = status
	}
}

func (s *InMemory) Resolve(ctx context.Context, industry Industry, brandID, softwareProductID string) (Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	brand, ok := s.brands[strings.ToLower(brandID)]
	if !ok {
		return Resolution{}, ErrNotFound
	}
	product, ok := s.products[strings.ToLower(softwareProductID)]
	if !ok || !strings.EqualFold(product.BrandID, brand.ID) {
		return Resolution{}, ErrNotFound
	}
	participation, ok := s.participations[strings.ToLower(brand.ParticipationID)]
	if !ok || participation.Industry != industry {
		return Resolution{}, ErrNotFound
	}

	return Resolution{
		Participation:   *participation,
		Brand:           *brand,
		SoftwareProduct: *product,
	}, nil
}
