package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/bytabit/escrowd/internal/core/domain"
)

type offerRepositoryImpl struct {
	offers map[string]domain.SignedOffer
	locker *sync.RWMutex
}

// NewOfferRepositoryImpl returns a new inmemory OfferRepository
// implementation.
func NewOfferRepositoryImpl() domain.OfferRepository {
	return &offerRepositoryImpl{
		offers: map[string]domain.SignedOffer{},
		locker: &sync.RWMutex{},
	}
}

func (r *offerRepositoryImpl) AddOffer(_ context.Context, offer domain.SignedOffer) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	r.offers[offer.ID] = offer
	return nil
}

func (r *offerRepositoryImpl) GetOffer(_ context.Context, id string) (*domain.SignedOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	offer, ok := r.offers[id]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return &offer, nil
}

func (r *offerRepositoryImpl) GetAllOffers(_ context.Context) ([]domain.SignedOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	offers := make([]domain.SignedOffer, 0, len(r.offers))
	for _, o := range r.offers {
		offers = append(offers, o)
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })
	return offers, nil
}

func (r *offerRepositoryImpl) DeleteOffer(_ context.Context, id string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	delete(r.offers, id)
	return nil
}
