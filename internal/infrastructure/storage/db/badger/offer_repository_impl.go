package dbbadger

import (
	"context"
	"errors"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type offerRepositoryImpl struct {
	store *badgerhold.Store
}

// NewOfferRepositoryImpl returns a badger backed OfferRepository.
func NewOfferRepositoryImpl(store *badgerhold.Store) domain.OfferRepository {
	return offerRepositoryImpl{store}
}

func (r offerRepositoryImpl) AddOffer(_ context.Context, offer domain.SignedOffer) error {
	return r.store.Upsert(offer.ID, offer)
}

func (r offerRepositoryImpl) GetOffer(_ context.Context, id string) (*domain.SignedOffer, error) {
	var offer domain.SignedOffer
	if err := r.store.Get(id, &offer); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r offerRepositoryImpl) GetAllOffers(_ context.Context) ([]domain.SignedOffer, error) {
	var offers []domain.SignedOffer
	if err := r.store.Find(&offers, (&badgerhold.Query{}).SortBy("ID")); err != nil {
		return nil, err
	}
	if offers == nil {
		offers = make([]domain.SignedOffer, 0)
	}
	return offers, nil
}

func (r offerRepositoryImpl) DeleteOffer(_ context.Context, id string) error {
	if err := r.store.Delete(id, domain.SignedOffer{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
