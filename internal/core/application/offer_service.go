package application

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/crypto"
)

// OfferService manages the offer book: the offers made by the local party
// and the ones published by peers on the relay.
type OfferService interface {
	CreateOffer(
		ctx context.Context, offerType domain.OfferType,
		currency domain.CurrencyCode, paymentMethod domain.PaymentMethod,
		minAmount, maxAmount, price decimal.Decimal,
	) (*domain.SignedOffer, error)
	RemoveOffer(ctx context.Context, offerID string) error
	// SyncOffers replaces the peer offers with the valid ones currently
	// published on the relay and returns them. Invalid offers are dropped.
	SyncOffers(ctx context.Context) ([]domain.SignedOffer, error)
	GetOffer(ctx context.Context, offerID string) (*domain.SignedOffer, error)
	ListOffers(ctx context.Context) ([]domain.SignedOffer, error)
}

type offerService struct {
	offerRepository domain.OfferRepository
	keystore        ports.Keystore
	relay           ports.RelayService
}

// NewOfferService ...
func NewOfferService(
	repoManager ports.RepoManager,
	keystore ports.Keystore,
	relay ports.RelayService,
) OfferService {
	return newOfferService(repoManager.OfferRepository(), keystore, relay)
}

func newOfferService(
	offerRepository domain.OfferRepository,
	keystore ports.Keystore,
	relay ports.RelayService,
) *offerService {
	return &offerService{offerRepository, keystore, relay}
}

func (s *offerService) CreateOffer(
	ctx context.Context, offerType domain.OfferType,
	currency domain.CurrencyCode, paymentMethod domain.PaymentMethod,
	minAmount, maxAmount, price decimal.Decimal,
) (*domain.SignedOffer, error) {
	key := s.keystore.ProfileKey()
	offer, err := domain.NewOffer(
		offerType, crypto.PubKeyHex(key.PubKey()), currency, paymentMethod,
		minAmount, maxAmount, price,
	)
	if err != nil {
		return nil, err
	}
	signed, err := domain.SignOffer(*offer, key)
	if err != nil {
		return nil, err
	}
	signed.IsMine = true

	if err := s.relay.PublishOffer(ctx, *signed); err != nil {
		return nil, err
	}
	if err := s.offerRepository.AddOffer(ctx, *signed); err != nil {
		return nil, err
	}
	log.Infof("published %s offer %s", signed.OfferType, signed.ID)
	return signed, nil
}

func (s *offerService) RemoveOffer(ctx context.Context, offerID string) error {
	offer, err := s.offerRepository.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if !offer.IsMine {
		return ErrNotOfferMaker
	}
	if err := s.relay.RemoveOffer(ctx, offerID); err != nil {
		return err
	}
	return s.offerRepository.DeleteOffer(ctx, offerID)
}

func (s *offerService) SyncOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	published, err := s.relay.GetOffers(ctx)
	if err != nil {
		return nil, err
	}

	valid := make(map[string]domain.SignedOffer, len(published))
	for _, offer := range published {
		offer.IsMine = false
		if err := offer.Verify(); err != nil {
			log.WithError(err).Debugf("dropping invalid offer %s", offer.ID)
			continue
		}
		valid[offer.ID] = offer
	}

	stored, err := s.offerRepository.GetAllOffers(ctx)
	if err != nil {
		return nil, err
	}
	for _, offer := range stored {
		if _, ok := valid[offer.ID]; ok || offer.IsMine {
			continue
		}
		if err := s.offerRepository.DeleteOffer(ctx, offer.ID); err != nil {
			return nil, err
		}
	}

	offers := make([]domain.SignedOffer, 0, len(valid))
	for _, offer := range valid {
		existing, err := s.offerRepository.GetOffer(ctx, offer.ID)
		if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
			return nil, err
		}
		if existing != nil && existing.IsMine {
			offers = append(offers, *existing)
			continue
		}
		if err := s.offerRepository.AddOffer(ctx, offer); err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (s *offerService) GetOffer(
	ctx context.Context, offerID string,
) (*domain.SignedOffer, error) {
	return s.offerRepository.GetOffer(ctx, offerID)
}

func (s *offerService) ListOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	return s.offerRepository.GetAllOffers(ctx)
}
