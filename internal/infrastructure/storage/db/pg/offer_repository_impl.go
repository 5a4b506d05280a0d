package postgresdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

type offerRepositoryImpl struct {
	db querier
}

// NewOfferRepositoryImpl returns a postgres backed OfferRepository.
func NewOfferRepositoryImpl(db querier) domain.OfferRepository {
	return &offerRepositoryImpl{db}
}

func (r *offerRepositoryImpl) AddOffer(ctx context.Context, offer domain.SignedOffer) error {
	buf, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(
		ctx,
		"INSERT INTO offer (id, signed_offer) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET signed_offer = EXCLUDED.signed_offer",
		offer.ID, buf,
	); err != nil {
		return fmt.Errorf("failed to add offer: %w", err)
	}
	return nil
}

func (r *offerRepositoryImpl) GetOffer(ctx context.Context, id string) (*domain.SignedOffer, error) {
	var buf []byte
	if err := r.db.QueryRow(
		ctx, "SELECT signed_offer FROM offer WHERE id = $1", id,
	).Scan(&buf); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	var offer domain.SignedOffer
	if err := json.Unmarshal(buf, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *offerRepositoryImpl) GetAllOffers(ctx context.Context) ([]domain.SignedOffer, error) {
	rows, err := r.db.Query(ctx, "SELECT signed_offer FROM offer ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get offers: %w", err)
	}
	defer rows.Close()

	offers := make([]domain.SignedOffer, 0)
	for rows.Next() {
		var buf []byte
		if err := rows.Scan(&buf); err != nil {
			return nil, err
		}
		var offer domain.SignedOffer
		if err := json.Unmarshal(buf, &offer); err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func (r *offerRepositoryImpl) DeleteOffer(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM offer WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete offer: %w", err)
	}
	return nil
}
