package db_test

import (
	"testing"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestOfferRepositoryImplementations(t *testing.T) {
	managers := createRepoManagers(t)

	for i := range managers {
		dbManager := managers[i]

		t.Run(dbManager.Name, func(t *testing.T) {
			t.Parallel()

			repo := dbManager.DBManager.OfferRepository()
			offer := makeRandomOffer()

			require.NoError(t, repo.AddOffer(ctx, offer))
			// content addressed: adding twice is harmless
			require.NoError(t, repo.AddOffer(ctx, offer))

			stored, err := repo.GetOffer(ctx, offer.ID)
			require.NoError(t, err)
			require.Equal(t, offer.ID, stored.ID)
			require.True(t, offer.Price.Equal(stored.Price))
			require.Equal(t, offer.Signature, stored.Signature)

			offers, err := repo.GetAllOffers(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, offers)

			require.NoError(t, repo.DeleteOffer(ctx, offer.ID))
			require.NoError(t, repo.DeleteOffer(ctx, offer.ID))

			_, err = repo.GetOffer(ctx, offer.ID)
			require.ErrorIs(t, err, domain.ErrOfferNotFound)
		})
	}
}
