package db_test

import (
	"sync"
	"testing"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestTradeEventRepositoryImplementations(t *testing.T) {
	managers := createRepoManagers(t)

	for i := range managers {
		dbManager := managers[i]

		t.Run(dbManager.Name, func(t *testing.T) {
			t.Parallel()

			repo := dbManager.DBManager.TradeEventRepository()

			t.Run("append and get events", func(t *testing.T) {
				t.Parallel()

				events := makeRandomTradeEvents()
				escrowAddress := events[0].Header().EscrowAddress

				for i, e := range events {
					seq, err := repo.AppendEvent(ctx, e)
					require.NoError(t, err)
					require.Equal(t, i, seq)
				}

				stored, err := repo.GetEvents(ctx, escrowAddress)
				require.NoError(t, err)
				require.Len(t, stored, len(events))
				for i, e := range stored {
					require.Equal(t, events[i].Type(), e.Type())
					require.Equal(t, events[i].ID(), e.ID())
				}

				funded, ok := stored[0].(domain.FundedEvent)
				require.True(t, ok)
				require.Equal(t, int64(625000), funded.FundingTx.NetAmount)

				addresses, err := repo.GetEscrowAddresses(ctx)
				require.NoError(t, err)
				require.Contains(t, addresses, escrowAddress)
			})

			t.Run("append is idempotent", func(t *testing.T) {
				t.Parallel()

				events := makeRandomTradeEvents()
				for _, e := range events {
					_, err := repo.AppendEvent(ctx, e)
					require.NoError(t, err)
				}

				seq, err := repo.AppendEvent(ctx, events[0])
				require.NoError(t, err)
				require.Zero(t, seq)

				stored, err := repo.GetEvents(ctx, events[0].Header().EscrowAddress)
				require.NoError(t, err)
				require.Len(t, stored, len(events))
			})

			t.Run("concurrent appends to the same trade", func(t *testing.T) {
				t.Parallel()

				events := makeRandomTradeEvents()
				wg := &sync.WaitGroup{}
				for i := 0; i < 4; i++ {
					for _, e := range events {
						wg.Add(1)
						go func(e domain.TradeEvent) {
							defer wg.Done()
							_, err := repo.AppendEvent(ctx, e)
							require.NoError(t, err)
						}(e)
					}
				}
				wg.Wait()

				stored, err := repo.GetEvents(ctx, events[0].Header().EscrowAddress)
				require.NoError(t, err)
				require.Len(t, stored, len(events))
			})

			t.Run("get events of unknown trade", func(t *testing.T) {
				t.Parallel()

				stored, err := repo.GetEvents(ctx, "bcrt1q"+randomHex(20))
				require.NoError(t, err)
				require.Empty(t, stored)
			})
		})
	}
}
