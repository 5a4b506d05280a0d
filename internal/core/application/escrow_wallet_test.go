package application_test

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bytabit/escrowd/internal/core/application"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/internal/infrastructure/storage/db/inmemory"
	"github.com/bytabit/escrowd/pkg/escrow"
)

func newTestWallet(
	t *testing.T, blockchain ports.BlockchainService,
) (application.EscrowWalletManager, *testKeystore, domain.UnspentRepository) {
	keystore := newTestKeystore(sellerSeed, sellerSeed)
	repo := inmemory.NewRepoManager().UnspentRepository()
	wallet, err := application.NewEscrowWalletManager(
		repo, keystore, blockchain, nil, feeRate,
	)
	require.NoError(t, err)
	return wallet, keystore, repo
}

func txid(s string) string {
	return chainhash.HashH([]byte(s)).String()
}

func TestNewEscrowWalletManager(t *testing.T) {
	t.Parallel()

	keystore := newTestKeystore(sellerSeed, sellerSeed)
	repo := inmemory.NewRepoManager().UnspentRepository()
	blockchain := &mockBlockchainService{}

	tests := []struct {
		name       string
		keystore   ports.Keystore
		blockchain ports.BlockchainService
		feeRate    int64
	}{
		{"missing keystore", nil, blockchain, feeRate},
		{"missing blockchain", keystore, nil, feeRate},
		{"zero fee rate", keystore, blockchain, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := application.NewEscrowWalletManager(
				repo, tt.keystore, tt.blockchain, nil, tt.feeRate,
			)
			require.Error(t, err)
		})
	}
}

func TestWalletSyncUnspents(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, keystore, repo := newTestWallet(t, blockchain)

	stale := walletUtxo(t, keystore, 0, txid("stale"), 20000)
	reserved := walletUtxo(t, keystore, 0, txid("reserved"), 30000)
	require.NoError(t, repo.AddUnspents(ctx, []domain.Unspent{stale, reserved}))
	require.NoError(t, repo.ReserveUnspents(ctx, []domain.UnspentKey{reserved.Key()}, "build"))

	fresh := walletUtxo(t, keystore, 3, txid("fresh"), 50000)
	mempool := walletUtxo(t, keystore, 3, txid("mempool"), 10000)
	mempool.Confirmed = false

	blockchain.On("GetAddressTransactions", mock.Anything, keystore.walletAddress(3)).
		Return([]ports.AddressTx{{TxID: txid("fresh"), Confirmed: true}}, nil)
	blockchain.On("GetAddressTransactions", mock.Anything, mock.Anything).
		Return(nil, nil)
	blockchain.On("GetUnspents", mock.Anything, mock.Anything).
		Return([]domain.Unspent{fresh, mempool}, nil)

	require.NoError(t, wallet.SyncUnspents(ctx))

	unspents, err := wallet.ListUnspents(ctx)
	require.NoError(t, err)
	require.Len(t, unspents, 3)

	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, &application.Balance{
		Confirmed:   50000,
		Unconfirmed: 10000,
		Reserved:    30000,
	}, balance)

	// addresses up to the last used one are never handed out again.
	addr, err := wallet.GetNewAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, keystore.walletAddress(4), addr)
}

func TestWalletSyncUnspentsFailure(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, _, _ := newTestWallet(t, blockchain)

	blockchain.On("GetAddressTransactions", mock.Anything, mock.Anything).
		Return(nil, ports.ErrNetwork)

	require.ErrorIs(t, wallet.SyncUnspents(ctx), ports.ErrNetwork)
}

func TestWalletSendToAddress(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, keystore, repo := newTestWallet(t, blockchain)

	utxo := walletUtxo(t, keystore, 0, txid("funds"), 100000)
	require.NoError(t, repo.AddUnspents(ctx, []domain.Unspent{utxo}))

	to := newTestKeystore(buyerSeed, buyerSeed).walletAddress(0)
	tx, err := wallet.SendToAddress(ctx, to, 10000)
	require.NoError(t, err)
	require.NotEmpty(t, tx.Owner)
	require.Len(t, tx.Inputs, 1)
	require.Equal(t, int64(100000), tx.Fee+tx.Change+10000)
	require.NotEmpty(t, tx.ChangeAddress)

	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100000), balance.Reserved)

	// reserved unspents can't be spent by another build.
	_, err = wallet.SendToAddress(ctx, to, 10000)
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)

	blockchain.On("BroadcastTransaction", mock.Anything, tx.TxHex).
		Return(tx.TxID, nil)
	broadcasted, err := wallet.Broadcast(ctx, *tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxID, broadcasted)

	balance, err = wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, &application.Balance{Unconfirmed: tx.Change}, balance)
}

func TestWalletBroadcastRejected(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, keystore, repo := newTestWallet(t, blockchain)

	utxo := walletUtxo(t, keystore, 0, txid("funds"), 100000)
	require.NoError(t, repo.AddUnspents(ctx, []domain.Unspent{utxo}))

	to := newTestKeystore(buyerSeed, buyerSeed).walletAddress(0)
	tx, err := wallet.SendToAddress(ctx, to, 10000)
	require.NoError(t, err)

	blockchain.On("BroadcastTransaction", mock.Anything, tx.TxHex).
		Return("", &ports.BroadcastRejectedError{TxID: tx.TxID, Reason: "min relay fee not met"})

	_, err = wallet.Broadcast(ctx, *tx)
	require.ErrorIs(t, err, ports.ErrBroadcastRejected)

	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, &application.Balance{Confirmed: 100000}, balance)
}

func TestWalletBroadcastNetworkFailureKeepsReservation(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, keystore, repo := newTestWallet(t, blockchain)

	utxo := walletUtxo(t, keystore, 0, txid("funds"), 100000)
	require.NoError(t, repo.AddUnspents(ctx, []domain.Unspent{utxo}))

	to := newTestKeystore(buyerSeed, buyerSeed).walletAddress(0)
	tx, err := wallet.SendToAddress(ctx, to, 10000)
	require.NoError(t, err)

	blockchain.On("BroadcastTransaction", mock.Anything, tx.TxHex).
		Return("", ports.ErrNetwork)

	_, err = wallet.Broadcast(ctx, *tx)
	require.ErrorIs(t, err, ports.ErrNetwork)

	// the tx might have reached the network.
	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100000), balance.Reserved)

	require.NoError(t, wallet.ReleaseReservation(ctx, tx.Owner))
	balance, err = wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, &application.Balance{Confirmed: 100000}, balance)
}

func TestWalletReservePayout(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, _, _ := newTestWallet(t, blockchain)

	escrowAddress := "bcrt1qescrow"
	outputs := []escrow.Utxo{{
		TxID: txid("funding"), VOut: 1, Value: tradeAmount, PkScript: []byte{0x00, 0x20},
	}}
	owners := []string{txid("payout to buyer"), txid("refund to seller")}

	// two payouts of the same escrow are built concurrently.
	errs := make([]error, len(owners))
	wg := &sync.WaitGroup{}
	for i, owner := range owners {
		i, owner := i, owner
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = wallet.ReservePayout(ctx, escrowAddress, outputs, owner)
		}()
	}
	wg.Wait()

	winner, loser := owners[0], owners[1]
	if errs[0] != nil {
		winner, loser = loser, winner
		errs[0], errs[1] = errs[1], errs[0]
	}
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], domain.ErrOutputReserved)

	// rebuilding the same payout keeps its reservation.
	require.NoError(t, wallet.ReservePayout(ctx, escrowAddress, outputs, winner))
	require.ErrorIs(
		t, wallet.ReservePayout(ctx, escrowAddress, outputs, loser),
		domain.ErrOutputReserved,
	)

	// escrow outputs are not wallet funds.
	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, &application.Balance{}, balance)

	blockchain.On("BroadcastTransaction", mock.Anything, "rejected").
		Return("", &ports.BroadcastRejectedError{TxID: winner, Reason: "bad-txns-inputs-missingorspent"})
	blockchain.On("BroadcastTransaction", mock.Anything, "accepted").
		Return(loser, nil)

	_, err = wallet.Broadcast(ctx, application.SignedTx{
		Owner: winner, TxID: winner, TxHex: "rejected", Inputs: outputs,
	})
	require.ErrorIs(t, err, ports.ErrBroadcastRejected)

	require.NoError(t, wallet.ReservePayout(ctx, escrowAddress, outputs, loser))
	_, err = wallet.Broadcast(ctx, application.SignedTx{
		Owner: loser, TxID: loser, TxHex: "accepted", Inputs: outputs,
	})
	require.NoError(t, err)

	// spent outputs can't be reserved by anyone.
	require.ErrorIs(
		t, wallet.ReservePayout(ctx, escrowAddress, outputs, loser),
		domain.ErrOutputReserved,
	)
	require.ErrorIs(
		t, wallet.ReservePayout(ctx, escrowAddress, nil, loser),
		escrow.ErrNoFundingOutputs,
	)
}

func TestWalletInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	blockchain := &mockBlockchainService{}
	wallet, keystore, repo := newTestWallet(t, blockchain)

	utxo := walletUtxo(t, keystore, 0, txid("funds"), 5000)
	require.NoError(t, repo.AddUnspents(ctx, []domain.Unspent{utxo}))

	to := newTestKeystore(buyerSeed, buyerSeed).walletAddress(0)
	_, err := wallet.SendToAddress(ctx, to, 10000)
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)

	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	require.Zero(t, balance.Reserved)
}

func TestWalletObserveAddress(t *testing.T) {
	ctx := context.Background()
	keystore := newTestKeystore(sellerSeed, sellerSeed)
	repo := inmemory.NewRepoManager().UnspentRepository()

	wallet, err := application.NewEscrowWalletManager(
		repo, keystore, &mockBlockchainService{}, nil, feeRate,
	)
	require.NoError(t, err)
	_, err = wallet.ObserveAddress(ctx, "addr")
	require.Error(t, err)

	snapshots := make(chan domain.TransactionWithAmt, 1)
	snapshots <- domain.TransactionWithAmt{Hash: txid("funding"), Depth: 1}
	close(snapshots)

	watcher := &mockAddressWatcher{}
	watcher.On("Watch", mock.Anything, "addr").
		Return((<-chan domain.TransactionWithAmt)(snapshots), nil)

	wallet, err = application.NewEscrowWalletManager(
		repo, keystore, &mockBlockchainService{}, watcher, feeRate,
	)
	require.NoError(t, err)
	stream, err := wallet.ObserveAddress(ctx, "addr")
	require.NoError(t, err)
	snapshot := <-stream
	require.Equal(t, 1, snapshot.Depth)
}
