package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/escrow"
)

const defaultAddressGap = 20

// EscrowWalletManager is the local bitcoin wallet. It funds escrows and pays
// badge fees out of the wallet unspents, which it keeps in sync with the
// blockchain.
type EscrowWalletManager interface {
	GetNewAddress(ctx context.Context) (string, error)
	GetBalance(ctx context.Context) (*Balance, error)
	ListUnspents(ctx context.Context) ([]domain.Unspent, error)
	// SyncUnspents refreshes the wallet unspents from the blockchain.
	SyncUnspents(ctx context.Context) error
	// FundEscrow returns a signed transaction paying amount to the escrow.
	// The selected unspents stay reserved until Broadcast or
	// ReleaseReservation.
	FundEscrow(
		ctx context.Context, esc *escrow.Escrow, amount int64,
	) (*SignedTx, error)
	// SendToAddress is like FundEscrow for any address.
	SendToAddress(
		ctx context.Context, address string, amount int64,
	) (*SignedTx, error)
	// Broadcast publishes tx. If the network rejects it, the reserved
	// unspents are released, otherwise they are marked spent.
	Broadcast(ctx context.Context, tx SignedTx) (string, error)
	ReleaseReservation(ctx context.Context, owner string) error
	// ReservePayout holds the funding outputs of the escrow at
	// escrowAddress for the payout identified by owner. Reserving them for a
	// different payout fails with domain.ErrOutputReserved until the first
	// one is released or rejected by the network.
	ReservePayout(
		ctx context.Context, escrowAddress string, outputs []escrow.Utxo,
		owner string,
	) error
	// ObserveAddress streams snapshots of the transactions of address.
	ObserveAddress(
		ctx context.Context, address string,
	) (<-chan domain.TransactionWithAmt, error)
}

type escrowWallet struct {
	unspentRepository domain.UnspentRepository
	keystore          ports.Keystore
	blockchain        ports.BlockchainService
	watcher           ports.AddressWatcher
	feeRate           int64
	addressGap        int

	lock      *sync.Mutex
	nextIndex int
}

// NewEscrowWalletManager ...
func NewEscrowWalletManager(
	unspentRepository domain.UnspentRepository,
	keystore ports.Keystore,
	blockchain ports.BlockchainService,
	watcher ports.AddressWatcher,
	feeRate int64,
) (EscrowWalletManager, error) {
	return newEscrowWallet(
		unspentRepository, keystore, blockchain, watcher, feeRate,
	)
}

func newEscrowWallet(
	unspentRepository domain.UnspentRepository,
	keystore ports.Keystore,
	blockchain ports.BlockchainService,
	watcher ports.AddressWatcher,
	feeRate int64,
) (*escrowWallet, error) {
	if keystore == nil {
		return nil, fmt.Errorf("missing keystore")
	}
	if blockchain == nil {
		return nil, fmt.Errorf("missing blockchain service")
	}
	if feeRate <= 0 {
		return nil, fmt.Errorf("fee rate must be a positive number of sats/vbyte")
	}
	return &escrowWallet{
		unspentRepository: unspentRepository,
		keystore:          keystore,
		blockchain:        blockchain,
		watcher:           watcher,
		feeRate:           feeRate,
		addressGap:        defaultAddressGap,
		lock:              &sync.Mutex{},
	}, nil
}

func (w *escrowWallet) GetNewAddress(ctx context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	addresses, err := w.keystore.WalletAddresses(w.nextIndex + 1)
	if err != nil {
		return "", err
	}
	addr := addresses[w.nextIndex]
	w.nextIndex++
	return addr, nil
}

func (w *escrowWallet) GetBalance(ctx context.Context) (*Balance, error) {
	unspents, err := w.ListUnspents(ctx)
	if err != nil {
		return nil, err
	}
	balance := &Balance{}
	for _, u := range unspents {
		switch {
		case u.IsSpent():
		case u.IsReserved():
			balance.Reserved += u.Value
		case u.IsConfirmed():
			balance.Confirmed += u.Value
		default:
			balance.Unconfirmed += u.Value
		}
	}
	return balance, nil
}

func (w *escrowWallet) ListUnspents(ctx context.Context) ([]domain.Unspent, error) {
	addresses, err := w.knownAddresses()
	if err != nil {
		return nil, err
	}
	unspents, err := w.unspentRepository.GetUnspentsForAddresses(ctx, addresses)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Unspent, 0, len(unspents))
	for _, u := range unspents {
		if !u.IsSpent() {
			res = append(res, u)
		}
	}
	return res, nil
}

// SyncUnspents scans the wallet addresses up to the gap limit. Addresses
// with history advance the next address index, unspents that are no longer
// returned by the blockchain and are not reserved get spent.
func (w *escrowWallet) SyncUnspents(ctx context.Context) error {
	w.lock.Lock()
	num := w.nextIndex + w.addressGap
	w.lock.Unlock()

	addresses, err := w.keystore.WalletAddresses(num)
	if err != nil {
		return err
	}

	lastUsed := -1
	for i, addr := range addresses {
		txs, err := w.blockchain.GetAddressTransactions(ctx, addr)
		if err != nil {
			return err
		}
		if len(txs) > 0 {
			lastUsed = i
		}
	}
	w.lock.Lock()
	if lastUsed+1 > w.nextIndex {
		w.nextIndex = lastUsed + 1
	}
	w.lock.Unlock()

	fresh, err := w.blockchain.GetUnspents(ctx, addresses)
	if err != nil {
		return err
	}
	if err := w.unspentRepository.AddUnspents(ctx, fresh); err != nil {
		return err
	}

	freshKeys := make(map[domain.UnspentKey]struct{})
	confirmed := make([]domain.UnspentKey, 0)
	for _, u := range fresh {
		freshKeys[u.Key()] = struct{}{}
		if u.IsConfirmed() {
			confirmed = append(confirmed, u.Key())
		}
	}
	if err := w.unspentRepository.ConfirmUnspents(ctx, confirmed); err != nil {
		return err
	}

	known, err := w.unspentRepository.GetUnspentsForAddresses(ctx, addresses)
	if err != nil {
		return err
	}
	spent := make([]domain.UnspentKey, 0)
	for _, u := range known {
		if _, ok := freshKeys[u.Key()]; ok || u.IsSpent() || u.IsReserved() {
			continue
		}
		spent = append(spent, u.Key())
	}
	if len(spent) > 0 {
		if err := w.unspentRepository.SpendUnspents(ctx, spent); err != nil {
			return err
		}
	}

	log.Debugf(
		"synced wallet: %d unspents, %d spent, next address index %d",
		len(fresh), len(spent), lastUsed+1,
	)
	return nil
}

func (w *escrowWallet) FundEscrow(
	ctx context.Context, esc *escrow.Escrow, amount int64,
) (*SignedTx, error) {
	if esc == nil {
		return nil, escrow.ErrInvalidKeys
	}
	return w.send(ctx, func(utxos []escrow.Utxo, change string) (*escrow.FundingTx, error) {
		return escrow.BuildFundingTx(escrow.FundingArgs{
			Escrow:        esc,
			Amount:        amount,
			Utxos:         utxos,
			ChangeAddress: change,
			FeeRate:       w.feeRate,
		})
	})
}

func (w *escrowWallet) SendToAddress(
	ctx context.Context, address string, amount int64,
) (*SignedTx, error) {
	return w.send(ctx, func(utxos []escrow.Utxo, change string) (*escrow.FundingTx, error) {
		return escrow.BuildPaymentTx(escrow.PaymentArgs{
			Net:           w.keystore.Network(),
			Address:       address,
			Amount:        amount,
			Utxos:         utxos,
			ChangeAddress: change,
			FeeRate:       w.feeRate,
		})
	})
}

type buildTxFunc func(utxos []escrow.Utxo, changeAddress string) (*escrow.FundingTx, error)

func (w *escrowWallet) send(ctx context.Context, build buildTxFunc) (*SignedTx, error) {
	addresses, err := w.knownAddresses()
	if err != nil {
		return nil, err
	}
	unspents, err := w.unspentRepository.GetAvailableUnspentsForAddresses(
		ctx, addresses,
	)
	if err != nil {
		return nil, err
	}
	utxos := make([]escrow.Utxo, 0, len(unspents))
	for _, u := range unspents {
		utxos = append(utxos, u.ToUtxo())
	}
	if len(utxos) <= 0 {
		return nil, escrow.ErrInsufficientFunds
	}

	changeAddress, err := w.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}
	ftx, err := build(utxos, changeAddress)
	if err != nil {
		return nil, err
	}

	owner := uuid.New().String()
	keys := domain.KeysOf(ftx.Inputs)
	if err := w.unspentRepository.ReserveUnspents(ctx, keys, owner); err != nil {
		return nil, err
	}

	if err := ftx.Sign(w.keystore.WalletKey); err != nil {
		w.release(ctx, keys)
		return nil, err
	}
	txHex, err := domain.EncodeTx(ftx.Tx)
	if err != nil {
		w.release(ctx, keys)
		return nil, err
	}

	signed := &SignedTx{
		Owner:  owner,
		TxID:   ftx.Tx.TxHash().String(),
		TxHex:  txHex,
		Fee:    ftx.Fee,
		Inputs: ftx.Inputs,
		Change: ftx.Change,
	}
	if ftx.Change > 0 {
		signed.ChangeAddress = changeAddress
	}
	return signed, nil
}

func (w *escrowWallet) Broadcast(ctx context.Context, tx SignedTx) (string, error) {
	keys := domain.KeysOf(tx.Inputs)

	txid, err := w.blockchain.BroadcastTransaction(ctx, tx.TxHex)
	if err != nil {
		if errors.Is(err, ports.ErrBroadcastRejected) {
			broadcasts.WithLabelValues("rejected").Inc()
			log.WithError(err).Warnf("tx %s rejected, releasing its inputs", tx.TxID)
			w.release(ctx, keys)
			return "", err
		}
		broadcasts.WithLabelValues("failed").Inc()
		return "", err
	}
	broadcasts.WithLabelValues("accepted").Inc()

	if err := w.unspentRepository.SpendUnspents(ctx, keys); err != nil {
		log.WithError(err).Warnf("failed to mark inputs of tx %s as spent", txid)
	}
	if tx.Change > 0 && len(tx.ChangeAddress) > 0 {
		if err := w.addChange(ctx, tx, txid); err != nil {
			log.WithError(err).Warnf("failed to add change of tx %s", txid)
		}
	}
	return txid, nil
}

func (w *escrowWallet) ReleaseReservation(ctx context.Context, owner string) error {
	count, err := w.unspentRepository.ReleaseUnspentsReservedBy(ctx, owner)
	if err != nil {
		return err
	}
	log.Debugf("released %d unspents reserved by %s", count, owner)
	return nil
}

func (w *escrowWallet) ReservePayout(
	ctx context.Context, escrowAddress string, outputs []escrow.Utxo,
	owner string,
) error {
	if len(outputs) <= 0 {
		return escrow.ErrNoFundingOutputs
	}
	unspents := make([]domain.Unspent, 0, len(outputs))
	for _, u := range outputs {
		unspents = append(unspents, domain.NewUnspent(u, escrowAddress, false))
	}
	if err := w.unspentRepository.AddUnspents(ctx, unspents); err != nil {
		return err
	}
	if err := w.unspentRepository.ReserveUnspents(
		ctx, domain.KeysOf(outputs), owner,
	); err != nil {
		return fmt.Errorf("escrow %s: %w", escrowAddress, err)
	}
	log.Debugf("reserved funding outputs of escrow %s for payout %s", escrowAddress, owner)
	return nil
}

func (w *escrowWallet) ObserveAddress(
	ctx context.Context, address string,
) (<-chan domain.TransactionWithAmt, error) {
	if w.watcher == nil {
		return nil, fmt.Errorf("address watcher not configured")
	}
	return w.watcher.Watch(ctx, address)
}

func (w *escrowWallet) knownAddresses() ([]string, error) {
	w.lock.Lock()
	num := w.nextIndex + w.addressGap
	w.lock.Unlock()
	return w.keystore.WalletAddresses(num)
}

func (w *escrowWallet) release(ctx context.Context, keys []domain.UnspentKey) {
	if err := w.unspentRepository.ReleaseUnspents(ctx, keys); err != nil {
		log.WithError(err).Warn("failed to release reserved unspents")
	}
}

// addChange stores the change output of a broadcasted tx so that it can be
// spent before the next sync.
func (w *escrowWallet) addChange(ctx context.Context, tx SignedTx, txid string) error {
	msgTx, err := domain.DecodeTx(tx.TxHex)
	if err != nil {
		return err
	}
	addr, err := btcutil.DecodeAddress(tx.ChangeAddress, w.keystore.Network())
	if err != nil {
		return err
	}
	changeScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	for i, out := range msgTx.TxOut {
		if out.Value != tx.Change || !bytes.Equal(out.PkScript, changeScript) {
			continue
		}
		utxo := escrow.Utxo{
			TxID: txid, VOut: uint32(i), Value: out.Value, PkScript: out.PkScript,
		}
		return w.unspentRepository.AddUnspents(
			ctx, []domain.Unspent{domain.NewUnspent(utxo, tx.ChangeAddress, false)},
		)
	}
	return nil
}
