package ports

import (
	"context"
	"time"

	"github.com/bytabit/escrowd/internal/core/domain"
)

// AddressTx is a transaction touching an address, as seen by the
// blockchain service.
type AddressTx struct {
	TxID        string
	Confirmed   bool
	BlockHeight int
	BlockTime   time.Time
	// NetAmount is what the address received minus what it spent, in sats.
	NetAmount int64
}

// BlockchainService is the wallet's view of the bitcoin network.
type BlockchainService interface {
	// GetUnspents returns the unspent outputs locked by the given addresses.
	GetUnspents(ctx context.Context, addresses []string) ([]domain.Unspent, error)
	// GetAddressTransactions returns the mempool and confirmed transactions
	// of address.
	GetAddressTransactions(ctx context.Context, address string) ([]AddressTx, error)
	// GetTransactionHex ...
	GetTransactionHex(ctx context.Context, txid string) (string, error)
	GetTipHeight(ctx context.Context) (int, error)
	// BroadcastTransaction returns the txid of the broadcasted transaction.
	// Transactions refused by the network fail with a
	// *BroadcastRejectedError.
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
}

// AddressWatcher streams transaction snapshots of watched addresses.
type AddressWatcher interface {
	// Watch returns a stream of snapshots for address: first the ones of the
	// already known transactions, then a new one each time a transaction
	// changes confidence or depth. The stream is closed once ctx is done.
	Watch(ctx context.Context, address string) (<-chan domain.TransactionWithAmt, error)
}
