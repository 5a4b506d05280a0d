package ports

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
)

// Keystore holds the private keys of the local party. Keys never leave it
// except to sign.
type Keystore interface {
	Network() *chaincfg.Params
	// ProfileKey is the identity key used to sign offers and trade messages.
	ProfileKey() *btcec.PrivateKey
	// EscrowKey returns the escrow key for label. The same label always maps
	// to the same key.
	EscrowKey(label string) (*btcec.PrivateKey, error)
	// WalletAddresses returns the first num receiving addresses of the
	// wallet.
	WalletAddresses(num int) ([]string, error)
	// WalletKey returns the key controlling a wallet output script.
	WalletKey(pkScript []byte) (*btcec.PrivateKey, error)
}
