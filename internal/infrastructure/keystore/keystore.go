package keystore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/canonical"
)

const (
	seedFile        = "seed"
	encryptedPrefix = "enc:"
	walletScanLimit = 1000
)

var (
	profilePath = DerivationPath{hdkeychain.HardenedKeyStart + 0, 0}
	escrowPath  = DerivationPath{hdkeychain.HardenedKeyStart + 1}

	// ErrUnknownScript is returned by WalletKey for scripts not owned by
	// the wallet.
	ErrUnknownScript = errors.New("script does not belong to wallet")
)

// Opts ...
type Opts struct {
	Datadir    string
	Passphrase string
	Network    *chaincfg.Params
	// ScryptN is the scrypt cost used to stretch Passphrase. Defaults to
	// 2^20.
	ScryptN int
}

func (o Opts) validate() error {
	if len(o.Datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}
	if o.Network == nil {
		return fmt.Errorf("missing network")
	}
	return nil
}

type keystore struct {
	network    *chaincfg.Params
	root       *hdkeychain.ExtendedKey
	profileKey *btcec.PrivateKey
	walletPath DerivationPath

	lock          sync.RWMutex
	scriptToIndex map[string]uint32
}

// New returns a Keystore backed by the seed stored in datadir. A new seed is
// generated the first time. If Passphrase is set the seed is stored encrypted
// with it.
func New(opts Opts) (ports.Keystore, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ScryptN <= 0 {
		opts.ScryptN = defaultScryptN
	}

	seed, err := loadOrCreateSeed(opts)
	if err != nil {
		return nil, err
	}
	return NewFromSeed(seed, opts.Network)
}

// NewFromSeed returns a Keystore deriving every key from seed.
func NewFromSeed(seed []byte, network *chaincfg.Params) (ports.Keystore, error) {
	root, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, err
	}

	profile, err := profilePath.derive(root)
	if err != nil {
		return nil, err
	}
	profileKey, err := profile.ECPrivKey()
	if err != nil {
		return nil, err
	}

	return &keystore{
		network:    network,
		root:       root,
		profileKey: profileKey,
		walletPath: DerivationPath{
			hdkeychain.HardenedKeyStart + 84,
			hdkeychain.HardenedKeyStart + network.HDCoinType,
			hdkeychain.HardenedKeyStart + 0,
			0,
		},
		scriptToIndex: make(map[string]uint32),
	}, nil
}

func (k *keystore) Network() *chaincfg.Params {
	return k.network
}

func (k *keystore) ProfileKey() *btcec.PrivateKey {
	return k.profileKey
}

// EscrowKey derives the key for label at m/1'/i' where i is taken from the
// canonical hash of the label.
func (k *keystore) EscrowKey(label string) (*btcec.PrivateKey, error) {
	if len(label) <= 0 {
		return nil, fmt.Errorf("missing escrow key label")
	}
	digest := canonical.Hash(canonical.String(label))
	index := binary.BigEndian.Uint32(digest[:4]) & 0x7fffffff

	key, err := escrowPath.Child(hdkeychain.HardenedKeyStart + index).derive(k.root)
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

func (k *keystore) WalletAddresses(num int) ([]string, error) {
	addresses := make([]string, 0, num)
	for i := 0; i < num; i++ {
		addr, _, err := k.walletAddress(uint32(i))
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr.EncodeAddress())
	}
	return addresses, nil
}

func (k *keystore) WalletKey(pkScript []byte) (*btcec.PrivateKey, error) {
	k.lock.RLock()
	index, ok := k.scriptToIndex[hex.EncodeToString(pkScript)]
	k.lock.RUnlock()

	if !ok {
		var found bool
		for i := uint32(0); i < walletScanLimit; i++ {
			_, script, err := k.walletAddress(i)
			if err != nil {
				return nil, err
			}
			if bytes.Equal(script, pkScript) {
				index, found = i, true
				break
			}
		}
		if !found {
			return nil, ErrUnknownScript
		}
	}

	key, err := k.walletPath.Child(index).derive(k.root)
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

// walletAddress returns the P2WPKH address and script at index, caching the
// script for WalletKey lookups.
func (k *keystore) walletAddress(index uint32) (btcutil.Address, []byte, error) {
	key, err := k.walletPath.Child(index).derive(k.root)
	if err != nil {
		return nil, nil, err
	}
	pubkey, err := key.ECPubKey()
	if err != nil {
		return nil, nil, err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), k.network,
	)
	if err != nil {
		return nil, nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}

	k.lock.Lock()
	k.scriptToIndex[hex.EncodeToString(script)] = index
	k.lock.Unlock()

	return addr, script, nil
}

func loadOrCreateSeed(opts Opts) ([]byte, error) {
	path := filepath.Join(opts.Datadir, seedFile)

	content, err := os.ReadFile(path)
	if err == nil {
		return decodeSeed(strings.TrimSpace(string(content)), opts)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeSeed(seed, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Datadir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	log.Infof("generated new wallet seed in %s", path)
	return seed, nil
}

func encodeSeed(seed []byte, opts Opts) (string, error) {
	if len(opts.Passphrase) <= 0 {
		return hex.EncodeToString(seed), nil
	}
	data, err := encrypt(seed, []byte(opts.Passphrase), opts.ScryptN)
	if err != nil {
		return "", err
	}
	return encryptedPrefix + hex.EncodeToString(data), nil
}

func decodeSeed(content string, opts Opts) ([]byte, error) {
	if !strings.HasPrefix(content, encryptedPrefix) {
		return hex.DecodeString(content)
	}
	if len(opts.Passphrase) <= 0 {
		return nil, fmt.Errorf("seed is encrypted, missing passphrase")
	}

	data, err := hex.DecodeString(strings.TrimPrefix(content, encryptedPrefix))
	if err != nil {
		return nil, err
	}
	return decrypt(data, []byte(opts.Passphrase), opts.ScryptN)
}
