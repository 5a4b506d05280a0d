package domain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/bytabit/escrowd/pkg/crypto"
)

func signDigest(digest [32]byte, key *btcec.PrivateKey, pubkey string) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("missing private key")
	}
	if crypto.PubKeyHex(key.PubKey()) != pubkey {
		return nil, fmt.Errorf("%w: key does not match %s", ErrInvalidPubKey, pubkey)
	}
	return crypto.Sign(digest[:], key)
}

// verifyDigest returns nil only if sig is a valid signature of digest by
// pubkey. Malformed keys or signatures wrap both ErrBadSignature and the
// underlying crypto error.
func verifyDigest(digest [32]byte, sig []byte, pubkey string) error {
	if len(sig) <= 0 {
		return ErrMissingSignature
	}
	ok, err := crypto.VerifyHex(digest[:], sig, pubkey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

func validatePubKey(pubkey string) error {
	if _, err := crypto.ParsePubKeyHex(pubkey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	return nil
}
