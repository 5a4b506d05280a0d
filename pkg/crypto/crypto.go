// Package crypto signs and verifies canonical digests with secp256k1 keys.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

const digestSize = 32

var (
	// ErrCrypto is the root of every error returned by this package.
	ErrCrypto = errors.New("crypto error")
	// ErrInvalidKey is returned when a public key is absent or malformed.
	ErrInvalidKey = fmt.Errorf("%w: invalid public key", ErrCrypto)
	// ErrInvalidSignature is returned when a signature is structurally
	// invalid. A well-formed signature that does not match is not an error.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrCrypto)
	// ErrInvalidDigest is returned when a digest to sign or verify is not
	// a 32 byte hash.
	ErrInvalidDigest = fmt.Errorf("%w: digest must be %d bytes", ErrCrypto, digestSize)
)

// NewPrivateKey generates a new random secp256k1 private key.
func NewPrivateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// Sign returns the DER encoded ECDSA signature of digest.
func Sign(digest []byte, key *btcec.PrivateKey) ([]byte, error) {
	if len(digest) != digestSize {
		return nil, ErrInvalidDigest
	}
	if key == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrCrypto)
	}
	return ecdsa.Sign(key, digest).Serialize(), nil
}

// Verify returns whether sig is a valid signature of digest for the given
// serialized public key. A malformed key or signature is reported as an
// error so that callers can tell a corrupt input from a non matching one.
func Verify(digest, sig, pubkey []byte) (bool, error) {
	if len(digest) != digestSize {
		return false, ErrInvalidDigest
	}
	key, err := ParsePubKey(pubkey)
	if err != nil {
		return false, err
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return signature.Verify(digest, key), nil
}

// ParsePubKey parses a serialized (compressed or uncompressed) public key.
func ParsePubKey(pubkey []byte) (*btcec.PublicKey, error) {
	if len(pubkey) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	key, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return key, nil
}

// ParsePubKeyHex parses a hex encoded serialized public key.
func ParsePubKeyHex(pubkey string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return ParsePubKey(buf)
}

// PubKeyHex returns the hex encoded compressed form of key.
func PubKeyHex(key *btcec.PublicKey) string {
	return hex.EncodeToString(key.SerializeCompressed())
}

// VerifyHex is like Verify but takes a hex encoded public key.
func VerifyHex(digest, sig []byte, pubkey string) (bool, error) {
	buf, err := hex.DecodeString(pubkey)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return Verify(digest, sig, buf)
}
