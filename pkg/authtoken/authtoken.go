// Package authtoken implements signed, time-bounded bearer tokens that bind
// a public key to a single destination URL.
package authtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/bytabit/escrowd/pkg/canonical"
	"github.com/bytabit/escrowd/pkg/crypto"
)

// HeaderKey is the HTTP header carrying an encoded token.
const HeaderKey = "Authorization"

var (
	// ErrExpired is returned when the token is used after its validity.
	ErrExpired = errors.New("auth token expired")
	// ErrURLMismatch is returned when the token is used for another resource.
	ErrURLMismatch = errors.New("auth token url mismatch")
	// ErrBadSignature is returned when the token signature does not verify
	// against the claimed public key.
	ErrBadSignature = errors.New("auth token bad signature")
	// ErrMalformed is returned when an encoded token cannot be decoded.
	ErrMalformed = errors.New("malformed auth token")
)

// AuthToken is a bearer credential scoped to one URL and one expiry. There is
// no revocation: compromise is bounded only by ValidTo.
type AuthToken struct {
	PubKey    string    `json:"pubKey"`
	URL       string    `json:"url"`
	ValidTo   time.Time `json:"validTo"`
	Signature []byte    `json:"signature"`
}

// Issue returns a token for url valid until validTo, signed with key.
func Issue(key *btcec.PrivateKey, url string, validTo time.Time) (*AuthToken, error) {
	if key == nil {
		return nil, fmt.Errorf("missing private key")
	}
	if len(url) <= 0 {
		return nil, fmt.Errorf("missing url")
	}

	token := &AuthToken{
		PubKey:  crypto.PubKeyHex(key.PubKey()),
		URL:     url,
		ValidTo: validTo.UTC(),
	}
	digest := token.Digest()
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	token.Signature = sig
	return token, nil
}

// Digest returns the signed payload: the canonical hash of the claims. The
// signature is never part of it.
func (t AuthToken) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(t.PubKey),
		canonical.String(t.URL),
		canonical.Time(t.ValidTo),
	)
}

// ClaimID identifies the token claims regardless of the signature.
func (t AuthToken) ClaimID() string {
	return canonical.EncodeID(t.Digest())
}

// SameClaim returns whether the two tokens carry the same claims.
func (t AuthToken) SameClaim(other AuthToken) bool {
	return t.ClaimID() == other.ClaimID()
}

// Verify checks that the token is not expired at now, is scoped to url and
// is correctly signed by the claimed key.
func Verify(t AuthToken, url string, now time.Time) error {
	if now.After(t.ValidTo) {
		return ErrExpired
	}
	if t.URL != url {
		return ErrURLMismatch
	}
	digest := t.Digest()
	ok, err := crypto.VerifyHex(digest[:], t.Signature, t.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// Encode returns the header value for the token: base64(json(token)).
func (t AuthToken) Encode() (string, error) {
	buf, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode parses a header value produced by Encode.
func Decode(header string) (*AuthToken, error) {
	buf, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	token := &AuthToken{}
	if err := json.Unmarshal(buf, token); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return token, nil
}
