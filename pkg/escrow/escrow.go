// Package escrow builds and signs the bitcoin transactions of a 2-of-3
// multisig escrow between a buyer, a seller and an arbitrator.
package escrow

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// RequiredSigs is the number of signatures needed to spend an escrow.
	RequiredSigs = 2
	// NumKeys is the number of keys locking an escrow.
	NumKeys = 3
)

// Escrow is a 2-of-3 P2WSH output script. Keys are sorted by their compressed
// serialization so that the address does not depend on who lists them.
type Escrow struct {
	Keys          []*btcec.PublicKey
	WitnessScript []byte
	Address       btcutil.Address
	Net           *chaincfg.Params
}

// New derives the escrow locked by the three given keys on net. Keys must be
// pairwise distinct.
func New(
	net *chaincfg.Params, buyer, seller, arbitrator *btcec.PublicKey,
) (*Escrow, error) {
	if buyer == nil || seller == nil || arbitrator == nil {
		return nil, ErrInvalidKeys
	}
	return fromKeys(net, []*btcec.PublicKey{buyer, seller, arbitrator})
}

// DeriveAddress returns the encoded address of the escrow locked by the
// three given keys.
func DeriveAddress(
	net *chaincfg.Params, buyer, seller, arbitrator *btcec.PublicKey,
) (string, error) {
	e, err := New(net, buyer, seller, arbitrator)
	if err != nil {
		return "", err
	}
	return e.Address.EncodeAddress(), nil
}

// FromWitnessScript parses a witness script produced by New.
func FromWitnessScript(
	net *chaincfg.Params, witnessScript []byte,
) (*Escrow, error) {
	class, addresses, reqSigs, err := txscript.ExtractPkScriptAddrs(
		witnessScript, net,
	)
	if err != nil {
		return nil, err
	}
	if class != txscript.MultiSigTy || reqSigs != RequiredSigs ||
		len(addresses) != NumKeys {
		return nil, fmt.Errorf("witness script is not a 2-of-3 multisig")
	}
	keys := make([]*btcec.PublicKey, 0, NumKeys)
	for _, addr := range addresses {
		pk, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return nil, ErrInvalidKeys
		}
		keys = append(keys, pk.PubKey())
	}
	e, err := fromKeys(net, keys)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(e.WitnessScript, witnessScript) {
		return nil, fmt.Errorf("witness script keys are not in canonical order")
	}
	return e, nil
}

// PkScript returns the output script paying to the escrow.
func (e *Escrow) PkScript() []byte {
	script, _ := txscript.PayToAddrScript(e.Address)
	return script
}

// KeyIndex returns the position of key in the sorted key list, or -1.
func (e *Escrow) KeyIndex(key *btcec.PublicKey) int {
	if key == nil {
		return -1
	}
	for i, k := range e.Keys {
		if k.IsEqual(key) {
			return i
		}
	}
	return -1
}

func fromKeys(net *chaincfg.Params, keys []*btcec.PublicKey) (*Escrow, error) {
	sorted := make([]*btcec.PublicKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(
			sorted[i].SerializeCompressed(), sorted[j].SerializeCompressed(),
		) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].IsEqual(sorted[i-1]) {
			return nil, ErrInvalidKeys
		}
	}

	addrPubKeys := make([]*btcutil.AddressPubKey, 0, len(sorted))
	for _, k := range sorted {
		addr, err := btcutil.NewAddressPubKey(k.SerializeCompressed(), net)
		if err != nil {
			return nil, err
		}
		addrPubKeys = append(addrPubKeys, addr)
	}
	script, err := txscript.MultiSigScript(addrPubKeys, RequiredSigs)
	if err != nil {
		return nil, err
	}
	scriptHash := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], net)
	if err != nil {
		return nil, err
	}

	return &Escrow{
		Keys:          sorted,
		WitnessScript: script,
		Address:       addr,
		Net:           net,
	}, nil
}
