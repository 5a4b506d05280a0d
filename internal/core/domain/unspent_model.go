package domain

import "fmt"

// UnspentKey represent the ID of an Unspent, composed by its txid and vout.
type UnspentKey struct {
	TxID string
	VOut uint32
}

func (k UnspentKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxID, k.VOut)
}

// Unspent is a bitcoin output owned by the local wallet or locked in an
// escrow, together with its spent, confirmed and reserved state.
type Unspent struct {
	TxID      string
	VOut      uint32
	Value     int64
	PkScript  []byte
	Address   string
	Spent     bool
	Confirmed bool
	// ReservedBy identifies the in-flight transaction build holding the
	// output. Empty means available.
	ReservedBy string
}
