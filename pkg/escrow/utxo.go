package escrow

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is a spendable output together with the data required to sign it.
type Utxo struct {
	TxID     string `json:"txid"`
	VOut     uint32 `json:"vout"`
	Value    int64  `json:"value"`
	PkScript []byte `json:"pkScript"`
}

// Key returns the txid:vout identifier of the output.
func (u Utxo) Key() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.VOut)
}

// OutPoint ...
func (u Utxo) OutPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(hash, u.VOut), nil
}

// TxOut ...
func (u Utxo) TxOut() *wire.TxOut {
	return wire.NewTxOut(u.Value, u.PkScript)
}

// TotalValue returns the sum of the values of utxos.
func TotalValue(utxos []Utxo) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

// EscrowOutputs returns the outputs of tx paying to the escrow.
func EscrowOutputs(tx *wire.MsgTx, e *Escrow) []Utxo {
	pkScript := e.PkScript()
	txid := tx.TxHash().String()
	outs := make([]Utxo, 0)
	for i, out := range tx.TxOut {
		if string(out.PkScript) == string(pkScript) {
			outs = append(outs, Utxo{
				TxID:     txid,
				VOut:     uint32(i),
				Value:    out.Value,
				PkScript: out.PkScript,
			})
		}
	}
	return outs
}
