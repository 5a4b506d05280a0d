package esplora

import (
	"time"

	"github.com/bytabit/escrowd/internal/core/ports"
)

type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type utxo struct {
	TxID   string   `json:"txid"`
	VOut   uint32   `json:"vout"`
	Value  int64    `json:"value"`
	Status txStatus `json:"status"`
}

type output struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Address      string `json:"scriptpubkey_address"`
	Value        int64  `json:"value"`
}

type input struct {
	TxID    string  `json:"txid"`
	VOut    uint32  `json:"vout"`
	Prevout *output `json:"prevout"`
}

type tx struct {
	TxID   string   `json:"txid"`
	Vin    []input  `json:"vin"`
	Vout   []output `json:"vout"`
	Status txStatus `json:"status"`
}

// netAmount returns what address received in the tx minus what it spent.
func (t tx) netAmount(address string) int64 {
	var amount int64
	for _, in := range t.Vin {
		if in.Prevout != nil && in.Prevout.Address == address {
			amount -= in.Prevout.Value
		}
	}
	for _, out := range t.Vout {
		if out.Address == address {
			amount += out.Value
		}
	}
	return amount
}

func (t tx) toPortable(address string) ports.AddressTx {
	addrTx := ports.AddressTx{
		TxID:      t.TxID,
		Confirmed: t.Status.Confirmed,
		NetAmount: t.netAmount(address),
	}
	if t.Status.Confirmed {
		addrTx.BlockHeight = t.Status.BlockHeight
		addrTx.BlockTime = time.Unix(t.Status.BlockTime, 0).UTC()
	}
	return addrTx
}
