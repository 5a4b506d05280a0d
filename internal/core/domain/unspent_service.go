package domain

import "github.com/bytabit/escrowd/pkg/escrow"

// NewUnspent returns an available unspent for utxo at address.
func NewUnspent(utxo escrow.Utxo, address string, confirmed bool) Unspent {
	return Unspent{
		TxID:      utxo.TxID,
		VOut:      utxo.VOut,
		Value:     utxo.Value,
		PkScript:  utxo.PkScript,
		Address:   address,
		Confirmed: confirmed,
	}
}

// IsKeyEqual returns whether the provided UnspentKey matches that or the
// current unspent.
func (u *Unspent) IsKeyEqual(key UnspentKey) bool {
	return u.TxID == key.TxID && u.VOut == key.VOut
}

// IsSpent ...
func (u *Unspent) IsSpent() bool {
	return u.Spent
}

// IsConfirmed ...
func (u *Unspent) IsConfirmed() bool {
	return u.Confirmed
}

// IsReserved returns whether the unspent is held by a not yet broadcasted
// transaction.
func (u *Unspent) IsReserved() bool {
	return len(u.ReservedBy) > 0
}

// IsAvailable returns whether the unspent can be selected as input.
func (u *Unspent) IsAvailable() bool {
	return !u.IsSpent() && !u.IsReserved()
}

// Key returns the UnspentKey of the current unspent.
func (u *Unspent) Key() UnspentKey {
	return UnspentKey{
		TxID: u.TxID,
		VOut: u.VOut,
	}
}

// Spend marks the unspent as spent and drops any reservation.
func (u *Unspent) Spend() {
	u.Spent = true
	u.ReservedBy = ""
}

// Confirm ...
func (u *Unspent) Confirm() {
	u.Confirmed = true
}

// Reserve marks the unspent as held by owner. Reserving again for the same
// owner is a no-op, reserving for another owner fails with
// ErrOutputReserved.
func (u *Unspent) Reserve(owner string) error {
	if u.IsSpent() {
		return ErrOutputReserved
	}
	if u.IsReserved() {
		if u.ReservedBy != owner {
			return ErrOutputReserved
		}
		return nil
	}
	u.ReservedBy = owner
	return nil
}

// Release drops the reservation of the unspent.
func (u *Unspent) Release() {
	u.ReservedBy = ""
}

// ToUtxo returns the current unspent as an escrow.Utxo.
func (u *Unspent) ToUtxo() escrow.Utxo {
	return escrow.Utxo{
		TxID:     u.TxID,
		VOut:     u.VOut,
		Value:    u.Value,
		PkScript: u.PkScript,
	}
}

// KeysOf returns the keys of the given utxos.
func KeysOf(utxos []escrow.Utxo) []UnspentKey {
	keys := make([]UnspentKey, 0, len(utxos))
	for _, u := range utxos {
		keys = append(keys, UnspentKey{TxID: u.TxID, VOut: u.VOut})
	}
	return keys
}
