package domain

import "context"

// UnspentRepository is the abstraction for any kind of database intended to
// persist Unspents. It is the single writer of output reservations.
type UnspentRepository interface {
	// AddUnspents inserts the given unspents. Already known ones keep their
	// spent and reserved state but get confirmed if the new one is.
	AddUnspents(ctx context.Context, unspents []Unspent) error
	GetAllUnspents(ctx context.Context) []Unspent
	GetUnspentsForAddresses(
		ctx context.Context, addresses []string,
	) ([]Unspent, error)
	// GetAvailableUnspentsForAddresses returns the unspents neither spent
	// nor reserved.
	GetAvailableUnspentsForAddresses(
		ctx context.Context, addresses []string,
	) ([]Unspent, error)
	GetUnspentForKey(ctx context.Context, key UnspentKey) (*Unspent, error)
	// ReserveUnspents reserves all the given unspents for owner, or none of
	// them: if any is already reserved by someone else it fails with
	// ErrOutputReserved.
	ReserveUnspents(ctx context.Context, keys []UnspentKey, owner string) error
	ReleaseUnspents(ctx context.Context, keys []UnspentKey) error
	// ReleaseUnspentsReservedBy releases every unspent held by owner and
	// returns how many were released.
	ReleaseUnspentsReservedBy(ctx context.Context, owner string) (int, error)
	SpendUnspents(ctx context.Context, keys []UnspentKey) error
	ConfirmUnspents(ctx context.Context, keys []UnspentKey) error
}
