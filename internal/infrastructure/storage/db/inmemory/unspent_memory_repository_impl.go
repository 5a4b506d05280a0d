package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/bytabit/escrowd/internal/core/domain"
)

// UnspentRepositoryImpl represents an in memory storage
type UnspentRepositoryImpl struct {
	unspents map[domain.UnspentKey]domain.Unspent
	lock     *sync.RWMutex
}

// NewUnspentRepositoryImpl returns a new empty UnspentRepositoryImpl
func NewUnspentRepositoryImpl() *UnspentRepositoryImpl {
	return &UnspentRepositoryImpl{
		unspents: map[domain.UnspentKey]domain.Unspent{},
		lock:     &sync.RWMutex{},
	}
}

// AddUnspents adds the unknown unspents to the storage and confirms the
// known ones if they got confirmed in the meanwhile.
func (r UnspentRepositoryImpl) AddUnspents(
	_ context.Context, unspents []domain.Unspent,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, u := range unspents {
		stored, ok := r.unspents[u.Key()]
		if !ok {
			r.unspents[u.Key()] = u
			continue
		}
		if u.IsConfirmed() && !stored.IsConfirmed() {
			stored.Confirm()
			r.unspents[u.Key()] = stored
		}
	}
	return nil
}

// GetAllUnspents returns all the unspents stored
func (r UnspentRepositoryImpl) GetAllUnspents(_ context.Context) []domain.Unspent {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.filter(func(domain.Unspent) bool { return true })
}

// GetUnspentsForAddresses returns the list of all unspents for the given
// list of addresses
func (r UnspentRepositoryImpl) GetUnspentsForAddresses(
	_ context.Context, addresses []string,
) ([]domain.Unspent, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	byAddress := addressSet(addresses)
	return r.filter(func(u domain.Unspent) bool {
		_, ok := byAddress[u.Address]
		return ok
	}), nil
}

// GetAvailableUnspentsForAddresses returns the list of unspents neither spent
// nor reserved for the given list of addresses
func (r UnspentRepositoryImpl) GetAvailableUnspentsForAddresses(
	_ context.Context, addresses []string,
) ([]domain.Unspent, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	byAddress := addressSet(addresses)
	return r.filter(func(u domain.Unspent) bool {
		_, ok := byAddress[u.Address]
		return ok && u.IsAvailable()
	}), nil
}

// GetUnspentForKey returns the unspent for the given key
func (r UnspentRepositoryImpl) GetUnspentForKey(
	_ context.Context, key domain.UnspentKey,
) (*domain.Unspent, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	u, ok := r.unspents[key]
	if !ok {
		return nil, domain.ErrUnspentNotFound
	}
	return &u, nil
}

// ReserveUnspents reserves all the given unspents for owner, or none of
// them.
func (r UnspentRepositoryImpl) ReserveUnspents(
	_ context.Context, keys []domain.UnspentKey, owner string,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	reserved := make([]domain.Unspent, 0, len(keys))
	for _, key := range keys {
		u, ok := r.unspents[key]
		if !ok {
			return domain.ErrUnspentNotFound
		}
		if err := u.Reserve(owner); err != nil {
			return err
		}
		reserved = append(reserved, u)
	}
	for _, u := range reserved {
		r.unspents[u.Key()] = u
	}
	return nil
}

// ReleaseUnspents releases the given unspents
func (r UnspentRepositoryImpl) ReleaseUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, key := range keys {
		if u, ok := r.unspents[key]; ok {
			u.Release()
			r.unspents[key] = u
		}
	}
	return nil
}

// ReleaseUnspentsReservedBy releases all the unspents held by owner
func (r UnspentRepositoryImpl) ReleaseUnspentsReservedBy(
	_ context.Context, owner string,
) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for key, u := range r.unspents {
		if u.ReservedBy == owner {
			u.Release()
			r.unspents[key] = u
			count++
		}
	}
	return count, nil
}

// SpendUnspents marks the given unspents as spent. Unknown ones are
// ignored.
func (r UnspentRepositoryImpl) SpendUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, key := range keys {
		if u, ok := r.unspents[key]; ok {
			u.Spend()
			r.unspents[key] = u
		}
	}
	return nil
}

// ConfirmUnspents marks the given unspents as confirmed
func (r UnspentRepositoryImpl) ConfirmUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, key := range keys {
		if u, ok := r.unspents[key]; ok {
			u.Confirm()
			r.unspents[key] = u
		}
	}
	return nil
}

func (r UnspentRepositoryImpl) filter(keep func(domain.Unspent) bool) []domain.Unspent {
	unspents := make([]domain.Unspent, 0)
	for _, u := range r.unspents {
		if keep(u) {
			unspents = append(unspents, u)
		}
	}
	sort.Slice(unspents, func(i, j int) bool {
		return unspents[i].Key().String() < unspents[j].Key().String()
	})
	return unspents
}

func addressSet(addresses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return set
}
