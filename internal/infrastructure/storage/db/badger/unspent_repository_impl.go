package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

type unspentRepositoryImpl struct {
	store *badgerhold.Store
}

// NewUnspentRepositoryImpl returns a badger backed UnspentRepository.
func NewUnspentRepositoryImpl(store *badgerhold.Store) domain.UnspentRepository {
	return unspentRepositoryImpl{store}
}

func (r unspentRepositoryImpl) AddUnspents(
	_ context.Context, unspents []domain.Unspent,
) error {
	return update(r.store, func(tx *badger.Txn) error {
		for _, u := range unspents {
			key := u.Key().String()

			var stored domain.Unspent
			err := r.store.TxGet(tx, key, &stored)
			if errors.Is(err, badgerhold.ErrNotFound) {
				if err := r.store.TxInsert(tx, key, u); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if u.IsConfirmed() && !stored.IsConfirmed() {
				stored.Confirm()
				if err := r.store.TxUpdate(tx, key, stored); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r unspentRepositoryImpl) GetAllUnspents(_ context.Context) []domain.Unspent {
	unspents, _ := r.findUnspents(nil)
	return unspents
}

func (r unspentRepositoryImpl) GetUnspentsForAddresses(
	_ context.Context, addresses []string,
) ([]domain.Unspent, error) {
	return r.findUnspents(badgerhold.Where("Address").In(toInterfaces(addresses)...))
}

func (r unspentRepositoryImpl) GetAvailableUnspentsForAddresses(
	_ context.Context, addresses []string,
) ([]domain.Unspent, error) {
	query := badgerhold.Where("Spent").Eq(false).
		And("ReservedBy").Eq("").
		And("Address").In(toInterfaces(addresses)...)

	return r.findUnspents(query)
}

func (r unspentRepositoryImpl) GetUnspentForKey(
	_ context.Context, key domain.UnspentKey,
) (*domain.Unspent, error) {
	var unspent domain.Unspent
	if err := r.store.Get(key.String(), &unspent); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrUnspentNotFound
		}
		return nil, err
	}
	return &unspent, nil
}

func (r unspentRepositoryImpl) ReserveUnspents(
	_ context.Context, keys []domain.UnspentKey, owner string,
) error {
	return update(r.store, func(tx *badger.Txn) error {
		for _, key := range keys {
			var unspent domain.Unspent
			if err := r.store.TxGet(tx, key.String(), &unspent); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return domain.ErrUnspentNotFound
				}
				return err
			}
			if err := unspent.Reserve(owner); err != nil {
				return err
			}
			if err := r.store.TxUpdate(tx, key.String(), unspent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r unspentRepositoryImpl) ReleaseUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(keys, func(u *domain.Unspent) { u.Release() })
}

func (r unspentRepositoryImpl) ReleaseUnspentsReservedBy(
	_ context.Context, owner string,
) (int, error) {
	count := 0
	err := update(r.store, func(tx *badger.Txn) error {
		count = 0

		var unspents []domain.Unspent
		query := badgerhold.Where("ReservedBy").Eq(owner)
		if err := r.store.TxFind(tx, &unspents, query); err != nil {
			return err
		}
		for _, u := range unspents {
			u.Release()
			if err := r.store.TxUpdate(tx, u.Key().String(), u); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (r unspentRepositoryImpl) SpendUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(keys, func(u *domain.Unspent) { u.Spend() })
}

func (r unspentRepositoryImpl) ConfirmUnspents(
	_ context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(keys, func(u *domain.Unspent) { u.Confirm() })
}

// updateUnspents applies fn to the known unspents among keys.
func (r unspentRepositoryImpl) updateUnspents(
	keys []domain.UnspentKey, fn func(u *domain.Unspent),
) error {
	return update(r.store, func(tx *badger.Txn) error {
		for _, key := range keys {
			var unspent domain.Unspent
			if err := r.store.TxGet(tx, key.String(), &unspent); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					continue
				}
				return err
			}
			fn(&unspent)
			if err := r.store.TxUpdate(tx, key.String(), unspent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r unspentRepositoryImpl) findUnspents(
	query *badgerhold.Query,
) ([]domain.Unspent, error) {
	var unspents []domain.Unspent
	if err := r.store.Find(&unspents, query); err != nil {
		return nil, err
	}
	if unspents == nil {
		unspents = make([]domain.Unspent, 0)
	}
	sort.Slice(unspents, func(i, j int) bool {
		return unspents[i].Key().String() < unspents[j].Key().String()
	})
	return unspents, nil
}

func toInterfaces(values []string) []interface{} {
	iface := make([]interface{}, 0, len(values))
	for _, v := range values {
		iface = append(iface, v)
	}
	return iface
}
