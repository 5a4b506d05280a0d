package dbbadger

import (
	"context"
	"errors"
	"sort"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

type badgeRepositoryImpl struct {
	store *badgerhold.Store
}

// NewBadgeRepositoryImpl returns a badger backed BadgeRepository.
func NewBadgeRepositoryImpl(store *badgerhold.Store) domain.BadgeRepository {
	return badgeRepositoryImpl{store}
}

func (r badgeRepositoryImpl) AddBadge(_ context.Context, badge domain.BadgeRecord) error {
	if err := r.store.Insert(badge.ID(), badge); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return nil
		}
		return err
	}
	return nil
}

func (r badgeRepositoryImpl) GetBadge(_ context.Context, id string) (*domain.BadgeRecord, error) {
	var badge domain.BadgeRecord
	if err := r.store.Get(id, &badge); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrBadgeNotFound
		}
		return nil, err
	}
	return &badge, nil
}

func (r badgeRepositoryImpl) GetBadgesForProfile(
	_ context.Context, profilePubKey string,
) ([]domain.BadgeRecord, error) {
	return r.findBadges(
		badgerhold.Where("Request.Badge.ProfilePubKey").Eq(profilePubKey),
	)
}

func (r badgeRepositoryImpl) GetPendingBadges(_ context.Context) ([]domain.BadgeRecord, error) {
	return r.findBadges(badgerhold.Where("Status").Eq(domain.BadgeStatusPending))
}

func (r badgeRepositoryImpl) UpdateBadge(
	_ context.Context, id string,
	updateFn func(b *domain.BadgeRecord) (*domain.BadgeRecord, error),
) error {
	return update(r.store, func(tx *badger.Txn) error {
		var badge domain.BadgeRecord
		if err := r.store.TxGet(tx, id, &badge); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrBadgeNotFound
			}
			return err
		}
		updated, err := updateFn(&badge)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, id, *updated)
	})
}

func (r badgeRepositoryImpl) DeleteBadge(_ context.Context, id string) error {
	if err := r.store.Delete(id, domain.BadgeRecord{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r badgeRepositoryImpl) findBadges(query *badgerhold.Query) ([]domain.BadgeRecord, error) {
	var badges []domain.BadgeRecord
	if err := r.store.Find(&badges, query); err != nil {
		return nil, err
	}
	if badges == nil {
		badges = make([]domain.BadgeRecord, 0)
	}
	sort.Slice(badges, func(i, j int) bool {
		return badges[i].Request.Badge.ValidFrom.Before(badges[j].Request.Badge.ValidFrom)
	})
	return badges, nil
}
