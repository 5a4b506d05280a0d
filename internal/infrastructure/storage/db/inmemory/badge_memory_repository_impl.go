package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/bytabit/escrowd/internal/core/domain"
)

type badgeRepositoryImpl struct {
	badges map[string]domain.BadgeRecord
	locker *sync.RWMutex
}

// NewBadgeRepositoryImpl returns a new inmemory BadgeRepository
// implementation.
func NewBadgeRepositoryImpl() domain.BadgeRepository {
	return &badgeRepositoryImpl{
		badges: map[string]domain.BadgeRecord{},
		locker: &sync.RWMutex{},
	}
}

func (r *badgeRepositoryImpl) AddBadge(_ context.Context, badge domain.BadgeRecord) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.badges[badge.ID()]; ok {
		return nil
	}
	r.badges[badge.ID()] = badge
	return nil
}

func (r *badgeRepositoryImpl) GetBadge(_ context.Context, id string) (*domain.BadgeRecord, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	badge, ok := r.badges[id]
	if !ok {
		return nil, domain.ErrBadgeNotFound
	}
	return &badge, nil
}

func (r *badgeRepositoryImpl) GetBadgesForProfile(
	_ context.Context, profilePubKey string,
) ([]domain.BadgeRecord, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.filter(func(b domain.BadgeRecord) bool {
		return b.Request.Badge.ProfilePubKey == profilePubKey
	}), nil
}

func (r *badgeRepositoryImpl) GetPendingBadges(_ context.Context) ([]domain.BadgeRecord, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.filter(func(b domain.BadgeRecord) bool {
		return b.Status == domain.BadgeStatusPending
	}), nil
}

func (r *badgeRepositoryImpl) UpdateBadge(
	_ context.Context, id string,
	updateFn func(b *domain.BadgeRecord) (*domain.BadgeRecord, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	badge, ok := r.badges[id]
	if !ok {
		return domain.ErrBadgeNotFound
	}
	updated, err := updateFn(&badge)
	if err != nil {
		return err
	}
	r.badges[id] = *updated
	return nil
}

func (r *badgeRepositoryImpl) DeleteBadge(_ context.Context, id string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	delete(r.badges, id)
	return nil
}

func (r *badgeRepositoryImpl) filter(keep func(domain.BadgeRecord) bool) []domain.BadgeRecord {
	badges := make([]domain.BadgeRecord, 0)
	for _, b := range r.badges {
		if keep(b) {
			badges = append(badges, b)
		}
	}
	sort.Slice(badges, func(i, j int) bool {
		return badges[i].Request.Badge.ValidFrom.Before(badges[j].Request.Badge.ValidFrom)
	})
	return badges
}
