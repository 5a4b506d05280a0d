package postgresdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

const selectBadges = "SELECT record FROM badge "

type badgeRepositoryImpl struct {
	db     querier
	execTx execTxFunc
}

// NewBadgeRepositoryImpl returns a postgres backed BadgeRepository.
func NewBadgeRepositoryImpl(db querier, execTx execTxFunc) domain.BadgeRepository {
	return &badgeRepositoryImpl{db, execTx}
}

func (r *badgeRepositoryImpl) AddBadge(ctx context.Context, badge domain.BadgeRecord) error {
	buf, err := json.Marshal(badge)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(
		ctx,
		"INSERT INTO badge (id, profile_pub_key, status, valid_from, record) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING",
		badge.ID(), badge.Request.Badge.ProfilePubKey, string(badge.Status),
		badge.Request.Badge.ValidFrom, buf,
	); err != nil {
		return fmt.Errorf("failed to add badge: %w", err)
	}
	return nil
}

func (r *badgeRepositoryImpl) GetBadge(ctx context.Context, id string) (*domain.BadgeRecord, error) {
	return getBadge(ctx, r.db, id, "")
}

func (r *badgeRepositoryImpl) GetBadgesForProfile(
	ctx context.Context, profilePubKey string,
) ([]domain.BadgeRecord, error) {
	return r.findBadges(
		ctx, selectBadges+"WHERE profile_pub_key = $1 ORDER BY valid_from", profilePubKey,
	)
}

func (r *badgeRepositoryImpl) GetPendingBadges(ctx context.Context) ([]domain.BadgeRecord, error) {
	return r.findBadges(
		ctx, selectBadges+"WHERE status = $1 ORDER BY valid_from",
		string(domain.BadgeStatusPending),
	)
}

func (r *badgeRepositoryImpl) UpdateBadge(
	ctx context.Context, id string,
	updateFn func(b *domain.BadgeRecord) (*domain.BadgeRecord, error),
) error {
	return r.execTx(ctx, func(q querier) error {
		badge, err := getBadge(ctx, q, id, " FOR UPDATE")
		if err != nil {
			return err
		}
		updated, err := updateFn(badge)
		if err != nil {
			return err
		}
		buf, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = q.Exec(
			ctx, "UPDATE badge SET status = $1, record = $2 WHERE id = $3",
			string(updated.Status), buf, id,
		)
		return err
	})
}

func (r *badgeRepositoryImpl) DeleteBadge(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM badge WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete badge: %w", err)
	}
	return nil
}

func (r *badgeRepositoryImpl) findBadges(
	ctx context.Context, query string, args ...any,
) ([]domain.BadgeRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get badges: %w", err)
	}
	defer rows.Close()

	badges := make([]domain.BadgeRecord, 0)
	for rows.Next() {
		var buf []byte
		if err := rows.Scan(&buf); err != nil {
			return nil, err
		}
		var badge domain.BadgeRecord
		if err := json.Unmarshal(buf, &badge); err != nil {
			return nil, err
		}
		badges = append(badges, badge)
	}
	return badges, rows.Err()
}

func getBadge(
	ctx context.Context, q querier, id, lock string,
) (*domain.BadgeRecord, error) {
	var buf []byte
	if err := q.QueryRow(
		ctx, selectBadges+"WHERE id = $1"+lock, id,
	).Scan(&buf); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBadgeNotFound
		}
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}

	var badge domain.BadgeRecord
	if err := json.Unmarshal(buf, &badge); err != nil {
		return nil, err
	}
	return &badge, nil
}
