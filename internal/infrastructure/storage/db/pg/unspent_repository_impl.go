package postgresdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

const selectUnspents = "SELECT tx_id, vout, value, pk_script, address, spent, confirmed, reserved_by FROM unspent "

type unspentRepositoryImpl struct {
	db     querier
	execTx execTxFunc
}

// NewUnspentRepositoryImpl returns a postgres backed UnspentRepository.
func NewUnspentRepositoryImpl(db querier, execTx execTxFunc) domain.UnspentRepository {
	return &unspentRepositoryImpl{db, execTx}
}

func (r *unspentRepositoryImpl) AddUnspents(
	ctx context.Context, unspents []domain.Unspent,
) error {
	return r.execTx(ctx, func(q querier) error {
		for _, u := range unspents {
			if _, err := q.Exec(
				ctx,
				`INSERT INTO unspent (tx_id, vout, value, pk_script, address, spent, confirmed, reserved_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (tx_id, vout) DO UPDATE SET confirmed = unspent.confirmed OR EXCLUDED.confirmed`,
				u.TxID, int64(u.VOut), u.Value, u.PkScript, u.Address,
				u.Spent, u.Confirmed, u.ReservedBy,
			); err != nil {
				return fmt.Errorf("failed to add unspent %s: %w", u.Key(), err)
			}
		}
		return nil
	})
}

func (r *unspentRepositoryImpl) GetAllUnspents(ctx context.Context) []domain.Unspent {
	unspents, err := findUnspents(ctx, r.db, selectUnspents+"ORDER BY tx_id, vout")
	if err != nil {
		return make([]domain.Unspent, 0)
	}
	return unspents
}

func (r *unspentRepositoryImpl) GetUnspentsForAddresses(
	ctx context.Context, addresses []string,
) ([]domain.Unspent, error) {
	return findUnspents(
		ctx, r.db,
		selectUnspents+"WHERE address = ANY($1) ORDER BY tx_id, vout", addresses,
	)
}

func (r *unspentRepositoryImpl) GetAvailableUnspentsForAddresses(
	ctx context.Context, addresses []string,
) ([]domain.Unspent, error) {
	return findUnspents(
		ctx, r.db,
		selectUnspents+"WHERE address = ANY($1) AND NOT spent AND reserved_by = '' ORDER BY tx_id, vout",
		addresses,
	)
}

func (r *unspentRepositoryImpl) GetUnspentForKey(
	ctx context.Context, key domain.UnspentKey,
) (*domain.Unspent, error) {
	return getUnspent(ctx, r.db, key, "")
}

func (r *unspentRepositoryImpl) ReserveUnspents(
	ctx context.Context, keys []domain.UnspentKey, owner string,
) error {
	return r.execTx(ctx, func(q querier) error {
		for _, key := range keys {
			u, err := getUnspent(ctx, q, key, " FOR UPDATE")
			if err != nil {
				return err
			}
			if err := u.Reserve(owner); err != nil {
				return err
			}
			if err := saveUnspentState(ctx, q, *u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *unspentRepositoryImpl) ReleaseUnspents(
	ctx context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(ctx, keys, func(u *domain.Unspent) { u.Release() })
}

func (r *unspentRepositoryImpl) ReleaseUnspentsReservedBy(
	ctx context.Context, owner string,
) (int, error) {
	tag, err := r.db.Exec(
		ctx, "UPDATE unspent SET reserved_by = '' WHERE reserved_by = $1", owner,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release unspents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *unspentRepositoryImpl) SpendUnspents(
	ctx context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(ctx, keys, func(u *domain.Unspent) { u.Spend() })
}

func (r *unspentRepositoryImpl) ConfirmUnspents(
	ctx context.Context, keys []domain.UnspentKey,
) error {
	return r.updateUnspents(ctx, keys, func(u *domain.Unspent) { u.Confirm() })
}

// updateUnspents applies fn to the known unspents among keys.
func (r *unspentRepositoryImpl) updateUnspents(
	ctx context.Context, keys []domain.UnspentKey, fn func(u *domain.Unspent),
) error {
	return r.execTx(ctx, func(q querier) error {
		for _, key := range keys {
			u, err := getUnspent(ctx, q, key, " FOR UPDATE")
			if err != nil {
				if errors.Is(err, domain.ErrUnspentNotFound) {
					continue
				}
				return err
			}
			fn(u)
			if err := saveUnspentState(ctx, q, *u); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveUnspentState(ctx context.Context, q querier, u domain.Unspent) error {
	_, err := q.Exec(
		ctx,
		"UPDATE unspent SET spent = $1, confirmed = $2, reserved_by = $3 WHERE tx_id = $4 AND vout = $5",
		u.Spent, u.Confirmed, u.ReservedBy, u.TxID, int64(u.VOut),
	)
	return err
}

func getUnspent(
	ctx context.Context, q querier, key domain.UnspentKey, lock string,
) (*domain.Unspent, error) {
	row := q.QueryRow(
		ctx, selectUnspents+"WHERE tx_id = $1 AND vout = $2"+lock,
		key.TxID, int64(key.VOut),
	)
	u, err := scanUnspent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnspentNotFound
		}
		return nil, fmt.Errorf("failed to get unspent: %w", err)
	}
	return u, nil
}

func findUnspents(
	ctx context.Context, q querier, query string, args ...any,
) ([]domain.Unspent, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get unspents: %w", err)
	}
	defer rows.Close()

	unspents := make([]domain.Unspent, 0)
	for rows.Next() {
		u, err := scanUnspent(rows)
		if err != nil {
			return nil, err
		}
		unspents = append(unspents, *u)
	}
	return unspents, rows.Err()
}

func scanUnspent(row pgx.Row) (*domain.Unspent, error) {
	var (
		u    domain.Unspent
		vout int64
	)
	if err := row.Scan(
		&u.TxID, &vout, &u.Value, &u.PkScript, &u.Address,
		&u.Spent, &u.Confirmed, &u.ReservedBy,
	); err != nil {
		return nil, err
	}
	u.VOut = uint32(vout)
	return &u, nil
}
