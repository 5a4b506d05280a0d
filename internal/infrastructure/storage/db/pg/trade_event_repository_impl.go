package postgresdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

type tradeEventRepositoryImpl struct {
	db     querier
	execTx execTxFunc
}

// NewTradeEventRepositoryImpl returns a postgres backed
// TradeEventRepository.
func NewTradeEventRepositoryImpl(db querier, execTx execTxFunc) domain.TradeEventRepository {
	return &tradeEventRepositoryImpl{db, execTx}
}

func (r *tradeEventRepositoryImpl) AppendEvent(
	ctx context.Context, e domain.TradeEvent,
) (int, error) {
	seq := -1
	err := r.execTx(ctx, func(q querier) error {
		escrowAddress := e.Header().EscrowAddress
		// Serializes appends to the same trade log.
		if _, err := q.Exec(
			ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", escrowAddress,
		); err != nil {
			return err
		}

		err := q.QueryRow(
			ctx, "SELECT seq FROM trade_event WHERE id = $1", e.ID(),
		).Scan(&seq)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if err := q.QueryRow(
			ctx, "SELECT COUNT(*) FROM trade_event WHERE escrow_address = $1",
			escrowAddress,
		).Scan(&seq); err != nil {
			return err
		}

		env, err := domain.EncodeEvent(e, seq)
		if err != nil {
			return err
		}
		_, err = q.Exec(
			ctx,
			"INSERT INTO trade_event (id, escrow_address, seq, type, payload) VALUES ($1, $2, $3, $4, $5)",
			env.ID, env.EscrowAddress, env.Seq, string(env.Type), []byte(env.Payload),
		)
		return err
	})
	if err != nil {
		return -1, fmt.Errorf("failed to append event %s: %w", e.ID(), err)
	}
	return seq, nil
}

func (r *tradeEventRepositoryImpl) GetEvents(
	ctx context.Context, escrowAddress string,
) ([]domain.TradeEvent, error) {
	rows, err := r.db.Query(
		ctx,
		"SELECT id, escrow_address, seq, type, payload FROM trade_event WHERE escrow_address = $1 ORDER BY seq",
		escrowAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TradeEvent, 0)
	for rows.Next() {
		var (
			env       domain.EventEnvelope
			eventType string
			payload   []byte
		)
		if err := rows.Scan(
			&env.ID, &env.EscrowAddress, &env.Seq, &eventType, &payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		env.Type = domain.EventType(eventType)
		env.Payload = json.RawMessage(payload)

		e, err := domain.DecodeEvent(env)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *tradeEventRepositoryImpl) GetEscrowAddresses(
	ctx context.Context,
) ([]string, error) {
	rows, err := r.db.Query(
		ctx, "SELECT DISTINCT escrow_address FROM trade_event ORDER BY escrow_address",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow addresses: %w", err)
	}
	defer rows.Close()

	addresses := make([]string, 0)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}
