package dbbadger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// tradeLog tracks the length of the event log of a trade. Every append
// reads and writes it, so concurrent appends to the same trade conflict.
type tradeLog struct {
	EscrowAddress string
	Length        int
}

type tradeEventRepositoryImpl struct {
	store *badgerhold.Store
}

// NewTradeEventRepositoryImpl returns a badger backed TradeEventRepository.
// Events are stored as envelopes keyed by event id.
func NewTradeEventRepositoryImpl(store *badgerhold.Store) domain.TradeEventRepository {
	return tradeEventRepositoryImpl{store}
}

func (r tradeEventRepositoryImpl) AppendEvent(
	_ context.Context, e domain.TradeEvent,
) (int, error) {
	seq := 0
	err := update(r.store, func(tx *badger.Txn) error {
		var stored domain.EventEnvelope
		err := r.store.TxGet(tx, e.ID(), &stored)
		if err == nil {
			seq = stored.Seq
			return nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		escrowAddress := e.Header().EscrowAddress
		log := tradeLog{EscrowAddress: escrowAddress}
		if err := r.store.TxGet(tx, escrowAddress, &log); err != nil &&
			!errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		seq = log.Length

		env, err := domain.EncodeEvent(e, seq)
		if err != nil {
			return err
		}
		if err := r.store.TxInsert(tx, env.ID, env); err != nil {
			return err
		}
		log.Length++
		return r.store.TxUpsert(tx, escrowAddress, log)
	})
	if err != nil {
		return -1, fmt.Errorf("appending event %s: %w", e.ID(), err)
	}
	return seq, nil
}

func (r tradeEventRepositoryImpl) GetEvents(
	_ context.Context, escrowAddress string,
) ([]domain.TradeEvent, error) {
	var envs []domain.EventEnvelope
	query := badgerhold.Where("EscrowAddress").Eq(escrowAddress).SortBy("Seq")
	if err := r.store.Find(&envs, query); err != nil {
		return nil, err
	}

	events := make([]domain.TradeEvent, 0, len(envs))
	for _, env := range envs {
		e, err := domain.DecodeEvent(env)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (r tradeEventRepositoryImpl) GetEscrowAddresses(
	_ context.Context,
) ([]string, error) {
	var logs []tradeLog
	if err := r.store.Find(&logs, (&badgerhold.Query{}).SortBy("EscrowAddress")); err != nil {
		return nil, err
	}

	addresses := make([]string, 0, len(logs))
	for _, l := range logs {
		addresses = append(addresses, l.EscrowAddress)
	}
	return addresses, nil
}
