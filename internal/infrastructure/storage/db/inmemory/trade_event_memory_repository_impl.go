package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/bytabit/escrowd/internal/core/domain"
)

type tradeEventRepositoryImpl struct {
	events map[string][]domain.TradeEvent
	// positions maps event ids to their position in the trade log.
	positions map[string]int
	locker    *sync.RWMutex
}

// NewTradeEventRepositoryImpl returns a new inmemory TradeEventRepository
// implementation.
func NewTradeEventRepositoryImpl() domain.TradeEventRepository {
	return &tradeEventRepositoryImpl{
		events:    map[string][]domain.TradeEvent{},
		positions: map[string]int{},
		locker:    &sync.RWMutex{},
	}
}

func (r *tradeEventRepositoryImpl) AppendEvent(
	_ context.Context, e domain.TradeEvent,
) (int, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	if pos, ok := r.positions[e.ID()]; ok {
		return pos, nil
	}

	escrowAddress := e.Header().EscrowAddress
	pos := len(r.events[escrowAddress])
	r.events[escrowAddress] = append(r.events[escrowAddress], e)
	r.positions[e.ID()] = pos
	return pos, nil
}

func (r *tradeEventRepositoryImpl) GetEvents(
	_ context.Context, escrowAddress string,
) ([]domain.TradeEvent, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	events := make([]domain.TradeEvent, len(r.events[escrowAddress]))
	copy(events, r.events[escrowAddress])
	return events, nil
}

func (r *tradeEventRepositoryImpl) GetEscrowAddresses(
	_ context.Context,
) ([]string, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	addresses := make([]string, 0, len(r.events))
	for addr := range r.events {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	return addresses, nil
}
