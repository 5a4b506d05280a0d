package esplora

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

const (
	defaultWatchInterval = 10 * time.Second
	snapshotQueueMaxSize = 100
)

type watcher struct {
	blockchain ports.BlockchainService
	interval   time.Duration
}

// NewWatcher returns an AddressWatcher polling blockchain every interval.
func NewWatcher(
	blockchain ports.BlockchainService, interval time.Duration,
) ports.AddressWatcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &watcher{blockchain, interval}
}

func (w *watcher) Watch(
	ctx context.Context, address string,
) (<-chan domain.TransactionWithAmt, error) {
	obs := &addressObservable{
		address: address,
		known:   make(map[string]domain.TransactionWithAmt),
	}
	// the first poll is synchronous so that an unreachable backend is
	// reported to the caller.
	snapshots, err := obs.poll(ctx, w.blockchain)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.TransactionWithAmt, snapshotQueueMaxSize)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			for _, s := range snapshots {
				select {
				case ch <- s:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			snapshots, err = obs.poll(ctx, w.blockchain)
			if err != nil {
				log.WithError(err).Warnf("failed to poll address %s", address)
				snapshots = nil
			}
		}
	}()
	return ch, nil
}

// addressObservable tracks the last snapshot of each tx of an address.
type addressObservable struct {
	address string
	known   map[string]domain.TransactionWithAmt
}

// poll returns a snapshot for every tx that is new or changed confidence or
// depth since the previous poll. Txs that disappeared from the mempool are
// reported as dead.
func (a *addressObservable) poll(
	ctx context.Context, blockchain ports.BlockchainService,
) ([]domain.TransactionWithAmt, error) {
	txs, err := blockchain.GetAddressTransactions(ctx, a.address)
	if err != nil {
		return nil, err
	}
	tip := 0
	for _, tx := range txs {
		if tx.Confirmed {
			if tip, err = blockchain.GetTipHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(txs))
	snapshots := make([]domain.TransactionWithAmt, 0)

	// esplora lists newest first, snapshots are emitted oldest first.
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		seen[tx.TxID] = struct{}{}

		snapshot := domain.TransactionWithAmt{
			Hash:           tx.TxID,
			ConfidenceType: domain.ConfidencePending,
			Timestamp:      now,
			NetAmount:      tx.NetAmount,
		}
		if tx.Confirmed {
			snapshot.ConfidenceType = domain.ConfidenceBuilding
			snapshot.Depth = tip - tx.BlockHeight + 1
			snapshot.Timestamp = tx.BlockTime
		}

		prev, ok := a.known[tx.TxID]
		if ok && prev.ConfidenceType == snapshot.ConfidenceType && prev.Depth == snapshot.Depth {
			continue
		}
		if ok && !tx.Confirmed {
			snapshot.Timestamp = prev.Timestamp
		}
		a.known[tx.TxID] = snapshot
		snapshots = append(snapshots, snapshot)
	}

	for txid, prev := range a.known {
		if _, ok := seen[txid]; ok || prev.ConfidenceType == domain.ConfidenceDead {
			continue
		}
		prev.ConfidenceType = domain.ConfidenceDead
		prev.Depth = 0
		prev.Timestamp = now
		a.known[txid] = prev
		snapshots = append(snapshots, prev)
	}
	return snapshots, nil
}
