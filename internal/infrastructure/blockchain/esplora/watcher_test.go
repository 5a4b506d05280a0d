package esplora_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/infrastructure/blockchain/esplora"
)

func receive(t *testing.T, ch <-chan domain.TransactionWithAmt) domain.TransactionWithAmt {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok)
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return domain.TransactionWithAmt{}
}

func TestWatcher(t *testing.T) {
	f := newFakeEsplora(t)
	f.set(func(f *fakeEsplora) {
		f.txs[testAddress] = []map[string]interface{}{
			addressTx("funding", 0, nil, []map[string]interface{}{out(testAddress, 5000)}),
		}
	})
	watcher := esplora.NewWatcher(newTestService(t, f), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := watcher.Watch(ctx, testAddress)
	require.NoError(t, err)

	s := receive(t, ch)
	require.Equal(t, "funding", s.Hash)
	require.Equal(t, domain.ConfidencePending, s.ConfidenceType)
	require.Equal(t, int64(5000), s.NetAmount)

	f.set(func(f *fakeEsplora) {
		f.txs[testAddress] = []map[string]interface{}{
			addressTx("funding", 100, nil, []map[string]interface{}{out(testAddress, 5000)}),
		}
	})
	s = receive(t, ch)
	require.Equal(t, domain.ConfidenceBuilding, s.ConfidenceType)
	require.Equal(t, 1, s.Depth)

	f.set(func(f *fakeEsplora) { f.tip = 102 })
	s = receive(t, ch)
	require.Equal(t, 3, s.Depth)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherReportsDeadTransactions(t *testing.T) {
	f := newFakeEsplora(t)
	f.set(func(f *fakeEsplora) {
		f.txs[testAddress] = []map[string]interface{}{
			addressTx("evicted", 0, nil, []map[string]interface{}{out(testAddress, 5000)}),
		}
	})
	watcher := esplora.NewWatcher(newTestService(t, f), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := watcher.Watch(ctx, testAddress)
	require.NoError(t, err)
	require.Equal(t, domain.ConfidencePending, receive(t, ch).ConfidenceType)

	f.set(func(f *fakeEsplora) { delete(f.txs, testAddress) })
	s := receive(t, ch)
	require.Equal(t, "evicted", s.Hash)
	require.Equal(t, domain.ConfidenceDead, s.ConfidenceType)
}

func TestWatchUnreachableBackend(t *testing.T) {
	f := newFakeEsplora(t)
	svc := newTestService(t, f)
	f.set(func(f *fakeEsplora) { f.down = true })

	_, err := esplora.NewWatcher(svc, time.Second).Watch(context.Background(), testAddress)
	require.Error(t, err)
}
