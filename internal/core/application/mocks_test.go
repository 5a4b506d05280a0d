package application_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

// **** Blockchain ****

type mockBlockchainService struct {
	mock.Mock
}

func (m *mockBlockchainService) GetUnspents(
	ctx context.Context, addresses []string,
) ([]domain.Unspent, error) {
	args := m.Called(ctx, addresses)

	var res []domain.Unspent
	if a := args.Get(0); a != nil {
		res = a.([]domain.Unspent)
	}
	return res, args.Error(1)
}

func (m *mockBlockchainService) GetAddressTransactions(
	ctx context.Context, address string,
) ([]ports.AddressTx, error) {
	args := m.Called(ctx, address)

	var res []ports.AddressTx
	if a := args.Get(0); a != nil {
		res = a.([]ports.AddressTx)
	}
	return res, args.Error(1)
}

func (m *mockBlockchainService) GetTransactionHex(
	ctx context.Context, txid string,
) (string, error) {
	args := m.Called(ctx, txid)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

func (m *mockBlockchainService) GetTipHeight(ctx context.Context) (int, error) {
	args := m.Called(ctx)

	var res int
	if a := args.Get(0); a != nil {
		res = a.(int)
	}
	return res, args.Error(1)
}

// BroadcastTransaction accepts a func(txHex string) string as first return
// value to compute the txid out of the broadcasted tx.
func (m *mockBlockchainService) BroadcastTransaction(
	ctx context.Context, txHex string,
) (string, error) {
	args := m.Called(ctx, txHex)

	var res string
	switch a := args.Get(0).(type) {
	case string:
		res = a
	case func(string) string:
		res = a(txHex)
	}
	return res, args.Error(1)
}

// **** Watcher ****

type mockAddressWatcher struct {
	mock.Mock
}

func (m *mockAddressWatcher) Watch(
	ctx context.Context, address string,
) (<-chan domain.TransactionWithAmt, error) {
	args := m.Called(ctx, address)

	var res <-chan domain.TransactionWithAmt
	if a := args.Get(0); a != nil {
		res = a.(<-chan domain.TransactionWithAmt)
	}
	return res, args.Error(1)
}

// **** PubSub ****

type mockSecurePubSub struct {
	mock.Mock
	lock      sync.Mutex
	published map[string][]string
	// gate, if set, holds every Publish until closed.
	gate chan struct{}
}

func (m *mockSecurePubSub) Store() ports.PubSubStore {
	args := m.Called()
	return args.Get(0).(ports.PubSubStore)
}

func (m *mockSecurePubSub) Subscribe(topic, endpoint, secret string) (string, error) {
	args := m.Called(topic, endpoint, secret)
	return args.String(0), args.Error(1)
}

func (m *mockSecurePubSub) SubscribeWithID(
	id, topic, endpoint, secret string,
) (string, error) {
	args := m.Called(id, topic, endpoint, secret)
	return args.String(0), args.Error(1)
}

func (m *mockSecurePubSub) Unsubscribe(topic, id string) error {
	args := m.Called(topic, id)
	return args.Error(0)
}

func (m *mockSecurePubSub) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	args := m.Called(topic)

	var res []ports.Subscription
	if a := args.Get(0); a != nil {
		res = a.([]ports.Subscription)
	}
	return res
}

func (m *mockSecurePubSub) Publish(topic string, message string) error {
	if m.gate != nil {
		<-m.gate
	}
	m.lock.Lock()
	if m.published == nil {
		m.published = make(map[string][]string)
	}
	m.published[topic] = append(m.published[topic], message)
	m.lock.Unlock()
	return nil
}

func (m *mockSecurePubSub) messages(topic string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string{}, m.published[topic]...)
}

type mockPubSubStore struct {
	mock.Mock
}

func (m *mockPubSubStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockSubscription struct {
	id, topic, endpoint string
	secured             bool
}

func (s mockSubscription) Topic() string    { return s.topic }
func (s mockSubscription) Id() string       { return s.id }
func (s mockSubscription) IsSecured() bool  { return s.secured }
func (s mockSubscription) NotifyAt() string { return s.endpoint }
