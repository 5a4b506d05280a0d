package application

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/ports"
)

const subscriptionBufferSize = 64

// Broker fans trade updates out to in-process subscribers. Subscribers can
// listen to the updates of a single trade or to every update by using
// ports.AnyTopic.
type Broker interface {
	// Subscribe returns the stream of updates for topic and the function to
	// close it. Unsubscribing has no effect on the trade.
	// The stream is buffered: updates published while the buffer is full are
	// dropped for this subscriber, so it suits consumers that can re-read the
	// trade, like UI streams.
	Subscribe(topic string) (<-chan TradeUpdate, func())
	// SubscribeQueued is like Subscribe but never drops updates: the ones
	// not yet received are queued in memory, in publish order. Updates still
	// queued when unsubscribing or closing the broker are discarded.
	SubscribeQueued(topic string) (<-chan TradeUpdate, func())
	Publish(update TradeUpdate)
	Close()
}

// subscriber receives the updates of a topic. deliver must not block.
type subscriber interface {
	deliver(update TradeUpdate) bool
	close()
}

type broker struct {
	lock   *sync.RWMutex
	subs   map[string]map[int]subscriber
	nextID int
	closed bool
}

// NewBroker ...
func NewBroker() Broker {
	return newBroker()
}

func newBroker() *broker {
	return &broker{
		lock: &sync.RWMutex{},
		subs: make(map[string]map[int]subscriber),
	}
}

func (b *broker) Subscribe(topic string) (<-chan TradeUpdate, func()) {
	ch := make(chan TradeUpdate, subscriptionBufferSize)
	return ch, b.subscribe(topic, bufferedSubscriber(ch))
}

func (b *broker) SubscribeQueued(topic string) (<-chan TradeUpdate, func()) {
	sub := newQueuedSubscriber()
	return sub.out, b.subscribe(topic, sub)
}

func (b *broker) subscribe(topic string, sub subscriber) func() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		sub.close()
		return func() {}
	}

	id := b.nextID
	b.nextID++
	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = make(map[int]subscriber)
	}
	b.subs[topic][id] = sub

	once := &sync.Once{}
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *broker) unsubscribe(topic string, id int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		sub.close()
		delete(subs, id)
	}
	if len(subs) <= 0 {
		delete(b.subs, topic)
	}
}

// Publish never blocks.
func (b *broker) Publish(update TradeUpdate) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	if b.closed {
		return
	}
	for _, topic := range []string{update.Trade.EscrowAddress, ports.AnyTopic} {
		for id, sub := range b.subs[topic] {
			if !sub.deliver(update) {
				log.Warnf(
					"dropped %s update of trade %s for slow subscriber %d",
					update.Type, update.Trade.EscrowAddress, id,
				)
			}
		}
	}
}

func (b *broker) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
}

type bufferedSubscriber chan TradeUpdate

func (s bufferedSubscriber) deliver(update TradeUpdate) bool {
	select {
	case s <- update:
		return true
	default:
		return false
	}
}

func (s bufferedSubscriber) close() {
	close(s)
}

// queuedSubscriber moves the queued updates to out from its own goroutine.
type queuedSubscriber struct {
	out    chan TradeUpdate
	lock   *sync.Mutex
	queue  []TradeUpdate
	notify chan struct{}
	done   chan struct{}
}

func newQueuedSubscriber() *queuedSubscriber {
	s := &queuedSubscriber{
		out:    make(chan TradeUpdate),
		lock:   &sync.Mutex{},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *queuedSubscriber) deliver(update TradeUpdate) bool {
	s.lock.Lock()
	s.queue = append(s.queue, update)
	s.lock.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *queuedSubscriber) close() {
	close(s.done)
}

func (s *queuedSubscriber) forward() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			update, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- update:
			case <-s.done:
				return
			}
		}
	}
}

func (s *queuedSubscriber) next() (TradeUpdate, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.queue) <= 0 {
		s.queue = nil
		return TradeUpdate{}, false
	}
	update := s.queue[0]
	s.queue = s.queue[1:]
	return update, true
}
