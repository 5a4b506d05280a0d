package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

const webhookSecretLen = 32

// Webhook is an endpoint notified of the events of the given type, or of
// any type if Event is ports.AnyTopic.
type Webhook struct {
	Event    string
	Endpoint string
	Secret   string
	// Secured with an empty Secret makes the service generate one.
	Secured bool
}

// WebhookInfo ...
type WebhookInfo struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Endpoint  string `json:"endpoint"`
	IsSecured bool   `json:"isSecured"`
}

// PubSubService forwards trade updates to the registered webhooks.
type PubSubService interface {
	// AddWebhook returns the id of the new webhook and its secret, if any.
	AddWebhook(ctx context.Context, hook Webhook) (string, string, error)
	RemoveWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, event string) ([]WebhookInfo, error)
	Start()
	Stop()
}

type pubsubService struct {
	pubsub ports.SecurePubSub
	broker Broker

	lock        *sync.Mutex
	unsubscribe func()
	wg          *sync.WaitGroup
}

// NewPubSubService ...
func NewPubSubService(pubsub ports.SecurePubSub, broker Broker) PubSubService {
	return newPubSubService(pubsub, broker)
}

func newPubSubService(pubsub ports.SecurePubSub, broker Broker) *pubsubService {
	return &pubsubService{
		pubsub: pubsub,
		broker: broker,
		lock:   &sync.Mutex{},
		wg:     &sync.WaitGroup{},
	}
}

func (s *pubsubService) AddWebhook(
	_ context.Context, hook Webhook,
) (string, string, error) {
	if !isValidTopic(hook.Event) {
		return "", "", fmt.Errorf("%w: invalid webhook event type %q", domain.ErrValidation, hook.Event)
	}
	secret := hook.Secret
	if hook.Secured && len(secret) <= 0 {
		secret = randstr.Hex(webhookSecretLen)
	}
	id, err := s.pubsub.Subscribe(hook.Event, hook.Endpoint, secret)
	if err != nil {
		return "", "", err
	}
	return id, secret, nil
}

func (s *pubsubService) RemoveWebhook(_ context.Context, id string) error {
	return s.pubsub.Unsubscribe(ports.UnspecifiedTopic, id)
}

func (s *pubsubService) ListWebhooks(
	_ context.Context, event string,
) ([]WebhookInfo, error) {
	if event != ports.UnspecifiedTopic && !isValidTopic(event) {
		return nil, fmt.Errorf("%w: invalid webhook event type %q", domain.ErrValidation, event)
	}
	subs := s.pubsub.ListSubscriptionsForTopic(event)
	hooks := make([]WebhookInfo, 0, len(subs))
	for _, sub := range subs {
		hooks = append(hooks, WebhookInfo{
			ID:        sub.Id(),
			Event:     sub.Topic(),
			Endpoint:  sub.NotifyAt(),
			IsSecured: sub.IsSecured(),
		})
	}
	return hooks, nil
}

func (s *pubsubService) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.unsubscribe != nil {
		return
	}
	// webhooks must see every event, however slow the endpoints are.
	updates, unsubscribe := s.broker.SubscribeQueued(ports.AnyTopic)
	s.unsubscribe = unsubscribe

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for update := range updates {
			if err := s.publish(update); err != nil {
				log.Warnf(
					"trying to notify %s event of trade %s: %s",
					update.Type, update.Trade.EscrowAddress, err,
				)
			}
		}
	}()
}

func (s *pubsubService) Stop() {
	s.lock.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
	if err := s.pubsub.Store().Close(); err != nil {
		log.Warnf("trying to close pubsub store: %s", err)
	}
}

func (s *pubsubService) publish(update TradeUpdate) error {
	payload := map[string]interface{}{
		"event":         update.Type,
		"escrowAddress": update.Trade.EscrowAddress,
		"seq":           update.Seq,
		"status":        update.Trade.Status,
		"role":          update.Trade.Role,
		"trade":         update.Trade,
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.pubsub.Publish(update.Type.String(), string(message))
}

func isValidTopic(topic string) bool {
	if topic == ports.AnyTopic {
		return true
	}
	for _, t := range domain.EventTypes() {
		if t.String() == topic {
			return true
		}
	}
	return false
}
