package pubsub

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/circuitbreaker"
)

const (
	defaultRequestTimeout = 15 * time.Second
	tokenExpiry           = 5 * time.Minute
	maxErrorBodySize      = 512
)

type service struct {
	store *store
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
}

// NewService returns a SecurePubSub notifying webhooks with http POST
// requests. Subscriptions are persisted in datadir, or kept in memory if
// empty.
func NewService(
	datadir string, logger badger.Logger, requestTimeout time.Duration,
) (ports.SecurePubSub, error) {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	s, err := newStore(datadir, logger)
	if err != nil {
		return nil, err
	}

	return &service{
		store: s,
		http:  &http.Client{Timeout: requestTimeout},
		cb:    circuitbreaker.NewCircuitBreaker("webhooks"),
	}, nil
}

func (ws *service) Store() ports.PubSubStore {
	return ws.store
}

func (ws *service) Subscribe(topic, endpoint, secret string) (string, error) {
	sub, err := NewSubscription(topic, endpoint, secret)
	if err != nil {
		return "", err
	}
	return ws.addSubscription(sub)
}

func (ws *service) SubscribeWithID(id, topic, endpoint, secret string) (string, error) {
	sub, err := NewSubscriptionWithID(id, topic, endpoint, secret)
	if err != nil {
		return "", err
	}
	return ws.addSubscription(sub)
}

func (ws *service) Unsubscribe(_, id string) error {
	return ws.store.remove(id)
}

func (ws *service) ListSubscriptionsForTopic(topic string) []ports.Subscription {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		log.WithError(err).Warnf("failed to list webhooks for topic %s", topic)
		return nil
	}
	return subs.toPortable()
}

// Publish notifies concurrently all webhooks of topic and of any topic. It
// returns the first failed notification, if any.
func (ws *service) Publish(topic string, message string) error {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		return err
	}

	eg := &errgroup.Group{}
	for i := range subs {
		sub := subs[i]
		eg.Go(func() error { return ws.doRequest(sub, message) })
	}
	return eg.Wait()
}

func (ws *service) addSubscription(sub *Subscription) (string, error) {
	if _, err := ws.store.add(*sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (ws *service) listSubscriptionsForTopic(topic string) (subscriptions, error) {
	subs, err := ws.store.listForTopic(topic)
	if err != nil {
		return nil, err
	}
	if topic != ports.AnyTopic && topic != ports.UnspecifiedTopic {
		subsForAnyTopic, err := ws.store.listForTopic(ports.AnyTopic)
		if err != nil {
			return nil, err
		}
		subs = append(subs, subsForAnyTopic...)
	}
	return subs, nil
}

func (ws *service) doRequest(sub Subscription, payload string) error {
	_, err := ws.cb.Execute(func() (interface{}, error) {
		return nil, ws.notify(sub, payload)
	})
	return err
}

// notify POSTs payload to the endpoint of sub. Secured webhooks get a
// bearer token signed with their secret and scoped to the subscribed event.
func (ws *service) notify(sub Subscription, payload string) error {
	req, err := http.NewRequest(
		http.MethodPost, sub.Endpoint, strings.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.IsSecured() {
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
			Subject:   sub.Event,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenExpiry).Unix(),
		})
		tokenString, err := token.SignedString([]byte(sub.Secret))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tokenString))
	}

	resp, err := ws.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf(
			"webhook %s answered %d: %s",
			sub.ID, resp.StatusCode, strings.TrimSpace(string(body)),
		)
	}
	// drain the body to reuse the connection.
	//nolint
	io.Copy(io.Discard, resp.Body)
	return nil
}
