package pubsub

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

// Subscription is a webhook registered for a topic. Secured webhooks are
// notified with a bearer token signed with their secret.
type Subscription struct {
	ID       string `badgerhold:"key"`
	Event    string `badgerholdIndex:"Event"`
	Endpoint string
	Secret   string
}

type subscriptions []Subscription

func (s subscriptions) toPortable() []ports.Subscription {
	subs := make([]ports.Subscription, 0, len(s))
	for i := range s {
		sub := s[i]
		subs = append(subs, &sub)
	}
	return subs
}

// NewSubscription ...
func NewSubscription(event, endpoint, secret string) (*Subscription, error) {
	return NewSubscriptionWithID(uuid.New().String(), event, endpoint, secret)
}

// NewSubscriptionWithID ...
func NewSubscriptionWithID(id, event, endpoint, secret string) (*Subscription, error) {
	if len(id) <= 0 {
		return nil, fmt.Errorf("%w: missing webhook id", domain.ErrValidation)
	}
	if len(event) <= 0 {
		return nil, fmt.Errorf("%w: missing webhook event", domain.ErrValidation)
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf(
			"%w: invalid webhook endpoint, must be a valid http URI", domain.ErrValidation,
		)
	}
	return &Subscription{id, event, endpoint, secret}, nil
}

func (h *Subscription) Topic() string {
	return h.Event
}

func (h *Subscription) Id() string {
	return h.ID
}

func (h *Subscription) NotifyAt() string {
	return h.Endpoint
}

func (h *Subscription) IsSecured() bool {
	return len(h.Secret) > 0
}
