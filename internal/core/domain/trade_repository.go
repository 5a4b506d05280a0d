package domain

import "context"

// TradeEventRepository is the abstraction for any kind of database intended
// to persist the append only event logs of trades, keyed by escrow address.
type TradeEventRepository interface {
	// AppendEvent adds e at the end of the log of its escrow address and
	// returns its position. Appending an event already in the log is a no-op
	// returning its existing position.
	AppendEvent(ctx context.Context, e TradeEvent) (int, error)
	// GetEvents returns the events of a trade in log order.
	GetEvents(ctx context.Context, escrowAddress string) ([]TradeEvent, error)
	// GetEscrowAddresses returns the escrow addresses of all the known
	// trades.
	GetEscrowAddresses(ctx context.Context) ([]string, error)
}

// OfferRepository is a content addressed store of signed offers.
type OfferRepository interface {
	AddOffer(ctx context.Context, offer SignedOffer) error
	GetOffer(ctx context.Context, id string) (*SignedOffer, error)
	GetAllOffers(ctx context.Context) ([]SignedOffer, error)
	DeleteOffer(ctx context.Context, id string) error
}

// BadgeRepository is the abstraction for any kind of database intended to
// persist badge requests and their confirmation state.
type BadgeRepository interface {
	AddBadge(ctx context.Context, badge BadgeRecord) error
	GetBadge(ctx context.Context, id string) (*BadgeRecord, error)
	GetBadgesForProfile(ctx context.Context, profilePubKey string) ([]BadgeRecord, error)
	GetPendingBadges(ctx context.Context) ([]BadgeRecord, error)
	// UpdateBadge allows to commit multiple changes to the same badge in a
	// transactional way.
	UpdateBadge(
		ctx context.Context, id string,
		updateFn func(b *BadgeRecord) (*BadgeRecord, error),
	) error
	DeleteBadge(ctx context.Context, id string) error
}
