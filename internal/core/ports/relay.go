package ports

import (
	"context"

	"github.com/bytabit/escrowd/internal/core/domain"
)

// RelayService is the directory where offers are published and trade
// messages are exchanged between peers.
type RelayService interface {
	PublishOffer(ctx context.Context, offer domain.SignedOffer) error
	RemoveOffer(ctx context.Context, offerID string) error
	GetOffers(ctx context.Context) ([]domain.SignedOffer, error)

	PostTradeRequest(ctx context.Context, request domain.TradeRequest) error
	// GetTradeRequests returns the requests to take the given offer.
	GetTradeRequests(ctx context.Context, offerID string) ([]domain.TradeRequest, error)
	PostTradeAcceptance(ctx context.Context, acceptance domain.TradeAcceptance) error
	// GetTradeAcceptances returns the acceptances of the given request.
	GetTradeAcceptances(ctx context.Context, requestID string) ([]domain.TradeAcceptance, error)

	// PostEvent shares a trade event with the other parties of the trade.
	PostEvent(ctx context.Context, event domain.EventEnvelope) error
	// GetEvents returns the events shared for the trade with the given
	// escrow address.
	GetEvents(ctx context.Context, escrowAddress string) ([]domain.EventEnvelope, error)

	// PostRuling shares the ruling of the arbitrator of a trade.
	PostRuling(ctx context.Context, ruling domain.ArbitrationRuling) error
	GetRulings(ctx context.Context, escrowAddress string) ([]domain.ArbitrationRuling, error)

	PostBadge(ctx context.Context, request domain.BadgeRequest) error
	GetBadges(ctx context.Context, profilePubKey string) ([]domain.BadgeRequest, error)
}
