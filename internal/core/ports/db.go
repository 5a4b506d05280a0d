package ports

import "github.com/bytabit/escrowd/internal/core/domain"

// RepoManager interface defines the methods for trade events, offers,
// badges and unspents.
type RepoManager interface {
	TradeEventRepository() domain.TradeEventRepository
	OfferRepository() domain.OfferRepository
	BadgeRepository() domain.BadgeRepository
	UnspentRepository() domain.UnspentRepository

	Close()
}
