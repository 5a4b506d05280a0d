package inmemory

import (
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

type RepoManager struct {
	tradeEventRepository domain.TradeEventRepository
	offerRepository      domain.OfferRepository
	badgeRepository      domain.BadgeRepository
	unspentRepository    domain.UnspentRepository
}

func NewRepoManager() ports.RepoManager {
	return &RepoManager{
		tradeEventRepository: NewTradeEventRepositoryImpl(),
		offerRepository:      NewOfferRepositoryImpl(),
		badgeRepository:      NewBadgeRepositoryImpl(),
		unspentRepository:    NewUnspentRepositoryImpl(),
	}
}

func (d *RepoManager) TradeEventRepository() domain.TradeEventRepository {
	return d.tradeEventRepository
}

func (d *RepoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *RepoManager) BadgeRepository() domain.BadgeRepository {
	return d.badgeRepository
}

func (d *RepoManager) UnspentRepository() domain.UnspentRepository {
	return d.unspentRepository
}

func (d *RepoManager) Close() {}
