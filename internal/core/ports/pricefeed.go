package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bytabit/escrowd/internal/core/domain"
)

// PriceQuote is the fiat price of 1 BTC.
type PriceQuote struct {
	Currency domain.CurrencyCode `json:"currencyCode"`
	Price    decimal.Decimal     `json:"price"`
	Time     time.Time           `json:"time"`
}

// PriceFeeder keeps the reference BTC price of the supported currencies
// updated. Makers use it to price offers, it is never part of any signed
// message.
type PriceFeeder interface {
	// Start blocks until ctx is done, reconnecting to the source if the
	// connection drops. It fails only if the first connection does.
	Start(ctx context.Context) error
	// LatestPrice returns the last quote received for currency.
	LatestPrice(currency domain.CurrencyCode) (PriceQuote, bool)
	// LatestPrices returns the last quote of every currency, sorted by
	// currency.
	LatestPrices() []PriceQuote
}
