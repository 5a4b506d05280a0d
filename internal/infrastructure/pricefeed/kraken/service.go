package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

const (
	// DefaultURL is the public market data endpoint of kraken.
	DefaultURL = "wss://ws.kraken.com"

	defaultReconnectDelay = 5 * time.Second
	baseTicker            = "XBT"
)

// Opts ...
type Opts struct {
	URL string
	// Currencies defaults to all the supported ones.
	Currencies     []domain.CurrencyCode
	ReconnectDelay time.Duration
}

type service struct {
	url              string
	currencyByTicker map[string]domain.CurrencyCode
	reconnectDelay   time.Duration
	lock             sync.RWMutex
	latestByCurrency map[domain.CurrencyCode]ports.PriceQuote
}

// NewPriceFeeder returns a PriceFeeder subscribed to the kraken ticker of
// XBT against each currency.
func NewPriceFeeder(opts Opts) (ports.PriceFeeder, error) {
	if len(opts.URL) <= 0 {
		opts.URL = DefaultURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	currencies := opts.Currencies
	if len(currencies) <= 0 {
		currencies = domain.Currencies()
	}

	currencyByTicker := make(map[string]domain.CurrencyCode)
	for _, c := range currencies {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: unsupported currency %s", domain.ErrValidation, c)
		}
		currencyByTicker[ticker(c)] = c
	}

	return &service{
		url:              opts.URL,
		currencyByTicker: currencyByTicker,
		reconnectDelay:   opts.ReconnectDelay,
		latestByCurrency: make(map[domain.CurrencyCode]ports.PriceQuote),
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	conn, err := s.connectAndSubscribe(ctx)
	if err != nil {
		return err
	}

	for {
		err := s.readFeeds(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("price feed connection dropped unexpectedly, trying to reconnect")

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.reconnectDelay):
			}
			if conn, err = s.connectAndSubscribe(ctx); err == nil {
				log.Debug("price feed connection re-established")
				break
			}
			log.WithError(err).Debug("failed to reconnect to price feed")
		}
	}
}

func (s *service) LatestPrice(currency domain.CurrencyCode) (ports.PriceQuote, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	quote, ok := s.latestByCurrency[currency]
	return quote, ok
}

func (s *service) LatestPrices() []ports.PriceQuote {
	s.lock.RLock()
	defer s.lock.RUnlock()

	quotes := make([]ports.PriceQuote, 0, len(s.latestByCurrency))
	for _, quote := range s.latestByCurrency {
		quotes = append(quotes, quote)
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quotes[i].Currency < quotes[j].Currency
	})
	return quotes
}

// readFeeds returns when the connection fails or ctx is done, the
// connection is always closed.
func (s *service) readFeeds(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		//nolint
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		quote := s.parseFeed(message)
		if quote == nil {
			continue
		}
		s.writeQuote(*quote)
	}
}

func (s *service) writeQuote(quote ports.PriceQuote) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.latestByCurrency[quote.Currency] = quote
}

// parseFeed parses ticker messages like
// [channelID, {"c": ["price", "volume"], ...}, "ticker", "XBT/EUR"].
// Events like heartbeats and subscription statuses are objects and are
// ignored.
func (s *service) parseFeed(msg []byte) *ports.PriceQuote {
	var i []interface{}
	if err := json.Unmarshal(msg, &i); err != nil {
		return nil
	}
	if len(i) != 4 {
		return nil
	}

	tickerName, ok := i[3].(string)
	if !ok {
		return nil
	}
	currency, ok := s.currencyByTicker[tickerName]
	if !ok {
		return nil
	}

	ii, ok := i[1].(map[string]interface{})
	if !ok {
		return nil
	}
	iii, ok := ii["c"].([]interface{})
	if !ok || len(iii) < 1 {
		return nil
	}
	priceStr, ok := iii[0].(string)
	if !ok {
		return nil
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil || !price.IsPositive() {
		return nil
	}

	return &ports.PriceQuote{
		Currency: currency,
		Price:    currency.Round(price),
		Time:     time.Now().UTC(),
	}
}

func (s *service) connectAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrNetwork, err)
	}

	tickers := make([]string, 0, len(s.currencyByTicker))
	for t := range s.currencyByTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	msg := map[string]interface{}{
		"event": "subscribe",
		"pair":  tickers,
		"subscription": map[string]string{
			"name": "ticker",
		},
	}
	buf, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		//nolint
		conn.Close()
		return nil, fmt.Errorf("cannot subscribe to price tickers: %s", err)
	}
	return conn, nil
}

func ticker(currency domain.CurrencyCode) string {
	return fmt.Sprintf("%s/%s", baseTicker, currency)
}
