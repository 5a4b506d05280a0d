package application

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
)

// RelayListener defines the methods to start and stop polling the relay for
// the messages of the local trades.
type RelayListener interface {
	ObserveRelay()
	StopObserveRelay()
}

type relayListener struct {
	tradeSvc        TradeService
	offerRepository domain.OfferRepository
	tradeRepository domain.TradeEventRepository
	relay           ports.RelayService
	dispatcher      Dispatcher
	interval        time.Duration

	quit chan struct{}
	wg   *sync.WaitGroup
}

// NewRelayListener returns a RelayListener polling the relay every interval.
func NewRelayListener(
	tradeSvc TradeService,
	repoManager ports.RepoManager,
	relay ports.RelayService,
	dispatcher Dispatcher,
	interval time.Duration,
) RelayListener {
	return newRelayListener(
		tradeSvc,
		repoManager.OfferRepository(),
		repoManager.TradeEventRepository(),
		relay,
		dispatcher,
		interval,
	)
}

func newRelayListener(
	tradeSvc TradeService,
	offerRepository domain.OfferRepository,
	tradeRepository domain.TradeEventRepository,
	relay ports.RelayService,
	dispatcher Dispatcher,
	interval time.Duration,
) *relayListener {
	return &relayListener{
		tradeSvc:        tradeSvc,
		offerRepository: offerRepository,
		tradeRepository: tradeRepository,
		relay:           relay,
		dispatcher:      dispatcher,
		interval:        interval,
		quit:            make(chan struct{}),
		wg:              &sync.WaitGroup{},
	}
}

func (l *relayListener) ObserveRelay() {
	l.wg.Add(1)
	go l.listen()
}

func (l *relayListener) StopObserveRelay() {
	close(l.quit)
	l.wg.Wait()
}

func (l *relayListener) listen() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-l.quit:
				cancel()
			case <-ctx.Done():
			}
		}()
		l.poll(ctx)
		cancel()

		select {
		case <-l.quit:
			return
		case <-ticker.C:
		}
	}
}

func (l *relayListener) poll(ctx context.Context) {
	if err := l.acceptTradeRequests(ctx); err != nil {
		relayPolls.WithLabelValues("error").Inc()
		log.Warnf("trying to fetch requests for local offers: %s", err)
	}
	l.createAcceptedTrades(ctx)
	if err := l.syncTrades(ctx); err != nil {
		relayPolls.WithLabelValues("error").Inc()
		log.Warnf("trying to sync trade events: %s", err)
		return
	}
	relayPolls.WithLabelValues("ok").Inc()
}

// acceptTradeRequests accepts the requests to take the local offers.
func (l *relayListener) acceptTradeRequests(ctx context.Context) error {
	offers, err := l.offerRepository.GetAllOffers(ctx)
	if err != nil {
		return err
	}
	for _, offer := range offers {
		if !offer.IsMine {
			continue
		}
		requests, err := l.relay.GetTradeRequests(ctx, offer.ID)
		if err != nil {
			return err
		}
		for _, r := range requests {
			if _, err := l.tradeSvc.AcceptTradeRequest(ctx, r); err != nil {
				if !errors.Is(err, ErrTradeAlreadyExists) {
					log.Warnf("trying to accept request %s: %s", r.ID, err)
				}
			}
		}
	}
	return nil
}

// createAcceptedTrades creates the trades of the local requests accepted by
// the makers.
func (l *relayListener) createAcceptedTrades(ctx context.Context) {
	for _, pending := range l.tradeSvc.GetPendingTradeRequests(ctx) {
		acceptances, err := l.relay.GetTradeAcceptances(ctx, pending.Request.ID)
		if err != nil {
			log.Warnf("trying to fetch acceptances of request %s: %s", pending.Request.ID, err)
			continue
		}
		for _, a := range acceptances {
			if _, err := l.tradeSvc.CreateTrade(ctx, a); err != nil {
				log.Warnf("trying to create trade for acceptance %s: %s", a.ID, err)
				continue
			}
			break
		}
	}
}

// syncTrades exchanges the events of the active trades with the relay. Each
// trade is synced in background on the dispatcher.
func (l *relayListener) syncTrades(ctx context.Context) error {
	trades, err := l.tradeSvc.ListTrades(ctx)
	if err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	for _, t := range trades {
		if t.Trade.IsCompleted() {
			continue
		}
		trade := t.Trade
		wg.Add(1)
		if err := l.dispatcher.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			if err := l.syncTrade(ctx, trade); err != nil {
				log.Warnf("trying to sync trade %s: %s", trade.EscrowAddress, err)
			}
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

func (l *relayListener) syncTrade(ctx context.Context, trade domain.Trade) error {
	envelopes, err := l.relay.GetEvents(ctx, trade.EscrowAddress)
	if err != nil {
		return err
	}

	shared := make(map[string]struct{}, len(envelopes))
	for _, env := range envelopes {
		shared[env.ID] = struct{}{}
		if env.Type == domain.EventTypeCreated || trade.HasEvent(env.ID) {
			continue
		}
		event, err := domain.DecodeEvent(env)
		if err != nil {
			log.Warnf("skipping malformed event of trade %s: %s", trade.EscrowAddress, err)
			continue
		}
		if event.Header().EscrowAddress != trade.EscrowAddress {
			continue
		}
		// rejected events are logged by the trade service.
		l.tradeSvc.ApplyEvent(ctx, event)
	}

	// share again the local events the relay missed.
	events, err := l.tradeRepository.GetEvents(ctx, trade.EscrowAddress)
	if err != nil {
		return err
	}
	for seq, e := range events {
		if _, ok := shared[e.ID()]; ok {
			continue
		}
		if e.Type() == domain.EventTypeCreated || e.Header().Author != trade.Role {
			continue
		}
		env, err := domain.EncodeEvent(e, seq)
		if err != nil {
			return err
		}
		if err := l.relay.PostEvent(ctx, *env); err != nil {
			return err
		}
	}

	return l.claimArbitration(ctx, trade)
}

// claimArbitration pays out the escrow of a local trade in arbitration once
// the arbitrator ruled in favor of the local party.
func (l *relayListener) claimArbitration(ctx context.Context, trade domain.Trade) error {
	if !trade.Role.IsPrincipal() {
		return nil
	}
	info, err := l.tradeSvc.GetTrade(ctx, trade.EscrowAddress)
	if err != nil {
		return err
	}
	if info.Trade.Status != domain.TradeStatusArbitrating {
		return nil
	}
	if _, err := l.tradeSvc.ClaimArbitration(ctx, trade.EscrowAddress); err != nil {
		if errors.Is(err, ErrRulingNotFound) {
			return nil
		}
		return err
	}
	log.Infof("claimed escrow of trade %s after arbitration", trade.EscrowAddress)
	return nil
}
