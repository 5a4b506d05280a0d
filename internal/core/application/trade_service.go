package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

const (
	fundingMemo = "escrow funding"
	payoutMemo  = "escrow payout"
)

// TradeService drives the trades of the local party. Every command builds,
// signs and applies the event of the local party, then shares it with the
// other parties through the relay. Events coming from peers are applied
// with ApplyEvent. Commands and events of the same trade are processed one
// at a time in arrival order.
type TradeService interface {
	// TakeOffer sends a request to take the offer for paymentAmount.
	TakeOffer(
		ctx context.Context, offerID string, paymentAmount decimal.Decimal,
	) (*domain.TradeRequest, error)
	GetPendingTradeRequests(ctx context.Context) []PendingTradeRequest
	// AcceptTradeRequest creates the trade on the maker side and sends the
	// acceptance to the taker.
	AcceptTradeRequest(
		ctx context.Context, request domain.TradeRequest,
	) (*TradeInfo, error)
	// CreateTrade creates the trade on the taker side once its request was
	// accepted.
	CreateTrade(
		ctx context.Context, acceptance domain.TradeAcceptance,
	) (*TradeInfo, error)
	// ImportTrade lets the arbitrator of a trade build it from the events
	// shared on the relay.
	ImportTrade(ctx context.Context, escrowAddress string) (*TradeInfo, error)
	Fund(
		ctx context.Context, escrowAddress, paymentDetails string,
	) (*TradeInfo, error)
	Pay(
		ctx context.Context, escrowAddress, paymentReference string,
	) (*TradeInfo, error)
	RequestArbitration(
		ctx context.Context, escrowAddress, reason string,
	) (*TradeInfo, error)
	CompletePayout(ctx context.Context, escrowAddress string) (*TradeInfo, error)
	// Arbitrate settles a trade in arbitration in favor of winner. If winner
	// signed a payout to itself the arbitrator countersigns and broadcasts
	// it. Otherwise the arbitrator publishes a ruling with a payout to
	// winner signed with its escrow key and the trade stays in arbitration
	// until winner claims it.
	Arbitrate(
		ctx context.Context, escrowAddress string, winner domain.Role,
	) (*TradeInfo, error)
	// ClaimArbitration countersigns and broadcasts the payout of the ruling
	// published by the arbitrator in favor of the local party.
	ClaimArbitration(ctx context.Context, escrowAddress string) (*TradeInfo, error)
	ApplyEvent(ctx context.Context, event domain.TradeEvent) (*TradeInfo, error)
	GetTrade(ctx context.Context, escrowAddress string) (*TradeInfo, error)
	ListTrades(ctx context.Context) ([]TradeInfo, error)
	Subscribe(escrowAddress string) (<-chan TradeUpdate, func())
}

type tradeService struct {
	tradeRepository domain.TradeEventRepository
	offerRepository domain.OfferRepository
	keystore        ports.Keystore
	wallet          EscrowWalletManager
	relay           ports.RelayService
	broker          Broker
	dispatcher      Dispatcher

	network          string
	arbitratorPubKey string
	payoutFee        int64
	tradeTimeout     time.Duration
	now              func() time.Time

	lock            *sync.RWMutex
	pendingRequests map[string]PendingTradeRequest
}

// TradeServiceOpts ...
type TradeServiceOpts struct {
	// ArbitratorPubKey is the arbitrator of the trades made or taken by the
	// local party.
	ArbitratorPubKey string
	PayoutFee        int64
	TradeTimeout     time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewTradeService ...
func NewTradeService(
	repoManager ports.RepoManager,
	keystore ports.Keystore,
	wallet EscrowWalletManager,
	relay ports.RelayService,
	broker Broker,
	dispatcher Dispatcher,
	opts TradeServiceOpts,
) (TradeService, error) {
	return newTradeService(
		repoManager, keystore, wallet, relay, broker, dispatcher, opts,
	)
}

func newTradeService(
	repoManager ports.RepoManager,
	keystore ports.Keystore,
	wallet EscrowWalletManager,
	relay ports.RelayService,
	broker Broker,
	dispatcher Dispatcher,
	opts TradeServiceOpts,
) (*tradeService, error) {
	if keystore == nil {
		return nil, fmt.Errorf("missing keystore")
	}
	if opts.PayoutFee <= 0 {
		return nil, fmt.Errorf("payout fee must be a positive number of sats")
	}
	if len(opts.ArbitratorPubKey) > 0 {
		if _, err := crypto.ParsePubKeyHex(opts.ArbitratorPubKey); err != nil {
			return nil, fmt.Errorf("invalid arbitrator pubkey: %w", err)
		}
	}
	network, err := networkName(keystore)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &tradeService{
		tradeRepository:  repoManager.TradeEventRepository(),
		offerRepository:  repoManager.OfferRepository(),
		keystore:         keystore,
		wallet:           wallet,
		relay:            relay,
		broker:           broker,
		dispatcher:       dispatcher,
		network:          network,
		arbitratorPubKey: opts.ArbitratorPubKey,
		payoutFee:        opts.PayoutFee,
		tradeTimeout:     opts.TradeTimeout,
		now:              now,
		lock:             &sync.RWMutex{},
		pendingRequests:  make(map[string]PendingTradeRequest),
	}, nil
}

func (s *tradeService) TakeOffer(
	ctx context.Context, offerID string, paymentAmount decimal.Decimal,
) (*domain.TradeRequest, error) {
	if len(s.arbitratorPubKey) <= 0 {
		return nil, ErrMissingArbitrator
	}
	offer, err := s.offerRepository.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := offer.Verify(); err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	escrowKey, err := s.keystore.EscrowKey(takerKeyLabel(offer.ID, createdAt))
	if err != nil {
		return nil, err
	}
	payoutAddress, err := s.wallet.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}

	request, err := domain.NewTradeRequest(
		*offer, s.keystore.ProfileKey(), crypto.PubKeyHex(escrowKey.PubKey()),
		payoutAddress, paymentAmount, createdAt,
	)
	if err != nil {
		return nil, err
	}
	if err := s.relay.PostTradeRequest(ctx, *request); err != nil {
		return nil, err
	}

	s.lock.Lock()
	s.pendingRequests[request.ID] = PendingTradeRequest{*offer, *request}
	s.lock.Unlock()

	log.Infof("sent request %s to take offer %s", request.ID, offer.ID)
	return request, nil
}

func (s *tradeService) GetPendingTradeRequests(
	_ context.Context,
) []PendingTradeRequest {
	s.lock.RLock()
	defer s.lock.RUnlock()

	pending := make([]PendingTradeRequest, 0, len(s.pendingRequests))
	for _, p := range s.pendingRequests {
		pending = append(pending, p)
	}
	return pending
}

func (s *tradeService) AcceptTradeRequest(
	ctx context.Context, request domain.TradeRequest,
) (*TradeInfo, error) {
	if len(s.arbitratorPubKey) <= 0 {
		return nil, ErrMissingArbitrator
	}
	offer, err := s.offerRepository.GetOffer(ctx, request.OfferID)
	if err != nil {
		return nil, err
	}
	if !offer.IsMine {
		return nil, ErrNotOfferMaker
	}
	if err := request.Verify(*offer); err != nil {
		return nil, err
	}

	escrowKey, err := s.keystore.EscrowKey(makerKeyLabel(request.ID))
	if err != nil {
		return nil, err
	}
	escrowAddress, err := s.deriveEscrowAddress(
		request.TakerEscrowPubKey, escrowKey.PubKey(),
	)
	if err != nil {
		return nil, err
	}

	var info *TradeInfo
	if err := s.dispatcher.Do(ctx, escrowAddress, func() error {
		jobCtx := context.WithoutCancel(ctx)
		events, err := s.tradeRepository.GetEvents(jobCtx, escrowAddress)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			return ErrTradeAlreadyExists
		}

		payoutAddress, err := s.wallet.GetNewAddress(jobCtx)
		if err != nil {
			return err
		}
		acceptance, err := domain.NewTradeAcceptance(
			s.network, *offer, request, s.keystore.ProfileKey(),
			crypto.PubKeyHex(escrowKey.PubKey()), payoutAddress,
			s.arbitratorPubKey, s.now(),
		)
		if err != nil {
			return err
		}
		if err := s.relay.PostTradeAcceptance(jobCtx, *acceptance); err != nil {
			return err
		}

		event := domain.NewCreatedEvent(
			offer.MakerRole(), s.network, *offer, request, *acceptance,
		)
		trade, err := s.apply(jobCtx, domain.Trade{}, event)
		if err != nil {
			return err
		}
		info = s.info(*trade)
		return nil
	}); err != nil {
		return nil, err
	}

	log.Infof("accepted request %s, trade %s created", request.ID, escrowAddress)
	return info, nil
}

func (s *tradeService) CreateTrade(
	ctx context.Context, acceptance domain.TradeAcceptance,
) (*TradeInfo, error) {
	s.lock.RLock()
	pending, ok := s.pendingRequests[acceptance.TradeRequestID]
	s.lock.RUnlock()
	if !ok {
		return nil, ErrTradeRequestNotFound
	}
	offer, request := pending.Offer, pending.Request

	if err := acceptance.Verify(offer, request); err != nil {
		return nil, err
	}
	if acceptance.ArbitratorPubKey != s.arbitratorPubKey {
		return nil, fmt.Errorf(
			"%w: trade accepted with unknown arbitrator %s",
			domain.ErrValidation, acceptance.ArbitratorPubKey,
		)
	}
	escrowKey, err := s.keystore.EscrowKey(
		takerKeyLabel(offer.ID, request.CreatedAt),
	)
	if err != nil {
		return nil, err
	}
	if crypto.PubKeyHex(escrowKey.PubKey()) != request.TakerEscrowPubKey {
		return nil, ErrEscrowKeyMismatch
	}

	event := domain.NewCreatedEvent(
		offer.TakerRole(), s.network, offer, request, acceptance,
	)
	info, err := s.ApplyEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	delete(s.pendingRequests, request.ID)
	s.lock.Unlock()

	log.Infof("request %s accepted, trade %s created", request.ID, acceptance.EscrowAddress)
	return info, nil
}

func (s *tradeService) ImportTrade(
	ctx context.Context, escrowAddress string,
) (*TradeInfo, error) {
	envelopes, err := s.relay.GetEvents(ctx, escrowAddress)
	if err != nil {
		return nil, err
	}

	var created *domain.CreatedEvent
	events := make([]domain.TradeEvent, 0, len(envelopes))
	for _, env := range envelopes {
		e, err := domain.DecodeEvent(env)
		if err != nil {
			log.WithError(err).Warnf("skipping malformed event of trade %s", escrowAddress)
			continue
		}
		if c, ok := e.(domain.CreatedEvent); ok {
			if created == nil {
				created = &c
			}
			continue
		}
		events = append(events, e)
	}
	if created == nil {
		return nil, ErrMissingCreatedEvent
	}

	profilePubKey := crypto.PubKeyHex(s.keystore.ProfileKey().PubKey())
	if created.Acceptance.ArbitratorPubKey != profilePubKey {
		return nil, ErrNotArbitrator
	}

	event := domain.NewCreatedEvent(
		domain.RoleArbitrator, created.Network, created.Offer, created.Request,
		created.Acceptance,
	)
	info, err := s.ApplyEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		next, err := s.ApplyEvent(ctx, e)
		if err != nil {
			continue
		}
		info = next
	}
	return info, nil
}

func (s *tradeService) Fund(
	ctx context.Context, escrowAddress, paymentDetails string,
) (*TradeInfo, error) {
	return s.runCommand(ctx, escrowAddress, domain.ActionFund, func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		esc, err := trade.Escrow()
		if err != nil {
			return nil, err
		}
		tx, err := s.wallet.FundEscrow(ctx, esc, trade.BtcAmount())
		if err != nil {
			return nil, err
		}

		payment, err := domain.NewPaymentRequest(
			trade, tx.TxHex, paymentDetails, s.now(), s.keystore.ProfileKey(),
		)
		if err != nil {
			s.releaseReservation(ctx, tx.Owner)
			return nil, err
		}
		event := domain.NewFundedEvent(*payment, domain.TransactionWithAmt{
			Hash:           tx.TxID,
			ConfidenceType: domain.ConfidencePending,
			Timestamp:      payment.CreatedAt,
			Memo:           fundingMemo,
			NetAmount:      trade.BtcAmount(),
		})
		if _, err := trade.Apply(event); err != nil {
			s.releaseReservation(ctx, tx.Owner)
			return nil, err
		}

		if _, err := s.wallet.Broadcast(ctx, *tx); err != nil {
			return nil, err
		}
		log.Infof("funded escrow %s with tx %s", escrowAddress, tx.TxID)
		return event, nil
	})
}

func (s *tradeService) Pay(
	ctx context.Context, escrowAddress, paymentReference string,
) (*TradeInfo, error) {
	return s.runCommand(ctx, escrowAddress, domain.ActionPay, func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		encoded, err := s.signedPayout(ctx, trade, domain.RoleBuyer)
		if err != nil {
			return nil, err
		}
		payout, err := domain.NewPayoutRequest(
			trade, paymentReference, encoded, s.now(), s.keystore.ProfileKey(),
		)
		if err != nil {
			return nil, err
		}
		return domain.NewPaidEvent(*payout), nil
	})
}

// RequestArbitration attaches to the request a payout to the local party
// signed with its escrow key, for the arbitrator to countersign.
func (s *tradeService) RequestArbitration(
	ctx context.Context, escrowAddress, reason string,
) (*TradeInfo, error) {
	return s.runCommand(ctx, escrowAddress, "", func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		if !trade.Role.IsPrincipal() ||
			(trade.Status != domain.TradeStatusFunded &&
				trade.Status != domain.TradeStatusPaid) {
			return nil, ErrNotExpectedAction
		}
		encoded, err := s.signedPayout(ctx, trade, trade.Role)
		if err != nil {
			return nil, err
		}
		request, err := domain.NewArbitrateRequest(
			trade, trade.Role, reason, encoded, s.now(), s.keystore.ProfileKey(),
		)
		if err != nil {
			return nil, err
		}

		// the arbitrator builds the trade out of the creation of the
		// requester.
		if err := s.postCreatedEvent(ctx, trade); err != nil {
			return nil, err
		}
		return domain.NewArbitratingEvent(*request), nil
	})
}

func (s *tradeService) CompletePayout(
	ctx context.Context, escrowAddress string,
) (*TradeInfo, error) {
	return s.runCommand(ctx, escrowAddress, domain.ActionCompletePayout, func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		return s.completePayout(
			ctx, trade, trade.PayoutRequest.PartialPayoutTx, domain.PayoutReasonPayout,
		)
	})
}

func (s *tradeService) Arbitrate(
	ctx context.Context, escrowAddress string, winner domain.Role,
) (*TradeInfo, error) {
	if !winner.IsPrincipal() {
		return nil, domain.ErrInvalidRole
	}
	return s.runCommand(ctx, escrowAddress, domain.ActionArbitrate, func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		if partialTx, ok := winnerPayout(trade, winner); ok {
			return s.completePayout(ctx, trade, partialTx, domain.PayoutReasonArbitrated)
		}
		return nil, s.postRuling(ctx, trade, winner)
	})
}

func (s *tradeService) ClaimArbitration(
	ctx context.Context, escrowAddress string,
) (*TradeInfo, error) {
	return s.runCommand(ctx, escrowAddress, "", func(
		ctx context.Context, trade domain.Trade,
	) (domain.TradeEvent, error) {
		if !trade.Role.IsPrincipal() ||
			trade.Status != domain.TradeStatusArbitrating {
			return nil, ErrNotExpectedAction
		}
		rulings, err := s.relay.GetRulings(ctx, trade.EscrowAddress)
		if err != nil {
			return nil, err
		}
		for _, r := range rulings {
			if r.Winner != trade.Role {
				continue
			}
			if _, err := trade.VerifyRuling(r); err != nil {
				log.WithError(err).Warnf(
					"discarded ruling %s of trade %s", r.ID, trade.EscrowAddress,
				)
				continue
			}
			// the payout of the ruling supersedes the ones signed by the
			// local party before the dispute.
			s.releaseOwnPayouts(ctx, trade)
			return s.completePayout(
				ctx, trade, r.PartialPayoutTx, domain.PayoutReasonArbitrated,
			)
		}
		return nil, ErrRulingNotFound
	})
}

func (s *tradeService) ApplyEvent(
	ctx context.Context, event domain.TradeEvent,
) (*TradeInfo, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", domain.ErrIllegalTransition)
	}
	escrowAddress := event.Header().EscrowAddress

	var info *TradeInfo
	if err := s.dispatcher.Do(ctx, escrowAddress, func() error {
		jobCtx := context.WithoutCancel(ctx)
		trade, err := s.getTrade(jobCtx, escrowAddress)
		if err != nil {
			if !errors.Is(err, domain.ErrTradeNotFound) {
				return err
			}
			trade = &domain.Trade{}
		}
		next, err := s.apply(jobCtx, *trade, event)
		if err != nil {
			return err
		}
		info = s.info(*next)
		return nil
	}); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *tradeService) GetTrade(
	ctx context.Context, escrowAddress string,
) (*TradeInfo, error) {
	trade, err := s.getTrade(ctx, escrowAddress)
	if err != nil {
		return nil, err
	}
	return s.info(*trade), nil
}

func (s *tradeService) ListTrades(ctx context.Context) ([]TradeInfo, error) {
	addresses, err := s.tradeRepository.GetEscrowAddresses(ctx)
	if err != nil {
		return nil, err
	}
	trades := make([]TradeInfo, 0, len(addresses))
	for _, addr := range addresses {
		trade, err := s.getTrade(ctx, addr)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *s.info(*trade))
	}
	return trades, nil
}

func (s *tradeService) Subscribe(escrowAddress string) (<-chan TradeUpdate, func()) {
	return s.broker.Subscribe(escrowAddress)
}

// buildEventFunc returns the event of the local party for trade, or nil if
// the command leaves the trade as it is.
type buildEventFunc func(ctx context.Context, trade domain.Trade) (domain.TradeEvent, error)

// runCommand builds the event of the local party for the trade and applies
// it. If action is not empty, the command is refused unless it is the next
// action expected from the local party.
func (s *tradeService) runCommand(
	ctx context.Context, escrowAddress string, action domain.Action,
	build buildEventFunc,
) (*TradeInfo, error) {
	var info *TradeInfo
	if err := s.dispatcher.Do(ctx, escrowAddress, func() error {
		jobCtx := context.WithoutCancel(ctx)
		trade, err := s.getTrade(jobCtx, escrowAddress)
		if err != nil {
			return err
		}
		if len(action) > 0 && trade.NextAction(trade.Role) != action {
			return ErrNotExpectedAction
		}

		event, err := build(jobCtx, *trade)
		if err != nil {
			return err
		}
		if event == nil {
			info = s.info(*trade)
			return nil
		}
		next, err := s.apply(jobCtx, *trade, event)
		if err != nil {
			return err
		}
		info = s.info(*next)
		return nil
	}); err != nil {
		return nil, err
	}
	return info, nil
}

// apply appends event to the log of trade, publishes the update and shares
// the event with the other parties if authored by the local party.
func (s *tradeService) apply(
	ctx context.Context, trade domain.Trade, event domain.TradeEvent,
) (*domain.Trade, error) {
	if trade.HasEvent(event.ID()) {
		return &trade, nil
	}

	next, err := trade.Apply(event)
	if err != nil {
		rejectedEvents.WithLabelValues(event.Type().String()).Inc()
		log.WithError(err).Warnf(
			"dropped %s event %s of trade %s",
			event.Type(), event.ID(), event.Header().EscrowAddress,
		)
		return nil, err
	}

	seq, err := s.tradeRepository.AppendEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	appliedEvents.WithLabelValues(event.Type().String()).Inc()
	log.Debugf(
		"applied %s event to trade %s, status %s",
		event.Type(), next.EscrowAddress, next.Status,
	)

	s.broker.Publish(TradeUpdate{
		Trade: next,
		Event: event,
		Type:  event.Type(),
		Seq:   seq,
	})

	if event.Type() != domain.EventTypeCreated && event.Header().Author == next.Role {
		s.postEvent(ctx, event, seq)
	}
	return &next, nil
}

func (s *tradeService) postEvent(ctx context.Context, event domain.TradeEvent, seq int) {
	env, err := domain.EncodeEvent(event, seq)
	if err != nil {
		log.WithError(err).Warnf("failed to encode %s event", event.Type())
		return
	}
	if err := s.relay.PostEvent(ctx, *env); err != nil {
		log.WithError(err).Warnf(
			"failed to share %s event of trade %s, will retry",
			event.Type(), event.Header().EscrowAddress,
		)
	}
}

func (s *tradeService) postCreatedEvent(ctx context.Context, trade domain.Trade) error {
	events, err := s.tradeRepository.GetEvents(ctx, trade.EscrowAddress)
	if err != nil {
		return err
	}
	for i, e := range events {
		if e.Type() != domain.EventTypeCreated {
			continue
		}
		env, err := domain.EncodeEvent(e, i)
		if err != nil {
			return err
		}
		return s.relay.PostEvent(ctx, *env)
	}
	return ErrMissingCreatedEvent
}

func (s *tradeService) getTrade(
	ctx context.Context, escrowAddress string,
) (*domain.Trade, error) {
	events, err := s.tradeRepository.GetEvents(ctx, escrowAddress)
	if err != nil {
		return nil, err
	}
	if len(events) <= 0 {
		return nil, domain.ErrTradeNotFound
	}
	trade, rejected := domain.Replay(events)
	for _, r := range rejected {
		log.WithError(r.Err).Warnf(
			"stored %s event %s of trade %s cannot be applied",
			r.Event.Type(), r.Event.ID(), escrowAddress,
		)
	}
	return &trade, nil
}

func (s *tradeService) info(trade domain.Trade) *TradeInfo {
	return &TradeInfo{
		Trade:      trade,
		Status:     trade.StatusAt(s.now(), s.tradeTimeout),
		NextAction: trade.NextAction(trade.Role),
	}
}

// completePayout countersigns partialTx with the local escrow key,
// broadcasts it and returns the completion event.
func (s *tradeService) completePayout(
	ctx context.Context, trade domain.Trade, partialTx string,
	reason domain.PayoutReason,
) (domain.TradeEvent, error) {
	net, err := trade.NetworkParams()
	if err != nil {
		return nil, err
	}
	ptx, err := escrow.DecodePartialTx(partialTx, net)
	if err != nil {
		return nil, err
	}
	key, err := s.escrowKey(trade)
	if err != nil {
		return nil, err
	}
	if err := ptx.Cosign(key); err != nil && !errors.Is(err, escrow.ErrAlreadySigned) {
		return nil, err
	}
	tx, err := ptx.Finalize()
	if err != nil {
		return nil, err
	}
	txHex, err := domain.EncodeTx(tx)
	if err != nil {
		return nil, err
	}

	completed, err := domain.NewPayoutCompleted(
		trade, trade.Role, txHex, reason, s.now(), s.keystore.ProfileKey(),
	)
	if err != nil {
		return nil, err
	}
	event := domain.NewCompletedEvent(*completed, domain.TransactionWithAmt{
		Hash:           tx.TxHash().String(),
		ConfidenceType: domain.ConfidencePending,
		Timestamp:      completed.CreatedAt,
		Memo:           payoutMemo,
		NetAmount:      tx.TxOut[0].Value,
	})
	if _, err := trade.Apply(event); err != nil {
		return nil, err
	}

	owner, err := s.reservePayout(ctx, trade, tx)
	if err != nil {
		return nil, err
	}
	txid, err := s.wallet.Broadcast(ctx, SignedTx{
		Owner:  owner,
		TxID:   owner,
		TxHex:  txHex,
		Fee:    escrow.TotalValue(trade.FundingOutputs) - tx.TxOut[0].Value,
		Inputs: trade.FundingOutputs,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("paid out escrow %s with tx %s", trade.EscrowAddress, txid)
	return event, nil
}

// reservePayout holds the escrow funding outputs for tx, identified by its
// txid. The txid does not commit to signatures, so a payout rebuilt with the
// same outputs keeps its reservation.
func (s *tradeService) reservePayout(
	ctx context.Context, trade domain.Trade, tx *wire.MsgTx,
) (string, error) {
	owner := tx.TxHash().String()
	if err := s.wallet.ReservePayout(
		ctx, trade.EscrowAddress, trade.FundingOutputs, owner,
	); err != nil {
		return "", err
	}
	return owner, nil
}

// releaseOwnPayouts drops the reservations of the payouts signed by the local
// party and attached to its payout or arbitration request.
func (s *tradeService) releaseOwnPayouts(ctx context.Context, trade domain.Trade) {
	own := make([]string, 0, 2)
	if p := trade.PayoutRequest; p != nil && trade.Role == domain.RoleBuyer {
		own = append(own, p.PartialPayoutTx)
	}
	if a := trade.ArbitrateRequest; a != nil && a.Author == trade.Role {
		own = append(own, a.PartialRefundTx)
	}
	net, err := trade.NetworkParams()
	if err != nil {
		return
	}
	for _, encoded := range own {
		ptx, err := escrow.DecodePartialTx(encoded, net)
		if err != nil {
			continue
		}
		s.releaseReservation(ctx, ptx.Tx.TxHash().String())
	}
}

// postRuling signs a payout to winner with the arbitrator escrow key,
// reserves the escrow for it and shares it with the parties.
func (s *tradeService) postRuling(
	ctx context.Context, trade domain.Trade, winner domain.Role,
) error {
	encoded, err := s.signedPayout(ctx, trade, winner)
	if err != nil {
		return err
	}
	ruling, err := domain.NewArbitrationRuling(
		trade, winner, encoded, s.now(), s.keystore.ProfileKey(),
	)
	if err != nil {
		return err
	}
	if err := s.relay.PostRuling(ctx, *ruling); err != nil {
		return err
	}
	log.Infof(
		"ruled trade %s in favor of %s with ruling %s",
		trade.EscrowAddress, winner, ruling.ID,
	)
	return nil
}

// signedPayout returns the encoded payout of the whole escrow funds to the
// payout address of role, signed with the local escrow key. The funding
// outputs stay reserved for it.
func (s *tradeService) signedPayout(
	ctx context.Context, trade domain.Trade, to domain.Role,
) (string, error) {
	esc, err := trade.Escrow()
	if err != nil {
		return "", err
	}
	total := escrow.TotalValue(trade.FundingOutputs)
	ptx, err := escrow.BuildPayoutTx(escrow.PayoutArgs{
		Escrow:         esc,
		FundingOutputs: trade.FundingOutputs,
		PayoutAddress:  trade.PayoutAddress(to),
		Amount:         total - s.payoutFee,
		Fee:            s.payoutFee,
	})
	if err != nil {
		return "", err
	}
	key, err := s.escrowKey(trade)
	if err != nil {
		return "", err
	}
	if _, err := s.reservePayout(ctx, trade, ptx.Tx); err != nil {
		return "", err
	}
	if err := ptx.Cosign(key); err != nil {
		return "", err
	}
	return ptx.Encode()
}

// escrowKey returns the escrow key of the local party for trade. The
// arbitrator's escrow key is its profile key.
func (s *tradeService) escrowKey(trade domain.Trade) (*btcec.PrivateKey, error) {
	var key *btcec.PrivateKey
	switch {
	case trade.Role == domain.RoleArbitrator:
		key = s.keystore.ProfileKey()
	case trade.Role == trade.Offer.MakerRole():
		k, err := s.keystore.EscrowKey(makerKeyLabel(trade.TradeRequest.ID))
		if err != nil {
			return nil, err
		}
		key = k
	default:
		k, err := s.keystore.EscrowKey(
			takerKeyLabel(trade.Offer.ID, trade.TradeRequest.CreatedAt),
		)
		if err != nil {
			return nil, err
		}
		key = k
	}
	if crypto.PubKeyHex(key.PubKey()) != trade.EscrowPubKey(trade.Role) {
		return nil, ErrEscrowKeyMismatch
	}
	return key, nil
}

func (s *tradeService) deriveEscrowAddress(
	takerEscrowPubKey string, makerEscrowPubKey *btcec.PublicKey,
) (string, error) {
	takerKey, err := crypto.ParsePubKeyHex(takerEscrowPubKey)
	if err != nil {
		return "", err
	}
	arbitratorKey, err := crypto.ParsePubKeyHex(s.arbitratorPubKey)
	if err != nil {
		return "", err
	}
	// key order does not matter, the escrow sorts them.
	return escrow.DeriveAddress(
		s.keystore.Network(), takerKey, makerEscrowPubKey, arbitratorKey,
	)
}

func (s *tradeService) releaseReservation(ctx context.Context, owner string) {
	if err := s.wallet.ReleaseReservation(ctx, owner); err != nil {
		log.WithError(err).Warnf("failed to release unspents reserved by %s", owner)
	}
}

// winnerPayout returns the partial payout signed by winner that the
// arbitrator can countersign: the one attached to the arbitration request
// or, for the buyer, the one of its payout request.
func winnerPayout(trade domain.Trade, winner domain.Role) (string, bool) {
	if a := trade.ArbitrateRequest; a != nil && a.Author == winner &&
		len(a.PartialRefundTx) > 0 {
		return a.PartialRefundTx, true
	}
	if p := trade.PayoutRequest; p != nil && winner == domain.RoleBuyer {
		return p.PartialPayoutTx, true
	}
	return "", false
}

func makerKeyLabel(requestID string) string {
	return "maker:" + requestID
}

func takerKeyLabel(offerID string, createdAt time.Time) string {
	return "taker:" + offerID + ":" + createdAt.UTC().Format(time.RFC3339Nano)
}

func networkName(keystore ports.Keystore) (string, error) {
	net := keystore.Network()
	if net == nil {
		return "", fmt.Errorf("missing keystore network")
	}
	for _, name := range []string{"mainnet", "testnet", "regtest", "signet"} {
		params, err := domain.NetworkParams(name)
		if err == nil && params.Name == net.Name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, net.Name)
}
