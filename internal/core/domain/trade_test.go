package domain_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
	"github.com/stretchr/testify/require"
)

// happyPath returns the events of a cooperative trade, in order.
func happyPath(t *testing.T, p parties) []domain.TradeEvent {
	created := newCreatedEvent(t, p, domain.RoleSeller)
	trade := apply(t, domain.Trade{}, created)

	funded := newFundedEvent(t, p, trade, trade.BtcAmount())
	trade = apply(t, trade, funded)

	paid, encoded := newPaidEvent(t, p, trade)
	trade = apply(t, trade, paid)

	ptx, err := escrow.DecodePartialTx(encoded, net)
	require.NoError(t, err)
	require.NoError(t, ptx.Cosign(p.sellerEscrow))
	completed := newCompletedEvent(
		t, trade, ptx, domain.RoleSeller, p.sellerProfile, domain.PayoutReasonPayout,
	)

	return []domain.TradeEvent{created, funded, paid, completed}
}

func TestTradeHappyPath(t *testing.T) {
	t.Parallel()

	p := newParties()
	events := happyPath(t, p)

	trade, rejected := domain.Replay(events)
	require.Empty(t, rejected)
	require.Equal(t, domain.TradeStatusCompleted, trade.Status)
	require.True(t, trade.IsCompleted())
	require.Equal(t, domain.RoleSeller, trade.Role)
	require.Equal(t, int64(625000), trade.BtcAmount())
	require.Equal(t, int64(625000), escrow.TotalValue(trade.FundingOutputs))
	require.NotNil(t, trade.PayoutTransactionWithAmt)
	require.Equal(t, int64(624500), trade.PayoutTransactionWithAmt.NetAmount)
	require.Len(t, trade.EventIDs, 4)
	require.Equal(t, events[3].Header().At, trade.UpdatedAt)

	require.Equal(t, pubHex(p.buyerProfile), trade.BuyerProfilePubKey())
	require.Equal(t, pubHex(p.sellerProfile), trade.SellerProfilePubKey())
	require.Equal(t, pubHex(p.arbitrator), trade.ArbitratorPubKey())
	require.Equal(t, pubHex(p.buyerEscrow), trade.EscrowPubKey(domain.RoleBuyer))
	require.Equal(t, pubHex(p.sellerEscrow), trade.EscrowPubKey(domain.RoleSeller))
	require.Equal(t, addressOf(t, p.buyerWallet), trade.PayoutAddress(domain.RoleBuyer))

	role, ok := trade.RoleOfEscrowKey(pubHex(p.sellerEscrow))
	require.True(t, ok)
	require.Equal(t, domain.RoleSeller, role)

	tx, err := domain.DecodeTx(trade.PayoutCompleted.PayoutTxHex)
	require.NoError(t, err)
	require.NoError(t, escrow.VerifyScripts(tx, trade.FundingOutputs))
}

func TestTradeEscrowAddress(t *testing.T) {
	t.Parallel()

	p := newParties()
	created := newCreatedEvent(t, p, domain.RoleBuyer)
	trade := apply(t, domain.Trade{}, created)

	expected, err := escrow.DeriveAddress(
		net, p.arbitrator.PubKey(), p.buyerEscrow.PubKey(), p.sellerEscrow.PubKey(),
	)
	require.NoError(t, err)
	require.Equal(t, expected, trade.EscrowAddress)
	require.Equal(t, expected, created.Acceptance.EscrowAddress)
}

func TestTradeArbitration(t *testing.T) {
	t.Parallel()

	p := newParties()
	events := happyPath(t, p)
	trade, rejected := domain.Replay(events[:2])
	require.Empty(t, rejected)
	require.Equal(t, domain.TradeStatusFunded, trade.Status)

	// the seller disputes before the buyer claims payment and proposes a
	// refund signed with its escrow key
	refund := newPayout(t, trade, domain.RoleSeller)
	require.NoError(t, refund.Cosign(p.sellerEscrow))
	encoded, err := refund.Encode()
	require.NoError(t, err)

	req, err := domain.NewArbitrateRequest(
		trade, domain.RoleSeller, "no payment received", encoded,
		startTime.Add(time.Hour), p.sellerProfile,
	)
	require.NoError(t, err)
	trade = apply(t, trade, domain.NewArbitratingEvent(*req))
	require.Equal(t, domain.TradeStatusArbitrating, trade.Status)
	require.Equal(t, domain.ActionArbitrate, trade.NextAction(domain.RoleArbitrator))
	require.Equal(t, domain.ActionWaitArbitration, trade.NextAction(domain.RoleSeller))

	// the arbitrator sides with the buyer: payout to the buyer signed by
	// arbitrator and buyer
	payout := newPayout(t, trade, domain.RoleBuyer)
	require.NoError(t, payout.Cosign(p.arbitrator))
	require.NoError(t, payout.Cosign(p.buyerEscrow))

	t.Run("completion by the winner", func(t *testing.T) {
		completed := newCompletedEvent(
			t, trade, payout, domain.RoleBuyer, p.buyerProfile, domain.PayoutReasonArbitrated,
		)
		done, err := trade.Apply(completed)
		require.NoError(t, err)
		require.Equal(t, domain.TradeStatusCompleted, done.Status)
		require.Equal(t, domain.RoleBuyer, done.PayoutCompleted.Author)
	})

	t.Run("completion signed by someone else's profile key is rejected", func(t *testing.T) {
		completed := newCompletedEvent(
			t, trade, payout, domain.RoleBuyer, p.sellerProfile, domain.PayoutReasonArbitrated,
		)
		_, err := trade.Apply(completed)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
	})

	t.Run("completion with signatures out of key order is rejected", func(t *testing.T) {
		tx, err := payout.Finalize()
		require.NoError(t, err)
		for _, in := range tx.TxIn {
			in.Witness[1], in.Witness[2] = in.Witness[2], in.Witness[1]
		}
		completed := newCompletedTxEvent(
			t, trade, tx, domain.RoleBuyer, p.buyerProfile, domain.PayoutReasonArbitrated,
		)
		_, err = trade.Apply(completed)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
		require.ErrorIs(t, err, escrow.ErrInvalidPayout)
	})

	t.Run("completion without arbitrator signature is rejected", func(t *testing.T) {
		cooperative := newPayout(t, trade, domain.RoleBuyer)
		require.NoError(t, cooperative.Cosign(p.sellerEscrow))
		require.NoError(t, cooperative.Cosign(p.buyerEscrow))
		completed := newCompletedEvent(
			t, trade, cooperative, domain.RoleArbitrator, p.arbitrator, domain.PayoutReasonArbitrated,
		)
		_, err := trade.Apply(completed)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
		require.ErrorIs(t, err, escrow.ErrNotEnoughSignatures)
	})

	t.Run("completion by the arbitrator", func(t *testing.T) {
		completed := newCompletedEvent(
			t, trade, payout, domain.RoleArbitrator, p.arbitrator, domain.PayoutReasonArbitrated,
		)
		done, err := trade.Apply(completed)
		require.NoError(t, err)
		require.Equal(t, domain.TradeStatusCompleted, done.Status)
		require.Equal(t, domain.PayoutReasonArbitrated, done.PayoutCompleted.Reason)
	})
}

func TestTradeIllegalTransitions(t *testing.T) {
	t.Parallel()

	p := newParties()
	events := happyPath(t, p)
	funded, paid, completed := events[1], events[2], events[3]
	createdTrade, _ := domain.Replay(events[:1])
	fundedTrade, _ := domain.Replay(events[:2])

	// the buyer pretends to fund the escrow
	buyerFunded := funded.(domain.FundedEvent)
	buyerFunded.Author = domain.RoleBuyer

	// the funding is signed by the buyer profile key
	forgedFunding := funded.(domain.FundedEvent)
	forgedFunding.PaymentRequest.Signature = signedBy(t, forgedFunding.PaymentRequest.Digest(), p.buyerProfile)

	// the funding pays less than the committed amount
	underFunded := newFundedEvent(t, p, createdTrade, createdTrade.BtcAmount()-1)

	// the seller pretends to claim the fiat payment
	sellerPaid := paid.(domain.PaidEvent)
	sellerPaid.Author = domain.RoleSeller

	// the buyer's payout request carries a payout signed with the seller key
	wrongKeyPayout := newPayout(t, fundedTrade, domain.RoleBuyer)
	require.NoError(t, wrongKeyPayout.Cosign(p.sellerEscrow))
	encoded, err := wrongKeyPayout.Encode()
	require.NoError(t, err)
	pr, err := domain.NewPayoutRequest(
		fundedTrade, "ref", encoded, startTime.Add(3*time.Minute), p.buyerProfile,
	)
	require.NoError(t, err)
	wrongKeyPaid := domain.NewPaidEvent(*pr)

	// the buyer's payout pays the seller
	wrongAddrPayout := newPayout(t, fundedTrade, domain.RoleSeller)
	require.NoError(t, wrongAddrPayout.Cosign(p.buyerEscrow))
	encoded, err = wrongAddrPayout.Encode()
	require.NoError(t, err)
	pr, err = domain.NewPayoutRequest(
		fundedTrade, "ref", encoded, startTime.Add(3*time.Minute), p.buyerProfile,
	)
	require.NoError(t, err)
	wrongAddrPaid := domain.NewPaidEvent(*pr)

	// the arbitrator cannot raise a dispute
	arbitratorReq := domain.ArbitrateRequest{}
	arbitrating := domain.NewArbitratingEvent(arbitratorReq)
	arbitrating.Author = domain.RoleArbitrator
	arbitrating.EscrowAddress = fundedTrade.EscrowAddress

	tests := []struct {
		name   string
		events []domain.TradeEvent
		event  domain.TradeEvent
	}{
		{"funded before created", nil, funded},
		{"paid before funded", events[:1], paid},
		{"completed before paid", events[:2], completed},
		{"created twice", events[:1], newCreatedEvent(t, p, domain.RoleBuyer)},
		{"funded by buyer", events[:1], buyerFunded},
		{"funding signed by buyer", events[:1], forgedFunding},
		{"under funded", events[:1], underFunded},
		{"paid by seller", events[:2], sellerPaid},
		{"payout signed with the wrong key", events[:2], wrongKeyPaid},
		{"payout to the wrong address", events[:2], wrongAddrPaid},
		{"arbitration raised by the arbitrator", events[:2], arbitrating},
		{"funded after completion", events, underFunded},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trade, rejected := domain.Replay(tt.events)
			require.Empty(t, rejected)

			next, err := trade.Apply(tt.event)
			require.ErrorIs(t, err, domain.ErrIllegalTransition)
			require.Equal(t, trade, next)
		})
	}
}

func TestTradeApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())
	once, rejected := domain.Replay(events)
	require.Empty(t, rejected)

	twice, rejected := domain.Fold(once, events)
	require.Empty(t, rejected)
	require.Equal(t, once, twice)

	duplicated := []domain.TradeEvent{
		events[0], events[0], events[1], events[1], events[2], events[3], events[2],
	}
	dup, rejected := domain.Replay(duplicated)
	require.Empty(t, rejected)
	require.Equal(t, once, dup)
}

func TestTradeFoldIsIncremental(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())
	full, _ := domain.Replay(events)

	for i := range events {
		prefix, rejected := domain.Replay(events[:i])
		require.Empty(t, rejected)
		resumed, rejected := domain.Fold(prefix, events[i:])
		require.Empty(t, rejected)
		require.Equal(t, full, resumed)
	}
}

func TestTradeFoldSkipsOutOfOrderEvents(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())
	shuffled := []domain.TradeEvent{events[0], events[2], events[1], events[3]}

	trade, rejected := domain.Replay(shuffled)
	require.Len(t, rejected, 2)
	require.Equal(t, events[2].ID(), rejected[0].Event.ID())
	require.ErrorIs(t, rejected[0].Err, domain.ErrIllegalTransition)
	require.Equal(t, domain.TradeStatusFunded, trade.Status)

	// redelivery in the right order completes the trade
	trade, rejected = domain.Fold(trade, events)
	require.Empty(t, rejected)
	require.Equal(t, domain.TradeStatusCompleted, trade.Status)
}

func TestTradeRejectsEventsOfOtherTrades(t *testing.T) {
	t.Parallel()

	p := newParties()
	trade := apply(t, domain.Trade{}, newCreatedEvent(t, p, domain.RoleSeller))

	other := p
	other.buyerEscrow = newKey(42)
	otherTrade := apply(t, domain.Trade{}, newCreatedEvent(t, other, domain.RoleSeller))
	require.NotEqual(t, trade.EscrowAddress, otherTrade.EscrowAddress)

	funded := newFundedEvent(t, other, otherTrade, otherTrade.BtcAmount())
	next, err := trade.Apply(funded)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	require.Equal(t, trade, next)
}

func TestTradeStatusAt(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())
	funded, _ := domain.Replay(events[:2])
	completed, _ := domain.Replay(events)
	timeout := 24 * time.Hour

	tests := []struct {
		name     string
		trade    domain.Trade
		now      time.Time
		expected domain.TradeStatus
	}{
		{"active", funded, funded.UpdatedAt.Add(time.Hour), domain.TradeStatusFunded},
		{"stalled", funded, funded.UpdatedAt.Add(timeout + time.Second), domain.TradeStatusStalled},
		{"completed never stalls", completed, completed.UpdatedAt.Add(10 * timeout), domain.TradeStatusCompleted},
		{"undefined", domain.Trade{}, startTime, domain.TradeStatusUndefined},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.expected, tt.trade.StatusAt(tt.now, timeout))
		})
	}
}

func TestTradeNextAction(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())

	tests := []struct {
		events         int
		seller, buyer  domain.Action
		arbitratorNext domain.Action
	}{
		{1, domain.ActionFund, domain.ActionWaitFunding, domain.ActionNone},
		{2, domain.ActionWaitPayment, domain.ActionPay, domain.ActionNone},
		{3, domain.ActionCompletePayout, domain.ActionWaitPayout, domain.ActionNone},
		{4, domain.ActionNone, domain.ActionNone, domain.ActionNone},
	}

	for _, tt := range tests {
		trade, _ := domain.Replay(events[:tt.events])
		require.Equal(t, tt.seller, trade.NextAction(domain.RoleSeller), trade.Status)
		require.Equal(t, tt.buyer, trade.NextAction(domain.RoleBuyer), trade.Status)
		require.Equal(t, tt.arbitratorNext, trade.NextAction(domain.RoleArbitrator), trade.Status)
	}
}

func TestEventCodec(t *testing.T) {
	t.Parallel()

	events := happyPath(t, newParties())
	decoded := make([]domain.TradeEvent, 0, len(events))

	for i, e := range events {
		env, err := domain.EncodeEvent(e, i)
		require.NoError(t, err)
		require.Equal(t, e.Type(), env.Type)
		require.Equal(t, e.ID(), env.ID)
		require.Equal(t, i, env.Seq)

		got, err := domain.DecodeEvent(*env)
		require.NoError(t, err)
		require.Equal(t, e.ID(), got.ID())
		decoded = append(decoded, got)
	}

	trade, rejected := domain.Replay(decoded)
	require.Empty(t, rejected)
	require.Equal(t, domain.TradeStatusCompleted, trade.Status)

	_, err := domain.DecodeEvent(domain.EventEnvelope{Type: "SETTLED"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEventIDIsDeterministic(t *testing.T) {
	t.Parallel()

	p := newParties()
	a := newCreatedEvent(t, p, domain.RoleSeller)
	b := newCreatedEvent(t, p, domain.RoleSeller)
	c := newCreatedEvent(t, p, domain.RoleBuyer)

	require.Equal(t, a.ID(), b.ID())
	require.NotEqual(t, a.ID(), c.ID())
}

func TestTradeVerifyRuling(t *testing.T) {
	t.Parallel()

	p := newParties()
	events := happyPath(t, p)
	funded, _ := domain.Replay(events[:2])

	refund := newPayout(t, funded, domain.RoleSeller)
	require.NoError(t, refund.Cosign(p.sellerEscrow))
	encoded, err := refund.Encode()
	require.NoError(t, err)
	req, err := domain.NewArbitrateRequest(
		funded, domain.RoleSeller, "no payment received", encoded,
		startTime.Add(time.Hour), p.sellerProfile,
	)
	require.NoError(t, err)
	trade := apply(t, funded, domain.NewArbitratingEvent(*req))

	ruling := func(winner domain.Role, signer, arbitratorKey *btcec.PrivateKey) domain.ArbitrationRuling {
		ptx := newPayout(t, trade, winner)
		require.NoError(t, ptx.Cosign(signer))
		encoded, err := ptx.Encode()
		require.NoError(t, err)
		r, err := domain.NewArbitrationRuling(
			trade, winner, encoded, startTime.Add(2*time.Hour), p.arbitrator,
		)
		require.NoError(t, err)
		if arbitratorKey != p.arbitrator {
			r.Signature = signedBy(t, r.Digest(), arbitratorKey)
		}
		return *r
	}

	t.Run("valid", func(t *testing.T) {
		ptx, err := trade.VerifyRuling(ruling(domain.RoleBuyer, p.arbitrator, p.arbitrator))
		require.NoError(t, err)
		require.NoError(t, ptx.Cosign(p.buyerEscrow))
		require.True(t, ptx.IsComplete())
	})

	forgedWinner := ruling(domain.RoleBuyer, p.arbitrator, p.arbitrator)
	forgedWinner.Winner = domain.RoleSeller

	tests := []struct {
		name     string
		trade    domain.Trade
		ruling   domain.ArbitrationRuling
		expected error
	}{
		{"trade not in arbitration", funded, ruling(domain.RoleBuyer, p.arbitrator, p.arbitrator), domain.ErrIllegalTransition},
		{"ruling signed by a principal", trade, ruling(domain.RoleBuyer, p.arbitrator, p.sellerProfile), domain.ErrBadSignature},
		{"payout not signed by the arbitrator", trade, ruling(domain.RoleBuyer, p.sellerEscrow, p.arbitrator), escrow.ErrNotEnoughSignatures},
		{"winner changed after signing", trade, forgedWinner, domain.ErrValidation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.trade.VerifyRuling(tt.ruling)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func signedBy(t *testing.T, digest [32]byte, key *btcec.PrivateKey) []byte {
	sig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	return sig
}
