package domain_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	network   = "regtest"
	payoutFee = int64(500)
)

var (
	net       = &chaincfg.RegressionNetParams
	startTime = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
)

func newKey(seed byte) *btcec.PrivateKey {
	buf := make([]byte, 32)
	buf[0] = 0x11
	buf[31] = seed
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func pubHex(key *btcec.PrivateKey) string {
	return crypto.PubKeyHex(key.PubKey())
}

func addressOf(t *testing.T, key *btcec.PrivateKey) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), net,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// parties of a trade on a SELL offer: the seller is the maker, the buyer the
// taker.
type parties struct {
	sellerProfile, sellerEscrow *btcec.PrivateKey
	buyerProfile, buyerEscrow   *btcec.PrivateKey
	arbitrator                  *btcec.PrivateKey
	sellerWallet, buyerWallet   *btcec.PrivateKey
}

func newParties() parties {
	return parties{
		sellerProfile: newKey(1),
		sellerEscrow:  newKey(2),
		buyerProfile:  newKey(3),
		buyerEscrow:   newKey(4),
		arbitrator:    newKey(5),
		sellerWallet:  newKey(6),
		buyerWallet:   newKey(7),
	}
}

func newSellOffer(t *testing.T, p parties) domain.SignedOffer {
	offer, err := domain.NewOffer(
		domain.OfferTypeSell, pubHex(p.sellerProfile),
		domain.CurrencyEUR, domain.PaymentMethodSEPA,
		dec("10.00"), dec("100.00"), dec("8000.00"),
	)
	require.NoError(t, err)
	signed, err := domain.SignOffer(*offer, p.sellerProfile)
	require.NoError(t, err)
	return *signed
}

func newCreatedEvent(t *testing.T, p parties, role domain.Role) domain.CreatedEvent {
	offer := newSellOffer(t, p)
	request, err := domain.NewTradeRequest(
		offer, p.buyerProfile, pubHex(p.buyerEscrow), addressOf(t, p.buyerWallet),
		dec("50"), startTime,
	)
	require.NoError(t, err)
	acceptance, err := domain.NewTradeAcceptance(
		network, offer, *request, p.sellerProfile,
		pubHex(p.sellerEscrow), addressOf(t, p.sellerWallet), pubHex(p.arbitrator),
		startTime.Add(time.Minute),
	)
	require.NoError(t, err)
	return domain.NewCreatedEvent(role, network, offer, *request, *acceptance)
}

func newFundedEvent(t *testing.T, p parties, trade domain.Trade, amount int64) domain.FundedEvent {
	esc, err := trade.Escrow()
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(amount, esc.PkScript()))
	txHex, err := domain.EncodeTx(tx)
	require.NoError(t, err)

	pr, err := domain.NewPaymentRequest(
		trade, txHex, "IBAN SE45 5000 0000 0583 9825 7466", startTime.Add(2*time.Minute),
		p.sellerProfile,
	)
	require.NoError(t, err)
	return domain.NewFundedEvent(*pr, domain.TransactionWithAmt{
		Hash:           tx.TxHash().String(),
		ConfidenceType: domain.ConfidencePending,
		Timestamp:      pr.CreatedAt,
		Memo:           "escrow funding",
		NetAmount:      amount,
	})
}

func newPayout(t *testing.T, trade domain.Trade, to domain.Role) *escrow.PartialTx {
	esc, err := trade.Escrow()
	require.NoError(t, err)
	total := escrow.TotalValue(trade.FundingOutputs)
	ptx, err := escrow.BuildPayoutTx(escrow.PayoutArgs{
		Escrow:         esc,
		FundingOutputs: trade.FundingOutputs,
		PayoutAddress:  trade.PayoutAddress(to),
		Amount:         total - payoutFee,
		Fee:            payoutFee,
	})
	require.NoError(t, err)
	return ptx
}

func newPaidEvent(t *testing.T, p parties, trade domain.Trade) (domain.PaidEvent, string) {
	ptx := newPayout(t, trade, domain.RoleBuyer)
	require.NoError(t, ptx.Cosign(p.buyerEscrow))
	encoded, err := ptx.Encode()
	require.NoError(t, err)

	pr, err := domain.NewPayoutRequest(
		trade, "SEPA ref 123", encoded, startTime.Add(3*time.Minute), p.buyerProfile,
	)
	require.NoError(t, err)
	return domain.NewPaidEvent(*pr), encoded
}

func newCompletedEvent(
	t *testing.T, trade domain.Trade, ptx *escrow.PartialTx,
	author domain.Role, authorKey *btcec.PrivateKey, reason domain.PayoutReason,
) domain.CompletedEvent {
	tx, err := ptx.Finalize()
	require.NoError(t, err)
	return newCompletedTxEvent(t, trade, tx, author, authorKey, reason)
}

func newCompletedTxEvent(
	t *testing.T, trade domain.Trade, tx *wire.MsgTx,
	author domain.Role, authorKey *btcec.PrivateKey, reason domain.PayoutReason,
) domain.CompletedEvent {
	txHex, err := domain.EncodeTx(tx)
	require.NoError(t, err)

	pc, err := domain.NewPayoutCompleted(
		trade, author, txHex, reason, startTime.Add(4*time.Minute), authorKey,
	)
	require.NoError(t, err)
	return domain.NewCompletedEvent(*pc, domain.TransactionWithAmt{
		Hash:           tx.TxHash().String(),
		ConfidenceType: domain.ConfidencePending,
		Timestamp:      pc.CreatedAt,
		Memo:           "escrow payout",
		NetAmount:      tx.TxOut[0].Value,
	})
}

func apply(t *testing.T, trade domain.Trade, e domain.TradeEvent) domain.Trade {
	next, err := trade.Apply(e)
	require.NoError(t, err)
	return next
}
