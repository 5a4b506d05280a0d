package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/bytabit/escrowd/pkg/canonical"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/shopspring/decimal"
)

// TradeRequest is sent by a taker to the maker of an offer.
type TradeRequest struct {
	ID                 string          `json:"id"`
	OfferID            string          `json:"offerId"`
	TakerProfilePubKey string          `json:"takerProfilePubKey"`
	TakerEscrowPubKey  string          `json:"takerEscrowPubKey"`
	TakerPayoutAddress string          `json:"takerPayoutAddress"`
	CurrencyCode       CurrencyCode    `json:"currencyCode"`
	PaymentAmount      decimal.Decimal `json:"paymentAmount"`
	BtcAmount          int64           `json:"btcAmount"`
	CreatedAt          time.Time       `json:"createdAt"`
	Signature          []byte          `json:"signature"`
}

// NewTradeRequest returns a request to take offer for paymentAmount, signed
// with the taker's profile key.
func NewTradeRequest(
	offer SignedOffer, takerProfileKey *btcec.PrivateKey,
	takerEscrowPubKey, takerPayoutAddress string,
	paymentAmount decimal.Decimal, createdAt time.Time,
) (*TradeRequest, error) {
	if takerProfileKey == nil {
		return nil, fmt.Errorf("missing private key")
	}
	btcAmount, err := offer.BtcAmount(paymentAmount)
	if err != nil {
		return nil, err
	}
	r := &TradeRequest{
		OfferID:            offer.ID,
		TakerProfilePubKey: crypto.PubKeyHex(takerProfileKey.PubKey()),
		TakerEscrowPubKey:  takerEscrowPubKey,
		TakerPayoutAddress: takerPayoutAddress,
		CurrencyCode:       offer.CurrencyCode,
		PaymentAmount:      offer.CurrencyCode.Round(paymentAmount),
		BtcAmount:          btcAmount,
		CreatedAt:          createdAt.UTC(),
	}
	if err := r.Validate(offer); err != nil {
		return nil, err
	}
	r.ID = idFromDigest(r.Digest())
	if r.Signature, err = signDigest(r.Digest(), takerProfileKey, r.TakerProfilePubKey); err != nil {
		return nil, err
	}
	return r, nil
}

// Digest ...
func (r TradeRequest) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(r.OfferID),
		canonical.String(r.TakerProfilePubKey),
		canonical.String(r.TakerEscrowPubKey),
		canonical.String(r.TakerPayoutAddress),
		canonical.Enum(r.CurrencyCode),
		canonical.Decimal(r.PaymentAmount, r.CurrencyCode.Scale()),
		canonical.Int(r.BtcAmount),
		canonical.Time(r.CreatedAt),
	)
}

// Validate checks the request against the offer it takes.
func (r TradeRequest) Validate(offer SignedOffer) error {
	if r.OfferID != offer.ID || r.CurrencyCode != offer.CurrencyCode {
		return ErrOfferMismatch
	}
	if err := validatePubKey(r.TakerProfilePubKey); err != nil {
		return err
	}
	if err := validatePubKey(r.TakerEscrowPubKey); err != nil {
		return err
	}
	if r.TakerProfilePubKey == offer.MakerProfilePubKey {
		return fmt.Errorf("%w: maker cannot take its own offer", ErrValidation)
	}
	if len(r.TakerPayoutAddress) <= 0 {
		return fmt.Errorf("%w: missing payout address", ErrValidation)
	}
	if err := offer.ValidatePaymentAmount(r.PaymentAmount); err != nil {
		return err
	}
	btcAmount, err := offer.BtcAmount(r.PaymentAmount)
	if err != nil {
		return err
	}
	if btcAmount != r.BtcAmount {
		return ErrBtcAmountMismatch
	}
	return nil
}

// Verify validates the request and checks the taker signature.
func (r TradeRequest) Verify(offer SignedOffer) error {
	if err := r.Validate(offer); err != nil {
		return err
	}
	if r.ID != idFromDigest(r.Digest()) {
		return fmt.Errorf("%w: trade request id does not match content", ErrValidation)
	}
	return verifyDigest(r.Digest(), r.Signature, r.TakerProfilePubKey)
}

// TradeAcceptance is the maker's answer to a trade request. It fixes the
// arbitrator and the escrow address.
type TradeAcceptance struct {
	ID                 string    `json:"id"`
	TradeRequestID     string    `json:"tradeRequestId"`
	MakerEscrowPubKey  string    `json:"makerEscrowPubKey"`
	MakerPayoutAddress string    `json:"makerPayoutAddress"`
	ArbitratorPubKey   string    `json:"arbitratorPubKey"`
	EscrowAddress      string    `json:"escrowAddress"`
	CreatedAt          time.Time `json:"createdAt"`
	Signature          []byte    `json:"signature"`
}

// NewTradeAcceptance derives the escrow address and returns the acceptance
// signed with the maker's profile key.
func NewTradeAcceptance(
	network string, offer SignedOffer, request TradeRequest,
	makerProfileKey *btcec.PrivateKey,
	makerEscrowPubKey, makerPayoutAddress, arbitratorPubKey string,
	createdAt time.Time,
) (*TradeAcceptance, error) {
	net, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}
	buyerKey, sellerKey := request.TakerEscrowPubKey, makerEscrowPubKey
	if offer.OfferType == OfferTypeBuy {
		buyerKey, sellerKey = sellerKey, buyerKey
	}
	e, err := deriveEscrow(net, buyerKey, sellerKey, arbitratorPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	a := &TradeAcceptance{
		TradeRequestID:     request.ID,
		MakerEscrowPubKey:  makerEscrowPubKey,
		MakerPayoutAddress: makerPayoutAddress,
		ArbitratorPubKey:   arbitratorPubKey,
		EscrowAddress:      e.Address.EncodeAddress(),
		CreatedAt:          createdAt.UTC(),
	}
	a.ID = idFromDigest(a.Digest())
	if a.Signature, err = signDigest(a.Digest(), makerProfileKey, offer.MakerProfilePubKey); err != nil {
		return nil, err
	}
	return a, nil
}

// Digest ...
func (a TradeAcceptance) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(a.TradeRequestID),
		canonical.String(a.MakerEscrowPubKey),
		canonical.String(a.MakerPayoutAddress),
		canonical.String(a.ArbitratorPubKey),
		canonical.String(a.EscrowAddress),
		canonical.Time(a.CreatedAt),
	)
}

// Verify checks the acceptance refers to request and is signed by the
// offer maker.
func (a TradeAcceptance) Verify(offer SignedOffer, request TradeRequest) error {
	if a.TradeRequestID != request.ID {
		return ErrOfferMismatch
	}
	if err := validatePubKey(a.MakerEscrowPubKey); err != nil {
		return err
	}
	if err := validatePubKey(a.ArbitratorPubKey); err != nil {
		return err
	}
	if len(a.MakerPayoutAddress) <= 0 {
		return fmt.Errorf("%w: missing payout address", ErrValidation)
	}
	if a.ID != idFromDigest(a.Digest()) {
		return fmt.Errorf("%w: trade acceptance id does not match content", ErrValidation)
	}
	return verifyDigest(a.Digest(), a.Signature, offer.MakerProfilePubKey)
}

// PaymentRequest is sent by the seller once the escrow is funded. It tells
// the buyer how to pay and carries the funding transaction.
type PaymentRequest struct {
	ID             string    `json:"id"`
	EscrowAddress  string    `json:"escrowAddress"`
	FundingTxHex   string    `json:"fundingTxHex"`
	PaymentDetails string    `json:"paymentDetails"`
	CreatedAt      time.Time `json:"createdAt"`
	Signature      []byte    `json:"signature"`
}

// NewPaymentRequest ...
func NewPaymentRequest(
	t Trade, fundingTxHex, paymentDetails string, createdAt time.Time,
	sellerProfileKey *btcec.PrivateKey,
) (*PaymentRequest, error) {
	if len(paymentDetails) <= 0 {
		return nil, fmt.Errorf("%w: missing payment details", ErrValidation)
	}
	if _, err := DecodeTx(fundingTxHex); err != nil {
		return nil, err
	}
	p := &PaymentRequest{
		EscrowAddress:  t.EscrowAddress,
		FundingTxHex:   fundingTxHex,
		PaymentDetails: paymentDetails,
		CreatedAt:      createdAt.UTC(),
	}
	p.ID = idFromDigest(p.Digest())
	sig, err := signDigest(p.Digest(), sellerProfileKey, t.SellerProfilePubKey())
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

// Digest ...
func (p PaymentRequest) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(p.EscrowAddress),
		canonical.String(p.FundingTxHex),
		canonical.String(p.PaymentDetails),
		canonical.Time(p.CreatedAt),
	)
}

// Verify ...
func (p PaymentRequest) Verify(pubkey string) error {
	if p.ID != idFromDigest(p.Digest()) {
		return fmt.Errorf("%w: payment request id does not match content", ErrValidation)
	}
	return verifyDigest(p.Digest(), p.Signature, pubkey)
}

// PayoutRequest is sent by the buyer once fiat is paid. It carries the
// payout transaction already signed with the buyer's escrow key.
type PayoutRequest struct {
	ID               string    `json:"id"`
	EscrowAddress    string    `json:"escrowAddress"`
	PaymentReference string    `json:"paymentReference"`
	PartialPayoutTx  string    `json:"partialPayoutTx"`
	CreatedAt        time.Time `json:"createdAt"`
	Signature        []byte    `json:"signature"`
}

// NewPayoutRequest ...
func NewPayoutRequest(
	t Trade, paymentReference, partialPayoutTx string, createdAt time.Time,
	buyerProfileKey *btcec.PrivateKey,
) (*PayoutRequest, error) {
	if len(partialPayoutTx) <= 0 {
		return nil, fmt.Errorf("%w: missing payout transaction", ErrValidation)
	}
	p := &PayoutRequest{
		EscrowAddress:    t.EscrowAddress,
		PaymentReference: paymentReference,
		PartialPayoutTx:  partialPayoutTx,
		CreatedAt:        createdAt.UTC(),
	}
	p.ID = idFromDigest(p.Digest())
	sig, err := signDigest(p.Digest(), buyerProfileKey, t.BuyerProfilePubKey())
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

// Digest ...
func (p PayoutRequest) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(p.EscrowAddress),
		canonical.String(p.PaymentReference),
		canonical.String(p.PartialPayoutTx),
		canonical.Time(p.CreatedAt),
	)
}

// Verify ...
func (p PayoutRequest) Verify(pubkey string) error {
	if p.ID != idFromDigest(p.Digest()) {
		return fmt.Errorf("%w: payout request id does not match content", ErrValidation)
	}
	return verifyDigest(p.Digest(), p.Signature, pubkey)
}

// ArbitrateRequest is raised by buyer or seller to ask the arbitrator to
// resolve a dispute.
type ArbitrateRequest struct {
	ID               string    `json:"id"`
	EscrowAddress    string    `json:"escrowAddress"`
	Author           Role      `json:"author"`
	ArbitratorPubKey string    `json:"arbitratorPubKey"`
	Reason           string    `json:"reason"`
	PartialRefundTx  string    `json:"partialRefundTx,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Signature        []byte    `json:"signature"`
}

// NewArbitrateRequest ...
func NewArbitrateRequest(
	t Trade, author Role, reason, partialRefundTx string, createdAt time.Time,
	authorProfileKey *btcec.PrivateKey,
) (*ArbitrateRequest, error) {
	if !author.IsPrincipal() {
		return nil, ErrInvalidRole
	}
	a := &ArbitrateRequest{
		EscrowAddress:    t.EscrowAddress,
		Author:           author,
		ArbitratorPubKey: t.ArbitratorPubKey(),
		Reason:           reason,
		PartialRefundTx:  partialRefundTx,
		CreatedAt:        createdAt.UTC(),
	}
	a.ID = idFromDigest(a.Digest())
	sig, err := signDigest(a.Digest(), authorProfileKey, t.ProfilePubKey(author))
	if err != nil {
		return nil, err
	}
	a.Signature = sig
	return a, nil
}

// Digest ...
func (a ArbitrateRequest) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(a.EscrowAddress),
		canonical.Enum(a.Author),
		canonical.String(a.ArbitratorPubKey),
		canonical.String(a.Reason),
		canonical.String(a.PartialRefundTx),
		canonical.Time(a.CreatedAt),
	)
}

// Verify ...
func (a ArbitrateRequest) Verify(pubkey string) error {
	if a.ID != idFromDigest(a.Digest()) {
		return fmt.Errorf("%w: arbitrate request id does not match content", ErrValidation)
	}
	return verifyDigest(a.Digest(), a.Signature, pubkey)
}

// ArbitrationRuling is published by the arbitrator when the winner of a
// dispute never signed a payout to itself. It carries the payout to the
// winner signed with the arbitrator's escrow key, for the winner to
// countersign and broadcast.
type ArbitrationRuling struct {
	ID              string    `json:"id"`
	EscrowAddress   string    `json:"escrowAddress"`
	Winner          Role      `json:"winner"`
	PartialPayoutTx string    `json:"partialPayoutTx"`
	CreatedAt       time.Time `json:"createdAt"`
	Signature       []byte    `json:"signature"`
}

// NewArbitrationRuling returns a ruling for winner signed with the
// arbitrator profile key.
func NewArbitrationRuling(
	t Trade, winner Role, partialPayoutTx string, createdAt time.Time,
	arbitratorProfileKey *btcec.PrivateKey,
) (*ArbitrationRuling, error) {
	if !winner.IsPrincipal() {
		return nil, ErrInvalidRole
	}
	if len(partialPayoutTx) <= 0 {
		return nil, fmt.Errorf("%w: missing payout transaction", ErrValidation)
	}
	r := &ArbitrationRuling{
		EscrowAddress:   t.EscrowAddress,
		Winner:          winner,
		PartialPayoutTx: partialPayoutTx,
		CreatedAt:       createdAt.UTC(),
	}
	r.ID = idFromDigest(r.Digest())
	sig, err := signDigest(r.Digest(), arbitratorProfileKey, t.ArbitratorPubKey())
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	return r, nil
}

// Digest ...
func (r ArbitrationRuling) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(r.EscrowAddress),
		canonical.Enum(r.Winner),
		canonical.String(r.PartialPayoutTx),
		canonical.Time(r.CreatedAt),
	)
}

// Verify ...
func (r ArbitrationRuling) Verify(pubkey string) error {
	if r.ID != idFromDigest(r.Digest()) {
		return fmt.Errorf("%w: arbitration ruling id does not match content", ErrValidation)
	}
	return verifyDigest(r.Digest(), r.Signature, pubkey)
}

// PayoutReason tells how the escrow was released.
type PayoutReason string

const (
	PayoutReasonPayout     PayoutReason = "PAYOUT"
	PayoutReasonRefund     PayoutReason = "REFUND"
	PayoutReasonArbitrated PayoutReason = "ARBITRATED"
)

func (r PayoutReason) String() string {
	return string(r)
}

// PayoutCompleted announces the broadcast of the fully signed payout.
type PayoutCompleted struct {
	ID            string       `json:"id"`
	EscrowAddress string       `json:"escrowAddress"`
	Author        Role         `json:"author"`
	PayoutTxHex   string       `json:"payoutTxHex"`
	Reason        PayoutReason `json:"reason"`
	CreatedAt     time.Time    `json:"createdAt"`
	Signature     []byte       `json:"signature"`
}

// NewPayoutCompleted ...
func NewPayoutCompleted(
	t Trade, author Role, payoutTxHex string, reason PayoutReason,
	createdAt time.Time, authorProfileKey *btcec.PrivateKey,
) (*PayoutCompleted, error) {
	if !author.IsValid() {
		return nil, ErrInvalidRole
	}
	if _, err := DecodeTx(payoutTxHex); err != nil {
		return nil, err
	}
	p := &PayoutCompleted{
		EscrowAddress: t.EscrowAddress,
		Author:        author,
		PayoutTxHex:   payoutTxHex,
		Reason:        reason,
		CreatedAt:     createdAt.UTC(),
	}
	p.ID = idFromDigest(p.Digest())
	sig, err := signDigest(p.Digest(), authorProfileKey, t.ProfilePubKey(author))
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

// Digest ...
func (p PayoutCompleted) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(p.EscrowAddress),
		canonical.Enum(p.Author),
		canonical.String(p.PayoutTxHex),
		canonical.Enum(p.Reason),
		canonical.Time(p.CreatedAt),
	)
}

// Verify ...
func (p PayoutCompleted) Verify(pubkey string) error {
	if p.ID != idFromDigest(p.Digest()) {
		return fmt.Errorf("%w: payout completed id does not match content", ErrValidation)
	}
	return verifyDigest(p.Digest(), p.Signature, pubkey)
}

// DecodeTx parses a hex encoded transaction.
func DecodeTx(txHex string) (*wire.MsgTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return tx, nil
}

// EncodeTx returns the hex encoding of tx.
func EncodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
