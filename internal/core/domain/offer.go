package domain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/bytabit/escrowd/pkg/canonical"
	"github.com/shopspring/decimal"
)

const btcScale = 8

// OfferType tells whether the maker wants to buy or sell bitcoin.
type OfferType string

const (
	OfferTypeBuy  OfferType = "BUY"
	OfferTypeSell OfferType = "SELL"
)

func (t OfferType) String() string {
	return string(t)
}

// IsValid ...
func (t OfferType) IsValid() bool {
	return t == OfferTypeBuy || t == OfferTypeSell
}

// Offer is a maker's standing proposal to trade bitcoin for fiat. Amounts
// and price are in the offer currency.
type Offer struct {
	ID                 string          `json:"id"`
	OfferType          OfferType       `json:"offerType"`
	MakerProfilePubKey string          `json:"makerProfilePubKey"`
	CurrencyCode       CurrencyCode    `json:"currencyCode"`
	PaymentMethod      PaymentMethod   `json:"paymentMethod"`
	MinAmount          decimal.Decimal `json:"minAmount"`
	MaxAmount          decimal.Decimal `json:"maxAmount"`
	Price              decimal.Decimal `json:"price"`
	// IsMine is local only and never part of the hash.
	IsMine bool `json:"isMine,omitempty"`
}

// NewOffer validates the arguments, rounds amounts to the currency scale and
// returns an offer with its id computed.
func NewOffer(
	offerType OfferType, makerProfilePubKey string,
	currency CurrencyCode, method PaymentMethod,
	minAmount, maxAmount, price decimal.Decimal,
) (*Offer, error) {
	if !currency.IsValid() {
		return nil, ErrUnknownCurrency
	}
	o := &Offer{
		OfferType:          offerType,
		MakerProfilePubKey: makerProfilePubKey,
		CurrencyCode:       currency,
		PaymentMethod:      method,
		MinAmount:          currency.Round(minAmount),
		MaxAmount:          currency.Round(maxAmount),
		Price:              currency.Round(price),
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.ID = o.ComputeID()
	return o, nil
}

// Validate ...
func (o Offer) Validate() error {
	if !o.OfferType.IsValid() {
		return ErrInvalidOfferType
	}
	if err := validatePubKey(o.MakerProfilePubKey); err != nil {
		return err
	}
	if !o.CurrencyCode.IsValid() {
		return ErrUnknownCurrency
	}
	if !o.PaymentMethod.IsValid() || !o.CurrencyCode.Supports(o.PaymentMethod) {
		return ErrUnsupportedPaymentMethod
	}
	if !o.Price.IsPositive() {
		return ErrInvalidAmount
	}
	if err := o.CurrencyCode.ValidateTradeAmount(o.MinAmount); err != nil {
		return err
	}
	if err := o.CurrencyCode.ValidateTradeAmount(o.MaxAmount); err != nil {
		return err
	}
	if o.MinAmount.GreaterThan(o.MaxAmount) {
		return ErrInvalidAmountRange
	}
	return nil
}

// Digest is the canonical hash of the offer significant fields.
func (o Offer) Digest() [32]byte {
	scale := o.CurrencyCode.Scale()
	return canonical.Hash(
		canonical.Enum(o.OfferType),
		canonical.String(o.MakerProfilePubKey),
		canonical.Enum(o.CurrencyCode),
		canonical.Enum(o.PaymentMethod),
		canonical.Decimal(o.MinAmount, scale),
		canonical.Decimal(o.MaxAmount, scale),
		canonical.Decimal(o.Price, scale),
	)
}

// ComputeID ...
func (o Offer) ComputeID() string {
	return idFromDigest(o.Digest())
}

// MakerRole returns the trade role of the offer maker.
func (o Offer) MakerRole() Role {
	if o.OfferType == OfferTypeSell {
		return RoleSeller
	}
	return RoleBuyer
}

// TakerRole returns the trade role of whoever takes the offer.
func (o Offer) TakerRole() Role {
	if o.OfferType == OfferTypeSell {
		return RoleBuyer
	}
	return RoleSeller
}

// BtcAmount returns the satoshis committed for paymentAmount at the offer
// price, rounded half-up to 8 decimals.
func (o Offer) BtcAmount(paymentAmount decimal.Decimal) (int64, error) {
	amount := o.CurrencyCode.Round(paymentAmount)
	if !amount.IsPositive() || !o.Price.IsPositive() {
		return 0, ErrInvalidAmount
	}
	btc := amount.Div(o.Price).Round(btcScale)
	return btc.Shift(btcScale).IntPart(), nil
}

// ValidatePaymentAmount checks amount against offer and currency bounds.
func (o Offer) ValidatePaymentAmount(amount decimal.Decimal) error {
	if err := o.CurrencyCode.ValidateTradeAmount(amount); err != nil {
		return err
	}
	amount = o.CurrencyCode.Round(amount)
	if amount.LessThan(o.MinAmount) || amount.GreaterThan(o.MaxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

// SignedOffer is an offer with the maker's signature over its canonical
// hash. It is immutable: edits produce a new offer.
type SignedOffer struct {
	Offer
	Signature []byte `json:"signature"`
}

// SignOffer signs the offer with the maker's profile key.
func SignOffer(o Offer, key *btcec.PrivateKey) (*SignedOffer, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.ID = o.ComputeID()
	sig, err := signDigest(o.Digest(), key, o.MakerProfilePubKey)
	if err != nil {
		return nil, err
	}
	return &SignedOffer{Offer: o, Signature: sig}, nil
}

// Verify checks that the offer is valid, that its id matches its content and
// that it is signed by its maker.
func (s SignedOffer) Verify() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID != s.ComputeID() {
		return fmt.Errorf("%w: offer id does not match content", ErrValidation)
	}
	return verifyDigest(s.Digest(), s.Signature, s.MakerProfilePubKey)
}

func idFromDigest(digest [32]byte) string {
	return canonical.EncodeID(digest)
}
