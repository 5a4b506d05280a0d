package domain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/bytabit/escrowd/pkg/canonical"
)

const week = 7 * 24 * time.Hour

// BadgeType is a kind of reputation badge. Each type has a fixed fee and
// validity period.
type BadgeType string

const (
	BadgeTypeBetaTester      BadgeType = "BETA_TESTER"
	BadgeTypeOfferMaker      BadgeType = "OFFER_MAKER"
	BadgeTypeDetailsVerified BadgeType = "DETAILS_VERIFIED"
)

type badgeTypeInfo struct {
	feeSats       int64
	validityWeeks int
}

var badgeTypes = map[BadgeType]badgeTypeInfo{
	BadgeTypeBetaTester:      {feeSats: 1000, validityWeeks: 52},
	BadgeTypeOfferMaker:      {feeSats: 10000, validityWeeks: 4},
	BadgeTypeDetailsVerified: {feeSats: 50000, validityWeeks: 26},
}

func (t BadgeType) String() string {
	return string(t)
}

// IsValid ...
func (t BadgeType) IsValid() bool {
	_, ok := badgeTypes[t]
	return ok
}

// FeeSats is the price of the badge in satoshis.
func (t BadgeType) FeeSats() int64 {
	return badgeTypes[t].feeSats
}

// Validity ...
func (t BadgeType) Validity() time.Duration {
	return time.Duration(badgeTypes[t].validityWeeks) * week
}

// Badge is a time bounded reputation credential tied to a profile key and
// bought with a fee payment.
type Badge struct {
	ID            string         `json:"id"`
	ProfilePubKey string         `json:"profilePubKey"`
	BadgeType     BadgeType      `json:"badgeType"`
	ValidFrom     time.Time      `json:"validFrom"`
	ValidTo       time.Time      `json:"validTo"`
	CurrencyCode  *CurrencyCode  `json:"currencyCode,omitempty"`
	PaymentMethod *PaymentMethod `json:"paymentMethod,omitempty"`
	DetailsHash   string         `json:"detailsHash,omitempty"`
}

// NewBadge returns a badge of the given type valid from validFrom for the
// type's validity period. OFFER_MAKER badges require currency and payment
// method; DETAILS_VERIFIED badges require payment method and details hash.
func NewBadge(
	profilePubKey string, badgeType BadgeType, validFrom time.Time,
	currency *CurrencyCode, method *PaymentMethod, detailsHash string,
) (*Badge, error) {
	if !badgeType.IsValid() {
		return nil, ErrInvalidBadgeType
	}
	validFrom = validFrom.UTC()
	b := &Badge{
		ProfilePubKey: profilePubKey,
		BadgeType:     badgeType,
		ValidFrom:     validFrom,
		ValidTo:       validFrom.Add(badgeType.Validity()),
		CurrencyCode:  currency,
		PaymentMethod: method,
		DetailsHash:   detailsHash,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.ID = b.ComputeID()
	return b, nil
}

// Validate ...
func (b Badge) Validate() error {
	if !b.BadgeType.IsValid() {
		return ErrInvalidBadgeType
	}
	if err := validatePubKey(b.ProfilePubKey); err != nil {
		return err
	}
	if !b.ValidTo.After(b.ValidFrom) {
		return fmt.Errorf("%w: badge validity window is empty", ErrValidation)
	}
	if b.CurrencyCode != nil && !b.CurrencyCode.IsValid() {
		return ErrUnknownCurrency
	}
	if b.PaymentMethod != nil && !b.PaymentMethod.IsValid() {
		return ErrUnsupportedPaymentMethod
	}
	if b.CurrencyCode != nil && b.PaymentMethod != nil &&
		!b.CurrencyCode.Supports(*b.PaymentMethod) {
		return ErrUnsupportedPaymentMethod
	}

	switch b.BadgeType {
	case BadgeTypeOfferMaker:
		if b.CurrencyCode == nil || b.PaymentMethod == nil {
			return ErrMissingBadgeDetails
		}
	case BadgeTypeDetailsVerified:
		if b.PaymentMethod == nil || len(b.DetailsHash) <= 0 {
			return ErrMissingBadgeDetails
		}
	}
	return nil
}

// Digest ...
func (b Badge) Digest() [32]byte {
	var currency, method canonical.Field
	if b.CurrencyCode != nil {
		currency = canonical.Enum(*b.CurrencyCode)
	}
	if b.PaymentMethod != nil {
		method = canonical.Enum(*b.PaymentMethod)
	}
	return canonical.Hash(
		canonical.String(b.ProfilePubKey),
		canonical.Enum(b.BadgeType),
		canonical.Time(b.ValidFrom),
		canonical.Time(b.ValidTo),
		canonical.Optional(currency),
		canonical.Optional(method),
		canonical.String(b.DetailsHash),
	)
}

// ComputeID ...
func (b Badge) ComputeID() string {
	return idFromDigest(b.Digest())
}

// IsValidAt returns whether now falls within the badge validity window.
func (b Badge) IsValidAt(now time.Time) bool {
	return !now.Before(b.ValidFrom) && now.Before(b.ValidTo)
}

// IsExpired ...
func (b Badge) IsExpired(now time.Time) bool {
	return !now.Before(b.ValidTo)
}

// BadgeRequest proves the payment of a badge fee: the profile owner signs
// the badge id together with the fee transaction.
type BadgeRequest struct {
	Badge         Badge  `json:"badge"`
	BtcAmount     int64  `json:"btcAmount"`
	TransactionID string `json:"transactionId"`
	Signature     []byte `json:"signature"`
}

// NewBadgeRequest returns a badge request signed with the profile key.
func NewBadgeRequest(
	badge Badge, transactionID string, key *btcec.PrivateKey,
) (*BadgeRequest, error) {
	if err := badge.Validate(); err != nil {
		return nil, err
	}
	if len(transactionID) <= 0 {
		return nil, fmt.Errorf("%w: missing fee transaction", ErrValidation)
	}
	badge.ID = badge.ComputeID()
	r := &BadgeRequest{
		Badge:         badge,
		BtcAmount:     badge.BadgeType.FeeSats(),
		TransactionID: transactionID,
	}
	sig, err := signDigest(r.Digest(), key, badge.ProfilePubKey)
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	return r, nil
}

// Digest ...
func (r BadgeRequest) Digest() [32]byte {
	return canonical.Hash(
		canonical.String(r.Badge.ComputeID()),
		canonical.Int(r.BtcAmount),
		canonical.String(r.TransactionID),
	)
}

// Verify checks the badge content, id, fee amount and the signature of the
// profile owner.
func (r BadgeRequest) Verify() error {
	if err := r.Badge.Validate(); err != nil {
		return err
	}
	if r.Badge.ID != r.Badge.ComputeID() {
		return fmt.Errorf("%w: badge id does not match content", ErrValidation)
	}
	if r.BtcAmount < r.Badge.BadgeType.FeeSats() {
		return fmt.Errorf("%w: badge fee too low", ErrAmountOutOfRange)
	}
	return verifyDigest(r.Digest(), r.Signature, r.Badge.ProfilePubKey)
}

// BadgeStatus tracks the fee payment confirmation of a badge.
type BadgeStatus string

const (
	BadgeStatusPending   BadgeStatus = "PENDING"
	BadgeStatusConfirmed BadgeStatus = "CONFIRMED"
)

// BadgeRecord is the locally stored state of a badge request.
type BadgeRecord struct {
	Request BadgeRequest `json:"request"`
	Status  BadgeStatus  `json:"status"`
	Depth   int          `json:"depth"`
}

// ID ...
func (r BadgeRecord) ID() string {
	return r.Request.Badge.ID
}

// Confirm marks the badge as confirmed once its fee transaction reached
// minDepth confirmations. It returns whether the status changed.
func (r *BadgeRecord) Confirm(depth, minDepth int) bool {
	r.Depth = depth
	if r.Status == BadgeStatusConfirmed || depth < minDepth {
		return false
	}
	r.Status = BadgeStatusConfirmed
	return true
}

// IsActive returns whether the badge is confirmed and valid at now.
func (r BadgeRecord) IsActive(now time.Time) bool {
	return r.Status == BadgeStatusConfirmed && r.Request.Badge.IsValidAt(now)
}
