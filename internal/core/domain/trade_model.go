package domain

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

// Role is the part a party plays in a trade.
type Role string

const (
	RoleBuyer      Role = "BUYER"
	RoleSeller     Role = "SELLER"
	RoleArbitrator Role = "ARBITRATOR"
)

func (r Role) String() string {
	return string(r)
}

// IsValid ...
func (r Role) IsValid() bool {
	return r == RoleBuyer || r == RoleSeller || r == RoleArbitrator
}

// IsPrincipal returns whether the role is buyer or seller.
func (r Role) IsPrincipal() bool {
	return r == RoleBuyer || r == RoleSeller
}

// TradeStatus is derived from the event log, never stored.
type TradeStatus string

const (
	TradeStatusUndefined   TradeStatus = ""
	TradeStatusCreated     TradeStatus = "CREATED"
	TradeStatusFunded      TradeStatus = "FUNDED"
	TradeStatusPaid        TradeStatus = "PAID"
	TradeStatusArbitrating TradeStatus = "ARBITRATING"
	TradeStatusCompleted   TradeStatus = "COMPLETED"
	// TradeStatusStalled is never produced by the fold. It is reported by
	// StatusAt when a trade did not progress within a timeout.
	TradeStatusStalled TradeStatus = "STALLED"
)

func (s TradeStatus) String() string {
	return string(s)
}

// IsTerminal ...
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusCompleted
}

// Action is the next step a role is expected to take on a trade.
type Action string

const (
	ActionNone            Action = "NONE"
	ActionFund            Action = "FUND"
	ActionWaitFunding     Action = "WAIT_FUNDING"
	ActionPay             Action = "PAY"
	ActionWaitPayment     Action = "WAIT_PAYMENT"
	ActionCompletePayout  Action = "COMPLETE_PAYOUT"
	ActionWaitPayout      Action = "WAIT_PAYOUT"
	ActionArbitrate       Action = "ARBITRATE"
	ActionWaitArbitration Action = "WAIT_ARBITRATION"
)

// ConfidenceType classifies the network propagation of a transaction.
type ConfidenceType string

const (
	ConfidenceUnknown ConfidenceType = "UNKNOWN"
	// ConfidencePending means seen in mempool.
	ConfidencePending ConfidenceType = "PENDING"
	// ConfidenceBuilding means included in a block.
	ConfidenceBuilding ConfidenceType = "BUILDING"
	// ConfidenceDead means double spent or evicted.
	ConfidenceDead ConfidenceType = "DEAD"
)

// TransactionWithAmt is a snapshot of a transaction at the moment it was
// observed. Observing the same transaction at a greater depth produces a new
// snapshot.
type TransactionWithAmt struct {
	Hash           string         `json:"hash"`
	ConfidenceType ConfidenceType `json:"confidenceType"`
	Depth          int            `json:"depth"`
	Timestamp      time.Time      `json:"timestamp"`
	Memo           string         `json:"memo,omitempty"`
	// NetAmount is signed: positive means received by the observed address.
	NetAmount int64 `json:"netAmount"`
}

// IsRefinementOf returns whether the snapshot is a later observation of the
// same transaction.
func (t TransactionWithAmt) IsRefinementOf(other TransactionWithAmt) bool {
	return t.Hash == other.Hash
}

// HasChanged returns whether the snapshot differs from other in confidence
// or depth.
func (t TransactionWithAmt) HasChanged(other TransactionWithAmt) bool {
	return t.ConfidenceType != other.ConfidenceType || t.Depth != other.Depth
}

// Trade is the projection of a trade's ordered event log. It has value
// semantics: Apply returns a new Trade and never mutates the receiver.
type Trade struct {
	EscrowAddress             string              `json:"escrowAddress"`
	Network                   string              `json:"network"`
	Role                      Role                `json:"role"`
	Offer                     *SignedOffer        `json:"offer,omitempty"`
	TradeRequest              *TradeRequest       `json:"tradeRequest,omitempty"`
	TradeAcceptance           *TradeAcceptance    `json:"tradeAcceptance,omitempty"`
	PaymentRequest            *PaymentRequest     `json:"paymentRequest,omitempty"`
	FundingTransactionWithAmt *TransactionWithAmt `json:"fundingTransactionWithAmt,omitempty"`
	FundingOutputs            []escrow.Utxo       `json:"fundingOutputs,omitempty"`
	PayoutRequest             *PayoutRequest      `json:"payoutRequest,omitempty"`
	ArbitrateRequest          *ArbitrateRequest   `json:"arbitrateRequest,omitempty"`
	PayoutCompleted           *PayoutCompleted    `json:"payoutCompleted,omitempty"`
	PayoutTransactionWithAmt  *TransactionWithAmt `json:"payoutTransactionWithAmt,omitempty"`
	Status                    TradeStatus         `json:"status"`
	EventIDs                  []string            `json:"eventIds"`
	UpdatedAt                 time.Time           `json:"updatedAt"`
}

// IsCreated ...
func (t Trade) IsCreated() bool {
	return t.Status != TradeStatusUndefined
}

// IsCompleted ...
func (t Trade) IsCompleted() bool {
	return t.Status == TradeStatusCompleted
}

func (t Trade) isSellOffer() bool {
	return t.Offer != nil && t.Offer.OfferType == OfferTypeSell
}

// BuyerProfilePubKey ...
func (t Trade) BuyerProfilePubKey() string {
	if !t.IsCreated() {
		return ""
	}
	if t.isSellOffer() {
		return t.TradeRequest.TakerProfilePubKey
	}
	return t.Offer.MakerProfilePubKey
}

// SellerProfilePubKey ...
func (t Trade) SellerProfilePubKey() string {
	if !t.IsCreated() {
		return ""
	}
	if t.isSellOffer() {
		return t.Offer.MakerProfilePubKey
	}
	return t.TradeRequest.TakerProfilePubKey
}

// ArbitratorPubKey is both the profile and the escrow key of the arbitrator.
func (t Trade) ArbitratorPubKey() string {
	if !t.IsCreated() {
		return ""
	}
	return t.TradeAcceptance.ArbitratorPubKey
}

// ProfilePubKey returns the key authoring messages for role.
func (t Trade) ProfilePubKey(role Role) string {
	switch role {
	case RoleBuyer:
		return t.BuyerProfilePubKey()
	case RoleSeller:
		return t.SellerProfilePubKey()
	case RoleArbitrator:
		return t.ArbitratorPubKey()
	default:
		return ""
	}
}

// EscrowPubKey returns the escrow key of role.
func (t Trade) EscrowPubKey(role Role) string {
	if !t.IsCreated() {
		return ""
	}
	takerKey := t.TradeRequest.TakerEscrowPubKey
	makerKey := t.TradeAcceptance.MakerEscrowPubKey
	switch role {
	case RoleBuyer:
		if t.isSellOffer() {
			return takerKey
		}
		return makerKey
	case RoleSeller:
		if t.isSellOffer() {
			return makerKey
		}
		return takerKey
	case RoleArbitrator:
		return t.ArbitratorPubKey()
	default:
		return ""
	}
}

// PayoutAddress returns where funds released to role are sent.
func (t Trade) PayoutAddress(role Role) string {
	if !t.IsCreated() {
		return ""
	}
	takerAddr := t.TradeRequest.TakerPayoutAddress
	makerAddr := t.TradeAcceptance.MakerPayoutAddress
	switch role {
	case RoleBuyer:
		if t.isSellOffer() {
			return takerAddr
		}
		return makerAddr
	case RoleSeller:
		if t.isSellOffer() {
			return makerAddr
		}
		return takerAddr
	default:
		return ""
	}
}

// BtcAmount is the satoshis the seller committed to lock in escrow.
func (t Trade) BtcAmount() int64 {
	if t.TradeRequest == nil {
		return 0
	}
	return t.TradeRequest.BtcAmount
}

// NetworkParams ...
func (t Trade) NetworkParams() (*chaincfg.Params, error) {
	return NetworkParams(t.Network)
}

// Escrow returns the 2-of-3 escrow of the trade.
func (t Trade) Escrow() (*escrow.Escrow, error) {
	net, err := t.NetworkParams()
	if err != nil {
		return nil, err
	}
	return deriveEscrow(
		net,
		t.EscrowPubKey(RoleBuyer),
		t.EscrowPubKey(RoleSeller),
		t.EscrowPubKey(RoleArbitrator),
	)
}

// RoleOfEscrowKey returns the role whose escrow key is pubkey.
func (t Trade) RoleOfEscrowKey(pubkey string) (Role, bool) {
	for _, r := range []Role{RoleBuyer, RoleSeller, RoleArbitrator} {
		if t.EscrowPubKey(r) == pubkey {
			return r, true
		}
	}
	return "", false
}

// HasEvent returns whether the event with the given id was applied.
func (t Trade) HasEvent(id string) bool {
	for _, e := range t.EventIDs {
		if e == id {
			return true
		}
	}
	return false
}

// StatusAt returns the trade status, or STALLED if the trade is not
// terminal and no event was applied within timeout before now.
func (t Trade) StatusAt(now time.Time, timeout time.Duration) TradeStatus {
	if !t.IsCreated() || t.Status.IsTerminal() || timeout <= 0 {
		return t.Status
	}
	if now.Sub(t.UpdatedAt) > timeout {
		return TradeStatusStalled
	}
	return t.Status
}

// NextAction returns what role is expected to do next.
func (t Trade) NextAction(role Role) Action {
	switch t.Status {
	case TradeStatusCreated:
		switch role {
		case RoleSeller:
			return ActionFund
		case RoleBuyer:
			return ActionWaitFunding
		}
	case TradeStatusFunded:
		switch role {
		case RoleBuyer:
			return ActionPay
		case RoleSeller:
			return ActionWaitPayment
		}
	case TradeStatusPaid:
		switch role {
		case RoleSeller:
			return ActionCompletePayout
		case RoleBuyer:
			return ActionWaitPayout
		}
	case TradeStatusArbitrating:
		if role == RoleArbitrator {
			return ActionArbitrate
		}
		return ActionWaitArbitration
	}
	return ActionNone
}

func deriveEscrow(net *chaincfg.Params, buyer, seller, arbitrator string) (*escrow.Escrow, error) {
	buyerKey, err := crypto.ParsePubKeyHex(buyer)
	if err != nil {
		return nil, err
	}
	sellerKey, err := crypto.ParsePubKeyHex(seller)
	if err != nil {
		return nil, err
	}
	arbitratorKey, err := crypto.ParsePubKeyHex(arbitrator)
	if err != nil {
		return nil, err
	}
	return escrow.New(net, buyerKey, sellerKey, arbitratorKey)
}

// NetworkParams returns the chain parameters for a network name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case "testnet", chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case "regtest", chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, ErrUnknownNetwork
	}
}
