package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytabit/escrowd/pkg/canonical"
)

// EventType names a TradeEvent variant.
type EventType string

const (
	EventTypeCreated     EventType = "CREATED"
	EventTypeFunded      EventType = "FUNDED"
	EventTypePaid        EventType = "PAID"
	EventTypeArbitrating EventType = "ARBITRATING"
	EventTypeCompleted   EventType = "COMPLETED"
)

func (t EventType) String() string {
	return string(t)
}

// EventTypes returns all event variants.
func EventTypes() []EventType {
	return []EventType{
		EventTypeCreated, EventTypeFunded, EventTypePaid,
		EventTypeArbitrating, EventTypeCompleted,
	}
}

// EventHeader is carried by every event.
type EventHeader struct {
	EscrowAddress string    `json:"escrowAddress"`
	Author        Role      `json:"author"`
	At            time.Time `json:"at"`
}

// Header ...
func (h EventHeader) Header() EventHeader {
	return h
}

// TradeEvent is the closed set of events folded into a Trade: CreatedEvent,
// FundedEvent, PaidEvent, ArbitratingEvent and CompletedEvent.
type TradeEvent interface {
	Header() EventHeader
	Type() EventType
	// ID is the canonical hash of the event. Equal events have equal ids.
	ID() string
	isTradeEvent()
}

// CreatedEvent starts a trade from an offer, the taker's request and the
// maker's acceptance. Role is the local party's role.
type CreatedEvent struct {
	EventHeader
	Role       Role            `json:"role"`
	Network    string          `json:"network"`
	Offer      SignedOffer     `json:"offer"`
	Request    TradeRequest    `json:"request"`
	Acceptance TradeAcceptance `json:"acceptance"`
}

// FundedEvent records the seller's funding of the escrow.
type FundedEvent struct {
	EventHeader
	PaymentRequest PaymentRequest     `json:"paymentRequest"`
	FundingTx      TransactionWithAmt `json:"fundingTx"`
}

// PaidEvent records the buyer's claim of fiat payment.
type PaidEvent struct {
	EventHeader
	PayoutRequest PayoutRequest `json:"payoutRequest"`
}

// ArbitratingEvent records a dispute raised by buyer or seller.
type ArbitratingEvent struct {
	EventHeader
	ArbitrateRequest ArbitrateRequest `json:"arbitrateRequest"`
}

// CompletedEvent records the broadcast of the payout.
type CompletedEvent struct {
	EventHeader
	PayoutCompleted PayoutCompleted    `json:"payoutCompleted"`
	PayoutTx        TransactionWithAmt `json:"payoutTx"`
}

func (CreatedEvent) isTradeEvent()     {}
func (FundedEvent) isTradeEvent()      {}
func (PaidEvent) isTradeEvent()        {}
func (ArbitratingEvent) isTradeEvent() {}
func (CompletedEvent) isTradeEvent()   {}

func (CreatedEvent) Type() EventType     { return EventTypeCreated }
func (FundedEvent) Type() EventType      { return EventTypeFunded }
func (PaidEvent) Type() EventType        { return EventTypePaid }
func (ArbitratingEvent) Type() EventType { return EventTypeArbitrating }
func (CompletedEvent) Type() EventType   { return EventTypeCompleted }

func (e CreatedEvent) ID() string {
	return eventID(e, canonical.Enum(e.Role), canonical.String(e.Network),
		canonical.String(e.Offer.ID), canonical.String(e.Request.ID),
		canonical.String(e.Acceptance.ID))
}

func (e FundedEvent) ID() string {
	return eventID(e, canonical.String(e.PaymentRequest.ID),
		canonical.String(e.FundingTx.Hash))
}

func (e PaidEvent) ID() string {
	return eventID(e, canonical.String(e.PayoutRequest.ID))
}

func (e ArbitratingEvent) ID() string {
	return eventID(e, canonical.String(e.ArbitrateRequest.ID))
}

func (e CompletedEvent) ID() string {
	return eventID(e, canonical.String(e.PayoutCompleted.ID),
		canonical.String(e.PayoutTx.Hash))
}

func eventID(e TradeEvent, payload ...canonical.Field) string {
	h := e.Header()
	fields := append([]canonical.Field{
		canonical.Enum(e.Type()),
		canonical.String(h.EscrowAddress),
		canonical.Enum(h.Author),
		canonical.Time(h.At),
	}, payload...)
	return canonical.ID(fields...)
}

// NewCreatedEvent ...
func NewCreatedEvent(
	role Role, network string,
	offer SignedOffer, request TradeRequest, acceptance TradeAcceptance,
) CreatedEvent {
	return CreatedEvent{
		EventHeader: EventHeader{
			EscrowAddress: acceptance.EscrowAddress,
			Author:        role,
			At:            acceptance.CreatedAt,
		},
		Role:       role,
		Network:    network,
		Offer:      offer,
		Request:    request,
		Acceptance: acceptance,
	}
}

// NewFundedEvent ...
func NewFundedEvent(p PaymentRequest, fundingTx TransactionWithAmt) FundedEvent {
	return FundedEvent{
		EventHeader: EventHeader{
			EscrowAddress: p.EscrowAddress,
			Author:        RoleSeller,
			At:            p.CreatedAt,
		},
		PaymentRequest: p,
		FundingTx:      fundingTx,
	}
}

// NewPaidEvent ...
func NewPaidEvent(p PayoutRequest) PaidEvent {
	return PaidEvent{
		EventHeader: EventHeader{
			EscrowAddress: p.EscrowAddress,
			Author:        RoleBuyer,
			At:            p.CreatedAt,
		},
		PayoutRequest: p,
	}
}

// NewArbitratingEvent ...
func NewArbitratingEvent(a ArbitrateRequest) ArbitratingEvent {
	return ArbitratingEvent{
		EventHeader: EventHeader{
			EscrowAddress: a.EscrowAddress,
			Author:        a.Author,
			At:            a.CreatedAt,
		},
		ArbitrateRequest: a,
	}
}

// NewCompletedEvent ...
func NewCompletedEvent(p PayoutCompleted, payoutTx TransactionWithAmt) CompletedEvent {
	return CompletedEvent{
		EventHeader: EventHeader{
			EscrowAddress: p.EscrowAddress,
			Author:        p.Author,
			At:            p.CreatedAt,
		},
		PayoutCompleted: p,
		PayoutTx:        payoutTx,
	}
}

// EventEnvelope is the storage and wire form of a TradeEvent.
type EventEnvelope struct {
	EscrowAddress string          `json:"escrowAddress"`
	Seq           int             `json:"seq"`
	Type          EventType       `json:"type"`
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeEvent wraps e into an envelope at position seq of its trade log.
func EncodeEvent(e TradeEvent, seq int) (*EventEnvelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		EscrowAddress: e.Header().EscrowAddress,
		Seq:           seq,
		Type:          e.Type(),
		ID:            e.ID(),
		Payload:       payload,
	}, nil
}

// DecodeEvent returns the event wrapped by env.
func DecodeEvent(env EventEnvelope) (TradeEvent, error) {
	var (
		e   TradeEvent
		err error
	)
	switch env.Type {
	case EventTypeCreated:
		var v CreatedEvent
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case EventTypeFunded:
		var v FundedEvent
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case EventTypePaid:
		var v PaidEvent
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case EventTypeArbitrating:
		var v ArbitratingEvent
		err = json.Unmarshal(env.Payload, &v)
		e = v
	case EventTypeCompleted:
		var v CompletedEvent
		err = json.Unmarshal(env.Payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return e, nil
}
