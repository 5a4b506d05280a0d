package application

import (
	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/pkg/escrow"
)

// TradeInfo is the projection of a trade as seen by the local party.
type TradeInfo struct {
	Trade domain.Trade `json:"trade"`
	// Status is the folded status, or STALLED if the trade did not progress
	// within the configured timeout.
	Status     domain.TradeStatus `json:"status"`
	NextAction domain.Action      `json:"nextAction"`
}

// TradeUpdate is published every time an event is appended to a trade.
type TradeUpdate struct {
	Trade domain.Trade      `json:"trade"`
	Event domain.TradeEvent `json:"-"`
	Type  domain.EventType  `json:"type"`
	Seq   int               `json:"seq"`
}

// Balance of the wallet in sats.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
	Reserved    int64 `json:"reserved"`
}

// Total ...
func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed + b.Reserved
}

// SignedTx is a wallet transaction ready to be broadcasted. Its inputs are
// reserved by Owner until the broadcast succeeds or fails.
type SignedTx struct {
	Owner  string
	TxID   string
	TxHex  string
	Fee    int64
	Inputs []escrow.Utxo
	Change int64
	// ChangeAddress is empty if the tx has no change output.
	ChangeAddress string
}

// PendingTradeRequest is a request sent by the local party that was not
// accepted yet.
type PendingTradeRequest struct {
	Offer   domain.SignedOffer  `json:"offer"`
	Request domain.TradeRequest `json:"request"`
}
