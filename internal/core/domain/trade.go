package domain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/bytabit/escrowd/pkg/crypto"
	"github.com/bytabit/escrowd/pkg/escrow"
)

// RejectedEvent is an event dropped by Fold together with the reason.
type RejectedEvent struct {
	Event TradeEvent
	Err   error
}

// Replay folds events into a new Trade.
func Replay(events []TradeEvent) (Trade, []RejectedEvent) {
	return Fold(Trade{}, events)
}

// Fold applies events in order on top of t. Events that cannot be applied
// are skipped and returned along with the reason.
func Fold(t Trade, events []TradeEvent) (Trade, []RejectedEvent) {
	rejected := make([]RejectedEvent, 0)
	for _, e := range events {
		next, err := t.Apply(e)
		if err != nil {
			rejected = append(rejected, RejectedEvent{e, err})
			continue
		}
		t = next
	}
	return t, rejected
}

// Apply returns the trade obtained by applying e. Applying an event already
// part of the trade is a no-op. Any event not permitted by the current
// status or by its author's role fails with ErrIllegalTransition and leaves
// the trade unchanged.
func (t Trade) Apply(e TradeEvent) (Trade, error) {
	if e == nil {
		return t, fmt.Errorf("%w: nil event", ErrIllegalTransition)
	}
	id := e.ID()
	if t.HasEvent(id) {
		return t, nil
	}

	h := e.Header()
	if t.IsCreated() && h.EscrowAddress != t.EscrowAddress {
		return t, fmt.Errorf(
			"%w: event for escrow %s applied to trade %s",
			ErrIllegalTransition, h.EscrowAddress, t.EscrowAddress,
		)
	}

	next := t
	var err error
	switch ev := e.(type) {
	case CreatedEvent:
		err = next.applyCreated(ev)
	case FundedEvent:
		err = next.applyFunded(ev)
	case PaidEvent:
		err = next.applyPaid(ev)
	case ArbitratingEvent:
		err = next.applyArbitrating(ev)
	case CompletedEvent:
		err = next.applyCompleted(ev)
	default:
		err = fmt.Errorf("unknown event %T", e)
	}
	if err != nil {
		return t, fmt.Errorf("%w: %s %s: %w", ErrIllegalTransition, e.Type(), t.Status, err)
	}

	ids := make([]string, 0, len(t.EventIDs)+1)
	ids = append(ids, t.EventIDs...)
	next.EventIDs = append(ids, id)
	next.UpdatedAt = h.At
	return next, nil
}

func (t *Trade) applyCreated(e CreatedEvent) error {
	if t.Status != TradeStatusUndefined {
		return fmt.Errorf("trade already created")
	}
	if !e.Role.IsValid() || !e.Author.IsValid() {
		return ErrInvalidRole
	}
	if _, err := NetworkParams(e.Network); err != nil {
		return err
	}
	if err := e.Offer.Verify(); err != nil {
		return err
	}
	if err := e.Request.Verify(e.Offer); err != nil {
		return err
	}
	if err := e.Acceptance.Verify(e.Offer, e.Request); err != nil {
		return err
	}

	offer, request, acceptance := e.Offer, e.Request, e.Acceptance
	t.Network = e.Network
	t.Role = e.Role
	t.Offer = &offer
	t.TradeRequest = &request
	t.TradeAcceptance = &acceptance
	t.Status = TradeStatusCreated

	esc, err := t.Escrow()
	if err != nil {
		return err
	}
	addr := esc.Address.EncodeAddress()
	if addr != acceptance.EscrowAddress || addr != e.EscrowAddress {
		return fmt.Errorf("escrow address %s does not match trade keys", e.EscrowAddress)
	}
	if err := t.validatePayoutAddresses(); err != nil {
		return err
	}

	t.EscrowAddress = addr
	return nil
}

func (t *Trade) applyFunded(e FundedEvent) error {
	if t.Status != TradeStatusCreated {
		return fmt.Errorf("trade must be created")
	}
	if e.Author != RoleSeller {
		return fmt.Errorf("only seller can fund")
	}
	p := e.PaymentRequest
	if p.EscrowAddress != t.EscrowAddress {
		return ErrOfferMismatch
	}
	if err := p.Verify(t.SellerProfilePubKey()); err != nil {
		return err
	}

	tx, err := DecodeTx(p.FundingTxHex)
	if err != nil {
		return err
	}
	if txid := tx.TxHash().String(); txid != e.FundingTx.Hash {
		return fmt.Errorf("funding snapshot %s does not match tx %s", e.FundingTx.Hash, txid)
	}
	esc, err := t.Escrow()
	if err != nil {
		return err
	}
	outputs := escrow.EscrowOutputs(tx, esc)
	if funded := escrow.TotalValue(outputs); funded < t.BtcAmount() {
		return fmt.Errorf(
			"funding pays %d sats to escrow, %d expected", funded, t.BtcAmount(),
		)
	}

	fundingTx := e.FundingTx
	t.PaymentRequest = &p
	t.FundingTransactionWithAmt = &fundingTx
	t.FundingOutputs = outputs
	t.Status = TradeStatusFunded
	return nil
}

func (t *Trade) applyPaid(e PaidEvent) error {
	if t.Status != TradeStatusFunded {
		return fmt.Errorf("trade must be funded")
	}
	if e.Author != RoleBuyer {
		return fmt.Errorf("only buyer can claim payment")
	}
	p := e.PayoutRequest
	if p.EscrowAddress != t.EscrowAddress {
		return ErrOfferMismatch
	}
	if err := p.Verify(t.BuyerProfilePubKey()); err != nil {
		return err
	}

	ptx, err := t.decodePartialTx(p.PartialPayoutTx)
	if err != nil {
		return err
	}
	if err := t.checkSignedBy(ptx.Signers(), RoleBuyer); err != nil {
		return err
	}
	if err := t.checkPaysTo(ptx.Tx, t.PayoutAddress(RoleBuyer)); err != nil {
		return err
	}

	t.PayoutRequest = &p
	t.Status = TradeStatusPaid
	return nil
}

func (t *Trade) applyArbitrating(e ArbitratingEvent) error {
	if t.Status != TradeStatusFunded && t.Status != TradeStatusPaid {
		return fmt.Errorf("trade must be funded or paid")
	}
	if !e.Author.IsPrincipal() {
		return fmt.Errorf("only buyer or seller can request arbitration")
	}
	a := e.ArbitrateRequest
	if a.EscrowAddress != t.EscrowAddress || a.Author != e.Author {
		return ErrOfferMismatch
	}
	if a.ArbitratorPubKey != t.ArbitratorPubKey() {
		return fmt.Errorf("request not addressed to the trade arbitrator")
	}
	if err := a.Verify(t.ProfilePubKey(a.Author)); err != nil {
		return err
	}
	if len(a.PartialRefundTx) > 0 {
		ptx, err := t.decodePartialTx(a.PartialRefundTx)
		if err != nil {
			return err
		}
		if err := t.checkSignedBy(ptx.Signers(), a.Author); err != nil {
			return err
		}
	}

	t.ArbitrateRequest = &a
	t.Status = TradeStatusArbitrating
	return nil
}

func (t *Trade) applyCompleted(e CompletedEvent) error {
	switch t.Status {
	case TradeStatusPaid:
		if !e.Author.IsPrincipal() {
			return fmt.Errorf("only buyer or seller can complete a paid trade")
		}
	case TradeStatusArbitrating:
		if !e.Author.IsValid() {
			return ErrInvalidRole
		}
	default:
		return fmt.Errorf("trade must be paid or arbitrating")
	}
	p := e.PayoutCompleted
	if p.EscrowAddress != t.EscrowAddress || p.Author != e.Author {
		return ErrOfferMismatch
	}
	if err := p.Verify(t.ProfilePubKey(p.Author)); err != nil {
		return err
	}

	tx, err := DecodeTx(p.PayoutTxHex)
	if err != nil {
		return err
	}
	if txid := tx.TxHash().String(); txid != e.PayoutTx.Hash {
		return fmt.Errorf("payout snapshot %s does not match tx %s", e.PayoutTx.Hash, txid)
	}
	if err := t.checkSpendsFunding(tx); err != nil {
		return err
	}
	esc, err := t.Escrow()
	if err != nil {
		return err
	}
	signers, err := escrow.Signers(tx, esc, t.FundingOutputs)
	if err != nil {
		return err
	}
	if len(signers) < escrow.RequiredSigs {
		return escrow.ErrNotEnoughSignatures
	}
	if t.Status == TradeStatusArbitrating {
		if err := t.checkSignedBy(signers, RoleArbitrator); err != nil {
			return err
		}
	}
	prevOuts, err := escrow.PrevOutsOf(tx, t.FundingOutputs)
	if err != nil {
		return err
	}
	if err := escrow.VerifyScripts(tx, prevOuts); err != nil {
		return fmt.Errorf("%w: %w", escrow.ErrInvalidPayout, err)
	}

	payoutTx := e.PayoutTx
	t.PayoutCompleted = &p
	t.PayoutTransactionWithAmt = &payoutTx
	t.Status = TradeStatusCompleted
	return nil
}

func (t Trade) decodePartialTx(encoded string) (*escrow.PartialTx, error) {
	net, err := t.NetworkParams()
	if err != nil {
		return nil, err
	}
	ptx, err := escrow.DecodePartialTx(encoded, net)
	if err != nil {
		return nil, err
	}
	if ptx.Escrow.Address.EncodeAddress() != t.EscrowAddress {
		return nil, escrow.ErrNotEscrowInput
	}
	if err := t.checkSpendsFunding(ptx.Tx); err != nil {
		return nil, err
	}
	return ptx, nil
}

// VerifyRuling checks that r was signed by the trade arbitrator for a trade
// in arbitration and returns its payout, signed with the arbitrator's escrow
// key and paying the winner.
func (t Trade) VerifyRuling(r ArbitrationRuling) (*escrow.PartialTx, error) {
	if t.Status != TradeStatusArbitrating {
		return nil, fmt.Errorf("%w: trade is not in arbitration", ErrIllegalTransition)
	}
	if r.EscrowAddress != t.EscrowAddress || !r.Winner.IsPrincipal() {
		return nil, ErrOfferMismatch
	}
	if err := r.Verify(t.ArbitratorPubKey()); err != nil {
		return nil, err
	}
	ptx, err := t.decodePartialTx(r.PartialPayoutTx)
	if err != nil {
		return nil, err
	}
	if err := t.checkSignedBy(ptx.Signers(), RoleArbitrator); err != nil {
		return nil, err
	}
	if err := t.checkPaysTo(ptx.Tx, t.PayoutAddress(r.Winner)); err != nil {
		return nil, err
	}
	return ptx, nil
}

// checkSpendsFunding checks that tx spends exactly the escrow funding
// outputs.
func (t Trade) checkSpendsFunding(tx *wire.MsgTx) error {
	if len(tx.TxIn) != len(t.FundingOutputs) {
		return fmt.Errorf("payout must spend all %d funding outputs", len(t.FundingOutputs))
	}
	funding := make(map[wire.OutPoint]struct{}, len(t.FundingOutputs))
	for _, u := range t.FundingOutputs {
		outpoint, err := u.OutPoint()
		if err != nil {
			return err
		}
		funding[*outpoint] = struct{}{}
	}
	for _, in := range tx.TxIn {
		if _, ok := funding[in.PreviousOutPoint]; !ok {
			return escrow.ErrNotEscrowInput
		}
	}
	return nil
}

func (t Trade) checkSignedBy(signers []*btcec.PublicKey, role Role) error {
	want := t.EscrowPubKey(role)
	for _, s := range signers {
		if crypto.PubKeyHex(s) == want {
			return nil
		}
	}
	return fmt.Errorf("%w: missing %s signature", escrow.ErrNotEnoughSignatures, role)
}

func (t Trade) checkPaysTo(tx *wire.MsgTx, address string) error {
	net, err := t.NetworkParams()
	if err != nil {
		return err
	}
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return nil
		}
	}
	return fmt.Errorf("payout does not pay %s", address)
}

func (t Trade) validatePayoutAddresses() error {
	net, err := t.NetworkParams()
	if err != nil {
		return err
	}
	for _, r := range []Role{RoleBuyer, RoleSeller} {
		addr, err := btcutil.DecodeAddress(t.PayoutAddress(r), net)
		if err != nil {
			return fmt.Errorf("%w: invalid %s payout address: %w", ErrValidation, r, err)
		}
		if !addr.IsForNet(net) {
			return fmt.Errorf("%w: %s payout address is not for %s", ErrValidation, r, net.Name)
		}
	}
	return nil
}
