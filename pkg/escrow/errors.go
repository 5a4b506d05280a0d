package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrCrypto is the root of the signing errors of this package.
	ErrCrypto = errors.New("escrow crypto error")
	// ErrWrongKey is returned when cosigning with a key that is not one of
	// the three escrow keys.
	ErrWrongKey = fmt.Errorf("%w: key is not an escrow key", ErrCrypto)
	// ErrAlreadySigned is returned when the key's slot is already filled.
	ErrAlreadySigned = fmt.Errorf("%w: escrow key already signed", ErrCrypto)
	// ErrDuplicateSignature is returned when an input witness carries more
	// than one signature by the same escrow key.
	ErrDuplicateSignature = fmt.Errorf("%w: duplicate signature in witness", ErrCrypto)

	// ErrInsufficientFunds is returned when the given outputs cannot cover the
	// requested amount plus fees.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidKeys ...
	ErrInvalidKeys = errors.New("escrow requires three distinct public keys")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrUnbalancedPayout is returned when a payout would leave a non dust
	// remainder of the escrow funds unassigned.
	ErrUnbalancedPayout = errors.New("payout amount plus fee must match escrow funds")
	// ErrNotEnoughSignatures is returned when finalizing a payout that does not
	// carry two valid signatures for every input.
	ErrNotEnoughSignatures = errors.New("payout requires 2 of 3 signatures")
	// ErrInvalidPayout is returned when a finalized payout fails the escrow
	// script verification.
	ErrInvalidPayout = errors.New("payout does not satisfy the escrow script")
	// ErrNotEscrowInput is returned when inspecting an input that does not
	// spend the escrow script.
	ErrNotEscrowInput = errors.New("input does not spend the escrow output")
	// ErrMissingPrevOut ...
	ErrMissingPrevOut = errors.New("missing previous output for input")
	// ErrNoFundingOutputs ...
	ErrNoFundingOutputs = errors.New("missing escrow funding outputs")
)
