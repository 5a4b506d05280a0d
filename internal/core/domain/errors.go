package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every malformed or out of range input
	// error. Inputs failing validation never change any state.
	ErrValidation = errors.New("validation error")
	// ErrIllegalTransition is returned when an event is not permitted for the
	// current trade state or for the role of its author. The event is dropped.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrOutputReserved is returned when trying to reserve an output already
	// reserved by another in-flight transaction build.
	ErrOutputReserved = errors.New("output already reserved")
	// ErrUnspentNotFound ...
	ErrUnspentNotFound = errors.New("unspent not found")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrBadgeNotFound ...
	ErrBadgeNotFound = errors.New("badge not found")
)

var (
	// ErrInvalidAmount ...
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)
	// ErrAmountOutOfRange is returned when an amount is outside the offer or
	// currency bounds.
	ErrAmountOutOfRange = fmt.Errorf("%w: amount out of range", ErrValidation)
	// ErrInvalidAmountRange is returned when an offer min amount exceeds its
	// max amount.
	ErrInvalidAmountRange = fmt.Errorf("%w: min amount greater than max amount", ErrValidation)
	// ErrUnknownCurrency ...
	ErrUnknownCurrency = fmt.Errorf("%w: unknown currency", ErrValidation)
	// ErrUnsupportedPaymentMethod ...
	ErrUnsupportedPaymentMethod = fmt.Errorf("%w: payment method not supported by currency", ErrValidation)
	// ErrInvalidOfferType ...
	ErrInvalidOfferType = fmt.Errorf("%w: invalid offer type", ErrValidation)
	// ErrInvalidRole ...
	ErrInvalidRole = fmt.Errorf("%w: invalid role", ErrValidation)
	// ErrInvalidBadgeType ...
	ErrInvalidBadgeType = fmt.Errorf("%w: invalid badge type", ErrValidation)
	// ErrMissingBadgeDetails is returned when a badge type requires currency,
	// payment method or details hash and they are missing.
	ErrMissingBadgeDetails = fmt.Errorf("%w: missing badge details", ErrValidation)
	// ErrInvalidPubKey ...
	ErrInvalidPubKey = fmt.Errorf("%w: invalid public key", ErrValidation)
	// ErrMissingSignature ...
	ErrMissingSignature = fmt.Errorf("%w: missing signature", ErrValidation)
	// ErrBadSignature is returned when a message or entity signature does not
	// match its author's key.
	ErrBadSignature = fmt.Errorf("%w: bad signature", ErrValidation)
	// ErrBtcAmountMismatch is returned when a trade request commits to a btc
	// amount that does not match payment amount and offer price.
	ErrBtcAmountMismatch = fmt.Errorf("%w: btc amount does not match price", ErrValidation)
	// ErrUnknownNetwork ...
	ErrUnknownNetwork = fmt.Errorf("%w: unknown network", ErrValidation)
	// ErrOfferMismatch is returned when trade messages refer to different
	// offers or requests.
	ErrOfferMismatch = fmt.Errorf("%w: message does not refer to this trade", ErrValidation)
)
