package application

import (
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
)

var (
	// ErrServiceUnavailable is returned when the dispatcher is shutting down.
	ErrServiceUnavailable = errors.New("service is unavailable, try again later")
	// ErrNotExpectedAction is returned when the local party asks for an
	// action the trade does not expect from it.
	ErrNotExpectedAction = fmt.Errorf(
		"%w: action not expected from local party", domain.ErrIllegalTransition,
	)
	// ErrNotArbitrator ...
	ErrNotArbitrator = errors.New("local profile is not the arbitrator of the trade")
	// ErrMissingArbitrator is returned when taking or accepting trades
	// without a configured arbitrator.
	ErrMissingArbitrator = errors.New("arbitrator pubkey is not configured")
	// ErrNotOfferMaker ...
	ErrNotOfferMaker = errors.New("offer was not made by local profile")
	// ErrTradeRequestNotFound ...
	ErrTradeRequestNotFound = errors.New("trade request not found")
	// ErrTradeAlreadyExists ...
	ErrTradeAlreadyExists = errors.New("trade already exists")
	// ErrEscrowKeyMismatch is returned when the local escrow key does not
	// match the one committed in the trade.
	ErrEscrowKeyMismatch = errors.New("local escrow key does not match trade")
	// ErrRulingNotFound is returned when claiming the escrow of a trade in
	// arbitration before the arbitrator ruled in favor of the local party.
	ErrRulingNotFound = errors.New("arbitration ruling not found")
	// ErrMissingCreatedEvent is returned when importing a trade whose
	// creation was never shared.
	ErrMissingCreatedEvent = errors.New("trade creation not found on relay")
)
