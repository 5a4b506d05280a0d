package ports

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned when a remote service can't be reached or
	// answers with a server error.
	ErrNetwork = errors.New("network error")
	// ErrBroadcastRejected is returned when the bitcoin network refuses a
	// transaction.
	ErrBroadcastRejected = errors.New("broadcast rejected")
)

// BroadcastRejectedError carries the reason given by the node for refusing
// a transaction.
type BroadcastRejectedError struct {
	TxID   string
	Reason string
}

func (e *BroadcastRejectedError) Error() string {
	return fmt.Sprintf("%s: tx %s: %s", ErrBroadcastRejected, e.TxID, e.Reason)
}

func (e *BroadcastRejectedError) Unwrap() error {
	return ErrBroadcastRejected
}
