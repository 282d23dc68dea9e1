package peer

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedAnswer = errors.New("answer without a pending local offer")
	ErrDuplicateAnswer  = errors.New("answer already applied")
	ErrUnexpectedOffer  = errors.New("renegotiation is not supported")
	ErrWrongRole        = errors.New("operation not valid for this role")
	ErrSessionClosed    = errors.New("session closed")
)

// NegotiationError is a recoverable failure of one peer session.
type NegotiationError struct {
	Peer string
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
