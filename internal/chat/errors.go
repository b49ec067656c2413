package chat

import (
	"errors"
	"fmt"
)

// ErrRejected is matched by every *RejectedError.
var ErrRejected = errors.New("message rejected")

// RejectReason says why Submit refused an utterance.
type RejectReason int

const (
	ReasonEmpty RejectReason = iota + 1
	ReasonTurnInFlight
	ReasonDisconnected
)

func (r RejectReason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty message"
	case ReasonTurnInFlight:
		return "a reply is still streaming"
	case ReasonDisconnected:
		return "not connected"
	default:
		return "unknown"
	}
}

// RejectedError is returned by Submit when an utterance is not sent.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRejected, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// AbortReason says why an in-flight turn ended without a reply.
type AbortReason int

const (
	AbortDisconnected AbortReason = iota + 1
	AbortTimeout
)

func (r AbortReason) String() string {
	switch r {
	case AbortDisconnected:
		return "disconnected"
	case AbortTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
