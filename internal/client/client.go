// Package client implements the client side of the streaming chat transport:
// one duplex websocket connection per session that reports lifecycle changes
// and decoded frames to registered listeners.
package client

import "errors"

// ErrConnectAborted is returned by Connect when Disconnect was called while
// the dial was still in progress.
var ErrConnectAborted = errors.New("connect aborted")

// State is the lifecycle state of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
