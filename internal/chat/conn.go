// Package chat provides the conversation logic of the client: assembling
// streamed replies and enforcing a single in-flight turn per session.
package chat

import (
	"github.com/omochice/chatstream/internal/client"
	"github.com/omochice/chatstream/pkg/protocol"
)

// Transport abstracts the connection the controller drives.
// This interface isolates websocket details from chat logic.
type Transport interface {
	// Send writes one utterance. It is dropped when not connected.
	Send(u protocol.Utterance)

	// Connected reports the current connection state.
	Connected() bool

	// OnStateChange registers the connection-state listener.
	OnStateChange(fn func(connected bool))

	// OnFrame registers the inbound-frame listener.
	OnFrame(fn func(protocol.Frame))
}

var _ Transport = (*client.Connection)(nil)
