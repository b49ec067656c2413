package server

import (
	"context"
	"fmt"
)

// Responder produces the reply to one user message. history includes the
// message being answered as its last entry.
type Responder interface {
	Reply(ctx context.Context, sessionID string, history []Message) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, sessionID string, history []Message) (string, error)

func (f ResponderFunc) Reply(ctx context.Context, sessionID string, history []Message) (string, error) {
	return f(ctx, sessionID, history)
}

// EchoResponder answers with the user's message.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, _ string, history []Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("failed to reply: empty history")
	}
	return "You said: " + history[len(history)-1].Content, nil
}

var (
	_ Responder = EchoResponder{}
	_ Responder = ResponderFunc(nil)
)
