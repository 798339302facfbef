package domain

import "context"

// Replier sends a text reply to a sender through the active session.
type Replier interface {
	Reply(ctx context.Context, to string, text string) error
}

// SessionHandler receives session lifecycle and message events.
// Calls are never concurrent for one session; handlers must return quickly.
type SessionHandler interface {
	OnQRChallenge(payload string)
	OnReady()
	OnMessage(msg InboundMessage)
	OnDisconnected(err error)
}
