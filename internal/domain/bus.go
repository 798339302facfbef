package domain

// MessageBus hands inbound messages from the session to the responder.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
