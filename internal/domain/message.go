package domain

import "time"

// InboundMessage is one message received by a messaging session.
// It is created by the session driver and consumed once by the responder.
type InboundMessage struct {
	ID        string
	Channel   string // driver that received it
	Sender    string // opaque sender id, also the reply address
	Text      string
	Timestamp time.Time
}

// ReplyRule maps a trigger text to a canned response.
// MatchText is compared case-insensitively.
type ReplyRule struct {
	MatchText    string `json:"match" yaml:"match"`
	ResponseText string `json:"response" yaml:"response"`
}
