package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady              = errors.New("session not ready")
	ErrEmptyConnectionString = errors.New("empty connection string")
	ErrUnsupportedScheme     = errors.New("unsupported connection scheme")
	ErrQRExpired             = errors.New("pairing code expired")
	ErrLoggedOut             = errors.New("logged out from device")
)

// ConnectionError reports a data store that is unreachable or misconfigured.
type ConnectionError struct {
	Target string // connection string with credentials redacted
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("store connection: %v", e.Err)
	}
	return fmt.Sprintf("store connection %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError reports a failed or expired pairing attempt.
type AuthenticationError struct {
	Channel string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication: %v", e.Channel, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// SendError reports a reply that could not be delivered.
type SendError struct {
	Channel string
	To      string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send to %s: %v", e.Channel, e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
