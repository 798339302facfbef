package domain

// SessionState is the lifecycle state of a messaging session.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateAwaitingQRScan
	StateReady
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingQRScan:
		return "awaiting_qr_scan"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionStatus is the state of the data-store connection attempt.
type ConnectionStatus int32

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
