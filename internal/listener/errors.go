package listener

import "errors"

// Domain-specific errors for listener operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingToken is returned by New when no access token is configured.
	// This is a fatal configuration error, not a retryable condition.
	ErrMissingToken = errors.New("listener: access token is required")

	// ErrMissingPublisher is returned by New when no publisher is configured.
	ErrMissingPublisher = errors.New("listener: publisher is required")

	// ErrAlreadyRunning is returned by Start when the listener is running.
	ErrAlreadyRunning = errors.New("listener: already running")

	// ErrConnectFailed indicates the WebSocket dial failed.
	ErrConnectFailed = errors.New("listener: connect failed")

	// ErrProtocolViolation indicates the server broke the handshake contract.
	ErrProtocolViolation = errors.New("listener: protocol violation")

	// ErrAuthFailed indicates the server rejected the access token.
	ErrAuthFailed = errors.New("listener: authentication failed")
)
