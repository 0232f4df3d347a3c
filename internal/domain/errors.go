package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotConnected indicates a channel operation on a channel that is not connected
	ErrNotConnected = errors.New("channel not connected")
	// ErrUnknownTopic indicates a subscription topic kind the channel does not support
	ErrUnknownTopic = errors.New("unknown subscription topic")
	// ErrSessionClosed indicates the session has been disposed or not started
	ErrSessionClosed = errors.New("session closed")
)
