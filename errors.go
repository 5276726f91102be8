package tickdesk

import "errors"

// Common errors
var (
	// ErrNotConnected is returned when attempting to send on a feed that is not open
	ErrNotConnected = errors.New("feed not connected")

	// ErrAlreadyConnected is returned when connecting an already connected feed
	ErrAlreadyConnected = errors.New("feed already connected")

	// ErrInvalidAccessToken is returned when the access token is empty or invalid
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrReconnectExhausted is returned when the feed has used up its reconnect
	// attempts and requires an explicit Connect call
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrInvalidInstrument is returned when an instrument is missing its identity
	ErrInvalidInstrument = errors.New("invalid instrument")

	// ErrNoExpiries is returned when the expiry endpoint yields an empty list
	ErrNoExpiries = errors.New("no expiry dates found")

	// ErrStaleResponse is returned when a snapshot response arrives for an
	// instrument that is no longer selected
	ErrStaleResponse = errors.New("response for superseded selection")

	// ErrAlreadyLoaded is returned when the initial chain load for a selection
	// has already run or is in flight
	ErrAlreadyLoaded = errors.New("initial load already performed")
)
