package signaling

import "errors"

var (
	// ErrNotConnected is returned by Send when the relay connection is not open.
	ErrNotConnected = errors.New("signaling: not connected")

	// ErrTransportLost is the cause reported once the relay connection drops.
	// Room membership can no longer be trusted after it.
	ErrTransportLost = errors.New("signaling: transport lost")

	// ErrClosed is the cause recorded when the client was closed locally.
	ErrClosed = errors.New("signaling: client closed")

	// ErrNoIdentity is returned by Join before the relay assigned an id.
	ErrNoIdentity = errors.New("signaling: no identity assigned")

	// ErrMalformed marks inbound messages that cannot be decoded.
	ErrMalformed = errors.New("signaling: malformed message")
)
