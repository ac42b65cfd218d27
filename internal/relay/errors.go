package relay

import "errors"

var (
	// ErrCapacityExceeded is returned by SessionRegistry.GetOrCreate when the
	// registry is already at MaxSessions and the requested session id does not
	// already exist.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrSessionClosed names an operation attempted against a session that
	// has already torn down. No function in this repository returns it.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidRole names an attach with a role other than sender,
	// receiver, or peer. No function returns it: connhandler rejects an
	// unknown role with HTTP 400 before upgrading the connection.
	ErrInvalidRole = errors.New("invalid role")

	// ErrRoleAlreadyTaken is returned when a sender or receiver attaches to a
	// session that already has an endpoint occupying that role.
	ErrRoleAlreadyTaken = errors.New("role already attached")

	// ErrRendezvousTimeout names a sender that waited for a receiver past the
	// rendezvous deadline. No function returns it: connhandler reports the
	// timeout to the sender as an error frame and ends its handler.
	ErrRendezvousTimeout = errors.New("rendezvous timeout")
)
