// Package session implements the room engine: per-room authoritative
// state and mutation operations, the registry that creates and sweeps
// rooms, and the relay that fans events out to room members.
package session

// Conn is the transport handle for one connected client. The websocket
// layer implements it; the session engine never touches sockets
// directly.
type Conn interface {
	// ID uniquely identifies the connection for roster bookkeeping.
	ID() string
	// Send delivers one event envelope to the peer. Delivery is
	// best-effort: an error means this peer missed the message, never
	// that the caller should abort.
	Send(event string, payload any) error
	// Terminate forcibly closes the underlying transport.
	Terminate()
}
