package interfaces

import "github.com/haphu2512-java/ZaloForEdu/pkg/types"

// Connection is one live, authenticated client socket.
type Connection interface {
	// ID is unique per physical connection; a user may hold several.
	ID() string

	// User is the identity resolved at handshake. It never changes for the
	// lifetime of the connection.
	User() types.UserSummary

	// Send queues an encoded frame for the connection's writer without
	// blocking. A full buffer or a closed connection is reported as an error
	// matching ErrDeliveryFailed.
	Send(frame []byte) error

	// Close is idempotent.
	Close() error
}

// Dispatcher is the hub surface the socket handler talks to. Every call is
// queued and applied in arrival order.
type Dispatcher interface {
	Register(conn Connection) error
	Unregister(connID string) error
	Dispatch(connID string, env *types.Envelope) error
}
