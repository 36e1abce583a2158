package relay

import "github.com/mossy-p/watchparty-signaling/internal/models"

// Conn is the outbound side of a transport connection.
type Conn interface {
	ID() string

	// Send queues env for delivery without blocking. It reports false when
	// the message was dropped.
	Send(env *models.Envelope) bool

	// Close stops delivery. It may be called more than once.
	Close()
}

// Session is the relay's per-connection state.
type Session struct {
	ID string

	// RoomID is empty until a join succeeds.
	RoomID string

	conn Conn
}

func (s *Session) InRoom() bool {
	return s.RoomID != ""
}
