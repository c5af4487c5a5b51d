package core

import (
	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"

	"github.com/google/uuid"
)

// Session is the transport-facing half of one connection. The transport
// drains Send and writes each envelope to the peer; when the hub closes Send
// the transport must flush what it already received and close the socket.
type Session struct {
	ID   string
	Send chan protocol.Envelope
}

// NewSession allocates a session with a fresh random id.
func NewSession() *Session {
	return &Session{
		ID:   uuid.NewString(),
		Send: make(chan protocol.Envelope, sendBuffer),
	}
}

// conn is the registry record behind a Session. Only the hub goroutine
// touches it.
type conn struct {
	session *Session
	room    string
	name    string
	admin   bool
	asking  bool // an agent request is outstanding
}

// trySend enqueues without blocking. A full queue drops the event: delivery
// is at-most-once and one slow reader must not stall the room.
func trySend(ch chan protocol.Envelope, env protocol.Envelope) bool {
	select {
	case ch <- env:
		return true
	default:
		metrics.DroppedSends.Inc()
		return false
	}
}
