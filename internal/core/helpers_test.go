package core

import (
	"testing"
	"time"

	"dogechat/server/internal/protocol"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDirectory(t *testing.T, opts Options) (*Directory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return NewDirectory(opts), clock
}

func connect(d *Directory) *Session {
	s := NewSession()
	d.Register(s)
	return s
}

// joinRoom joins and discards the join replay.
func joinRoom(t *testing.T, d *Directory, s *Session, room, name string) {
	t.Helper()
	if err := d.Join(s.ID, room, name); err != nil {
		t.Fatalf("join %s as %s: %v", room, name, err)
	}
	drain(s)
}

// drain returns everything queued on s without blocking.
func drain(s *Session) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case env, ok := <-s.Send:
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func recvType(t *testing.T, s *Session, typ string) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-s.Send:
		if !ok {
			t.Fatalf("expected %q, queue closed", typ)
		}
		if env.Type != typ {
			t.Fatalf("expected message type %q, got %q (%s)", typ, env.Type, env.Data)
		}
		return env
	default:
		t.Fatalf("expected %q, queue empty", typ)
	}
	return protocol.Envelope{}
}

func assertNoRecv(t *testing.T, s *Session) {
	t.Helper()
	select {
	case env, ok := <-s.Send:
		if ok {
			t.Fatalf("expected no message, got %s %s", env.Type, env.Data)
		}
	default:
	}
}

func assertClosed(t *testing.T, s *Session) {
	t.Helper()
	for {
		select {
		case _, ok := <-s.Send:
			if !ok {
				return
			}
		default:
			t.Fatal("expected send queue to be closed")
		}
	}
}

func decodeAs[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	if err := env.Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}

func historyOf(t *testing.T, d *Directory, room string) []protocol.HistoryEntry {
	t.Helper()
	r, ok := d.rooms[room]
	if !ok {
		t.Fatalf("room %q does not exist", room)
	}
	return r.history.Entries()
}

func adminIn(t *testing.T, d *Directory, room, name string) *Session {
	t.Helper()
	s := connect(d)
	joinRoom(t, d, s, room, name)
	d.AdminLogin(s.ID, d.adminCode)
	st := decodeAs[protocol.AdminStatus](t, recvType(t, s, protocol.TypeAdminStatus))
	if !st.OK {
		t.Fatalf("admin login failed: %+v", st)
	}
	return s
}
