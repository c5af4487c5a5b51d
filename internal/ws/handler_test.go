package ws

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dogechat/server/internal/core"
	"dogechat/server/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func TestChatBetweenTwoClients(t *testing.T) {
	baseURL := startTestServer(t, core.Options{})

	alice := connectClient(t, baseURL, "r1", "alice")
	defer alice.Close()
	bob := connectClient(t, baseURL, "r1", "bob")
	defer bob.Close()

	writeMsg(t, alice, protocol.New(protocol.TypeChatMessage, protocol.ChatIn{Text: "hello"}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readUntil(t, conn, func(m protocol.Envelope) bool { return m.Type == protocol.TypeChatMessage })
		var msg protocol.ChatMessage
		if err := env.Decode(&msg); err != nil {
			t.Fatalf("decode chat: %v", err)
		}
		if msg.Username != "alice" || msg.Text != "hello" {
			t.Fatalf("unexpected chat: %#v", msg)
		}
	}
}

func TestJoinReplaysHistory(t *testing.T) {
	baseURL := startTestServer(t, core.Options{})

	alice := connectClient(t, baseURL, "r1", "alice")
	defer alice.Close()
	writeMsg(t, alice, protocol.New(protocol.TypeChatMessage, protocol.ChatIn{Text: "first!"}))
	readUntil(t, alice, func(m protocol.Envelope) bool { return m.Type == protocol.TypeChatMessage })

	bob, err := dial(baseURL)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer bob.Close()
	writeMsg(t, bob, protocol.New(protocol.TypeJoinRoom, protocol.JoinRoom{Room: "r1", Username: "bob"}))
	env := readUntil(t, bob, func(m protocol.Envelope) bool { return m.Type == protocol.TypeHistory })
	var hist protocol.History
	if err := env.Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Entries) != 1 || hist.Entries[0].Text != "first!" {
		t.Fatalf("unexpected history: %#v", hist.Entries)
	}
}

func TestMalformedFrameGetsNotice(t *testing.T) {
	baseURL := startTestServer(t, core.Options{})

	conn := connectClient(t, baseURL, "r1", "alice")
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, func(m protocol.Envelope) bool { return m.Type == protocol.TypeSystemMessage })

	// The connection survives a bad frame.
	writeMsg(t, conn, protocol.New(protocol.TypePing, protocol.Ping{TS: 7}))
	readUntil(t, conn, func(m protocol.Envelope) bool { return m.Type == protocol.TypePong })
}

func TestKickClosesSocket(t *testing.T) {
	baseURL := startTestServer(t, core.Options{AdminCode: "s3cret"})

	admin := connectClient(t, baseURL, "r1", "admin")
	defer admin.Close()
	bob := connectClient(t, baseURL, "r1", "bob")
	defer bob.Close()

	writeMsg(t, admin, protocol.New(protocol.TypeAdminLogin, protocol.AdminLogin{Password: "s3cret"}))
	readUntil(t, admin, func(m protocol.Envelope) bool { return m.Type == protocol.TypeAdminStatus })
	writeMsg(t, admin, protocol.New(protocol.TypeAdminCommand, protocol.AdminCommand{Action: "kick", Target: "bob"}))

	readUntil(t, bob, func(m protocol.Envelope) bool {
		var sm protocol.SystemMessage
		return m.Type == protocol.TypeSystemMessage && m.Decode(&sm) == nil && strings.Contains(sm.Text, "kicked")
	})
	readUntilClosed(t, bob)

	env := readUntil(t, admin, func(m protocol.Envelope) bool { return m.Type == protocol.TypeRoomUsers })
	var users protocol.RoomUsers
	if err := env.Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if users.Count != 1 {
		t.Fatalf("expected only admin left, got %#v", users)
	}
}

func TestDisconnectUpdatesMemberList(t *testing.T) {
	baseURL := startTestServer(t, core.Options{})

	alice := connectClient(t, baseURL, "r1", "alice")
	defer alice.Close()
	bob := connectClient(t, baseURL, "r1", "bob")
	readUntil(t, alice, func(m protocol.Envelope) bool { return m.Type == protocol.TypeRoomUsers })

	_ = bob.Close()
	env := readUntil(t, alice, func(m protocol.Envelope) bool { return m.Type == protocol.TypeRoomUsers })
	var users protocol.RoomUsers
	if err := env.Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if users.Count != 1 || users.Users[0] != "alice" {
		t.Fatalf("unexpected users after disconnect: %#v", users)
	}
}

func startTestServer(t *testing.T, opts core.Options) string {
	t.Helper()

	hub := core.NewHub(core.NewDirectory(opts), core.HubOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	NewHandler(hub).Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(func() {
		cancel()
		httpServer.Close()
	})

	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func dial(baseWSURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(baseWSURL+"/ws", nil)
	return conn, err
}

func connectClient(t *testing.T, baseWSURL, room, username string) *websocket.Conn {
	t.Helper()

	conn, err := dial(baseWSURL)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	writeMsg(t, conn, protocol.New(protocol.TypeJoinRoom, protocol.JoinRoom{Room: room, Username: username}))
	readUntil(t, conn, func(m protocol.Envelope) bool { return m.Type == protocol.TypeRoomUsers })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg protocol.Envelope) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Envelope) bool) protocol.Envelope {
	t.Helper()
	// A read error is sticky on a gorilla conn, so one deadline covers the
	// whole wait.
	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	for {
		var msg protocol.Envelope
		err := conn.ReadJSON(&msg)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("timed out waiting for matching message")
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.Fatalf("connection closed unexpectedly: %v", err)
			}
			t.Fatalf("read json: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func readUntilClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal closure, got %v", err)
			}
			return
		}
	}
}
