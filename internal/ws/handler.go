package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dogechat/server/internal/core"
	"dogechat/server/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Path is the route the websocket endpoint is served on.
const Path = "/ws"

const (
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10

	// maxMessageSize fits one maximum image upload plus its envelope.
	maxMessageSize = core.MaxImageBase64 + 64<<10
)

// Hub is the part of core.Hub the transport needs.
type Hub interface {
	Register(s *core.Session) error
	Submit(connID string, msg protocol.Envelope) error
	Unregister(connID string)
}

// Handler owns websocket transport for the backend.
type Handler struct {
	hub      Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler feeding hub.
func NewHandler(hub Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET(Path, h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	session := core.NewSession()
	if err := h.hub.Register(session); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		return
	}
	defer h.hub.Unregister(session.ID)
	slog.Debug("websocket connected", "conn_id", session.ID, "remote", conn.RemoteAddr().String())

	go writePump(conn, session.Send)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read", "conn_id", session.ID, "err", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// An empty type is answered with a malformed-payload notice.
			env = protocol.Envelope{}
		}
		if err := h.hub.Submit(session.ID, env); err != nil {
			return
		}
	}
}

// writePump drains send into the socket. When the hub closes send it says
// goodbye and closes the socket, which also ends the read loop.
func writePump(conn *websocket.Conn, send <-chan protocol.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
