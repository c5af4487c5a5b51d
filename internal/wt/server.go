// Package wt serves the chat protocol over WebTransport. Each session opens
// one bidirectional stream and exchanges the same JSON envelopes as the
// websocket transport, one per line.
package wt

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"dogechat/server/internal/core"
	"dogechat/server/internal/protocol"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// maxLineSize fits one maximum image upload plus its envelope.
const maxLineSize = core.MaxImageBase64 + 64<<10

// Hub is the part of core.Hub the transport needs.
type Hub interface {
	Register(s *core.Session) error
	Submit(connID string, msg protocol.Envelope) error
	Unregister(connID string)
}

// Server holds the WebTransport listener.
type Server struct {
	addr      string
	tlsConfig *tls.Config
	hub       Hub
	wt        *webtransport.Server
}

// NewServer returns a server that will listen on addr (UDP).
func NewServer(addr string, tlsConfig *tls.Config, hub Hub) *Server {
	return &Server{
		addr:      addr,
		tlsConfig: tlsConfig,
		hub:       hub,
	}
}

// Run starts the WebTransport server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      s.addr,
			TLSConfig: s.tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	webtransport.ConfigureHTTP3Server(s.wt.H3)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.wt.Upgrade(w, r)
		if err != nil {
			slog.Warn("webtransport upgrade failed", "remote", r.RemoteAddr, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.handleSession(ctx, sess)
	})

	slog.Info("webtransport listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		_ = s.wt.Close()
	}()

	err := s.wt.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleSession(ctx context.Context, sess *webtransport.Session) {
	defer func() {
		_ = sess.CloseWithError(0, "bye")
	}()

	// The client opens the chat stream.
	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		slog.Debug("webtransport accept stream", "err", err)
		return
	}
	serveStream(s.hub, sessionStream{Stream: stream, sess: sess})
}

// sessionStream ends the whole session on Close. Closing a WebTransport
// stream only finishes its send side, which would leave the read loop of a
// kicked client running.
type sessionStream struct {
	*webtransport.Stream
	sess *webtransport.Session
}

func (s sessionStream) Close() error {
	_ = s.Stream.Close()
	return s.sess.CloseWithError(0, "bye")
}

// serveStream runs one connection over a line-delimited JSON stream until
// either side closes it.
func serveStream(hub Hub, stream io.ReadWriteCloser) {
	session := core.NewSession()
	if err := hub.Register(session); err != nil {
		_ = stream.Close()
		return
	}
	defer hub.Unregister(session.ID)

	go writeLines(stream, session.Send)

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			env = protocol.Envelope{}
		}
		if err := hub.Submit(session.ID, env); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		slog.Debug("webtransport read", "conn_id", session.ID, "err", err)
	}
}

// writeLines drains send onto w, one envelope per line, and closes w once
// the hub closes send.
func writeLines(w io.WriteCloser, send <-chan protocol.Envelope) {
	defer w.Close()
	enc := json.NewEncoder(w)
	for env := range send {
		if err := enc.Encode(env); err != nil {
			return
		}
	}
}
