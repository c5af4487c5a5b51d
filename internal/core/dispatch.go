package core

import (
	"log/slog"

	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
)

// broadcastToRoom delivers env to every member of r, the sender included.
func (d *Directory) broadcastToRoom(r *room, env protocol.Envelope) int {
	sent := 0
	for _, id := range r.memberIDs() {
		if c, ok := d.conns[id]; ok && trySend(c.session.Send, env) {
			sent++
		}
	}
	slog.Debug("broadcast", "type", env.Type, "room", r.key, "recipients", sent, "total", len(r.members))
	return sent
}

// sendPrivate delivers env to one connection. Unknown ids are ignored, which
// is how notices for connections that already left get dropped.
func (d *Directory) sendPrivate(connID string, env protocol.Envelope) bool {
	c, ok := d.conns[connID]
	if !ok {
		return false
	}
	return trySend(c.session.Send, env)
}

// sendToNamedConnections delivers env to every member of r using name.
func (d *Directory) sendToNamedConnections(r *room, name string, env protocol.Envelope) int {
	sent := 0
	for _, id := range r.connsNamed(name) {
		if d.sendPrivate(id, env) {
			sent++
		}
	}
	return sent
}

// Notify sends a private system notice to one connection.
func (d *Directory) Notify(connID, text string) {
	metrics.Notices.Inc()
	d.sendPrivate(connID, protocol.New(protocol.TypeSystemMessage, protocol.SystemMessage{Text: text}))
}

// announce broadcasts a system notice to r and stores it in the history so
// latecomers see it.
func (d *Directory) announce(r *room, text string) {
	ts := d.now().UnixMilli()
	d.appendHistory(r, protocol.HistoryEntry{Kind: protocol.EntrySystem, Text: text, Timestamp: ts})
	d.broadcastToRoom(r, protocol.New(protocol.TypeSystemMessage, protocol.SystemMessage{Text: text}))
	metrics.MessagesBroadcast.WithLabelValues(string(protocol.EntrySystem)).Inc()
}

func (d *Directory) broadcastUsers(r *room) {
	d.broadcastToRoom(r, protocol.New(protocol.TypeRoomUsers, r.users()))
}

func (d *Directory) appendHistory(r *room, e protocol.HistoryEntry) {
	if r.history.Append(e) {
		metrics.HistoryEvictions.Inc()
	}
}
