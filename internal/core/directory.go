package core

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
)

// Rejection reasons shared with callers and tests.
var (
	ErrNotJoined = errors.New("join a room first")
	ErrMuted     = errors.New("you are muted in this room")
	ErrBanned    = errors.New("you are banned from this room")
	ErrNotAdmin  = errors.New("admin privileges required")
)

// Options configures a Directory. Zero values select the defaults.
type Options struct {
	AdminCode       string
	HistoryCapacity int
	RoomIdleTTL     time.Duration
	AgentName       string
	Now             func() time.Time
	Auditor         Auditor
}

// Directory is the connection registry plus every room's membership,
// moderation, pin and history state.
//
// Directory is not safe for concurrent use. The Hub owns it and calls it
// from a single goroutine; tests may drive it directly.
type Directory struct {
	conns map[string]*conn
	rooms map[string]*room

	adminCode  string
	historyCap int
	idleTTL    time.Duration
	agentName  string
	now        func() time.Time
	audit      Auditor
}

// NewDirectory returns an empty directory.
func NewDirectory(opts Options) *Directory {
	d := &Directory{
		conns:      make(map[string]*conn),
		rooms:      make(map[string]*room),
		adminCode:  opts.AdminCode,
		historyCap: opts.HistoryCapacity,
		idleTTL:    opts.RoomIdleTTL,
		agentName:  opts.AgentName,
		now:        opts.Now,
		audit:      opts.Auditor,
	}
	if d.historyCap <= 0 {
		d.historyCap = DefaultHistoryCapacity
	}
	if d.idleTTL <= 0 {
		d.idleTTL = DefaultRoomIdleTTL
	}
	if d.agentName == "" {
		d.agentName = "DogeAgent"
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.audit == nil {
		d.audit = nopAuditor{}
	}
	return d
}

// Register adds a connected session that has not joined a room yet.
func (d *Directory) Register(s *Session) {
	d.conns[s.ID] = &conn{session: s}
	slog.Debug("connection registered", "conn_id", s.ID, "total_conns", len(d.conns))
}

// Unregister handles a transport-level disconnect. It is a no-op for
// connections the directory already dropped (kick, ban).
func (d *Directory) Unregister(connID string) {
	if _, ok := d.conns[connID]; !ok {
		return
	}
	d.drop(connID, true)
}

// drop removes a connection from its room and the registry and closes its
// queue, which tells the transport to hang up after flushing.
func (d *Directory) drop(connID string, rebroadcast bool) {
	c, ok := d.conns[connID]
	if !ok {
		return
	}
	d.leaveRoom(connID, c, rebroadcast)
	delete(d.conns, connID)
	close(c.session.Send)
	slog.Info("connection removed", "conn_id", connID, "name", c.name, "remaining_conns", len(d.conns))
}

// leaveRoom removes the connection from its current room. When the room
// becomes empty its emptySince clock starts; otherwise the member list is
// rebroadcast if requested.
func (d *Directory) leaveRoom(connID string, c *conn, rebroadcast bool) {
	if c.room == "" {
		return
	}
	r, ok := d.rooms[c.room]
	c.room = ""
	if !ok {
		return
	}
	delete(r.members, connID)
	delete(r.muted, connID)
	if len(r.members) == 0 {
		r.emptySince = d.now()
		slog.Debug("room empty", "room", r.key)
		return
	}
	if rebroadcast {
		d.broadcastUsers(r)
	}
}

// Join puts a connection into a room under a display name, then replays the
// history, the pin and the member list in that order.
//
// A banned name gets a denial notice and the connection is dropped; the
// returned ErrBanned is informational since the connection is already gone.
func (d *Directory) Join(connID, roomKey, username string) error {
	c, ok := d.conns[connID]
	if !ok {
		return fmt.Errorf("unknown connection")
	}
	key, err := NormalizeRoom(roomKey)
	if err != nil {
		return err
	}
	name, err := NormalizeName(username)
	if err != nil {
		return err
	}

	if r, exists := d.rooms[key]; exists && r.isBanned(name) {
		d.Notify(connID, ErrBanned.Error())
		d.drop(connID, true)
		slog.Info("banned name denied", "room", key, "name", name, "conn_id", connID)
		return ErrBanned
	}

	// Rejoining the same room keeps the membership record and its mute.
	if c.room != "" && c.room != key {
		d.leaveRoom(connID, c, true)
	}

	r, exists := d.rooms[key]
	if !exists {
		r = newRoom(key, d.historyCap)
		d.rooms[key] = r
		slog.Info("room created", "room", key, "total_rooms", len(d.rooms))
	}
	r.members[connID] = name
	r.emptySince = time.Time{}
	c.room = key
	c.name = name

	d.sendPrivate(connID, protocol.New(protocol.TypeHistory, protocol.History{Entries: r.history.Entries()}))
	if r.pin != nil {
		d.sendPrivate(connID, protocol.New(protocol.TypePinUpdate, r.pinUpdate()))
	}
	d.broadcastUsers(r)

	slog.Info("joined room", "room", key, "name", name, "conn_id", connID, "members", len(r.members))
	return nil
}

// ChangeNick renames a connection in place. Mute state follows the
// connection, not the name.
func (d *Directory) ChangeNick(connID, newName string) error {
	c, r, err := d.member(connID)
	if err != nil {
		return err
	}
	name, err := NormalizeName(newName)
	if err != nil {
		return err
	}
	if r.isBanned(name) {
		return fmt.Errorf("the name %q is banned in this room", name)
	}
	old := c.name
	c.name = name
	r.members[connID] = name
	d.Notify(connID, fmt.Sprintf("You are now known as %s.", name))
	d.broadcastUsers(r)
	slog.Debug("nick changed", "room", r.key, "conn_id", connID, "old", old, "new", name)
	return nil
}

// Chat validates and broadcasts a text message to the sender's room.
func (d *Directory) Chat(connID, text string) error {
	c, r, err := d.speaker(connID)
	if err != nil {
		return err
	}
	text, err = cleanText(text)
	if err != nil {
		return err
	}

	ts := d.now().UnixMilli()
	d.appendHistory(r, protocol.HistoryEntry{Kind: protocol.EntryChat, Username: c.name, Text: text, Timestamp: ts})
	d.broadcastToRoom(r, protocol.New(protocol.TypeChatMessage, protocol.ChatMessage{
		Username:  c.name,
		Text:      text,
		Timestamp: ts,
	}))
	metrics.MessagesBroadcast.WithLabelValues(string(protocol.EntryChat)).Inc()
	return nil
}

// Image validates an uploaded image and broadcasts it to the sender's room.
func (d *Directory) Image(connID, imageBase64, mimeType string) error {
	c, r, err := d.speaker(connID)
	if err != nil {
		return err
	}
	imageBase64, mimeType, err = validateImage(imageBase64, mimeType)
	if err != nil {
		return err
	}

	ts := d.now().UnixMilli()
	d.appendHistory(r, protocol.HistoryEntry{
		Kind:        protocol.EntryImage,
		Username:    c.name,
		ImageBase64: imageBase64,
		MimeType:    mimeType,
		Timestamp:   ts,
	})
	d.broadcastToRoom(r, protocol.New(protocol.TypeImageMessage, protocol.ImageMessage{
		Username:    c.name,
		ImageBase64: imageBase64,
		MimeType:    mimeType,
		Timestamp:   ts,
	}))
	metrics.MessagesBroadcast.WithLabelValues(string(protocol.EntryImage)).Inc()
	return nil
}

// DirectMessage delivers a private message to every connection in the
// sender's room using the target name, and echoes it to the sender. DMs are
// never written to history.
func (d *Directory) DirectMessage(connID, target, text string) error {
	c, r, err := d.speaker(connID)
	if err != nil {
		return err
	}
	to, err := NormalizeName(target)
	if err != nil {
		return fmt.Errorf("a DM target is required")
	}
	text, err = cleanText(text)
	if err != nil {
		return err
	}
	targets := r.connsNamed(to)
	if len(targets) == 0 {
		return fmt.Errorf("no user named %q in this room", to)
	}

	env := protocol.New(protocol.TypeDMMessage, protocol.DMMessage{
		From:      c.name,
		To:        to,
		Text:      text,
		Timestamp: d.now().UnixMilli(),
	})
	echoed := false
	for _, id := range targets {
		d.sendPrivate(id, env)
		if id == connID {
			echoed = true
		}
	}
	if !echoed {
		d.sendPrivate(connID, env)
	}
	metrics.DirectMessages.Inc()
	return nil
}

// AdminLogin grants the admin flag when password matches the configured
// code. An unset code and a wrong password get the same answer so clients
// cannot tell whether admin mode exists.
func (d *Directory) AdminLogin(connID, password string) {
	c, ok := d.conns[connID]
	if !ok {
		return
	}
	if d.adminCode == "" || subtle.ConstantTimeCompare([]byte(password), []byte(d.adminCode)) != 1 {
		d.sendPrivate(connID, protocol.New(protocol.TypeAdminStatus, protocol.AdminStatus{OK: false, Message: "invalid admin code"}))
		slog.Info("admin login rejected", "conn_id", connID, "room", c.room)
		return
	}
	c.admin = true
	d.sendPrivate(connID, protocol.New(protocol.TypeAdminStatus, protocol.AdminStatus{OK: true, Message: "admin mode enabled"}))
	slog.Info("admin login", "conn_id", connID, "room", c.room, "name", c.name)
}

// Sweep drops rooms that have been empty for at least the idle TTL and
// returns how many were removed.
func (d *Directory) Sweep(now time.Time) int {
	removed := 0
	for key, r := range d.rooms {
		if len(r.members) > 0 || r.emptySince.IsZero() {
			continue
		}
		if now.Sub(r.emptySince) >= d.idleTTL {
			delete(d.rooms, key)
			removed++
			slog.Info("idle room dropped", "room", key, "history", r.history.Len(), "banned", len(r.banned))
		}
	}
	return removed
}

// CloseAll drops every connection without rebroadcasting. Used on shutdown.
func (d *Directory) CloseAll() {
	for id := range d.conns {
		d.drop(id, false)
	}
}

// Summaries returns a snapshot of every room, sorted by key.
func (d *Directory) Summaries() []protocol.RoomSummary {
	out := make([]protocol.RoomSummary, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Counts returns the number of registered connections and live rooms.
func (d *Directory) Counts() (conns, rooms int) {
	return len(d.conns), len(d.rooms)
}

// member returns the connection and its room, or ErrNotJoined.
func (d *Directory) member(connID string) (*conn, *room, error) {
	c, ok := d.conns[connID]
	if !ok || c.room == "" {
		return nil, nil, ErrNotJoined
	}
	r, ok := d.rooms[c.room]
	if !ok {
		return nil, nil, ErrNotJoined
	}
	return c, r, nil
}

// speaker is member plus the send-time mute check.
func (d *Directory) speaker(connID string) (*conn, *room, error) {
	c, r, err := d.member(connID)
	if err != nil {
		return nil, nil, err
	}
	if r.isMuted(connID) {
		metrics.MutedRejections.Inc()
		return nil, nil, ErrMuted
	}
	return c, r, nil
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", fmt.Errorf("message must not be empty")
	case utf8.RuneCountInString(text) > MaxChatLength:
		return "", fmt.Errorf("message must not exceed %d characters", MaxChatLength)
	}
	return text, nil
}

// validateImage accepts plain base64 or a data URL, enforces the size cap
// and checks that the bytes really are an allowed image type.
func validateImage(imageBase64, mimeType string) (string, string, error) {
	imageBase64 = strings.TrimSpace(imageBase64)
	if strings.HasPrefix(imageBase64, "data:") {
		if i := strings.IndexByte(imageBase64, ','); i >= 0 {
			imageBase64 = imageBase64[i+1:]
		}
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if imageBase64 == "" {
		return "", "", fmt.Errorf("image data is required")
	}
	if len(imageBase64) > MaxImageBase64 {
		return "", "", fmt.Errorf("image is too large (max %d MB encoded)", MaxImageBase64/(1024*1024))
	}
	if _, ok := allowedImageTypes[mimeType]; !ok {
		return "", "", fmt.Errorf("unsupported image type %q", mimeType)
	}
	raw, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", "", fmt.Errorf("image data is not valid base64")
	}
	if sniffed := http.DetectContentType(raw); !strings.HasPrefix(sniffed, "image/") {
		return "", "", fmt.Errorf("upload is not an image")
	}
	return imageBase64, mimeType, nil
}
