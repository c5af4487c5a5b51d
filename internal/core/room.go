package core

import (
	"sort"
	"time"

	"dogechat/server/internal/protocol"
)

type pin struct {
	text string
	by   string
	at   int64
}

// room is the per-key moderation and replay state. Membership is keyed by
// connection id so one display name may appear under several connections.
type room struct {
	key        string
	members    map[string]string // conn id → display name
	muted      map[string]struct{}
	banned     map[string]struct{}
	history    *History
	pin        *pin
	emptySince time.Time
}

func newRoom(key string, historyCap int) *room {
	return &room{
		key:     key,
		members: make(map[string]string),
		muted:   make(map[string]struct{}),
		banned:  make(map[string]struct{}),
		history: NewHistory(historyCap),
	}
}

func (r *room) isBanned(name string) bool {
	_, ok := r.banned[name]
	return ok
}

func (r *room) isMuted(connID string) bool {
	_, ok := r.muted[connID]
	return ok
}

// connsNamed returns the ids of members using name, sorted for stable
// delivery order.
func (r *room) connsNamed(name string) []string {
	var out []string
	for id, n := range r.members {
		if n == name {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// memberIDs returns every member id, sorted.
func (r *room) memberIDs() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *room) users() protocol.RoomUsers {
	names := make([]string, 0, len(r.members))
	for _, n := range r.members {
		names = append(names, n)
	}
	sort.Strings(names)
	return protocol.RoomUsers{Users: names, Count: len(r.members)}
}

func (r *room) pinUpdate() protocol.PinUpdate {
	if r.pin == nil {
		return protocol.PinUpdate{}
	}
	text := r.pin.text
	return protocol.PinUpdate{Text: &text, By: r.pin.by, Timestamp: r.pin.at}
}

func (r *room) summary() protocol.RoomSummary {
	u := r.users()
	s := protocol.RoomSummary{
		Room:    r.key,
		Users:   u.Users,
		Count:   u.Count,
		History: r.history.Len(),
		Muted:   len(r.muted),
		Banned:  len(r.banned),
		Pinned:  r.pin != nil,
	}
	if !r.emptySince.IsZero() {
		s.EmptySince = r.emptySince.UnixMilli()
	}
	return s
}
