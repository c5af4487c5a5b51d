package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
)

var (
	ErrUnknownAction = errors.New("unknown admin action")
	ErrMissingTarget = errors.New("this admin action needs a target")
	ErrSelfTarget    = errors.New("you cannot target yourself")
)

// Action is one moderation command. The set of implementations is closed:
// ParseAction is the only constructor callers need and Moderate switches on
// every variant.
type Action interface {
	// Name is the wire name of the action.
	Name() string
	action()
}

type (
	Mute         struct{ Target string }
	Unmute       struct{ Target string }
	Ban          struct{ Target string }
	Unban        struct{ Target string }
	Kick         struct{ Target string }
	KickAll      struct{}
	Pin          struct{ Text string }
	Unpin        struct{}
	ClearHistory struct{}
)

func (Mute) Name() string         { return "mute" }
func (Unmute) Name() string       { return "unmute" }
func (Ban) Name() string          { return "ban" }
func (Unban) Name() string        { return "unban" }
func (Kick) Name() string         { return "kick" }
func (KickAll) Name() string      { return "kickall" }
func (Pin) Name() string          { return "pin" }
func (Unpin) Name() string        { return "unpin" }
func (ClearHistory) Name() string { return "clear" }

func (Mute) action()         {}
func (Unmute) action()       {}
func (Ban) action()          {}
func (Unban) action()        {}
func (Kick) action()         {}
func (KickAll) action()      {}
func (Pin) action()          {}
func (Unpin) action()        {}
func (ClearHistory) action() {}

// ParseAction turns an adminCommand payload into an Action. Name targets are
// normalized the same way display names are; pin text is trimmed and capped.
func ParseAction(cmd protocol.AdminCommand) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(cmd.Action))

	target := func() (string, error) {
		t, err := NormalizeName(cmd.Target)
		if err != nil {
			return "", ErrMissingTarget
		}
		return t, nil
	}

	switch name {
	case "mute":
		t, err := target()
		return Mute{Target: t}, err
	case "unmute":
		t, err := target()
		return Unmute{Target: t}, err
	case "ban":
		t, err := target()
		return Ban{Target: t}, err
	case "unban":
		t, err := target()
		return Unban{Target: t}, err
	case "kick":
		t, err := target()
		return Kick{Target: t}, err
	case "kickall":
		return KickAll{}, nil
	case "pin":
		text := strings.TrimSpace(cmd.Target)
		if text == "" {
			return nil, ErrMissingTarget
		}
		return Pin{Text: truncateRunes(text, MaxPinLength)}, nil
	case "unpin":
		return Unpin{}, nil
	case "clear", "clearhistory":
		return ClearHistory{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, cmd.Action)
	}
}

// AuditRecord describes one applied moderation action.
type AuditRecord struct {
	Room     string
	Actor    string
	Action   string
	Target   string
	Affected int
	At       time.Time
}

// Auditor receives applied moderation actions. Record is called on the hub
// goroutine and must not block.
type Auditor interface {
	Record(AuditRecord)
}

type nopAuditor struct{}

func (nopAuditor) Record(AuditRecord) {}

// Moderate authorizes and applies an admin action in the issuer's room.
func (d *Directory) Moderate(connID string, a Action) error {
	c, ok := d.conns[connID]
	if !ok {
		return ErrNotJoined
	}
	if !c.admin {
		slog.Info("moderation rejected", "conn_id", connID, "action", a.Name())
		return ErrNotAdmin
	}
	_, r, err := d.member(connID)
	if err != nil {
		return err
	}

	var (
		target   string
		affected int
	)
	switch a := a.(type) {
	case Mute:
		target = a.Target
		affected, err = d.mute(c, r, a.Target)
	case Unmute:
		target = a.Target
		affected, err = d.unmute(r, a.Target)
	case Ban:
		target = a.Target
		affected, err = d.ban(c, r, a.Target)
	case Unban:
		target = a.Target
		affected, err = d.unban(r, a.Target)
	case Kick:
		target = a.Target
		affected, err = d.kick(c, r, a.Target)
	case KickAll:
		affected = d.kickAll(connID, c, r)
	case Pin:
		target = a.Text
		d.setPin(c, r, a.Text)
	case Unpin:
		affected, err = d.unpin(c, r)
	case ClearHistory:
		affected = d.clearHistory(c, r)
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, a.Name())
	}
	if err != nil {
		return err
	}

	metrics.ModerationActions.WithLabelValues(a.Name()).Inc()
	d.audit.Record(AuditRecord{
		Room:     r.key,
		Actor:    c.name,
		Action:   a.Name(),
		Target:   target,
		Affected: affected,
		At:       d.now(),
	})
	slog.Info("moderation applied", "room", r.key, "actor", c.name, "action", a.Name(), "target", target, "affected", affected)
	return nil
}

func (d *Directory) mute(c *conn, r *room, target string) (int, error) {
	if target == c.name {
		return 0, ErrSelfTarget
	}
	ids := r.connsNamed(target)
	if len(ids) == 0 {
		return 0, fmt.Errorf("no user named %q in this room", target)
	}
	for _, id := range ids {
		r.muted[id] = struct{}{}
		d.Notify(id, "You have been muted by an admin.")
	}
	d.announce(r, fmt.Sprintf("%s has been muted.", target))
	return len(ids), nil
}

func (d *Directory) unmute(r *room, target string) (int, error) {
	ids := r.connsNamed(target)
	if len(ids) == 0 {
		return 0, fmt.Errorf("no user named %q in this room", target)
	}
	for _, id := range ids {
		delete(r.muted, id)
		d.Notify(id, "You have been unmuted.")
	}
	d.announce(r, fmt.Sprintf("%s has been unmuted.", target))
	return len(ids), nil
}

// ban records the name even when nobody currently uses it.
func (d *Directory) ban(c *conn, r *room, target string) (int, error) {
	if target == c.name {
		return 0, ErrSelfTarget
	}
	r.banned[target] = struct{}{}
	n := d.eject(r.connsNamed(target), "You have been banned from this room.")
	d.announce(r, fmt.Sprintf("%s has been banned.", target))
	if n > 0 {
		d.broadcastUsers(r)
	}
	return n, nil
}

func (d *Directory) unban(r *room, target string) (int, error) {
	if !r.isBanned(target) {
		return 0, fmt.Errorf("%q is not banned", target)
	}
	delete(r.banned, target)
	d.announce(r, fmt.Sprintf("%s has been unbanned.", target))
	return 0, nil
}

func (d *Directory) kick(c *conn, r *room, target string) (int, error) {
	if target == c.name {
		return 0, ErrSelfTarget
	}
	ids := r.connsNamed(target)
	if len(ids) == 0 {
		return 0, fmt.Errorf("no user named %q in this room", target)
	}
	n := d.eject(ids, "You have been kicked from this room.")
	d.announce(r, fmt.Sprintf("%s has been kicked.", target))
	d.broadcastUsers(r)
	return n, nil
}

func (d *Directory) kickAll(connID string, c *conn, r *room) int {
	var ids []string
	for _, id := range r.memberIDs() {
		if id != connID {
			ids = append(ids, id)
		}
	}
	n := d.eject(ids, "Everyone has been kicked from this room.")
	d.announce(r, fmt.Sprintf("%s cleared the room.", c.name))
	d.broadcastUsers(r)
	return n
}

// eject notifies then drops each connection. The member list is not
// rebroadcast per connection; callers send one update afterwards.
func (d *Directory) eject(ids []string, notice string) int {
	for _, id := range ids {
		d.Notify(id, notice)
		d.drop(id, false)
	}
	return len(ids)
}

func (d *Directory) setPin(c *conn, r *room, text string) {
	r.pin = &pin{text: text, by: c.name, at: d.now().UnixMilli()}
	d.broadcastToRoom(r, protocol.New(protocol.TypePinUpdate, r.pinUpdate()))
	d.announce(r, fmt.Sprintf("%s pinned a message.", c.name))
}

func (d *Directory) unpin(c *conn, r *room) (int, error) {
	if r.pin == nil {
		return 0, fmt.Errorf("there is no pinned message")
	}
	r.pin = nil
	d.broadcastToRoom(r, protocol.New(protocol.TypePinUpdate, r.pinUpdate()))
	d.announce(r, fmt.Sprintf("%s removed the pinned message.", c.name))
	return 1, nil
}

// clearHistory empties the log, tells every member to wipe its transcript
// and then announces the clear, which becomes the first new entry.
func (d *Directory) clearHistory(c *conn, r *room) int {
	n := r.history.Len()
	r.history.Clear()
	d.broadcastToRoom(r, protocol.New(protocol.TypeClearHistory, nil))
	d.announce(r, fmt.Sprintf("Chat history was cleared by %s.", c.name))
	return n
}
