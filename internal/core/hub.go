package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"dogechat/server/internal/agent"
	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
)

// ErrHubStopped is returned by Hub methods after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

var errMalformed = errors.New("malformed event payload")

// Agent answers questions for the room agent. *agent.Bridge implements it.
type Agent interface {
	Ask(ctx context.Context, asker, question string) (agent.Reply, error)
}

// HubOptions configures a Hub. Zero values select the defaults.
type HubOptions struct {
	Agent         Agent
	AgentTimeout  time.Duration
	SweepInterval time.Duration
}

type inbound struct {
	connID string
	msg    protocol.Envelope
}

type agentResult struct {
	job   AgentJob
	reply agent.Reply
	err   error
}

// Hub serializes every Directory mutation onto one goroutine. Transports
// feed it through Register, Submit and Unregister; agent calls run on their
// own goroutines and report back through the same loop, so a slow agent never
// holds up other rooms.
type Hub struct {
	dir           *Directory
	agent         Agent
	agentTimeout  time.Duration
	sweepInterval time.Duration

	register   chan *Session
	unregister chan string
	inbound    chan inbound
	agentDone  chan agentResult
	queries    chan func(*Directory)
	done       chan struct{}
	agents     sync.WaitGroup

	connections atomic.Int64
	rooms       atomic.Int64
	events      atomic.Uint64
}

// NewHub wraps dir. The hub owns dir from now on.
func NewHub(dir *Directory, opts HubOptions) *Hub {
	h := &Hub{
		dir:           dir,
		agent:         opts.Agent,
		agentTimeout:  opts.AgentTimeout,
		sweepInterval: opts.SweepInterval,
		register:      make(chan *Session),
		unregister:    make(chan string, 64),
		inbound:       make(chan inbound, 256),
		agentDone:     make(chan agentResult, 16),
		queries:       make(chan func(*Directory)),
		done:          make(chan struct{}),
	}
	if h.agentTimeout <= 0 {
		h.agentTimeout = 30 * time.Second
	}
	if h.sweepInterval <= 0 {
		h.sweepInterval = time.Minute
	}
	return h
}

// Run processes events until ctx is canceled, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.sweepInterval)
	defer sweep.Stop()

	slog.Info("hub started", "sweep_interval", h.sweepInterval, "agent_timeout", h.agentTimeout)
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.dir.CloseAll()
			h.refreshGauges()
			h.agents.Wait()
			slog.Info("hub stopped")
			return
		case s := <-h.register:
			h.dir.Register(s)
		case id := <-h.unregister:
			h.dir.Unregister(id)
		case in := <-h.inbound:
			h.events.Add(1)
			h.handleInbound(ctx, in)
		case res := <-h.agentDone:
			h.safely("agent result", func() { h.dir.FinishAgentRequest(res.job, res.reply, res.err) })
		case q := <-h.queries:
			h.safely("query", func() { q(h.dir) })
		case now := <-sweep.C:
			if n := h.dir.Sweep(now); n > 0 {
				slog.Debug("room sweep", "removed", n)
			}
		}
		h.refreshGauges()
	}
}

// Register hands a freshly connected session to the hub.
func (h *Hub) Register(s *Session) error {
	select {
	case h.register <- s:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Submit queues one inbound event from connID.
func (h *Hub) Submit(connID string, msg protocol.Envelope) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.inbound <- inbound{connID: connID, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister reports a transport-level disconnect.
func (h *Hub) Unregister(connID string) {
	select {
	case h.unregister <- connID:
	case <-h.done:
	}
}

// Rooms returns a snapshot of every room, computed on the hub goroutine.
func (h *Hub) Rooms(ctx context.Context) ([]protocol.RoomSummary, error) {
	reply := make(chan []protocol.RoomSummary, 1)
	q := func(d *Directory) { reply <- d.Summaries() }
	select {
	case h.queries <- q:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats is a lock-free snapshot for health checks and periodic logging.
type Stats struct {
	Connections int
	Rooms       int
}

// Stats returns the connection and room counts as of the last processed
// event.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: int(h.connections.Load()),
		Rooms:       int(h.rooms.Load()),
	}
}

// TakeEventCount returns the number of inbound events since the last call
// and resets it.
func (h *Hub) TakeEventCount() uint64 {
	return h.events.Swap(0)
}

func (h *Hub) refreshGauges() {
	conns, rooms := h.dir.Counts()
	h.connections.Store(int64(conns))
	h.rooms.Store(int64(rooms))
	metrics.Connections.Set(float64(conns))
	metrics.Rooms.Set(float64(rooms))
}

// handleInbound routes one client event. Rejections become a private notice
// to the sender; a panic is logged and contained to this event.
func (h *Hub) handleInbound(ctx context.Context, in inbound) {
	metrics.EventsReceived.WithLabelValues(in.msg.Type).Inc()
	h.safely(in.msg.Type, func() {
		if err := h.route(ctx, in); err != nil {
			slog.Debug("event rejected", "type", in.msg.Type, "conn_id", in.connID, "err", err)
			h.dir.Notify(in.connID, err.Error())
		}
	})
}

func (h *Hub) route(ctx context.Context, in inbound) error {
	d := h.dir
	switch in.msg.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoom
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		if err := d.Join(in.connID, p.Room, p.Username); err != nil && !errors.Is(err, ErrBanned) {
			return err
		}
		return nil

	case protocol.TypeChatMessage:
		var p protocol.ChatIn
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		return d.Chat(in.connID, p.Text)

	case protocol.TypeImageMessage:
		var p protocol.ImageIn
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		return d.Image(in.connID, p.ImageBase64, p.MimeType)

	case protocol.TypeDMMessage:
		var p protocol.DMIn
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		return d.DirectMessage(in.connID, p.Target, p.Text)

	case protocol.TypeChangeNick:
		var p protocol.ChangeNick
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		return d.ChangeNick(in.connID, p.NewName)

	case protocol.TypeAdminLogin:
		var p protocol.AdminLogin
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		d.AdminLogin(in.connID, p.Password)
		return nil

	case protocol.TypeAdminCommand:
		var p protocol.AdminCommand
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		action, err := ParseAction(p)
		if err != nil {
			// Non-admins learn nothing about which actions or targets exist.
			if c, ok := d.conns[in.connID]; !ok || !c.admin {
				return ErrNotAdmin
			}
			return err
		}
		return d.Moderate(in.connID, action)

	case protocol.TypeAgentRequest:
		var p protocol.AgentRequest
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		job, err := d.BeginAgentRequest(in.connID, p.Question)
		if err != nil {
			return err
		}
		h.startAgent(ctx, job)
		return nil

	case protocol.TypePing:
		var p protocol.Ping
		if err := in.msg.Decode(&p); err != nil {
			return errMalformed
		}
		d.sendPrivate(in.connID, protocol.New(protocol.TypePong, p))
		return nil

	case "":
		return errMalformed

	default:
		return fmt.Errorf("unsupported event %q", in.msg.Type)
	}
}

// startAgent runs the external calls off the hub goroutine. The request is
// not canceled if the asker disconnects; only hub shutdown cancels it.
func (h *Hub) startAgent(ctx context.Context, job AgentJob) {
	if h.agent == nil {
		h.dir.FinishAgentRequest(job, agent.Reply{}, agent.ErrNotConfigured)
		return
	}
	metrics.AgentInFlight.Inc()
	h.agents.Add(1)
	go func() {
		defer h.agents.Done()
		defer metrics.AgentInFlight.Dec()

		callCtx, cancel := context.WithTimeout(ctx, h.agentTimeout)
		defer cancel()

		start := time.Now()
		reply, err := h.ask(callCtx, job)
		metrics.AgentLatency.Observe(time.Since(start).Seconds())

		select {
		case h.agentDone <- agentResult{job: job, reply: reply, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) ask(ctx context.Context, job AgentJob) (reply agent.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return h.agent.Ask(ctx, job.Asker, job.Question)
}

func (h *Hub) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in hub", "event", what, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
