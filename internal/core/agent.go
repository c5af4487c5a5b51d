package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dogechat/server/internal/agent"
	"dogechat/server/internal/metrics"
	"dogechat/server/internal/protocol"
)

var errAgentBusy = errors.New("the agent is still answering your last question")

// AgentJob is an accepted agent request waiting for the external services.
type AgentJob struct {
	ConnID   string
	Room     string
	Asker    string
	Question string
}

// BeginAgentRequest validates a question and marks the connection as having
// a request in flight. Muted members cannot use the agent to reach the room.
func (d *Directory) BeginAgentRequest(connID, question string) (AgentJob, error) {
	c, r, err := d.speaker(connID)
	if err != nil {
		return AgentJob{}, err
	}
	question = agent.TruncateQuestion(question)
	if question == "" {
		return AgentJob{}, fmt.Errorf("ask the agent a question")
	}
	if c.asking {
		return AgentJob{}, errAgentBusy
	}
	c.asking = true
	return AgentJob{ConnID: connID, Room: r.key, Asker: c.name, Question: question}, nil
}

// FinishAgentRequest resolves a job to exactly one of: reply with audio,
// reply without audio, or a private failure notice. A failure never
// broadcasts or touches history. If the asker left meanwhile the notice is
// dropped; a successful reply still reaches whoever remains in the room.
func (d *Directory) FinishAgentRequest(job AgentJob, reply agent.Reply, err error) {
	if c, ok := d.conns[job.ConnID]; ok {
		c.asking = false
	}

	if err != nil {
		outcome := "failed"
		notice := "The agent failed to answer. Try again later."
		if errors.Is(err, agent.ErrNotConfigured) {
			outcome = "offline"
			notice = "The agent is offline."
		}
		metrics.AgentRequests.WithLabelValues(outcome).Inc()
		slog.Warn("agent request failed", "room", job.Room, "asker", job.Asker, "outcome", outcome, "err", err)
		d.Notify(job.ConnID, notice)
		return
	}

	r, ok := d.rooms[job.Room]
	if !ok {
		slog.Info("agent reply dropped, room gone", "room", job.Room, "asker", job.Asker)
		return
	}

	msg := protocol.AgentMessage{
		Username:  d.agentName,
		Text:      strings.TrimSpace(reply.Text),
		Timestamp: d.now().UnixMilli(),
	}
	outcome := "text_only"
	if len(reply.Audio) > 0 {
		audio := base64.StdEncoding.EncodeToString(reply.Audio)
		format := reply.AudioFormat
		msg.AudioBase64 = &audio
		msg.AudioFormat = &format
		outcome = "audio"
	}
	metrics.AgentRequests.WithLabelValues(outcome).Inc()

	d.appendHistory(r, protocol.HistoryEntry{
		Kind:      protocol.EntryAgent,
		Username:  d.agentName,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	})
	d.broadcastToRoom(r, protocol.New(protocol.TypeAgentMessage, msg))
	metrics.MessagesBroadcast.WithLabelValues(string(protocol.EntryAgent)).Inc()
}
