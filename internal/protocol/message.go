package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names. Client and server share a name when the payload describes the
// same thing in both directions (chatMessage, imageMessage, dmMessage).
const (
	TypeJoinRoom     = "joinRoom"
	TypeChatMessage  = "chatMessage"
	TypeImageMessage = "imageMessage"
	TypeDMMessage    = "dmMessage"
	TypeChangeNick   = "changeNick"
	TypeAdminLogin   = "adminLogin"
	TypeAdminCommand = "adminCommand"
	TypeAgentRequest = "agentRequest"
	TypePing         = "ping"

	TypeSystemMessage = "systemMessage"
	TypeAgentMessage  = "agentMessage"
	TypeRoomUsers     = "roomUsers"
	TypeHistory       = "history"
	TypeClearHistory  = "clearHistory"
	TypePinUpdate     = "pinUpdate"
	TypeAdminStatus   = "adminStatus"
	TypePong          = "pong"
)

// Envelope is the JSON frame exchanged over every transport.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope with payload marshalled into Data. A nil payload
// produces an envelope without data (clearHistory).
func New(eventType string, payload any) Envelope {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this only fires on programmer error.
		panic(fmt.Sprintf("protocol: marshal %s: %v", eventType, err))
	}
	env.Data = data
	return env
}

// Decode unmarshals the envelope payload into v. An empty payload leaves v
// untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Client → server payloads.

type JoinRoom struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type ChatIn struct {
	Text string `json:"text"`
}

type ImageIn struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

type DMIn struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

type ChangeNick struct {
	NewName string `json:"newName"`
}

type AdminLogin struct {
	Password string `json:"password"`
}

type AdminCommand struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

type AgentRequest struct {
	Question string `json:"question"`
}

// Ping doubles as the pong payload.
type Ping struct {
	TS int64 `json:"ts,omitempty"`
}

// Server → client payloads.

type SystemMessage struct {
	Text string `json:"text"`
}

type ChatMessage struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type ImageMessage struct {
	Username    string `json:"username"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
	Timestamp   int64  `json:"timestamp"`
}

type DMMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// AgentMessage carries audio fields as pointers so a reply without speech
// serializes them as null.
type AgentMessage struct {
	Username    string  `json:"username"`
	Text        string  `json:"text"`
	AudioBase64 *string `json:"audioBase64"`
	AudioFormat *string `json:"audioFormat"`
	Timestamp   int64   `json:"timestamp"`
}

type RoomUsers struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type History struct {
	Entries []HistoryEntry `json:"entries"`
}

// PinUpdate has a null text when the room has no pin.
type PinUpdate struct {
	Text      *string `json:"text"`
	By        string  `json:"by,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

type AdminStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// EntryKind tags a history entry.
type EntryKind string

const (
	EntryChat   EntryKind = "chat"
	EntrySystem EntryKind = "system"
	EntryAgent  EntryKind = "agent"
	EntryImage  EntryKind = "image"
)

// HistoryEntry is one replayable room event. Username is empty for system
// entries; ImageBase64/MimeType are set only for image entries.
type HistoryEntry struct {
	Kind        EntryKind `json:"kind"`
	Username    string    `json:"username,omitempty"`
	Text        string    `json:"text,omitempty"`
	ImageBase64 string    `json:"imageBase64,omitempty"`
	MimeType    string    `json:"mimeType,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// RoomSummary is the read-only view of one room served by /api/state.
type RoomSummary struct {
	Room       string   `json:"room"`
	Users      []string `json:"users"`
	Count      int      `json:"count"`
	History    int      `json:"history"`
	Muted      int      `json:"muted"`
	Banned     int      `json:"banned"`
	Pinned     bool     `json:"pinned"`
	EmptySince int64    `json:"empty_since,omitempty"`
}
