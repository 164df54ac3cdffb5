package chat

import "time"

// Sender is assigned once when a message enters the log and is never re-derived.
type Sender string

const (
	SenderUser        Sender = "user"
	SenderCounterpart Sender = "counterpart"
	SenderSystem      Sender = "system"
)

// Kind is the content type of a message.
type Kind string

const (
	KindText        Kind = "text"
	KindVoice       Kind = "voice"
	KindImage       Kind = "image"
	KindFile        Kind = "file"
	KindOptions     Kind = "options"
	KindInformative Kind = "informative"
)

// Option is one selectable entry of an automated-flow menu.
type Option struct {
	OptionID string `json:"optionId"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Message is one chat event in a session log.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ClientOriginID string    `json:"-"`
	SessionID      string    `json:"sessionId"`
	Sender         Sender    `json:"sender"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           Kind      `json:"kind"`
	FlowMessageID  string    `json:"flowMessageId,omitempty"`
	Options        []Option  `json:"options,omitempty"`
	IsAutomated    bool      `json:"isAutomated"`
}

// Key returns the most durable identifier the message carries.
func (m Message) Key() string {
	switch {
	case m.ID != "":
		return m.ID
	case m.FlowMessageID != "":
		return "flow:" + m.FlowMessageID
	case m.ClientOriginID != "":
		return "local:" + m.ClientOriginID
	}
	return ""
}

// AwaitingChoice reports whether the message offers options to pick from.
func (m Message) AwaitingChoice() bool {
	return len(m.Options) > 0
}

// RawMessage is the inbound wire shape of a message before sender classification.
type RawMessage struct {
	ID             string    `json:"id,omitempty"`
	ClientOriginID string    `json:"clientOriginId,omitempty"`
	SessionID      string    `json:"sessionId"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderType     string    `json:"senderType,omitempty"`
	Body           string    `json:"body"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           Kind      `json:"kind,omitempty"`
	FlowMessageID  string    `json:"flowMessageId,omitempty"`
	Options        []Option  `json:"options,omitempty"`
	IsAutomated    bool      `json:"isAutomated,omitempty"`
}

// ClassifySender maps a raw message to a Sender relative to the local viewer.
// It is the only place sender roles are derived.
func ClassifySender(raw RawMessage, self Participant) Sender {
	if raw.IsAutomated {
		return SenderSystem
	}
	switch raw.SenderType {
	case "system", "bot", "automated":
		return SenderSystem
	}
	if raw.ClientOriginID != "" && raw.SenderID == "" {
		return SenderUser
	}
	if raw.SenderID != "" && raw.SenderID == self.ID {
		return SenderUser
	}
	return SenderCounterpart
}

// Normalize converts a raw inbound message into a log entry.
func Normalize(raw RawMessage, self Participant) Message {
	kind := raw.Kind
	if kind == "" {
		kind = KindText
		if len(raw.Options) > 0 {
			kind = KindOptions
		}
	}
	sender := ClassifySender(raw, self)
	return Message{
		ID:             raw.ID,
		ClientOriginID: raw.ClientOriginID,
		SessionID:      raw.SessionID,
		Sender:         sender,
		Body:           raw.Body,
		Timestamp:      raw.Timestamp,
		Kind:           kind,
		FlowMessageID:  raw.FlowMessageID,
		Options:        append([]Option(nil), raw.Options...),
		IsAutomated:    raw.IsAutomated || sender == SenderSystem,
	}
}
