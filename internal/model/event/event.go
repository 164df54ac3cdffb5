package event

import (
	"encoding/json"
	"errors"
	"time"
)

// Inbound event names delivered by the realtime transport.
const (
	Connect                = "connect"
	Disconnect             = "disconnect"
	ReceiveMessage         = "receive_message"
	Typing                 = "typing"
	SessionStarted         = "session_started"
	SessionEnded           = "session_ended"
	SessionResumed         = "session_resumed"
	SessionStatusUpdated   = "session_status_updated"
	UnreadCountUpdated     = "unread_count_updated"
	MessagesMarkedRead     = "messages_marked_read"
	AutomatedFlowCompleted = "automated_flow_completed"
	SessionCreated         = "session_created"

	// AckName is the envelope type carrying acknowledgments for emitted intents.
	AckName = "ack"
)

// Outbound intent names.
const (
	SendMessage        = "send_message"
	MarkRead           = "mark_read"
	ResumeFlow         = "resume_flow"
	RestartSession     = "restart_session"
	ResumeSession      = "resume_session"
	FlowOptionSelected = "flow_option_selected"
)

// Event is one inbound transport event.
type Event struct {
	Name      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an Event with data encoded as JSON.
func New(name, sessionID string, data any) (Event, error) {
	ev := Event{Name: name, SessionID: sessionID, Timestamp: time.Now().UTC()}
	if data == nil {
		return ev, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	ev.Data = raw
	return ev, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("event has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Ack is the server's answer to an emitted intent.
type Ack struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Err returns a non-nil error for a failed acknowledgment.
func (a Ack) Err() error {
	if a.OK {
		return nil
	}
	if a.Error == "" {
		return errors.New("rejected by server")
	}
	return errors.New(a.Error)
}

// Failed builds a negative Ack from err.
func Failed(err error) Ack {
	return Ack{OK: false, Error: err.Error()}
}

// AckFunc receives the acknowledgment of an emitted intent. It may be called from any goroutine.
type AckFunc func(Ack)

// Emitter sends named intents. Emit must not block on the network round trip; the outcome is
// delivered to ack when it arrives.
type Emitter interface {
	Emit(name string, payload any, ack AckFunc) error
}

// Handler consumes inbound events one at a time, in arrival order.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }
