// Package lifecycle owns the status of a consultation session.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

// ErrInvalidTransition is matched by every rejected event.
var ErrInvalidTransition = errors.New("invalid transition")

// EventKind names the inputs the machine understands.
type EventKind string

const (
	EventProviderJoined   EventKind = "providerJoined"
	EventProviderLeft     EventKind = "providerLeft"
	EventSessionEnded     EventKind = "sessionEnded"
	EventResumeRequested  EventKind = "resumeRequested"
	EventRestartRequested EventKind = "restartRequested"
	EventStatusPush       EventKind = "statusPush"
)

// Event is one input to the machine. Status is only read for EventStatusPush.
type Event struct {
	Kind   EventKind   `json:"kind"`
	Status chat.Status `json:"status,omitempty"`
}

// Push builds a server status push event.
func Push(status chat.Status) Event {
	return Event{Kind: EventStatusPush, Status: status}
}

// TransitionError describes a rejected event.
type TransitionError struct {
	From  chat.Status
	Event Event
}

func (e *TransitionError) Error() string {
	if e.Event.Kind == EventStatusPush {
		return fmt.Sprintf("invalid transition: %s -> %s (push)", e.From, e.Event.Status)
	}
	return fmt.Sprintf("invalid transition: %s on %s", e.From, e.Event.Kind)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Transition is the outcome of an accepted event.
type Transition struct {
	From    chat.Status
	To      chat.Status
	Event   Event
	Changed bool
}

// Activated reports a pending -> active edge.
func (t Transition) Activated() bool {
	return t.Changed && t.From == chat.StatusPending && t.To == chat.StatusActive
}

// Ended reports an edge into ended.
func (t Transition) Ended() bool {
	return t.Changed && t.To == chat.StatusEnded
}

// Resumed reports the ended -> pending resume edge.
func (t Transition) Resumed() bool {
	return t.Changed && t.From == chat.StatusEnded && t.To == chat.StatusPending && t.Event.Kind != EventRestartRequested
}

// Restarted reports a restart, which always lands in pending.
func (t Transition) Restarted() bool {
	return t.Event.Kind == EventRestartRequested
}

type edge struct{ from, to chat.Status }

// allowed is the full edge set apart from restart, which is legal from every state.
var allowed = map[edge]struct{}{
	{chat.StatusPending, chat.StatusActive}: {},
	{chat.StatusActive, chat.StatusEnded}:   {},
	{chat.StatusEnded, chat.StatusPending}:  {},
}

// Allowed reports whether from -> to is a legal edge outside of restart.
func Allowed(from, to chat.Status) bool {
	_, ok := allowed[edge{from, to}]
	return ok
}

// Machine holds one session's status.
type Machine struct {
	mu     sync.Mutex
	status chat.Status
}

// New returns a machine starting at initial; unknown states start pending.
func New(initial chat.Status) *Machine {
	if !initial.Valid() {
		initial = chat.StatusPending
	}
	return &Machine{status: initial}
}

// Status returns the current status.
func (m *Machine) Status() chat.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Apply validates ev against the current status and moves the machine on success.
// A status push equal to the current status is accepted as a no-op.
func (m *Machine) Apply(ev Event) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.status
	to, err := target(from, ev)
	if err != nil {
		return Transition{From: from, To: from, Event: ev}, err
	}
	m.status = to
	return Transition{From: from, To: to, Event: ev, Changed: from != to}, nil
}

func target(from chat.Status, ev Event) (chat.Status, error) {
	reject := &TransitionError{From: from, Event: ev}

	var to chat.Status
	switch ev.Kind {
	case EventRestartRequested:
		return chat.StatusPending, nil
	case EventProviderJoined:
		to = chat.StatusActive
	case EventProviderLeft, EventSessionEnded:
		to = chat.StatusEnded
	case EventResumeRequested:
		to = chat.StatusPending
		if from != chat.StatusEnded {
			return from, reject
		}
	case EventStatusPush:
		if !ev.Status.Valid() {
			return from, reject
		}
		if ev.Status == from {
			return from, nil
		}
		// leaving ended needs an explicit resume
		if from == chat.StatusEnded && ev.Status == chat.StatusPending {
			return from, reject
		}
		to = ev.Status
	default:
		return from, reject
	}

	if !Allowed(from, to) {
		return from, reject
	}
	return to, nil
}
