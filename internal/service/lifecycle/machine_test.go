package lifecycle

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

func TestApplyTable(t *testing.T) {
	tests := []struct {
		name    string
		from    chat.Status
		event   Event
		want    chat.Status
		wantErr bool
	}{
		{"join", chat.StatusPending, Event{Kind: EventProviderJoined}, chat.StatusActive, false},
		{"provider left", chat.StatusActive, Event{Kind: EventProviderLeft}, chat.StatusEnded, false},
		{"ended", chat.StatusActive, Event{Kind: EventSessionEnded}, chat.StatusEnded, false},
		{"resume", chat.StatusEnded, Event{Kind: EventResumeRequested}, chat.StatusPending, false},
		{"restart from active", chat.StatusActive, Event{Kind: EventRestartRequested}, chat.StatusPending, false},
		{"restart from pending", chat.StatusPending, Event{Kind: EventRestartRequested}, chat.StatusPending, false},
		{"restart from ended", chat.StatusEnded, Event{Kind: EventRestartRequested}, chat.StatusPending, false},
		{"push active", chat.StatusPending, Push(chat.StatusActive), chat.StatusActive, false},
		{"push same", chat.StatusActive, Push(chat.StatusActive), chat.StatusActive, false},
		{"join twice", chat.StatusActive, Event{Kind: EventProviderJoined}, chat.StatusActive, true},
		{"end pending", chat.StatusPending, Event{Kind: EventSessionEnded}, chat.StatusPending, true},
		{"resume active", chat.StatusActive, Event{Kind: EventResumeRequested}, chat.StatusActive, true},
		{"resume pending", chat.StatusPending, Event{Kind: EventResumeRequested}, chat.StatusPending, true},
		{"join after end", chat.StatusEnded, Event{Kind: EventProviderJoined}, chat.StatusEnded, true},
		{"stale push", chat.StatusEnded, Push(chat.StatusActive), chat.StatusEnded, true},
		{"push pending from active", chat.StatusActive, Push(chat.StatusPending), chat.StatusActive, true},
		{"push unknown", chat.StatusActive, Push("archived"), chat.StatusActive, true},
		{"push pending from ended", chat.StatusEnded, Push(chat.StatusPending), chat.StatusEnded, true},
		{"unknown event", chat.StatusActive, Event{Kind: "teleport"}, chat.StatusActive, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New(tc.from)
			tr, err := m.Apply(tc.event)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				var te *TransitionError
				if !errors.As(err, &te) || te.From != tc.from {
					t.Fatalf("expected TransitionError from %s, got %v", tc.from, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if m.Status() != tc.want {
				t.Fatalf("status = %s, want %s", m.Status(), tc.want)
			}
			if tr.To != tc.want {
				t.Fatalf("transition.To = %s, want %s", tr.To, tc.want)
			}
		})
	}
}

func TestTransitionClassifiers(t *testing.T) {
	m := New(chat.StatusPending)

	tr, _ := m.Apply(Event{Kind: EventProviderJoined})
	if !tr.Activated() || tr.Ended() || tr.Resumed() {
		t.Fatalf("unexpected classification for join: %+v", tr)
	}

	tr, _ = m.Apply(Event{Kind: EventSessionEnded})
	if !tr.Ended() {
		t.Fatalf("expected ended: %+v", tr)
	}

	tr, _ = m.Apply(Event{Kind: EventResumeRequested})
	if !tr.Resumed() || tr.Restarted() {
		t.Fatalf("expected resumed: %+v", tr)
	}

	tr, _ = m.Apply(Event{Kind: EventRestartRequested})
	if !tr.Restarted() || tr.Resumed() {
		t.Fatalf("expected restart: %+v", tr)
	}
}

func TestInvalidInitialStatusStartsPending(t *testing.T) {
	if got := New("bogus").Status(); got != chat.StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

// Every realised transition over a random event stream is a listed edge or a restart.
func TestRandomSequencesStayClosed(t *testing.T) {
	events := []Event{
		{Kind: EventProviderJoined},
		{Kind: EventProviderLeft},
		{Kind: EventSessionEnded},
		{Kind: EventResumeRequested},
		{Kind: EventRestartRequested},
		Push(chat.StatusPending),
		Push(chat.StatusActive),
		Push(chat.StatusEnded),
		Push("unknown"),
	}

	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		m := New(chat.StatusPending)
		for step := 0; step < 50; step++ {
			ev := events[rng.Intn(len(events))]
			tr, err := m.Apply(ev)
			if !m.Status().Valid() {
				t.Fatalf("reached invalid status %q", m.Status())
			}
			if err != nil || !tr.Changed {
				continue
			}
			if ev.Kind == EventRestartRequested {
				if tr.To != chat.StatusPending {
					t.Fatalf("restart landed in %s", tr.To)
				}
				continue
			}
			if !Allowed(tr.From, tr.To) {
				t.Fatalf("realised illegal edge %s -> %s on %+v", tr.From, tr.To, ev)
			}
		}
	}
}
