package reconnect

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/kv"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newFixture() (*kv.MemoryStore, *clock, Options) {
	store := kv.NewMemoryStore()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := Options{
		Now:    c.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return store, c, opts
}

func activeSession(id string) chat.Session {
	return chat.Session{ID: id, Status: chat.StatusActive}
}

func TestDisconnectWhileActiveThenReconnectPrompts(t *testing.T) {
	store, _, opts := newFixture()
	m := NewMonitor(store, opts)

	s := activeSession("S")
	if !m.OnDisconnect(&s) {
		t.Fatal("expected monitor to arm")
	}
	if m.State() != StateArmed {
		t.Fatalf("state = %s", m.State())
	}
	rec, ok := m.Record()
	if !ok || rec.SessionID() != "S" {
		t.Fatalf("expected record for S, got %+v ok=%v", rec, ok)
	}

	prompt, ok := m.OnReconnect("S")
	if !ok || prompt.SessionID != "S" || prompt.Reason != ReasonDisconnect {
		t.Fatalf("expected prompt for S, got %+v ok=%v", prompt, ok)
	}
	if m.State() != StatePromptPending {
		t.Fatalf("state = %s", m.State())
	}
}

func TestDisconnectOutsideActiveSessionIsIgnored(t *testing.T) {
	store, _, opts := newFixture()
	m := NewMonitor(store, opts)

	pending := chat.Session{ID: "S", Status: chat.StatusPending}
	if m.OnDisconnect(&pending) || m.OnDisconnect(nil) {
		t.Fatal("monitor armed outside an active session")
	}
	if _, ok := m.Record(); ok {
		t.Fatal("no record expected")
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s", m.State())
	}
}

func TestPromptDeferredUntilSessionReselected(t *testing.T) {
	store, c, opts := newFixture()
	m := NewMonitor(store, opts)

	s := activeSession("S")
	m.OnDisconnect(&s)

	if _, ok := m.OnReconnect("OTHER"); ok {
		t.Fatal("prompt must wait while another session is open")
	}
	if m.State() != StateArmed {
		t.Fatalf("state = %s", m.State())
	}

	c.t = c.t.Add(time.Minute)
	prompt, ok := m.OnSessionSelected(s)
	if !ok || prompt.SessionID != "S" {
		t.Fatalf("expected prompt on reselect, got %+v ok=%v", prompt, ok)
	}
}

func TestResolveContinueAndRestart(t *testing.T) {
	for _, choice := range []Choice{ChoiceContinue, ChoiceRestart} {
		t.Run(string(choice), func(t *testing.T) {
			store, _, opts := newFixture()
			m := NewMonitor(store, opts)

			s := activeSession("S")
			s.LastMessagePreview = "hello"
			m.OnDisconnect(&s)
			m.OnReconnect("S")

			res, err := m.Resolve(choice)
			if err != nil {
				t.Fatalf("Resolve err: %v", err)
			}
			if res.Choice != choice || res.Snapshot.LastMessagePreview != "hello" {
				t.Fatalf("unexpected resolution %+v", res)
			}
			if _, ok := m.Record(); ok {
				t.Fatal("record must be cleared on resolution")
			}
			if m.State() != StateResolved {
				t.Fatalf("state = %s", m.State())
			}
			if _, err := m.Resolve(choice); !errors.Is(err, ErrNoPendingPrompt) {
				t.Fatalf("expected ErrNoPendingPrompt, got %v", err)
			}
		})
	}
}

func TestResolveRejectsUnknownChoice(t *testing.T) {
	store, _, opts := newFixture()
	m := NewMonitor(store, opts)
	if _, err := m.Resolve("later"); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("expected ErrUnknownChoice, got %v", err)
	}
}

func TestStaleOpenedAtPromptsOnReopen(t *testing.T) {
	store, c, opts := newFixture()
	m := NewMonitor(store, opts)
	s := activeSession("S")

	if _, ok := m.OnSessionSelected(s); ok {
		t.Fatal("first open must not prompt")
	}

	c.t = c.t.Add(2 * time.Minute)
	if _, ok := m.OnSessionSelected(s); ok {
		t.Fatal("fresh reopen must not prompt")
	}

	c.t = c.t.Add(6 * time.Minute)
	prompt, ok := m.OnSessionSelected(s)
	if !ok || prompt.Reason != ReasonStale {
		t.Fatalf("expected stale prompt, got %+v ok=%v", prompt, ok)
	}
	if m.State() != StatePromptPending {
		t.Fatalf("state = %s", m.State())
	}
}

func TestStaleHeuristicSkipsEndedSessions(t *testing.T) {
	store, c, opts := newFixture()
	m := NewMonitor(store, opts)
	s := chat.Session{ID: "S", Status: chat.StatusEnded}

	m.OnSessionSelected(s)
	c.t = c.t.Add(time.Hour)
	if _, ok := m.OnSessionSelected(s); ok {
		t.Fatal("ended sessions never prompt")
	}
}

func TestDisconnectRecordTakesPrecedenceOverStaleness(t *testing.T) {
	store, c, opts := newFixture()
	m := NewMonitor(store, opts)

	a := activeSession("A")
	b := activeSession("B")
	m.OnSessionSelected(b)
	m.OnSessionSelected(a)
	m.OnDisconnect(&a)

	c.t = c.t.Add(10 * time.Minute)
	if _, ok := m.OnSessionSelected(b); ok {
		t.Fatal("stale heuristic must not fire while another session's record waits")
	}
	rec, ok := m.Record()
	if !ok || rec.SessionID() != "A" {
		t.Fatalf("record for A must survive, got %+v", rec)
	}

	prompt, ok := m.OnSessionSelected(a)
	if !ok || prompt.Reason != ReasonDisconnect {
		t.Fatalf("expected disconnect prompt for A, got %+v ok=%v", prompt, ok)
	}
}

func TestSwitchingAwayDemotesPrompt(t *testing.T) {
	store, _, opts := newFixture()
	m := NewMonitor(store, opts)

	s := activeSession("S")
	m.OnDisconnect(&s)
	m.OnReconnect("S")

	m.OnSessionSelected(activeSession("OTHER"))
	if m.State() != StateArmed {
		t.Fatalf("state = %s", m.State())
	}
	if _, ok := m.Pending(); ok {
		t.Fatal("prompt must not stay pending for another session")
	}
	if _, ok := m.OnSessionSelected(s); !ok {
		t.Fatal("expected prompt again on return")
	}
}

func TestRecordSurvivesRestart(t *testing.T) {
	store, _, opts := newFixture()
	first := NewMonitor(store, opts)
	s := activeSession("S")
	first.OnDisconnect(&s)

	second := NewMonitor(store, opts)
	if second.State() != StateArmed {
		t.Fatalf("state = %s", second.State())
	}
	if _, ok := second.OnReconnect("S"); !ok {
		t.Fatal("expected prompt from persisted record")
	}
}

func TestCorruptRecordIsDiscarded(t *testing.T) {
	cases := map[string]string{
		"garbage":    "{not json",
		"no session": `{"sessionSnapshot":{},"disconnectedAt":"2024-01-01T00:00:00Z"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			store, _, opts := newFixture()
			_ = store.Put(KeyLastActiveSession, []byte(payload))

			m := NewMonitor(store, opts)
			if m.State() != StateIdle {
				t.Fatalf("state = %s", m.State())
			}
			if _, ok, _ := store.Get(KeyLastActiveSession); ok {
				t.Fatal("corrupt record must be deleted")
			}
		})
	}
}

func TestCorruptOpenedAtIsTreatedAsAbsent(t *testing.T) {
	store, _, opts := newFixture()
	_ = store.Put(openedAtPrefix+"S", []byte("yesterday"))
	m := NewMonitor(store, opts)

	if _, ok := m.OnSessionSelected(activeSession("S")); ok {
		t.Fatal("corrupt stamp must not prompt")
	}
	data, ok, _ := store.Get(openedAtPrefix + "S")
	if !ok {
		t.Fatal("expected fresh stamp")
	}
	if _, err := time.Parse(time.RFC3339Nano, string(data)); err != nil {
		t.Fatalf("stamp not rewritten: %q", data)
	}
}
