package unread

import (
	"math/rand"
	"testing"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

func intPtr(v int) *int { return &v }

func TestOpenZeroesOnlyViewerRole(t *testing.T) {
	tr := NewTracker()
	tr.Seed("s1", chat.UnreadCounts{User: 4, Provider: 7})

	intent := tr.OnSessionOpened("s1", chat.RoleProvider)
	if intent.SessionID != "s1" || intent.Role != chat.RoleProvider {
		t.Fatalf("unexpected intent %+v", intent)
	}

	got := tr.Counts("s1")
	if got.Provider != 0 {
		t.Fatalf("expected provider counter zeroed, got %d", got.Provider)
	}
	if got.User != 4 {
		t.Fatalf("user counter must be untouched, got %d", got.User)
	}
}

func TestServerUpdateWins(t *testing.T) {
	tr := NewTracker()
	tr.OnSessionOpened("s1", chat.RoleUser)

	got := tr.OnServerUpdate("s1", Update{User: intPtr(2)})
	if got.User != 2 {
		t.Fatalf("expected server value to reintroduce count, got %d", got.User)
	}
	if got.Provider != 0 {
		t.Fatalf("nil field must not change provider counter, got %d", got.Provider)
	}
}

func TestLastServerValueWinsOverInterleavedZeroes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for run := 0; run < 100; run++ {
		tr := NewTracker()
		last := 0
		for step := 0; step < 30; step++ {
			switch rng.Intn(3) {
			case 0:
				tr.OnSessionOpened("s1", chat.RoleUser)
			case 1:
				tr.OnSessionClosed("s1")
			default:
				last = rng.Intn(20)
				tr.OnServerUpdate("s1", Update{User: intPtr(last)})
			}
		}
		tr.OnServerUpdate("s1", Update{User: intPtr(last)})
		if got := tr.Counts("s1").User; got != last {
			t.Fatalf("run %d: counter %d, want last server value %d", run, got, last)
		}
	}
}

func TestMessagesWhileViewingDoNotCount(t *testing.T) {
	tr := NewTracker()
	tr.OnSessionOpened("s1", chat.RoleUser)

	if n := tr.OnMessageReceived("s1", chat.RoleUser); n != 0 {
		t.Fatalf("viewer counter grew to %d", n)
	}

	tr.OnSessionClosed("s1")
	tr.OnMessageReceived("s1", chat.RoleUser)
	if n := tr.OnMessageReceived("s1", chat.RoleUser); n != 2 {
		t.Fatalf("expected 2 unread after leaving, got %d", n)
	}

	tr.OnMarkedRead("s1", chat.RoleUser)
	if n := tr.Counts("s1").User; n != 0 {
		t.Fatalf("expected zero after mark-read ack, got %d", n)
	}
}

func TestNegativeServerValuesClamp(t *testing.T) {
	tr := NewTracker()
	got := tr.OnServerUpdate("s1", Update{Provider: intPtr(-3)})
	if got.Provider != 0 {
		t.Fatalf("expected clamp to zero, got %d", got.Provider)
	}
}
