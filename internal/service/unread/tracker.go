// Package unread keeps per-role unread badges consistent between optimistic local resets and
// authoritative server pushes.
package unread

import (
	"sync"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

// MarkReadIntent asks the server to acknowledge that role has read sessionID.
type MarkReadIntent struct {
	SessionID string    `json:"sessionId"`
	Role      chat.Role `json:"role"`
}

// Update is a server push. Nil fields leave the local counter alone.
type Update struct {
	User     *int `json:"userUnreadCount,omitempty"`
	Provider *int `json:"providerUnreadCount,omitempty"`
}

// Tracker holds counters for every known session.
type Tracker struct {
	mu      sync.Mutex
	counts  map[string]chat.UnreadCounts
	viewers map[string]chat.Role
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counts:  make(map[string]chat.UnreadCounts),
		viewers: make(map[string]chat.Role),
	}
}

// Seed records counters already known for a session, e.g. from a session list fetch.
func (t *Tracker) Seed(sessionID string, counts chat.UnreadCounts) {
	t.mu.Lock()
	t.counts[sessionID] = counts
	t.mu.Unlock()
}

// OnSessionOpened optimistically zeroes the viewer's counter and returns the mark-read
// intent the caller must emit. The other role's counter is untouched.
func (t *Tracker) OnSessionOpened(sessionID string, viewer chat.Role) MarkReadIntent {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counts[sessionID]
	c.Set(viewer, 0)
	t.counts[sessionID] = c
	t.viewers[sessionID] = viewer
	return MarkReadIntent{SessionID: sessionID, Role: viewer}
}

// OnSessionClosed records that nobody is viewing sessionID any more.
func (t *Tracker) OnSessionClosed(sessionID string) {
	t.mu.Lock()
	delete(t.viewers, sessionID)
	t.mu.Unlock()
}

// OnServerUpdate overwrites local counters with the authoritative values. The server always
// wins, even when it re-introduces a count the viewer just zeroed.
func (t *Tracker) OnServerUpdate(sessionID string, update Update) chat.UnreadCounts {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counts[sessionID]
	if update.User != nil {
		c.Set(chat.RoleUser, *update.User)
	}
	if update.Provider != nil {
		c.Set(chat.RoleProvider, *update.Provider)
	}
	t.counts[sessionID] = c
	return c
}

// OnMessageReceived bumps role's counter for a message role has not seen. Messages arriving
// while role is viewing the session do not count.
func (t *Tracker) OnMessageReceived(sessionID string, role chat.Role) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counts[sessionID]
	if viewer, ok := t.viewers[sessionID]; ok && viewer == role {
		return c.Get(role)
	}
	c.Set(role, c.Get(role)+1)
	t.counts[sessionID] = c
	return c.Get(role)
}

// OnMarkedRead applies a server acknowledgment that role has read everything.
func (t *Tracker) OnMarkedRead(sessionID string, role chat.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counts[sessionID]
	c.Set(role, 0)
	t.counts[sessionID] = c
}

// Counts returns the counters for sessionID.
func (t *Tracker) Counts(sessionID string) chat.UnreadCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[sessionID]
}

// Viewer returns the role currently viewing sessionID.
func (t *Tracker) Viewer(sessionID string) (chat.Role, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	role, ok := t.viewers[sessionID]
	return role, ok
}
