package coordinator

import (
	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/service/reconnect"
)

// View is the read-only projection rendered by the UI.
type View struct {
	Session   *chat.Session     `json:"session,omitempty"`
	Messages  []chat.Message    `json:"messages"`
	Viewer    chat.Role         `json:"viewer"`
	Typing    bool              `json:"typing"`
	Duration  string            `json:"duration"`
	Connected bool              `json:"connected"`
	Prompt    *reconnect.Prompt `json:"prompt,omitempty"`
}

// View returns a snapshot of the open session.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) viewLocked() View {
	v := View{
		Messages:  []chat.Message{},
		Viewer:    c.viewer,
		Typing:    c.typing,
		Duration:  c.duration.String(),
		Connected: c.connected,
	}
	if c.current != nil {
		s := *c.current
		s.Unread = c.unread.Counts(s.ID)
		v.Session = &s
		v.Messages = c.log.Messages()
	}
	if p, ok := c.monitor.Pending(); ok {
		v.Prompt = &p
	}
	return v
}

// Sessions lists every known session in the order first seen.
func (c *Coordinator) Sessions() []chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]chat.Session, 0, len(c.order))
	for _, id := range c.order {
		s := c.sessions[id]
		s.Unread = c.unread.Counts(id)
		out = append(out, s)
	}
	return out
}

// Session returns a known session by id.
func (c *Coordinator) Session(id string) (chat.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if ok {
		s.Unread = c.unread.Counts(id)
	}
	return s, ok
}

func (c *Coordinator) rememberLocked(s chat.Session) {
	if _, ok := c.sessions[s.ID]; !ok {
		c.order = append(c.order, s.ID)
	}
	c.sessions[s.ID] = s
}

func (c *Coordinator) setPreviewLocked(sessionID string, msg chat.Message) {
	preview := msg.Body
	if preview == "" {
		preview = string(msg.Kind)
	}
	if s, ok := c.sessions[sessionID]; ok {
		s.LastMessagePreview = preview
		c.sessions[sessionID] = s
	}
	if c.current != nil && c.current.ID == sessionID {
		c.current.LastMessagePreview = preview
	}
}
