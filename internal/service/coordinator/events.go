package coordinator

import (
	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/service/lifecycle"
	"github.com/zhouzirui/consult-chat/backend/internal/service/unread"
)

type typingData struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

type statusData struct {
	Status chat.Status `json:"status"`
}

type markedReadData struct {
	Role chat.Role `json:"role"`
}

// HandleEvent dispatches one inbound transport event. The transport must call it from a single
// goroutine in arrival order. Malformed payloads are logged and dropped.
func (c *Coordinator) HandleEvent(ev event.Event) {
	switch ev.Name {
	case event.Connect:
		c.Connected()
		return
	case event.Disconnect:
		c.Disconnected()
		return
	case event.ReceiveMessage:
		var raw chat.RawMessage
		if err := ev.Decode(&raw); err != nil {
			c.malformed(ev, err)
			return
		}
		if raw.SessionID == "" {
			raw.SessionID = ev.SessionID
		}
		if raw.Timestamp.IsZero() {
			raw.Timestamp = ev.Timestamp
		}
		c.Ingest(raw)
		return
	}

	c.mu.Lock()
	c.handleLocked(ev)
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
}

func (c *Coordinator) handleLocked(ev event.Event) {
	switch ev.Name {
	case event.Typing:
		var data typingData
		if err := ev.Decode(&data); err != nil {
			c.malformed(ev, err)
			return
		}
		if data.SessionID == "" {
			data.SessionID = ev.SessionID
		}
		c.setTypingLocked(data.SessionID, data.IsTyping)

	case event.SessionStarted:
		c.pushLocked(ev.SessionID, lifecycle.Event{Kind: lifecycle.EventProviderJoined})

	case event.SessionEnded:
		c.pushLocked(ev.SessionID, lifecycle.Event{Kind: lifecycle.EventSessionEnded})

	case event.SessionResumed:
		c.pushLocked(ev.SessionID, lifecycle.Event{Kind: lifecycle.EventResumeRequested})

	case event.SessionStatusUpdated:
		var data statusData
		if err := ev.Decode(&data); err != nil {
			c.malformed(ev, err)
			return
		}
		c.pushLocked(ev.SessionID, lifecycle.Push(data.Status))

	case event.UnreadCountUpdated:
		var data unread.Update
		if err := ev.Decode(&data); err != nil {
			c.malformed(ev, err)
			return
		}
		counts := c.unread.OnServerUpdate(ev.SessionID, data)
		c.applyUnreadLocked(ev.SessionID, counts)

	case event.MessagesMarkedRead:
		var data markedReadData
		if err := ev.Decode(&data); err != nil || !data.Role.Valid() {
			data.Role = c.viewer
		}
		c.unread.OnMarkedRead(ev.SessionID, data.Role)
		c.applyUnreadLocked(ev.SessionID, c.unread.Counts(ev.SessionID))

	case event.AutomatedFlowCompleted:
		c.flows.Completed(ev.SessionID)
		c.logger.Info("automated flow completed", "session_id", ev.SessionID)

	case event.SessionCreated:
		var s chat.Session
		if err := ev.Decode(&s); err != nil || s.ID == "" {
			c.malformed(ev, err)
			return
		}
		if !s.Status.Valid() {
			s.Status = chat.StatusPending
		}
		c.unread.Seed(s.ID, s.Unread)
		c.rememberLocked(s)

	default:
		c.logger.Debug("unhandled event", "event", ev.Name)
	}
}

func (c *Coordinator) setTypingLocked(sessionID string, typing bool) {
	if c.current == nil || sessionID != c.current.ID {
		return
	}
	c.typing = typing
	if typing {
		c.scheduleLocked(timerTyping, c.typingExpiry, func() {
			c.typing = false
			c.notes = append(c.notes, Notification{Kind: NotifyTyping, SessionID: sessionID, Typing: false, At: c.now()})
		})
	} else {
		c.cancelTimerLocked(timerTyping)
	}
	c.notes = append(c.notes, Notification{Kind: NotifyTyping, SessionID: sessionID, Typing: typing, At: c.now()})
}

func (c *Coordinator) applyUnreadLocked(sessionID string, counts chat.UnreadCounts) {
	if s, ok := c.sessions[sessionID]; ok {
		s.Unread = counts
		c.sessions[sessionID] = s
	}
	if c.current != nil && c.current.ID == sessionID {
		c.current.Unread = counts
	}
	cp := counts
	c.notes = append(c.notes, Notification{Kind: NotifyUnread, SessionID: sessionID, Unread: &cp, At: c.now()})
}

func (c *Coordinator) malformed(ev event.Event, err error) {
	c.logger.Warn("malformed event dropped", "event", ev.Name, "session_id", ev.SessionID, "error", err)
}
