package coordinator

import (
	"fmt"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/service/lifecycle"
)

type restartPayload struct {
	SessionID string `json:"sessionId"`
}

type resumePayload struct {
	SessionID string `json:"sessionId"`
}

// Transition applies a locally requested lifecycle event to the open session. Rejected events
// are logged and returned as ErrInvalidTransition; they never reach the user as a failure.
func (c *Coordinator) Transition(ev lifecycle.Event) (lifecycle.Transition, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return lifecycle.Transition{}, ErrNoSession
	}
	tr, err := c.applyLocked(ev, true)
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return tr, err
}

// applyLocked runs ev through the state machine and performs the side effects of the realised
// edge. local marks events that originate from this client and therefore need to be reported
// to the server.
func (c *Coordinator) applyLocked(ev lifecycle.Event, local bool) (lifecycle.Transition, error) {
	tr, err := c.machine.Apply(ev)
	if err != nil {
		c.logger.Info("transition ignored", "session_id", c.current.ID, "local", local, "error", err)
		return tr, err
	}

	sessionID := c.current.ID
	provider := c.current.Participants.Provider
	c.current.Status = tr.To

	switch {
	case tr.Restarted():
		c.log.Clear()
		c.flows.Forget(sessionID)
		c.duration.Reset()
		c.typing = false
		c.cancelTimersLocked()
		c.current.LastMessagePreview = ""
		if local {
			c.queueAction(event.RestartSession, restartPayload{SessionID: sessionID})
		}
	case tr.Activated():
		join := chat.Message{
			SessionID:   sessionID,
			Sender:      chat.SenderSystem,
			Body:        joinText(provider),
			Timestamp:   c.now().UTC(),
			Kind:        chat.KindInformative,
			IsAutomated: true,
		}
		if err := c.log.Append(join); err == nil {
			c.noteMessageLocked(join)
		}
		if provider.Kind.Human() {
			c.duration.Start()
		}
	case tr.Ended():
		c.duration.Stop()
		c.typing = false
		c.cancelTimerLocked(timerTyping)
		if provider.Kind.Human() {
			c.notes = append(c.notes, Notification{Kind: NotifyRatingPrompt, SessionID: sessionID, At: c.now()})
		}
	case tr.Resumed():
		c.duration.Reset()
		if local {
			c.queueAction(event.ResumeSession, resumePayload{SessionID: sessionID})
		}
	}

	if tr.Changed || tr.Restarted() {
		c.rememberLocked(*c.current)
		c.notes = append(c.notes, Notification{Kind: NotifyStatus, SessionID: sessionID, Status: tr.To, At: c.now()})
		c.logger.Info("session transition", "session_id", sessionID, "from", tr.From, "to", tr.To, "event", ev.Kind)
	}
	return tr, nil
}

func joinText(provider chat.Participant) string {
	name := provider.DisplayName
	if name == "" {
		name = "Your consultant"
	}
	return fmt.Sprintf("%s has joined the chat", name)
}

// pushLocked applies a server-originated lifecycle event. Events for the open session go through
// its machine; events for other sessions are validated against the directory entry.
func (c *Coordinator) pushLocked(sessionID string, ev lifecycle.Event) {
	if c.current != nil && (sessionID == "" || sessionID == c.current.ID) {
		_, _ = c.applyLocked(ev, false)
		return
	}

	s, ok := c.sessions[sessionID]
	if !ok {
		c.logger.Debug("lifecycle event for unknown session", "session_id", sessionID, "event", ev.Kind)
		return
	}
	tr, err := lifecycle.New(s.Status).Apply(ev)
	if err != nil {
		c.logger.Info("background transition ignored", "session_id", sessionID, "error", err)
		return
	}
	s.Status = tr.To
	c.rememberLocked(s)
}
