package coordinator

import (
	"errors"
	"strings"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	chatservice "github.com/zhouzirui/consult-chat/backend/internal/service/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/service/flow"
)

type sendPayload struct {
	SessionID      string    `json:"sessionId"`
	ClientOriginID string    `json:"clientOriginId"`
	Body           string    `json:"body"`
	Kind           chat.Kind `json:"kind"`
}

// Ingest accepts one inbound message. Echoes of locally sent messages and server-id duplicates
// are dropped silently. Messages for sessions other than the open one only update the session
// directory. It reports whether the message was appended to the open log.
func (c *Coordinator) Ingest(raw chat.RawMessage) bool {
	c.mu.Lock()
	accepted := c.ingestLocked(raw)
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return accepted
}

func (c *Coordinator) ingestLocked(raw chat.RawMessage) bool {
	if c.current == nil || raw.SessionID != c.current.ID {
		c.ingestBackgroundLocked(raw)
		return false
	}

	msg := chat.Normalize(raw, c.current.Participants.Of(c.viewer))
	if echoed, waiting := c.sending[msg.ClientOriginID]; waiting && msg.ClientOriginID != "" && !echoed {
		// The ack is still outstanding, so the echo is the server's copy of the message.
		c.sending[msg.ClientOriginID] = true
		c.dedup.Forget(msg.ClientOriginID)
	} else if !c.dedup.ShouldAccept(msg) {
		c.logger.Debug("echo suppressed", "session_id", msg.SessionID, "client_origin_id", msg.ClientOriginID)
		return false
	}
	if err := c.log.Append(msg); err != nil {
		if errors.Is(err, chatservice.ErrDuplicateSuppressed) {
			c.logger.Debug("duplicate suppressed", "session_id", msg.SessionID, "message_id", msg.ID)
		} else {
			c.logger.Warn("append failed", "session_id", msg.SessionID, "error", err)
		}
		return false
	}

	if msg.Sender == chat.SenderCounterpart && c.typing {
		c.typing = false
		c.cancelTimerLocked(timerTyping)
	}
	c.setPreviewLocked(msg.SessionID, msg)
	c.noteMessageLocked(msg)
	c.scheduleFlowCheckLocked()
	return true
}

// ingestBackgroundLocked updates preview and unread badge of a session that is not open.
func (c *Coordinator) ingestBackgroundLocked(raw chat.RawMessage) {
	if raw.SessionID == "" {
		c.logger.Debug("message without session dropped")
		return
	}
	s, ok := c.sessions[raw.SessionID]
	if !ok {
		s = chat.Session{ID: raw.SessionID, Status: chat.StatusPending, CreatedAt: c.now()}
	}
	msg := chat.Normalize(raw, s.Participants.Of(c.viewer))
	// Without participants a message from the viewer's other device is indistinguishable from
	// the counterpart's, so only system messages count until the server pushes real counts.
	known := s.Participants != (chat.Participants{})
	if msg.Sender == chat.SenderSystem || (known && msg.Sender == chat.SenderCounterpart) {
		c.unread.OnMessageReceived(raw.SessionID, c.viewer)
	}
	c.rememberLocked(s)
	c.setPreviewLocked(raw.SessionID, msg)
	counts := c.unread.Counts(raw.SessionID)
	c.notes = append(c.notes, Notification{Kind: NotifyUnread, SessionID: raw.SessionID, Unread: &counts, At: c.now()})
}

// SendLocal sends text in the open session. The clientOriginId is registered for echo
// suppression before the intent leaves. The message is appended only once the transport
// acknowledges it; on failure nothing is appended and the text is handed back through a
// NotifySendFailed notification.
func (c *Coordinator) SendLocal(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return chat.Message{}, ErrNoSession
	}
	if c.machine.Status() == chat.StatusEnded {
		c.mu.Unlock()
		return chat.Message{}, ErrSessionClosed
	}

	msg := chat.Message{
		ClientOriginID: c.newID(),
		SessionID:      c.current.ID,
		Sender:         chat.SenderUser,
		Body:           text,
		Timestamp:      c.now().UTC(),
		Kind:           chat.KindText,
	}
	gen := c.generation
	c.dedup.Track(msg.ClientOriginID)
	c.sending[msg.ClientOriginID] = false
	c.queue(event.SendMessage, sendPayload{
		SessionID:      msg.SessionID,
		ClientOriginID: msg.ClientOriginID,
		Body:           msg.Body,
		Kind:           msg.Kind,
	}, func(ack event.Ack) {
		c.onSendAck(gen, msg, ack)
	})
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return msg, nil
}

func (c *Coordinator) onSendAck(gen uint64, msg chat.Message, ack event.Ack) {
	c.mu.Lock()
	echoed := c.sending[msg.ClientOriginID]
	delete(c.sending, msg.ClientOriginID)

	if err := ack.Err(); echoed {
		// the echo already put the server's copy in the log
		if err != nil {
			c.logger.Info("ack failed after echo, keeping delivered message", "session_id", msg.SessionID, "client_origin_id", msg.ClientOriginID, "error", err)
		}
	} else if err != nil {
		c.dedup.Forget(msg.ClientOriginID)
		c.logger.Warn("send failed", "session_id", msg.SessionID, "client_origin_id", msg.ClientOriginID, "error", err)
		c.notes = append(c.notes, Notification{
			Kind:      NotifySendFailed,
			SessionID: msg.SessionID,
			Text:      msg.Body,
			Error:     errors.Join(ErrSendFailed, err).Error(),
			At:        c.now(),
		})
	} else {
		if ack.MessageID != "" {
			msg.ID = ack.MessageID
		}
		c.setPreviewLocked(msg.SessionID, msg)
		if gen == c.generation && c.current != nil && c.current.ID == msg.SessionID {
			if err := c.log.Append(msg); err == nil {
				c.noteMessageLocked(msg)
				c.scheduleFlowCheckLocked()
			}
		}
	}
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
}

// SelectOption records the choice of optionID on the automated message identified by
// messageKey and reports it to the server.
func (c *Coordinator) SelectOption(messageKey, optionID string) (chat.Message, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return chat.Message{}, ErrNoSession
	}
	msg, opt, err := c.log.SelectOption(messageKey, optionID)
	if err != nil {
		c.mu.Unlock()
		return chat.Message{}, err
	}
	c.queueAction(event.FlowOptionSelected, flow.OptionSelectedIntent{
		SessionID:     c.current.ID,
		MessageID:     msg.ID,
		FlowMessageID: msg.FlowMessageID,
		OptionID:      opt.OptionID,
		Label:         opt.Label,
	})
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return msg, nil
}

func (c *Coordinator) noteMessageLocked(msg chat.Message) {
	m := msg
	c.notes = append(c.notes, Notification{Kind: NotifyMessage, SessionID: m.SessionID, Message: &m, At: c.now()})
}
