package chat

import (
	"errors"
	"sync"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

var (
	ErrDuplicateSuppressed = errors.New("duplicate message suppressed")
	ErrSessionMismatch     = errors.New("message belongs to another session")
	ErrMessageNotFound     = errors.New("message not found")
	ErrOptionNotFound      = errors.New("option not found")
)

// Log holds the ordered message log of the open session.
type Log struct {
	mu        sync.RWMutex
	sessionID string
	messages  []chat.Message
	serverIDs map[string]struct{}
}

// NewLog returns an empty log bound to no session.
func NewLog() *Log {
	return &Log{serverIDs: make(map[string]struct{})}
}

// Reset empties the log and binds it to sessionID.
func (l *Log) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = sessionID
	l.messages = make([]chat.Message, 0, 16)
	l.serverIDs = make(map[string]struct{})
}

// Clear drops the history but keeps the session binding.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = make([]chat.Message, 0, 16)
	l.serverIDs = make(map[string]struct{})
}

// SessionID returns the session the log is bound to.
func (l *Log) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// Append adds message to the tail. A message whose server id is already present is rejected
// with ErrDuplicateSuppressed.
func (l *Log) Append(message chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(message)
}

func (l *Log) appendLocked(message chat.Message) error {
	if message.SessionID != "" && l.sessionID != "" && message.SessionID != l.sessionID {
		return ErrSessionMismatch
	}
	if message.ID != "" {
		if _, seen := l.serverIDs[message.ID]; seen {
			return ErrDuplicateSuppressed
		}
		l.serverIDs[message.ID] = struct{}{}
	}
	l.messages = append(l.messages, message)
	return nil
}

// Replace swaps the history for messages, skipping server-id duplicates and entries of other
// sessions. It returns how many entries were skipped.
func (l *Log) Replace(messages []chat.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = make([]chat.Message, 0, len(messages))
	l.serverIDs = make(map[string]struct{}, len(messages))
	skipped := 0
	for _, m := range messages {
		if err := l.appendLocked(m); err != nil {
			skipped++
		}
	}
	return skipped
}

// Messages returns a copy of the log.
func (l *Log) Messages() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make([]chat.Message, len(l.messages))
	for i, m := range l.messages {
		m.Options = append([]chat.Option(nil), m.Options...)
		copied[i] = m
	}
	return copied
}

// Last returns the tail message.
func (l *Log) Last() (chat.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return chat.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// SelectOption marks every option of the message identified by key as disabled once
// optionID has been chosen. This is the only mutation a logged message may receive.
func (l *Log) SelectOption(key, optionID string) (chat.Message, chat.Option, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.messages {
		if l.messages[i].Key() != key {
			continue
		}
		msg := &l.messages[i]
		var chosen *chat.Option
		options := make([]chat.Option, len(msg.Options))
		for j, opt := range msg.Options {
			if opt.OptionID == optionID {
				chosen = &options[j]
			}
			opt.Disabled = true
			options[j] = opt
		}
		if chosen == nil {
			return chat.Message{}, chat.Option{}, ErrOptionNotFound
		}
		msg.Options = options
		return *msg, *chosen, nil
	}
	return chat.Message{}, chat.Option{}, ErrMessageNotFound
}
