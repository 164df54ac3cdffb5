// Package flow recognises a scripted menu conversation that stalled waiting for a choice.
package flow

import (
	"sync"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
)

// Mode tells the server where to pick the flow up.
type Mode string

const (
	ModeStart    Mode = "start"
	ModeContinue Mode = "continue"
)

// ResumeIntent asks the server to continue a flow instead of restarting it.
type ResumeIntent struct {
	SessionID     string `json:"sessionId"`
	Mode          Mode   `json:"mode"`
	FlowMessageID string `json:"flowMessageId,omitempty"`
}

// OptionSelectedIntent reports a menu choice back to the server.
type OptionSelectedIntent struct {
	SessionID     string `json:"sessionId"`
	MessageID     string `json:"messageId,omitempty"`
	FlowMessageID string `json:"flowMessageId,omitempty"`
	OptionID      string `json:"optionId"`
	Label         string `json:"label"`
}

// NeedsResumption looks only at the last message: the flow is stalled iff it is
// system/automated and still carries options. Options marked disabled count too, since a
// rendered but unanswered menu looks the same as an expired one.
func NeedsResumption(log []chat.Message) bool {
	if len(log) == 0 {
		return false
	}
	last := log[len(log)-1]
	automated := last.IsAutomated || last.Sender == chat.SenderSystem
	return automated && last.AwaitingChoice()
}

// Coordinator turns positive checks into resume intents, at most once per stalled tail.
type Coordinator struct {
	mu      sync.Mutex
	resumed map[string]string
}

// NewCoordinator returns a coordinator with no history.
func NewCoordinator() *Coordinator {
	return &Coordinator{resumed: make(map[string]string)}
}

// Check evaluates log for sessionID. It returns an intent only the first time a given
// stalled tail is seen. Tails are keyed by flow node when they carry one, so a menu the server
// re-sends for the same node does not trigger another resume.
func (c *Coordinator) Check(sessionID string, log []chat.Message) (ResumeIntent, bool) {
	if sessionID == "" || !NeedsResumption(log) {
		return ResumeIntent{}, false
	}
	tail := log[len(log)-1]
	key := tail.Key()
	if tail.FlowMessageID != "" {
		key = "flow:" + tail.FlowMessageID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.resumed[sessionID]; ok && key != "" && prev == key {
		return ResumeIntent{}, false
	}
	c.resumed[sessionID] = key
	return ResumeIntent{SessionID: sessionID, Mode: ModeContinue, FlowMessageID: tail.FlowMessageID}, true
}

// Completed clears the guard once the server reports the flow finished.
func (c *Coordinator) Completed(sessionID string) {
	c.mu.Lock()
	delete(c.resumed, sessionID)
	c.mu.Unlock()
}

// Forget drops state for a closed or restarted session.
func (c *Coordinator) Forget(sessionID string) {
	c.Completed(sessionID)
}
