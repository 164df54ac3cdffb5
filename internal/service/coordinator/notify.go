package coordinator

import (
	"time"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/service/reconnect"
)

// NotificationKind tells the UI what happened.
type NotificationKind string

const (
	NotifyMessage         NotificationKind = "message"
	NotifyStatus          NotificationKind = "status"
	NotifyTyping          NotificationKind = "typing"
	NotifyUnread          NotificationKind = "unread"
	NotifyReconnectPrompt NotificationKind = "reconnect_prompt"
	NotifyRatingPrompt    NotificationKind = "rating_prompt"
	NotifySendFailed      NotificationKind = "send_failed"
	NotifyActionFailed    NotificationKind = "action_failed"
)

// Notification is pushed to the UI collaborator.
type Notification struct {
	Kind      NotificationKind   `json:"kind"`
	SessionID string             `json:"sessionId,omitempty"`
	Message   *chat.Message      `json:"message,omitempty"`
	Status    chat.Status        `json:"status,omitempty"`
	Unread    *chat.UnreadCounts `json:"unread,omitempty"`
	Typing    bool               `json:"typing,omitempty"`
	Prompt    *reconnect.Prompt  `json:"prompt,omitempty"`
	Action    string             `json:"action,omitempty"`
	// Text carries the original input of a failed send so the user can retry.
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Notifier receives UI notifications. Calls happen outside the coordinator lock.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}
