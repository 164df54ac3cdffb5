// Package coordinator composes the session components behind the contract consumed by the UI
// and the realtime transport. All state changes are serialized through one lock; outbound
// intents and UI notifications are dispatched after the lock is released.
package coordinator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/model/kv"
	chatservice "github.com/zhouzirui/consult-chat/backend/internal/service/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/service/dedup"
	"github.com/zhouzirui/consult-chat/backend/internal/service/flow"
	"github.com/zhouzirui/consult-chat/backend/internal/service/lifecycle"
	"github.com/zhouzirui/consult-chat/backend/internal/service/reconnect"
	"github.com/zhouzirui/consult-chat/backend/internal/service/unread"
)

var (
	ErrNoSession     = errors.New("no session open")
	ErrStaleSession  = errors.New("session is no longer open")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrSessionClosed = errors.New("session has ended")
	ErrSendFailed    = errors.New("send failed")
)

const (
	DefaultSettleDelay  = 1500 * time.Millisecond
	DefaultTypingExpiry = 3 * time.Second
)

// Options configures a Coordinator. Zero values pick defaults.
type Options struct {
	Viewer       chat.Role
	SettleDelay  time.Duration
	TypingExpiry time.Duration
	DedupTTL     time.Duration
	DedupSize    int
	StaleAfter   time.Duration

	Store     kv.Store
	Notifier  Notifier
	Scheduler Scheduler
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

type outbound struct {
	name    string
	payload any
	ack     event.AckFunc
}

// batch is the work collected under the lock and dispatched after it is released.
type batch struct {
	intents []outbound
	notes   []Notification
}

// Coordinator owns the open session and its message log.
type Coordinator struct {
	mu sync.Mutex

	viewer       chat.Role
	settleDelay  time.Duration
	typingExpiry time.Duration

	transport event.Emitter
	notifier  Notifier
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	log      *chatservice.Log
	dedup    *dedup.Deduplicator
	unread   *unread.Tracker
	monitor  *reconnect.Monitor
	flows    *flow.Coordinator
	duration *lifecycle.Timer

	current    *chat.Session
	machine    *lifecycle.Machine
	generation uint64
	timers     map[string]Timer
	typing     bool
	connected  bool

	// sending maps the clientOriginId of each unacknowledged send to whether its echo
	// was already appended.
	sending map[string]bool

	sessions map[string]chat.Session
	order    []string

	intents []outbound
	notes   []Notification
}

// New wires a Coordinator around transport.
func New(transport event.Emitter, opts Options) *Coordinator {
	if !opts.Viewer.Valid() {
		opts.Viewer = chat.RoleUser
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = DefaultTypingExpiry
	}
	if opts.Store == nil {
		opts.Store = kv.NewMemoryStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "temp-" + uuid.NewString() }
	}

	return &Coordinator{
		viewer:       opts.Viewer,
		settleDelay:  opts.SettleDelay,
		typingExpiry: opts.TypingExpiry,
		transport:    transport,
		notifier:     opts.Notifier,
		scheduler:    opts.Scheduler,
		logger:       opts.Logger.With("component", "coordinator", "viewer", opts.Viewer),
		now:          opts.Now,
		newID:        opts.NewID,
		log:          chatservice.NewLog(),
		dedup:        dedup.New(opts.DedupTTL, opts.DedupSize, opts.Now),
		unread:       unread.NewTracker(),
		monitor: reconnect.NewMonitor(opts.Store, reconnect.Options{
			StaleAfter: opts.StaleAfter,
			Now:        opts.Now,
			Logger:     opts.Logger,
		}),
		flows:    flow.NewCoordinator(),
		duration: lifecycle.NewTimer(opts.Now),
		timers:   make(map[string]Timer),
		sending:  make(map[string]bool),
		sessions: make(map[string]chat.Session),
	}
}

// Viewer returns the role this client plays.
func (c *Coordinator) Viewer() chat.Role {
	return c.viewer
}

// OpenSession makes session the open session: the log is reset, the viewer's unread counter is
// zeroed, the reconnection reopen check runs and a flow check is scheduled.
func (c *Coordinator) OpenSession(session chat.Session) (View, error) {
	if session.ID == "" {
		return View{}, ErrNoSession
	}

	c.mu.Lock()
	c.closeLocked()
	c.generation++
	// a reopened session gets a fresh chance to resume its flow
	c.flows.Forget(session.ID)

	if !session.Status.Valid() {
		session.Status = chat.StatusPending
	}
	if known, ok := c.sessions[session.ID]; ok && session.LastMessagePreview == "" {
		session.LastMessagePreview = known.LastMessagePreview
	}
	if session.Unread != (chat.UnreadCounts{}) {
		c.unread.Seed(session.ID, session.Unread)
	}
	c.current = &session
	c.machine = lifecycle.New(session.Status)
	c.log.Reset(session.ID)
	c.duration.Reset()
	if session.Status == chat.StatusActive && session.Participants.Provider.Kind.Human() {
		c.duration.Start()
	}

	intent := c.unread.OnSessionOpened(session.ID, c.viewer)
	c.current.Unread = c.unread.Counts(session.ID)
	c.rememberLocked(*c.current)
	c.queueAction(event.MarkRead, intent)

	if prompt, ok := c.monitor.OnSessionSelected(*c.current); ok {
		c.notePromptLocked(prompt)
	}
	c.scheduleFlowCheckLocked()

	c.logger.Info("session opened", "session_id", session.ID, "status", session.Status)
	view := c.viewLocked()
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return view, nil
}

// LoadHistory replaces the log of sessionID with fetched history. Late results for a session
// that is no longer open are dropped.
func (c *Coordinator) LoadHistory(sessionID string, history []chat.RawMessage) error {
	c.mu.Lock()
	if c.current == nil || c.current.ID != sessionID {
		c.mu.Unlock()
		return ErrStaleSession
	}

	self := c.current.Participants.Of(c.viewer)
	messages := make([]chat.Message, 0, len(history))
	for _, raw := range history {
		if raw.SessionID == "" {
			raw.SessionID = sessionID
		}
		messages = append(messages, chat.Normalize(raw, self))
	}
	if skipped := c.log.Replace(messages); skipped > 0 {
		c.logger.Debug("history duplicates suppressed", "session_id", sessionID, "count", skipped)
	}
	if last, ok := c.log.Last(); ok {
		c.setPreviewLocked(sessionID, last)
	}
	c.scheduleFlowCheckLocked()
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return nil
}

// CloseSession cancels everything tied to the open session.
func (c *Coordinator) CloseSession() {
	c.mu.Lock()
	c.closeLocked()
	c.generation++
	c.mu.Unlock()
}

func (c *Coordinator) closeLocked() {
	c.cancelTimersLocked()
	c.typing = false
	if c.current == nil {
		return
	}
	c.unread.OnSessionClosed(c.current.ID)
	c.duration.Stop()
	c.logger.Info("session closed", "session_id", c.current.ID)
	c.current = nil
	c.machine = nil
}

// Connected is called when the transport (re)connects.
func (c *Coordinator) Connected() {
	c.mu.Lock()
	c.connected = true
	openID := ""
	if c.current != nil {
		openID = c.current.ID
	}
	if prompt, ok := c.monitor.OnReconnect(openID); ok {
		c.notePromptLocked(prompt)
	}
	if c.current != nil {
		// intents sent before the drop may never have reached the server
		c.flows.Forget(c.current.ID)
		c.scheduleFlowCheckLocked()
	}
	c.logger.Info("transport connected")
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
}

// Disconnected is called when the transport drops.
func (c *Coordinator) Disconnected() {
	c.mu.Lock()
	c.connected = false
	var snapshot *chat.Session
	if c.current != nil {
		s := *c.current
		s.Unread = c.unread.Counts(s.ID)
		snapshot = &s
	}
	c.monitor.OnDisconnect(snapshot)
	c.logger.Warn("transport disconnected")
	c.mu.Unlock()
}

// ResolveReconnect answers the pending reconnection prompt. Restart clears the local history
// and asks the server to reset the session; continue keeps everything as it is.
func (c *Coordinator) ResolveReconnect(choice reconnect.Choice) (reconnect.Resolution, error) {
	c.mu.Lock()
	res, err := c.monitor.Resolve(choice)
	if err != nil {
		c.mu.Unlock()
		return res, err
	}

	if choice == reconnect.ChoiceRestart {
		if c.current != nil && c.current.ID == res.Snapshot.ID {
			if _, err := c.applyLocked(lifecycle.Event{Kind: lifecycle.EventRestartRequested}, true); err != nil {
				c.logger.Warn("restart after reconnect failed", "error", err)
			}
		} else {
			c.queueAction(event.RestartSession, restartPayload{SessionID: res.Snapshot.ID})
		}
	}
	out := c.drainLocked()
	c.mu.Unlock()

	c.dispatch(out)
	return res, nil
}

// ReconnectState exposes the monitor state for diagnostics.
func (c *Coordinator) ReconnectState() reconnect.State {
	return c.monitor.State()
}

func (c *Coordinator) notePromptLocked(prompt reconnect.Prompt) {
	p := prompt
	c.notes = append(c.notes, Notification{
		Kind:      NotifyReconnectPrompt,
		SessionID: p.SessionID,
		Prompt:    &p,
		At:        c.now(),
	})
}

func (c *Coordinator) scheduleFlowCheckLocked() {
	if c.current == nil {
		return
	}
	sessionID := c.current.ID
	c.scheduleLocked(timerFlow, c.settleDelay, func() {
		intent, ok := c.flows.Check(sessionID, c.log.Messages())
		if !ok {
			return
		}
		c.logger.Info("resuming automated flow", "session_id", sessionID, "flow_message_id", intent.FlowMessageID)
		c.queue(event.ResumeFlow, intent, func(ack event.Ack) {
			if err := ack.Err(); err != nil {
				c.logger.Warn("resume flow rejected", "session_id", sessionID, "error", err)
				c.flows.Forget(sessionID)
			}
		})
	})
}

// queue records an intent to emit once the lock is released.
func (c *Coordinator) queue(name string, payload any, ack event.AckFunc) {
	c.intents = append(c.intents, outbound{name: name, payload: payload, ack: ack})
}

// queueAction records a user-initiated intent whose failure is surfaced to the UI.
func (c *Coordinator) queueAction(name string, payload any) {
	c.queue(name, payload, func(ack event.Ack) {
		err := ack.Err()
		if err == nil {
			return
		}
		c.logger.Warn("intent failed", "intent", name, "error", err)
		c.notifier.Notify(Notification{Kind: NotifyActionFailed, Action: name, Error: err.Error(), At: c.now()})
	})
}

func (c *Coordinator) drainLocked() batch {
	b := batch{intents: c.intents, notes: c.notes}
	c.intents, c.notes = nil, nil
	return b
}

func (c *Coordinator) dispatch(b batch) {
	for _, n := range b.notes {
		c.notifier.Notify(n)
	}
	for _, o := range b.intents {
		if c.transport == nil {
			o.ack(event.Failed(errors.New("transport unavailable")))
			continue
		}
		if err := c.transport.Emit(o.name, o.payload, o.ack); err != nil {
			o.ack(event.Failed(err))
		}
	}
}
