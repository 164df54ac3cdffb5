// Package reconnect decides when a user who lost the realtime connection inside an active
// session should be offered to continue or restart it.
package reconnect

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/kv"
)

const (
	KeyLastActiveSession = "last_active_session"
	openedAtPrefix       = "session_opened_at:"

	DefaultStaleAfter = 5 * time.Minute
)

var (
	ErrMalformedRecord = errors.New("malformed persisted record")
	ErrNoPendingPrompt = errors.New("no reconnection prompt pending")
	ErrUnknownChoice   = errors.New("unknown reconnection choice")
)

// State is the monitor's position in Idle -> ArmedOnDisconnect -> PromptPending -> Resolved.
type State string

const (
	StateIdle          State = "idle"
	StateArmed         State = "armed_on_disconnect"
	StatePromptPending State = "prompt_pending"
	StateResolved      State = "resolved"
)

// Reason says which signal raised a prompt.
type Reason string

const (
	ReasonDisconnect Reason = "disconnect"
	ReasonStale      Reason = "stale"
)

// Choice is the user's answer to a prompt.
type Choice string

const (
	ChoiceContinue Choice = "continue"
	ChoiceRestart  Choice = "restart"
)

// Prompt is what the UI shows when a resume/restart decision is needed.
type Prompt struct {
	SessionID      string    `json:"sessionId"`
	Reason         Reason    `json:"reason"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

// Resolution is returned once the user answers a prompt.
type Resolution struct {
	Choice   Choice       `json:"choice"`
	Snapshot chat.Session `json:"snapshot"`
}

// Options tunes a Monitor.
type Options struct {
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Monitor owns the persisted reconnection record. All record access goes through
// updateRecord.
type Monitor struct {
	mu         sync.Mutex
	store      kv.Store
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	state   State
	pending *Prompt
}

// NewMonitor loads any record left by a previous process. A record found on start arms the
// monitor; a corrupt one is discarded.
func NewMonitor(store kv.Store, opts Options) *Monitor {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Monitor{
		store:      store,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "reconnect"),
		state:      StateIdle,
	}

	rec, err := m.updateRecord(nil)
	if err != nil {
		m.logger.Warn("load reconnection record failed", "error", err)
	}
	if rec != nil {
		m.state = StateArmed
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the prompt awaiting an answer, if any.
func (m *Monitor) Pending() (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePromptPending || m.pending == nil {
		return Prompt{}, false
	}
	return *m.pending, true
}

// Record returns the persisted record.
func (m *Monitor) Record() (chat.ReconnectionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, _ := m.updateRecord(nil)
	if rec == nil {
		return chat.ReconnectionRecord{}, false
	}
	return *rec, true
}

// OnDisconnect arms the monitor when the transport drops while current is active.
func (m *Monitor) OnDisconnect(current *chat.Session) bool {
	if current == nil || current.Status != chat.StatusActive {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := *current
	_, err := m.updateRecord(func(*chat.ReconnectionRecord) *chat.ReconnectionRecord {
		return &chat.ReconnectionRecord{SessionSnapshot: snapshot, DisconnectedAt: m.now().UTC()}
	})
	if err != nil {
		m.logger.Warn("persist reconnection record failed", "session_id", snapshot.ID, "error", err)
	}
	if m.state != StatePromptPending {
		m.state = StateArmed
	}
	m.logger.Info("armed on disconnect", "session_id", snapshot.ID)
	return true
}

// OnReconnect raises the prompt when openSessionID matches the record. With another session
// open the prompt stays deferred until the recorded session is selected again.
func (m *Monitor) OnReconnect(openSessionID string) (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StatePromptPending && m.pending != nil {
		return *m.pending, m.pending.SessionID == openSessionID
	}
	if m.state != StateArmed {
		return Prompt{}, false
	}

	rec, _ := m.updateRecord(nil)
	if rec == nil {
		m.state = StateIdle
		return Prompt{}, false
	}
	if openSessionID == "" || rec.SessionID() != openSessionID {
		m.logger.Debug("prompt deferred", "record_session_id", rec.SessionID(), "open_session_id", openSessionID)
		return Prompt{}, false
	}
	return m.raiseLocked(Prompt{SessionID: rec.SessionID(), Reason: ReasonDisconnect, DisconnectedAt: rec.DisconnectedAt}), true
}

// OnSessionSelected runs the reopen checks for session and stamps its opened-at time.
//
// A record from an explicit disconnect takes precedence over the staleness heuristic. The
// heuristic only fires when no record for another session is waiting.
func (m *Monitor) OnSessionSelected(session chat.Session) (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer m.stampOpenedLocked(session.ID)

	if m.state == StatePromptPending && m.pending != nil {
		if m.pending.SessionID == session.ID {
			return *m.pending, true
		}
		m.pending = nil
		m.state = StateArmed
	}

	rec, _ := m.updateRecord(nil)
	if rec != nil && m.state != StateArmed {
		m.state = StateArmed
	}
	if m.state == StateArmed {
		if rec == nil {
			m.state = StateIdle
		} else if rec.SessionID() == session.ID {
			return m.raiseLocked(Prompt{SessionID: session.ID, Reason: ReasonDisconnect, DisconnectedAt: rec.DisconnectedAt}), true
		} else {
			return Prompt{}, false
		}
	}

	if session.Status != chat.StatusActive {
		return Prompt{}, false
	}
	openedAt, ok := m.openedAtLocked(session.ID)
	if !ok || m.now().Sub(openedAt) <= m.staleAfter {
		return Prompt{}, false
	}

	snapshot := session
	if _, err := m.updateRecord(func(*chat.ReconnectionRecord) *chat.ReconnectionRecord {
		return &chat.ReconnectionRecord{SessionSnapshot: snapshot, DisconnectedAt: openedAt}
	}); err != nil {
		m.logger.Warn("persist stale record failed", "session_id", session.ID, "error", err)
	}
	return m.raiseLocked(Prompt{SessionID: session.ID, Reason: ReasonStale, DisconnectedAt: openedAt}), true
}

// Resolve answers the pending prompt and discards the record.
func (m *Monitor) Resolve(choice Choice) (Resolution, error) {
	if choice != ChoiceContinue && choice != ChoiceRestart {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePromptPending || m.pending == nil {
		return Resolution{}, ErrNoPendingPrompt
	}

	var snapshot chat.Session
	_, err := m.updateRecord(func(rec *chat.ReconnectionRecord) *chat.ReconnectionRecord {
		if rec != nil {
			snapshot = rec.SessionSnapshot
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("clear reconnection record failed", "error", err)
	}
	if snapshot.ID == "" {
		snapshot.ID = m.pending.SessionID
	}

	m.stampOpenedLocked(m.pending.SessionID)
	m.logger.Info("reconnection resolved", "session_id", m.pending.SessionID, "choice", choice)
	m.pending = nil
	m.state = StateResolved
	return Resolution{Choice: choice, Snapshot: snapshot}, nil
}

func (m *Monitor) raiseLocked(p Prompt) Prompt {
	m.pending = &p
	m.state = StatePromptPending
	m.logger.Info("reconnection prompt raised", "session_id", p.SessionID, "reason", p.Reason)
	return p
}

// updateRecord is the single read-modify-write accessor for the persisted record. With a nil
// fn it only reads. A malformed record is deleted and treated as absent. fn returning nil
// deletes the record.
func (m *Monitor) updateRecord(fn func(*chat.ReconnectionRecord) *chat.ReconnectionRecord) (*chat.ReconnectionRecord, error) {
	rec, err := m.readRecord()
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			m.logger.Debug("discarding reconnection record", "error", err)
			_ = m.store.Delete(KeyLastActiveSession)
			rec = nil
		} else {
			return nil, err
		}
	}
	if fn == nil {
		return rec, nil
	}

	next := fn(rec)
	if next == nil {
		return nil, m.store.Delete(KeyLastActiveSession)
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := m.store.Put(KeyLastActiveSession, data); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Monitor) readRecord() (*chat.ReconnectionRecord, error) {
	data, ok, err := m.store.Get(KeyLastActiveSession)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec chat.ReconnectionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.SessionID() == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedRecord)
	}
	return &rec, nil
}

func (m *Monitor) openedAtLocked(sessionID string) (time.Time, bool) {
	key := openedAtPrefix + sessionID
	data, ok, err := m.store.Get(key)
	if err != nil || !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		m.logger.Debug("discarding opened-at stamp", "session_id", sessionID, "error", err)
		_ = m.store.Delete(key)
		return time.Time{}, false
	}
	return at, true
}

func (m *Monitor) stampOpenedLocked(sessionID string) {
	if sessionID == "" {
		return
	}
	stamp := m.now().UTC().Format(time.RFC3339Nano)
	if err := m.store.Put(openedAtPrefix+sessionID, []byte(stamp)); err != nil {
		m.logger.Warn("stamp opened-at failed", "session_id", sessionID, "error", err)
	}
}
