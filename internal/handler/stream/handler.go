package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
	"github.com/zhouzirui/consult-chat/backend/pkg/utils"
)

const (
	defaultBuffer    = 32
	defaultHeartbeat = 8 * time.Second
)

// Broker fans coordinator notifications out to every connected Server-Sent Events client.
// It implements coordinator.Notifier.
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan coordinator.Notification]struct{}
	buffer      int
	heartbeat   time.Duration
	logger      *slog.Logger
}

// NewBroker creates a new notification broker
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[chan coordinator.Notification]struct{}),
		buffer:      defaultBuffer,
		heartbeat:   defaultHeartbeat,
		logger:      logger.With("component", "sse"),
	}
}

// Notify delivers n to every subscriber. Slow subscribers lose the notification instead of
// blocking the coordinator.
func (b *Broker) Notify(n coordinator.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.logger.Warn("dropping notification for slow subscriber", "kind", n.Kind, "session_id", n.SessionID)
		}
	}
}

// Subscribe registers a new listener. The returned cancel func must be called once.
func (b *Broker) Subscribe() (<-chan coordinator.Notification, func()) {
	ch := make(chan coordinator.Notification, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}
}

// Subscribers returns the number of connected listeners.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// ServeHTTP streams notifications until the client goes away.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	notes, cancel := b.Subscribe()
	defer cancel()

	ctx := r.Context()
	b.logger.Info("notification stream opened", "remote", r.RemoteAddr)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	utils.SendSSEEvent(w, flusher, "status", map[string]any{
		"message": "stream established",
	})

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("notification stream closed", "remote", r.RemoteAddr)
			return
		case n := <-notes:
			utils.SendSSEEvent(w, flusher, string(n.Kind), n)
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			})
		}
	}
}
