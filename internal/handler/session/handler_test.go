package session

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
	"github.com/zhouzirui/consult-chat/backend/internal/service/coordinator"
)

type ackingTransport struct {
	mu    sync.Mutex
	names []string
}

func (a *ackingTransport) Emit(name string, payload any, ack event.AckFunc) error {
	a.mu.Lock()
	a.names = append(a.names, name)
	a.mu.Unlock()
	if ack != nil {
		ack(event.Ack{OK: true, MessageID: "srv-1"})
	}
	return nil
}

func (a *ackingTransport) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, got := range a.names {
		if got == name {
			n++
		}
	}
	return n
}

func setupRouter() (*chi.Mux, *coordinator.Coordinator, *ackingTransport) {
	transport := &ackingTransport{}
	coord := coordinator.New(transport, coordinator.Options{
		SettleDelay: time.Hour,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	handler := New(coord)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, coord, transport
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func testSession() chat.Session {
	return chat.Session{
		ID:     "s1",
		Status: chat.StatusActive,
		Participants: chat.Participants{
			User:     chat.Participant{ID: "u1", DisplayName: "Ana"},
			Provider: chat.Participant{ID: "p1", DisplayName: "Dr. Lee", Kind: chat.ProviderExpert},
		},
	}
}

func TestOpenSessionReturnsView(t *testing.T) {
	r, _, transport := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session/open", testSession())
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var view coordinator.View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Session == nil || view.Session.ID != "s1" {
		t.Fatalf("expected open session s1, got %+v", view.Session)
	}
	if transport.count(event.MarkRead) != 1 {
		t.Fatalf("expected one mark_read intent")
	}
}

func TestOpenSessionMissingID(t *testing.T) {
	r, _, _ := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session/open", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestOpenKnownSessionByID(t *testing.T) {
	r, coord, _ := setupRouter()
	if _, err := coord.OpenSession(testSession()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	coord.CloseSession()

	resp := doJSON(r, http.MethodPost, "/session/open", map[string]string{"id": "s1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	view := coord.View()
	if view.Session == nil || view.Session.Participants.Provider.ID != "p1" {
		t.Fatalf("expected participants filled from directory, got %+v", view.Session)
	}
}

func TestSendMessage(t *testing.T) {
	r, coord, transport := setupRouter()

	if resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"text": "hi"}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without session, got %d", resp.Code)
	}

	doJSON(r, http.MethodPost, "/session/open", testSession())
	if resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"text": "  "}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", resp.Code)
	}

	resp := doJSON(r, http.MethodPost, "/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if transport.count(event.SendMessage) != 1 {
		t.Fatalf("expected one send_message intent")
	}
	msgs := coord.View().Messages
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Sender != chat.SenderUser {
		t.Fatalf("unexpected log %+v", msgs)
	}
}

func TestHistoryForStaleSession(t *testing.T) {
	r, _, _ := setupRouter()
	doJSON(r, http.MethodPost, "/session/open", testSession())

	resp := doJSON(r, http.MethodPost, "/session/history", map[string]any{
		"sessionId": "other",
		"messages":  []chat.RawMessage{{ID: "m1", Body: "late"}},
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestTransitionEndsSession(t *testing.T) {
	r, coord, _ := setupRouter()
	doJSON(r, http.MethodPost, "/session/open", testSession())

	resp := doJSON(r, http.MethodPost, "/session/transition", map[string]string{"kind": "sessionEnded"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := coord.View().Session.Status; got != chat.StatusEnded {
		t.Fatalf("expected ended, got %s", got)
	}

	resp = doJSON(r, http.MethodPost, "/session/transition", map[string]string{"kind": "providerJoined"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", resp.Code)
	}
}

func TestSelectOptionUnknownMessage(t *testing.T) {
	r, _, _ := setupRouter()
	doJSON(r, http.MethodPost, "/session/open", testSession())

	resp := doJSON(r, http.MethodPost, "/messages/options", map[string]string{"messageKey": "nope", "optionId": "a"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestReconnectWithoutPrompt(t *testing.T) {
	r, _, _ := setupRouter()

	if resp := doJSON(r, http.MethodPost, "/reconnect/continue", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if resp := doJSON(r, http.MethodPost, "/reconnect/later", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestReconnectContinueAfterDrop(t *testing.T) {
	r, coord, _ := setupRouter()
	doJSON(r, http.MethodPost, "/session/open", testSession())
	coord.Disconnected()
	coord.Connected()

	resp := doJSON(r, http.MethodPost, "/reconnect/continue", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if coord.View().Prompt != nil {
		t.Fatalf("prompt should be cleared")
	}
}

func TestListSessions(t *testing.T) {
	r, _, _ := setupRouter()
	doJSON(r, http.MethodPost, "/session/open", testSession())

	resp := doJSON(r, http.MethodGet, "/sessions", nil)
	var body struct {
		Sessions []chat.Session `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions %+v", body.Sessions)
	}
}
