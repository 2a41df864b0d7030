package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jasrulete/AI-Scheduler/internal/auth"
	"github.com/jasrulete/AI-Scheduler/internal/chat"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

// fakeAssistant answers like the scheduling backend's chat endpoint.
func fakeAssistant(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in map[string]any
			if json.Unmarshal(data, &in) != nil {
				continue
			}
			switch in["type"] {
			case "authenticate":
				if in["token"] != wantToken {
					_ = conn.WriteJSON(map[string]any{"type": "error", "error": "invalid token"})
					continue
				}
				_ = conn.WriteJSON(map[string]any{"type": "authentication.success", "session_id": "conv-42"})
			case "chat.message":
				action := map[string]any{
					"type":        "ai.action.completed",
					"action_id":   "act-1",
					"action_type": "create_booking",
					"result":      map[string]any{"title": "Studio Shoot"},
				}
				_ = conn.WriteJSON(map[string]any{"type": "ai.typing", "status": true})
				_ = conn.WriteJSON(action)
				_ = conn.WriteJSON(action)
				_ = conn.WriteJSON(map[string]any{
					"type":          "chat.response",
					"ai_message_id": "ai-1",
					"message":       "Booked Studio Shoot for Friday.",
					"timestamp":     "2025-03-07T15:00:00Z",
					"metadata":      map[string]any{"actions_count": 1},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type dispatchLog struct {
	mu  sync.Mutex
	got []string
}

func (d *dispatchLog) Dispatch(ctx context.Context, c datasync.Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, string(c))
	return nil
}

func (d *dispatchLog) count(c string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, g := range d.got {
		if g == c {
			n++
		}
	}
	return n
}

func newSession(t *testing.T, url string, tokens auth.TokenSource, storage chat.Storage) (*Session, *dispatchLog) {
	t.Helper()
	ch := realtime.NewChannel(realtime.Config{
		URL: url,
		Backoff: realtime.Backoff{
			Base: 10 * time.Millisecond, Multiplier: 2, Max: 20 * time.Millisecond, MaxAttempts: 1,
		},
		AuthTimeout: time.Second,
	}, nil, nil)
	log := &dispatchLog{}
	syn := datasync.NewSynchronizer(log, nil)
	store, err := chat.NewStore(chat.Options{Storage: storage, Syncer: syn})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	s, err := NewSession(Options{Channel: ch, Store: store, Sync: syn, Tokens: tokens})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, log
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSession_ConversationFlow(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	s, log := newSession(t, wsURL(srv), auth.StaticToken("tok"), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "authenticated", func() bool { return s.Status().Authenticated })
	if got := s.Status().SessionID; got != "conv-42" {
		t.Fatalf("session id = %q", got)
	}

	if _, err := s.Send("Book a studio shoot Friday 3pm"); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "ai reply", func() bool { return len(s.Status().Messages) == 2 })
	// 2 action refreshes + 1 full refresh from chat.response
	eventually(t, "refreshes", func() bool { return log.count("calendar") == 3 && log.count("customers") == 1 })
	s.sync.Wait()

	st := s.Status()
	if st.Messages[0].Status != chat.StatusProcessed || st.Messages[1].Content != "Booked Studio Shoot for Friday." {
		t.Fatalf("unexpected transcript: %+v", st.Messages)
	}
	if st.Loading || st.Typing {
		t.Fatalf("flags not cleared: loading=%v typing=%v", st.Loading, st.Typing)
	}
	if len(st.Feedback) != 1 || st.Feedback[0].Message != "✅ Booking created: Studio Shoot" {
		t.Fatalf("unexpected feedback: %+v", st.Feedback)
	}
	if n := log.count("bookings"); n != 3 {
		t.Fatalf("bookings refreshed %d times, want 3", n)
	}
}

func TestSession_SendWhileDisconnectedMarksFailed(t *testing.T) {
	s, _ := newSession(t, "ws://127.0.0.1:1/ws/chat/", auth.StaticToken("tok"), nil)

	m, err := s.Send("hello?")
	if !errors.Is(err, realtime.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	msgs := s.Status().Messages
	if len(msgs) != 2 {
		t.Fatalf("expected user + system message, got %+v", msgs)
	}
	if msgs[0].ID != m.ID || msgs[0].Status != chat.StatusFailed {
		t.Fatalf("user message not failed: %+v", msgs[0])
	}
	if msgs[1].SenderType != chat.RoleSystem {
		t.Fatalf("expected system message, got %+v", msgs[1])
	}
}

func TestSession_BadTokenSurfacesAsError(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	s, _ := newSession(t, wsURL(srv), auth.StaticToken("nope"), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "error message", func() bool {
		for _, m := range s.Status().Messages {
			if m.Content == "Error: invalid token" {
				return true
			}
		}
		return false
	})
	if s.Status().Authenticated {
		t.Fatalf("must not be authenticated")
	}
}

func TestSession_LogoutWipesState(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	storage := chat.NewMemoryStorage()
	s, _ := newSession(t, wsURL(srv), auth.StaticToken("tok"), storage)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "authenticated", func() bool { return s.Status().Authenticated })
	if _, err := s.Send("hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "reply", func() bool { return len(s.Status().Messages) == 2 })

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	st := s.Status()
	if st.Connection != realtime.StateDisconnected || len(st.Messages) != 0 || st.SessionID != "" {
		t.Fatalf("state after logout: %+v", st)
	}
	p, _ := storage.Load(context.Background())
	if len(p.Messages) != 0 || p.SessionID != "" {
		t.Fatalf("storage not wiped: %+v", p)
	}
}

func TestSession_RestoresPersistedTranscript(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	storage := chat.NewMemoryStorage()
	_ = storage.Save(context.Background(), chat.Persisted{
		SessionID: "conv-old",
		Messages:  []chat.Message{{ID: "1", SenderType: chat.RoleUser, Content: "earlier", Status: chat.StatusProcessed}},
	})
	s, _ := newSession(t, wsURL(srv), auth.StaticToken("tok"), storage)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	msgs := s.Status().Messages
	if len(msgs) != 1 || msgs[0].Content != "earlier" {
		t.Fatalf("transcript not restored: %+v", msgs)
	}
}

func TestSession_HandlersBoundOnce(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	s, _ := newSession(t, wsURL(srv), auth.StaticToken("tok"), nil)

	before := s.Router().Len(realtime.EventChatResponse)
	for i := 0; i < 3; i++ {
		if err := s.Reconnect(context.Background()); err != nil {
			t.Fatalf("reconnect: %v", err)
		}
		s.ch.Disconnect()
	}
	if got := s.Router().Len(realtime.EventChatResponse); got != before || got != 1 {
		t.Fatalf("handlers duplicated across reconnects: %d -> %d", before, got)
	}
	for _, typ := range []string{realtime.EventConnectionEstablished, realtime.EventActionCompleted} {
		if n := s.Router().Len(typ); n != 1 {
			t.Fatalf("%s has %d handlers, want 1", typ, n)
		}
	}
}

func TestSession_CloseDetachesHandlers(t *testing.T) {
	srv := fakeAssistant(t, "tok")
	s, log := newSession(t, wsURL(srv), auth.StaticToken("tok"), nil)

	s.Close()
	if n := s.Router().Len(realtime.EventChatResponse); n != 0 {
		t.Fatalf("chat.response still has %d handlers", n)
	}
	s.Router().Dispatch(realtime.NewEvent(realtime.EventChatResponse, map[string]any{"message": "late"}))
	if got := len(s.Status().Messages); got != 0 {
		t.Fatalf("late event reached the store: %d messages", got)
	}
	if n := log.count("bookings"); n != 0 {
		t.Fatalf("late event triggered %d refreshes", n)
	}
}
