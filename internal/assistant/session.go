package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jasrulete/AI-Scheduler/internal/auth"
	"github.com/jasrulete/AI-Scheduler/internal/chat"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

type Options struct {
	Channel *realtime.Channel
	Store   *chat.Store
	Sync    *datasync.Synchronizer
	Tokens  auth.TokenSource
	Logger  *slog.Logger
}

// Session is one assistant conversation: the channel, the state store that
// listens to it, and the data refreshes it triggers.
type Session struct {
	ch     *realtime.Channel
	store  *chat.Store
	sync   *datasync.Synchronizer
	tokens auth.TokenSource
	logger *slog.Logger
	subs   []realtime.Subscription
}

type Status struct {
	chat.Snapshot
	Connection    realtime.State `json:"connection"`
	Authenticated bool           `json:"authenticated"`
	Attempts      int            `json:"reconnect_attempts"`
}

func NewSession(opts Options) (*Session, error) {
	if opts.Channel == nil || opts.Store == nil {
		return nil, errors.New("assistant: channel and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		ch:     opts.Channel,
		store:  opts.Store,
		sync:   opts.Sync,
		tokens: opts.Tokens,
		logger: opts.Logger.With("component", "assistant"),
	}

	r := s.ch.Router()
	s.subs = append(s.subs, r.Bind(s.store.Handlers())...)
	if s.sync != nil {
		s.subs = append(s.subs, r.Bind(s.sync.Handlers())...)
	}
	s.subs = append(s.subs, r.Bind(map[string]realtime.Handler{
		realtime.EventConnectionEstablished: s.onEstablished,
		realtime.EventAuthFailed:            s.onAuthFailed,
		realtime.EventReconnectFailed:       s.onReconnectFailed,
	})...)
	return s, nil
}

func (s *Session) Router() *realtime.Router { return s.ch.Router() }

// Start restores persisted state and opens the channel. A dial error is
// returned but the channel keeps retrying on its own.
func (s *Session) Start(ctx context.Context) error {
	if err := s.store.Restore(ctx); err != nil {
		s.logger.Warn("restore chat state failed", "error", err)
	}
	if err := s.ch.Connect(ctx); err != nil {
		s.store.AppendSystem("Error: Failed to connect to AI Assistant")
		return err
	}
	return nil
}

// Send records the message and writes it to the channel. When the channel
// is down the message is kept and marked failed.
func (s *Session) Send(text string) (chat.Message, error) {
	m := s.store.AppendUser(text)
	if err := s.ch.SendMessage(text); err != nil {
		_ = s.store.MarkFailed(m.ID)
		s.store.AppendSystem(fmt.Sprintf("Error: %v", err))
		return m, err
	}
	return m, nil
}

func (s *Session) History(limit int) error {
	return s.ch.GetHistory(limit)
}

// Reconnect dials again, typically after the retry budget ran out.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.ch.Connect(ctx)
}

// Logout closes the channel and wipes transcript, feedback and session id.
func (s *Session) Logout(ctx context.Context) error {
	s.ch.Disconnect()
	return s.store.Reset(ctx)
}

// Close unbinds the handlers first so no event dispatched during shutdown
// starts new work, then drains refreshes and pending saves.
func (s *Session) Close() {
	s.ch.Router().Unbind(s.subs)
	s.ch.Disconnect()
	if s.sync != nil {
		s.sync.Close()
	}
	s.store.Close()
}

func (s *Session) Status() Status {
	return Status{
		Snapshot:      s.store.Snapshot(),
		Connection:    s.ch.State(),
		Authenticated: s.ch.IsAuthenticated(),
		Attempts:      s.ch.Attempts(),
	}
}

func (s *Session) onEstablished(realtime.Event) {
	if s.tokens == nil {
		s.logger.Warn("no token source, channel stays unauthenticated")
		return
	}
	tok, err := s.tokens.Token(context.Background())
	if err != nil {
		s.logger.Error("token unavailable", "error", err)
		s.store.AppendSystem("Error: " + err.Error())
		return
	}
	if err := s.ch.Authenticate(tok); err != nil {
		s.logger.Error("authenticate failed", "error", err)
	}
}

func (s *Session) onAuthFailed(ev realtime.Event) {
	var p realtime.ErrorPayload
	_ = ev.Decode(&p)
	s.logger.Warn("authentication failed", "error", p.Error)
	s.store.AppendSystem("Error: authentication failed: " + p.Error)
}

func (s *Session) onReconnectFailed(ev realtime.Event) {
	s.store.AppendSystem("Error: Lost connection to AI Assistant")
}
