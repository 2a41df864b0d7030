package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jasrulete/AI-Scheduler/internal/common"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

var ErrNotFound = errors.New("chat: message not found")

const (
	DefaultDedupCapacity = 1024
	defaultSaveTimeout   = 5 * time.Second
)

// Syncer is the data refresh side effect of assistant events.
type Syncer interface {
	Refresh(actionType string) []datasync.Collection
	RefreshAll() []datasync.Collection
}

type Options struct {
	Storage       Storage
	Syncer        Syncer
	DedupCapacity int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Store owns the transcript and the action feedback of one chat session.
// It only changes in response to channel events and explicit calls.
type Store struct {
	mu        sync.Mutex
	messages  []Message
	feedback  []ActionFeedback
	sessionID string
	typing    bool
	loading   bool
	seen      *lru.Cache[string, struct{}]

	// dirty is guarded by mu; persistMu serializes saves against Reset.
	dirty     bool
	persistMu sync.Mutex
	kick      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	storage   Storage
	syncer    Syncer
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(opts Options) (*Store, error) {
	if opts.DedupCapacity <= 0 {
		opts.DedupCapacity = DefaultDedupCapacity
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	seen, err := lru.New[string, struct{}](opts.DedupCapacity)
	if err != nil {
		return nil, err
	}
	s := &Store{
		seen:    seen,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		storage: opts.Storage,
		syncer:  opts.Syncer,
		logger:  opts.Logger.With("component", "chat"),
		now:     opts.Now,
	}
	go s.persistLoop()
	return s, nil
}

// Handlers is the event table the store binds to a router.
func (s *Store) Handlers() map[string]realtime.Handler {
	return map[string]realtime.Handler{
		realtime.EventChatResponse:    s.onChatResponse,
		realtime.EventTyping:          s.onTyping,
		realtime.EventActionFeedback:  s.onActionFeedback,
		realtime.EventActionCompleted: s.onActionCompleted,
		realtime.EventActionFailed:    s.onActionFailed,
		realtime.EventError:           s.onError,
		realtime.EventChatHistory:     s.onHistory,
		realtime.EventAuthSuccess:     s.onAuthSuccess,
	}
}

func (s *Store) onChatResponse(ev realtime.Event) {
	var p realtime.ChatResponse
	if err := ev.Decode(&p); err != nil {
		s.logger.Warn("bad chat.response", "error", err)
		return
	}
	md, err := p.DecodeMetadata()
	if err != nil {
		s.logger.Warn("dropping chat.response metadata", "error", err)
	}
	id := p.AIMessageID.String()
	if id == "" {
		id = common.MustULID()
	}
	ts := p.Timestamp
	if ts == "" {
		ts = s.timestamp()
	}

	s.mu.Lock()
	s.settleLocked(StatusProcessed)
	s.messages = append(s.messages, Message{
		ID:         id,
		SenderType: RoleAI,
		Content:    p.Message,
		Timestamp:  ts,
		Status:     StatusProcessed,
		Metadata:   md,
	})
	if p.SessionID != "" {
		s.sessionID = p.SessionID.String()
	}
	s.loading = false
	s.typing = false
	s.mu.Unlock()

	s.persist()
	if s.syncer != nil {
		s.syncer.RefreshAll()
	}
}

func (s *Store) onTyping(ev realtime.Event) {
	var p realtime.Typing
	if err := ev.Decode(&p); err != nil {
		s.logger.Debug("bad ai.typing", "error", err)
		return
	}
	s.mu.Lock()
	s.typing = bool(p.Status)
	s.mu.Unlock()
}

func (s *Store) onActionFeedback(ev realtime.Event) {
	var p realtime.ActionFeedback
	if err := ev.Decode(&p); err != nil {
		s.logger.Warn("bad action.feedback", "error", err)
		return
	}
	id := p.ActionID.String()
	if id == "" {
		id = common.MustULID()
	}
	status := FeedbackStatus(p.Status)
	if status == "" {
		status = FeedbackCompleted
	}
	msg := p.Message
	if msg == "" {
		msg = "Action completed"
	}
	s.addFeedback(ActionFeedback{ActionID: id, Status: status, Message: msg, Result: p.Result})
}

func (s *Store) onActionCompleted(ev realtime.Event) {
	var p realtime.ActionCompleted
	if err := ev.Decode(&p); err != nil {
		s.logger.Warn("bad ai.action.completed", "error", err)
		return
	}
	id := p.ActionID.String()
	if id == "" {
		id = common.MustULID()
	}
	added := s.addFeedback(ActionFeedback{
		ActionID: id,
		Status:   FeedbackCompleted,
		Message:  FeedbackMessage(p.ActionType, p.Result),
		Result:   p.Result,
	})
	if !added {
		s.logger.Debug("duplicate action, refresh only", "action_id", id, "action_type", p.ActionType)
	}
	if s.syncer != nil {
		s.syncer.Refresh(p.ActionType)
	}
}

func (s *Store) onActionFailed(ev realtime.Event) {
	var p realtime.ActionFailed
	if err := ev.Decode(&p); err != nil {
		s.logger.Warn("bad ai.action.failed", "error", err)
		return
	}
	id := p.ActionID.String()
	if id == "" {
		id = common.MustULID()
	}
	s.addFeedback(ActionFeedback{
		ActionID: id,
		Status:   FeedbackFailed,
		Message:  FailureMessage(p.ActionType, p.Error),
	})
}

func (s *Store) onError(ev realtime.Event) {
	var p realtime.ErrorPayload
	_ = ev.Decode(&p)

	s.mu.Lock()
	s.settleLocked(StatusFailed)
	s.appendSystemLocked("Error: " + p.Error)
	s.loading = false
	s.typing = false
	s.mu.Unlock()

	s.persist()
}

func (s *Store) onHistory(ev realtime.Event) {
	var p struct {
		Messages []Message `json:"messages"`
	}
	if err := ev.Decode(&p); err != nil {
		s.logger.Warn("bad chat.history", "error", err)
		return
	}
	if len(p.Messages) == 0 {
		return
	}
	s.mu.Lock()
	s.messages = append([]Message(nil), p.Messages...)
	s.mu.Unlock()

	s.persist()
}

func (s *Store) onAuthSuccess(ev realtime.Event) {
	var p realtime.AuthSuccess
	if err := ev.Decode(&p); err != nil || p.SessionID == "" {
		return
	}
	s.mu.Lock()
	s.sessionID = p.SessionID.String()
	s.mu.Unlock()

	s.persist()
}

// addFeedback records fb unless its action id was seen before.
func (s *Store) addFeedback(fb ActionFeedback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if found, _ := s.seen.ContainsOrAdd(fb.ActionID, struct{}{}); found {
		return false
	}
	s.feedback = append(s.feedback, fb)
	return true
}

// AppendUser records a client-authored message before it is sent.
func (s *Store) AppendUser(text string) Message {
	m := Message{
		ID:         common.MustULID(),
		SenderType: RoleUser,
		Content:    text,
		Timestamp:  s.timestamp(),
		Status:     StatusSent,
	}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.loading = true
	s.mu.Unlock()

	s.persist()
	return m
}

// AppendSystem adds a failed system line, as used for local send errors.
func (s *Store) AppendSystem(text string) Message {
	s.mu.Lock()
	m := s.appendSystemLocked(text)
	s.loading = false
	s.mu.Unlock()

	s.persist()
	return m
}

// MarkFailed moves a sent user message to failed.
func (s *Store) MarkFailed(id string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.messages {
		if s.messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.messages[idx].Status == StatusSent {
		s.messages[idx].Status = StatusFailed
	}
	s.loading = false
	s.mu.Unlock()

	s.persist()
	return nil
}

// Restore rehydrates transcript and session id from storage.
func (s *Store) Restore(ctx context.Context) error {
	p, err := s.storage.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.messages = p.Messages
	s.sessionID = p.SessionID
	s.mu.Unlock()
	return nil
}

// Reset wipes everything, persisted state included. Used on logout.
func (s *Store) Reset(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.feedback = nil
	s.sessionID = ""
	s.typing = false
	s.loading = false
	s.dirty = false
	s.seen.Purge()
	s.mu.Unlock()

	return s.storage.Clear(ctx)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Messages:  append([]Message{}, s.messages...),
		Feedback:  append([]ActionFeedback{}, s.feedback...),
		SessionID: s.sessionID,
		Typing:    s.typing,
		Loading:   s.loading,
	}
}

func (s *Store) Messages() []Message { return s.Snapshot().Messages }

func (s *Store) Feedback() []ActionFeedback { return s.Snapshot().Feedback }

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Store) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// settleLocked moves user messages still in "sent" to the given status.
func (s *Store) settleLocked(to Status) {
	for i := range s.messages {
		if s.messages[i].SenderType == RoleUser && s.messages[i].Status == StatusSent {
			s.messages[i].Status = to
		}
	}
}

func (s *Store) appendSystemLocked(text string) Message {
	m := Message{
		ID:         common.MustULID(),
		SenderType: RoleSystem,
		Content:    text,
		Timestamp:  s.timestamp(),
		Status:     StatusFailed,
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// persist schedules a save of the latest transcript and session id. It
// never blocks; a burst of events collapses into one write.
func (s *Store) persist() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Store) persistLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.kick:
			_ = s.save()
		case <-s.done:
			_ = s.save()
			return
		}
	}
}

// Flush writes pending state now.
func (s *Store) Flush() error {
	return s.save()
}

// Close stops the background writer after a final save.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Store) save() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	p := Persisted{
		Messages:  append([]Message(nil), s.messages...),
		SessionID: s.sessionID,
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultSaveTimeout)
	defer cancel()
	if err := s.storage.Save(ctx, p); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.logger.Error("persist chat state failed", "error", err)
		return err
	}
	return nil
}
