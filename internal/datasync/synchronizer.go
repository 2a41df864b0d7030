package datasync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

// Dispatcher performs (or enqueues) the refetch of one collection.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Collection) error
}

type DispatcherFunc func(ctx context.Context, c Collection) error

func (f DispatcherFunc) Dispatch(ctx context.Context, c Collection) error { return f(ctx, c) }

const defaultDispatchTimeout = 30 * time.Second

// Synchronizer turns assistant actions into refetches. Every refetch runs
// in its own goroutine; callers never wait on the network.
type Synchronizer struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	timeout    time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSynchronizer(d Dispatcher, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		dispatcher: d,
		logger:     logger.With("component", "datasync"),
		timeout:    defaultDispatchTimeout,
	}
}

// Refresh marks the collections affected by actionType stale and returns them.
func (s *Synchronizer) Refresh(actionType string) []Collection {
	cols := CollectionsFor(actionType)
	s.RefreshCollections(cols...)
	return cols
}

func (s *Synchronizer) RefreshAll() []Collection {
	cols := All()
	s.RefreshCollections(cols...)
	return cols
}

func (s *Synchronizer) RefreshCollections(cols ...Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("synchronizer closed, refresh dropped", "collections", cols)
		return
	}
	for _, c := range cols {
		s.wg.Add(1)
		go func(c Collection) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()

			start := time.Now()
			if err := s.dispatcher.Dispatch(ctx, c); err != nil {
				s.logger.Error("refetch failed", "collection", c, "cost", time.Since(start), "error", err)
				return
			}
			s.logger.Debug("refetch done", "collection", c, "cost", time.Since(start))
		}(c)
	}
}

// Wait blocks until every refetch started so far has finished.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close stops accepting refreshes and waits for the ones in flight.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Handlers refreshes the calendar on live booking notifications.
func (s *Synchronizer) Handlers() map[string]realtime.Handler {
	calendar := func(realtime.Event) { s.RefreshCollections(Calendar) }
	return map[string]realtime.Handler{
		realtime.EventBookingCreated:   calendar,
		realtime.EventBookingUpdated:   calendar,
		realtime.EventBookingCancelled: calendar,
	}
}
