package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler receives one event. Handlers run on the channel's read goroutine
// and must not block.
type Handler func(Event)

// Subscription identifies one registration; pass it to Off to remove it.
type Subscription struct {
	eventType string
	id        uint64
}

type entry struct {
	id uint64
	h  Handler
}

// Router fans an event out to the handlers registered for its type, in
// registration order. Types nobody registered for are ignored.
type Router struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]entry
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{handlers: make(map[string][]entry), logger: logger}
}

func (r *Router) On(eventType string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[eventType] = append(r.handlers[eventType], entry{id: r.nextID, h: h})
	return Subscription{eventType: eventType, id: r.nextID}
}

func (r *Router) Off(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[s.eventType]
	for i, e := range list {
		if e.id != s.id {
			continue
		}
		out := make([]entry, 0, len(list)-1)
		out = append(out, list[:i]...)
		out = append(out, list[i+1:]...)
		if len(out) == 0 {
			delete(r.handlers, s.eventType)
		} else {
			r.handlers[s.eventType] = out
		}
		return
	}
}

// Bind registers a whole handler table at once. Keys are registered in
// sorted order so the result does not depend on map iteration.
func (r *Router) Bind(table map[string]Handler) []Subscription {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	subs := make([]Subscription, 0, len(keys))
	for _, k := range keys {
		subs = append(subs, r.On(k, table[k]))
	}
	return subs
}

// Unbind removes every subscription in subs.
func (r *Router) Unbind(subs []Subscription) {
	for _, s := range subs {
		r.Off(s)
	}
}

// Dispatch delivers ev and returns how many handlers ran. Wildcard handlers
// run after the type-specific ones.
func (r *Router) Dispatch(ev Event) int {
	r.mu.RLock()
	list := append([]entry(nil), r.handlers[ev.Type]...)
	if ev.Type != Wildcard {
		list = append(list, r.handlers[Wildcard]...)
	}
	r.mu.RUnlock()

	for _, e := range list {
		r.invoke(ev, e.h)
	}
	return len(list)
}

func (r *Router) invoke(ev Event, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked", "type", ev.Type, "panic", rec)
		}
	}()
	h(ev)
}

// Len reports how many handlers are registered for eventType.
func (r *Router) Len(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}
