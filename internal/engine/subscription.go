package engine

import "sync"

// Subscription is a single registered event listener. Closing it detaches
// the listener; Close is idempotent.
type Subscription interface {
	Close()
}

// SubscriptionGroup collects subscriptions so a component can release every
// listener it registered in one call. After Close, Add detaches immediately.
type SubscriptionGroup struct {
	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

func (g *SubscriptionGroup) Add(sub Subscription) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sub.Close()
		return
	}
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
}

func (g *SubscriptionGroup) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.closed = true
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// emitter dispatches events to registered handlers. It backs both the mock
// and the remote engine implementations.
type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Event]map[int]func(Payload)
}

type emitterSub struct {
	e     *emitter
	event Event
	id    int
	once  sync.Once
}

func (s *emitterSub) Close() {
	s.once.Do(func() {
		s.e.mu.Lock()
		if hs, ok := s.e.handlers[s.event]; ok {
			delete(hs, s.id)
		}
		s.e.mu.Unlock()
	})
}

func (e *emitter) on(event Event, fn func(Payload)) Subscription {
	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = make(map[Event]map[int]func(Payload))
	}
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]func(Payload))
	}
	e.nextID++
	id := e.nextID
	e.handlers[event][id] = fn
	e.mu.Unlock()
	return &emitterSub{e: e, event: event, id: id}
}

func (e *emitter) emit(event Event, p Payload) {
	e.mu.Lock()
	hs := e.handlers[event]
	fns := make([]func(Payload), 0, len(hs))
	for _, fn := range hs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
