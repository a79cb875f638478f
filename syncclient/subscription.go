package syncclient

import (
	"context"
	"sync"
)

// State is a snapshot of a subscription.
type State struct {
	// Data is nil until the first bulk fetch succeeds.
	Data      []Document
	IsLoading bool
	Err       error
}

// Subscription is a live, in-memory copy of one collection.
//
// Messages that arrive while a bulk fetch is in flight are buffered and
// applied in order on top of the fetched snapshot. When the fetch fails the
// buffer is dropped and, as long as nothing was ever fetched, later messages
// are ignored.
type Subscription struct {
	client     *Client
	collection string
	ctx        context.Context

	mu      sync.Mutex
	data    []Document
	loading bool
	err     error
	buffer  []Message
	gen     int
	cancel  context.CancelFunc
	loaded  chan struct{}
	closed  bool
	updates chan struct{}
}

func newSubscription(ctx context.Context, c *Client, collection string) *Subscription {
	return &Subscription{
		client:     c,
		collection: collection,
		ctx:        ctx,
		loaded:     make(chan struct{}),
		updates:    make(chan struct{}, 1),
	}
}

// Collection returns the subscribed collection name.
func (s *Subscription) Collection() string { return s.collection }

// State returns the current snapshot. The returned slice is not shared with
// later states.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{IsLoading: s.loading, Err: s.err}
	if s.data != nil {
		st.Data = make([]Document, len(s.data))
		copy(st.Data, s.data)
	}
	return st
}

// Updates signals after every state change. It is closed by Close.
func (s *Subscription) Updates() <-chan struct{} { return s.updates }

// Wait blocks until the current bulk fetch has finished.
func (s *Subscription) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	select {
	case <-loaded:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Refresh starts a new bulk fetch, abandoning one that is still running.
// Cached data stays visible until the new snapshot arrives.
func (s *Subscription) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if !s.loading {
		s.loaded = make(chan struct{})
	}
	s.gen++
	s.loading = true
	s.buffer = nil
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	gen := s.gen
	s.notify()
	go s.fetch(ctx, gen)
}

func (s *Subscription) fetch(ctx context.Context, gen int) {
	docs, err := s.client.List(ctx, s.collection)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	s.cancel()
	s.cancel = nil
	s.loading = false
	if err != nil {
		s.err = err
		s.buffer = nil
		s.client.logger.WithError(err).WithField("collection", s.collection).Warn("bulk fetch failed")
	} else {
		s.err = nil
		for _, msg := range s.buffer {
			docs = Apply(docs, msg)
		}
		s.buffer = nil
		s.data = docs
	}
	close(s.loaded)
	s.notify()
}

// handle applies or buffers one incremental message.
func (s *Subscription) handle(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return
	case s.loading:
		s.buffer = append(s.buffer, msg)
		return
	case s.data == nil:
		return
	}
	s.data = Apply(s.data, msg)
	s.notify()
}

func (s *Subscription) notify() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close stops listening for changes and abandons a running fetch.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.loading {
		s.loading = false
		close(s.loaded)
	}
	s.buffer = nil
	close(s.updates)
	s.mu.Unlock()

	s.client.unsubscribe(s)
}
