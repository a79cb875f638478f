package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Registry owns the watchers of a relay process.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]*Watcher)}
}

// Start begins watching src and registers the watcher under its channel.
func (r *Registry) Start(ctx context.Context, src Source, kind domain.Kind, pub Publisher, opts ...Option) (*Watcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channel := kind.Name
	probe := &Watcher{channel: channel}
	for _, opt := range opts {
		opt(probe)
	}
	if _, ok := r.watchers[probe.channel]; ok {
		return nil, fmt.Errorf("channel %q is already watched", probe.channel)
	}
	w := StartWatching(ctx, src, kind, pub, opts...)
	r.watchers[w.Channel()] = w
	r.order = append(r.order, w.Channel())
	return w, nil
}

// Health returns the status of every watcher in start order.
func (r *Registry) Health() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.order))
	for _, ch := range r.order {
		out = append(out, r.watchers[ch].Status())
	}
	return out
}

// Healthy reports whether every watcher currently holds an open stream.
func (r *Registry) Healthy() bool {
	for _, s := range r.Health() {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// StopAll stops every watcher and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	watchers := r.watchers
	order := r.order
	r.watchers = make(map[string]*Watcher)
	r.order = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range order {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			w.Stop()
		}(watchers[ch])
	}
	wg.Wait()
}
