package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Publisher delivers relay messages to the messaging channel.
type Publisher interface {
	Publish(ctx context.Context, msg domain.RelayMessage) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg domain.RelayMessage) error

func (f PublisherFunc) Publish(ctx context.Context, msg domain.RelayMessage) error {
	return f(ctx, msg)
}

var errStreamClosed = errors.New("change stream closed")

// Status is the health snapshot of one watcher.
type Status struct {
	Channel     string     `json:"channel"`
	Collection  string     `json:"collection"`
	Healthy     bool       `json:"healthy"`
	Running     bool       `json:"running"`
	Restarts    int        `json:"restarts"`
	LastError   string     `json:"lastError,omitempty"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithChannel overrides the channel name, which defaults to the kind name.
func WithChannel(name string) Option {
	return func(w *Watcher) { w.channel = name }
}

// WithRetryer replaces the default backoff.
func WithRetryer(r Retryer) Option {
	return func(w *Watcher) { w.retryer = r }
}

// WithLogger sets the logger used by the watcher.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher relays the change stream of one collection to a Publisher. It
// reopens the stream after failures, resuming after the last seen event.
type Watcher struct {
	kind    domain.Kind
	channel string
	src     Source
	pub     Publisher
	retryer Retryer
	logger  *log.Logger
	log     *log.Entry

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// resumeToken is only touched by the run goroutine.
	resumeToken bson.Raw

	mu     sync.Mutex
	status Status
}

// StartWatching opens a subscription on src and emits one message per
// insert, update and delete on the kind's channel. The caller must call Stop
// on the returned watcher.
func StartWatching(ctx context.Context, src Source, kind domain.Kind, pub Publisher, opts ...Option) *Watcher {
	w := &Watcher{
		kind:    kind,
		channel: kind.Name,
		src:     src,
		pub:     pub,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.retryer == nil {
		w.retryer = DefaultBackoff()
	}
	if w.logger == nil {
		w.logger = log.StandardLogger()
	}
	w.log = w.logger.WithFields(log.Fields{"channel": w.channel, "collection": kind.Collection})
	w.status = Status{Channel: w.channel, Collection: kind.Collection, Running: true}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return w
}

// Channel returns the channel the watcher emits on.
func (w *Watcher) Channel() string { return w.channel }

// Stop ends the subscription and waits until the stream is closed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(w.cancel)
	<-w.done
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		s.LastEventAt = &t
	}
	return s
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.update(func(s *Status) {
		s.Running = false
		s.Healthy = false
	})

	attempt := 0
	for {
		opened, err := w.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if opened {
			attempt = 0
		}
		w.update(func(s *Status) {
			s.Healthy = false
			s.LastError = err.Error()
		})
		delay, ok := w.retryer.NextDelay(attempt, err)
		if !ok {
			w.log.WithError(err).Error("change stream failed, giving up")
			return
		}
		w.log.WithError(err).WithField("retry_in", delay.String()).Warn("change stream failed, reopening")
		attempt++
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		w.update(func(s *Status) { s.Restarts++ })
	}
}

// stream runs one change stream until it fails or ctx ends. It reports
// whether the stream was opened.
func (w *Watcher) stream(ctx context.Context) (bool, error) {
	cs, err := w.src.Open(ctx, w.resumeToken)
	if err != nil {
		if w.resumeToken != nil && !resumable(err) {
			w.log.WithError(err).Warn("cannot resume change stream, starting from now")
			w.resumeToken = nil
		}
		return false, fmt.Errorf("open change stream: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cs.Close(closeCtx); err != nil {
			w.log.WithError(err).Debug("close change stream")
		}
	}()
	w.update(func(s *Status) {
		s.Healthy = true
		s.LastError = ""
	})
	w.log.Debug("change stream opened")

	for cs.Next(ctx) {
		var doc changeDoc
		if err := cs.Decode(&doc); err != nil {
			w.log.WithError(err).Error("decode change event")
		} else {
			w.handle(ctx, doc)
		}
		if tok := cs.ResumeToken(); tok != nil {
			w.resumeToken = tok
		}
	}
	if ctx.Err() != nil {
		return true, nil
	}
	if err := cs.Err(); err != nil {
		if !resumable(err) {
			w.resumeToken = nil
		}
		return true, err
	}
	return true, errStreamClosed
}

func (w *Watcher) handle(ctx context.Context, doc changeDoc) {
	now := time.Now().UTC()
	w.update(func(s *Status) { s.LastEventAt = &now })

	ev, err := toChangeEvent(w.kind, doc)
	if err != nil {
		w.log.WithError(err).Error("translate change event")
		return
	}
	msg, ok := Message(w.channel, ev)
	if !ok {
		w.log.WithFields(log.Fields{"op": ev.Operation, "id": ev.DocumentKey}).Debug("change event not relayed")
		return
	}
	if err := w.pub.Publish(ctx, msg); err != nil {
		w.log.WithError(err).WithFields(log.Fields{"event": msg.Event(), "id": ev.DocumentKey}).Error("publish relay message")
		return
	}
	w.log.WithFields(log.Fields{"event": msg.Event(), "id": ev.DocumentKey}).Debug("relayed")
}

func (w *Watcher) update(fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	w.mu.Unlock()
}

// resumable reports whether a stream failure leaves the resume token usable.
// The server rejects tokens that fell off the oplog (286) and streams that hit
// a fatal error (280).
func resumable(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return !se.HasErrorCode(286) && !se.HasErrorCode(280)
	}
	return true
}
