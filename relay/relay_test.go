package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

type fakeStream struct {
	events chan bson.Raw
	fail   error
	cur    bson.Raw
	token  bson.Raw
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(fail error) *fakeStream {
	return &fakeStream{events: make(chan bson.Raw, 16), fail: fail, closed: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case doc, ok := <-s.events:
		if !ok {
			return false
		}
		s.cur = doc
		s.token = mustRaw(bson.M{"_data": doc.Lookup("_id", "_data").StringValue()})
		return true
	}
}

func (s *fakeStream) Decode(v any) error { return bson.Unmarshal(s.cur, v) }

func (s *fakeStream) Err() error {
	if s.fail != nil {
		return s.fail
	}
	return nil
}

func (s *fakeStream) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) ResumeToken() bson.Raw { return s.token }

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	tokens  []bson.Raw
	opened  chan *fakeStream
}

func newFakeSource(streams ...*fakeStream) *fakeSource {
	return &fakeSource{streams: streams, opened: make(chan *fakeStream, len(streams)+1)}
}

func (f *fakeSource) Open(_ context.Context, resumeAfter bson.Raw) (ChangeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, resumeAfter)
	if len(f.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	f.opened <- s
	return s, nil
}

func (f *fakeSource) resumeTokens() []bson.Raw {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bson.Raw(nil), f.tokens...)
}

type recorder struct {
	mu   sync.Mutex
	msgs []domain.RelayMessage
	got  chan struct{}
	fail error
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 64)} }

func (r *recorder) Publish(_ context.Context, msg domain.RelayMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
	return r.fail
}

func (r *recorder) wait(t *testing.T, n int) []domain.RelayMessage {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RelayMessage(nil), r.msgs...)
}

func mustRaw(v any) bson.Raw {
	b, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func changeEvent(token, op string, key any, full bson.M) bson.Raw {
	doc := bson.M{
		"_id":           bson.M{"_data": token},
		"operationType": op,
		"documentKey":   bson.M{"_id": key},
		"ns":            bson.M{"db": "lager", "coll": "articles"},
	}
	if full != nil {
		doc["fullDocument"] = full
	}
	return mustRaw(doc)
}

func articles(t *testing.T) domain.Kind {
	t.Helper()
	k, err := domain.KindByName(domain.Articles)
	require.NoError(t, err)
	return k
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return l
}

func payloadJSON(t *testing.T, msg domain.RelayMessage) map[string]any {
	t.Helper()
	b, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestWatcherRelaysWrites(t *testing.T) {
	oid := primitive.NewObjectID()
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "insert", oid, bson.M{"_id": oid, "name": "Rohr", "quantity": 10})
	stream.events <- changeEvent("2", "update", oid, bson.M{"_id": oid, "name": "Rohr", "quantity": 8})
	stream.events <- changeEvent("3", "delete", oid, nil)

	rec := newRecorder()
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec, WithLogger(quietLogger()))
	defer w.Stop()

	msgs := rec.wait(t, 3)
	require.Len(t, msgs, 3)

	assert.Equal(t, "articles:insert", msgs[0].Event())
	assert.Equal(t, map[string]any{"id": oid.Hex(), "name": "Rohr", "quantity": float64(10)}, payloadJSON(t, msgs[0]))

	assert.Equal(t, "articles:update", msgs[1].Event())
	assert.Equal(t, float64(8), payloadJSON(t, msgs[1])["quantity"])

	assert.Equal(t, "articles:delete", msgs[2].Event())
	assert.Equal(t, map[string]any{"id": oid.Hex()}, payloadJSON(t, msgs[2]))
}

func TestWatcherPayloadCarriesOnlyStoredFields(t *testing.T) {
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "insert", "a1", bson.M{"_id": "a1", "name": "Rohr"})
	stream.events <- changeEvent("2", "update", "a1", bson.M{"_id": "a1", "name": "Rohr", "quantity": 0})

	rec := newRecorder()
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec, WithLogger(quietLogger()))
	defer w.Stop()

	msgs := rec.wait(t, 2)
	assert.Equal(t, map[string]any{"id": "a1", "name": "Rohr"}, payloadJSON(t, msgs[0]))
	assert.Equal(t, map[string]any{"id": "a1", "name": "Rohr", "quantity": float64(0)}, payloadJSON(t, msgs[1]))
}

func TestMessageOmitsUnsetOptionalFields(t *testing.T) {
	cases := []struct {
		kind string
		doc  bson.M
		want map[string]any
	}{
		{domain.Machines, bson.M{"_id": "m1", "name": "Bohrer"}, map[string]any{"id": "m1", "name": "Bohrer"}},
		{domain.Orders, bson.M{"_id": "o1"}, map[string]any{"id": "o1"}},
		{domain.Locations, bson.M{"_id": "l1", "name": "Halle"}, map[string]any{"id": "l1", "name": "Halle"}},
		{domain.Users, bson.M{"_id": "u1", "name": "Eva"}, map[string]any{"id": "u1", "name": "Eva"}},
		{domain.Users, bson.M{"_id": "u2", "name": "Max", "active": false}, map[string]any{"id": "u2", "name": "Max", "active": false}},
		{domain.Settings, bson.M{"_id": "s1", "currency": "EUR"}, map[string]any{"id": "s1", "currency": "EUR"}},
	}
	for _, tc := range cases {
		kind, err := domain.KindByName(tc.kind)
		require.NoError(t, err)
		var doc changeDoc
		require.NoError(t, bson.Unmarshal(changeEvent("1", "insert", tc.doc["_id"], tc.doc), &doc))
		ev, err := toChangeEvent(kind, doc)
		require.NoError(t, err)
		msg, ok := Message(tc.kind, ev)
		require.True(t, ok)
		assert.Equal(t, tc.want, payloadJSON(t, msg), tc.kind)
	}
}

func TestWatcherNormalizesIdentifiers(t *testing.T) {
	oid := primitive.NewObjectID()
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "insert", oid, bson.M{"_id": oid, "name": "Schraube"})

	rec := newRecorder()
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec, WithLogger(quietLogger()))
	defer w.Stop()

	payload := payloadJSON(t, rec.wait(t, 1)[0])
	assert.Equal(t, oid.Hex(), payload["id"])
	assert.NotContains(t, payload, "_id")
}

func TestWatcherSkipsOtherOperations(t *testing.T) {
	oid := primitive.NewObjectID()
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "replace", oid, bson.M{"_id": oid, "name": "x"})
	stream.events <- changeEvent("2", "drop", oid, nil)
	stream.events <- changeEvent("3", "update", oid, nil)
	stream.events <- changeEvent("4", "delete", "a1", nil)

	rec := newRecorder()
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec, WithLogger(quietLogger()))
	defer w.Stop()

	msgs := rec.wait(t, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.OpDelete, msgs[0].Op)
	assert.Equal(t, domain.DeleteKey{ID: "a1"}, msgs[0].Payload)
}

func TestWatcherCustomChannel(t *testing.T) {
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "delete", "a1", nil)

	rec := newRecorder()
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec,
		WithLogger(quietLogger()), WithChannel("lager"))
	defer w.Stop()

	assert.Equal(t, "lager:delete", rec.wait(t, 1)[0].Event())
}

func TestWatcherPublishFailureDoesNotStopStream(t *testing.T) {
	stream := newFakeStream(nil)
	stream.events <- changeEvent("1", "delete", "a1", nil)
	stream.events <- changeEvent("2", "delete", "a2", nil)

	rec := newRecorder()
	rec.fail = errors.New("bus down")
	w := StartWatching(context.Background(), newFakeSource(stream), articles(t), rec, WithLogger(quietLogger()))
	defer w.Stop()

	msgs := rec.wait(t, 2)
	assert.Len(t, msgs, 2)
	assert.True(t, w.Status().Healthy)
}

func TestWatcherStopClosesStream(t *testing.T) {
	stream := newFakeStream(nil)
	src := newFakeSource(stream)
	w := StartWatching(context.Background(), src, articles(t), newRecorder(), WithLogger(quietLogger()))

	select {
	case <-src.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}
	w.Stop()
	w.Stop()

	select {
	case <-stream.closed:
	default:
		t.Fatal("stream not closed after Stop")
	}
	st := w.Status()
	assert.False(t, st.Running)
	assert.False(t, st.Healthy)
}

func TestWatcherNoEventsAfterStop(t *testing.T) {
	stream := newFakeStream(nil)
	src := newFakeSource(stream)
	rec := newRecorder()
	w := StartWatching(context.Background(), src, articles(t), rec, WithLogger(quietLogger()))
	<-src.opened
	w.Stop()

	stream.events <- changeEvent("1", "delete", "a1", nil)
	select {
	case <-rec.got:
		t.Fatal("message relayed after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcherReopensWithResumeToken(t *testing.T) {
	first := newFakeStream(errors.New("connection reset"))
	first.events <- changeEvent("tok-1", "delete", "a1", nil)
	close(first.events)
	second := newFakeStream(nil)
	second.events <- changeEvent("tok-2", "delete", "a2", nil)

	src := newFakeSource(first, second)
	rec := newRecorder()
	w := StartWatching(context.Background(), src, articles(t), rec,
		WithLogger(quietLogger()),
		WithRetryer(&Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}))
	defer w.Stop()

	msgs := rec.wait(t, 2)
	assert.Equal(t, domain.DeleteKey{ID: "a2"}, msgs[1].Payload)

	tokens := src.resumeTokens()
	require.Len(t, tokens, 2)
	assert.Nil(t, tokens[0])
	assert.Equal(t, "tok-1", tokens[1].Lookup("_data").StringValue())

	require.Eventually(t, func() bool {
		st := w.Status()
		return st.Healthy && st.Restarts == 1 && st.LastEventAt != nil
	}, time.Second, 5*time.Millisecond)
}

func TestWatcherDropsStaleResumeToken(t *testing.T) {
	stale := mongo.CommandError{Code: 286, Message: "resume point no longer in oplog"}
	first := newFakeStream(stale)
	first.events <- changeEvent("tok-1", "delete", "a1", nil)
	close(first.events)
	second := newFakeStream(nil)

	src := newFakeSource(first, second)
	w := StartWatching(context.Background(), src, articles(t), newRecorder(),
		WithLogger(quietLogger()),
		WithRetryer(&Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}))
	defer w.Stop()

	<-src.opened
	select {
	case <-src.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never reopened")
	}
	tokens := src.resumeTokens()
	require.Len(t, tokens, 2)
	assert.Nil(t, tokens[1])
}

func TestWatcherGivesUpAfterMaxRetries(t *testing.T) {
	src := newFakeSource()
	w := StartWatching(context.Background(), src, articles(t), newRecorder(),
		WithLogger(quietLogger()),
		WithRetryer(&Backoff{Initial: time.Millisecond, Multiplier: 1, MaxRetries: 2}))

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not give up")
	}
	st := w.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Restarts)
	assert.Contains(t, st.LastError, "no more streams")
	assert.Len(t, src.resumeTokens(), 3)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := &Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	for attempt, want := range []time.Duration{100, 200, 400, 800, 1000, 1000} {
		d, ok := b.NextDelay(attempt, nil)
		require.True(t, ok)
		assert.Equal(t, want*time.Millisecond, d)
	}

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d, _ := b.NextDelay(0, nil)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}

	b.MaxRetries = 3
	_, ok := b.NextDelay(3, nil)
	assert.False(t, ok)
}

func TestMessage(t *testing.T) {
	art := &domain.Article{ID: "a1", Name: "Rohr"}

	msg, ok := Message("articles", domain.ChangeEvent{Operation: domain.OpInsert, FullDocument: art, DocumentKey: "a1"})
	require.True(t, ok)
	assert.Equal(t, domain.RelayMessage{Channel: "articles", Op: domain.OpInsert, Payload: art}, msg)

	_, ok = Message("articles", domain.ChangeEvent{Operation: domain.OpUpdate, DocumentKey: "a1"})
	assert.False(t, ok)

	_, ok = Message("articles", domain.ChangeEvent{Operation: "invalidate"})
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	kinds := domain.Kinds()
	var streams []*fakeStream
	for _, k := range kinds[:2] {
		s := newFakeStream(nil)
		streams = append(streams, s)
		src := newFakeSource(s)
		_, err := reg.Start(context.Background(), src, k, newRecorder(), WithLogger(quietLogger()))
		require.NoError(t, err)
		<-src.opened
	}

	_, err := reg.Start(context.Background(), newFakeSource(), kinds[0], newRecorder(), WithLogger(quietLogger()))
	assert.Error(t, err)

	require.Eventually(t, reg.Healthy, time.Second, 5*time.Millisecond)
	health := reg.Health()
	require.Len(t, health, 2)
	assert.Equal(t, kinds[0].Name, health[0].Channel)
	assert.Equal(t, kinds[1].Collection, health[1].Collection)

	reg.StopAll()
	for _, s := range streams {
		select {
		case <-s.closed:
		default:
			t.Fatal("stream left open by StopAll")
		}
	}
	assert.Empty(t, reg.Health())
}
