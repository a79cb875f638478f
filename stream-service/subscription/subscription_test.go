package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/broker"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

func TestSubscribeUpdates(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	bus := broker.NewRedisBusWithClient(rc, "")

	var mu sync.Mutex
	var gotChannel string
	var gotData []byte
	broadcast := func(channel string, data []byte) int {
		mu.Lock()
		gotChannel = channel
		gotData = data
		mu.Unlock()
		return 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = SubscribeUpdates(ctx, log.New(), bus, broadcast)
		close(done)
	}()

	msg := domain.RelayMessage{Channel: domain.Articles, Op: domain.OpUpdate, Payload: &domain.Article{ID: "a1", Name: "Rohr", Quantity: domain.Ptr(8.0)}}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := bus.Publish(context.Background(), msg); err != nil {
			t.Fatalf("publish: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		received := gotData != nil
		mu.Unlock()
		if received {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no broadcast")
		}
	}

	mu.Lock()
	channel, data := gotChannel, string(gotData)
	mu.Unlock()
	if channel != domain.Articles {
		t.Fatalf("expected articles, got %s", channel)
	}
	want := `{"event":"articles:update","data":{"id":"a1","name":"Rohr","quantity":8}}`
	if data != want {
		t.Fatalf("unexpected frame %s", data)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubscribeUpdates did not exit")
	}
}
