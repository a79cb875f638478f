package api

import "testing"

func TestBroadcastOnlyReachesMembers(t *testing.T) {
	h := NewHub()
	a, b := newClient(), newClient()
	a.join("articles")
	b.join("orders")
	h.add(a)
	h.add(b)

	if n := h.Broadcast("articles", []byte("hello")); n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}
	select {
	case msg := <-a.send:
		if string(msg) != "hello" {
			t.Fatalf("expected hello got %s", msg)
		}
	default:
		t.Fatal("member did not receive broadcast")
	}
	select {
	case <-b.send:
		t.Fatal("non member received broadcast")
	default:
	}

	a.leave("articles")
	if n := h.Broadcast("articles", []byte("world")); n != 0 {
		t.Fatalf("expected no recipients after leave, got %d", n)
	}
}

func TestBroadcastDisconnectsSlowClient(t *testing.T) {
	h := NewHub()
	c := newClient()
	c.join("articles")
	h.add(c)
	for i := 0; i < sendBuffer; i++ {
		h.Broadcast("articles", []byte("x"))
	}
	if n := h.Broadcast("articles", []byte("overflow")); n != 0 {
		t.Fatalf("expected overflow to be dropped, got %d", n)
	}
	if h.Len() != 0 {
		t.Fatal("slow client still registered")
	}
	select {
	case <-c.done:
	default:
		t.Fatal("slow client not closed")
	}
}

func TestCloseAll(t *testing.T) {
	h := NewHub()
	c := newClient()
	h.add(c)
	h.CloseAll()
	if h.Len() != 0 {
		t.Fatal("clients left after CloseAll")
	}
	<-c.done
}
