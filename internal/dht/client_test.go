package dht

import (
	"context"
	"testing"
	"time"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.QueryTimeout = 2 * time.Second
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func TestClient_PingRoundTrip(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	id, err := a.Ping(ctx, b.LocalAddr())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if id != b.Self() {
		t.Fatalf("ping returned wrong id")
	}
	if a.Routing().Size() != 1 {
		t.Fatalf("expected ping to seed routing table, size=%d", a.Routing().Size())
	}
}

func TestClient_FindNodeReturnsKnownNodes(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)
	cctrl := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// seed b's table with c, then ask b to find_node near c's id.
	b.Routing().Upsert(cctrl.Self(), cctrl.LocalAddr())

	nodes, err := a.FindNode(ctx, b.LocalAddr(), cctrl.Self())
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	found := false
	for _, n := range nodes {
		if NodeID(n.ID) == cctrl.Self() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected find_node to return seeded node")
	}
}

func TestClient_AnnounceThenLookup(t *testing.T) {
	a := newTestClient(t)      // announces itself under topic
	b := newTestClient(t)      // holds the announce_peer record
	finder := newTestClient(t) // looks topic up and should discover a via b

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.Routing().Upsert(b.Self(), b.LocalAddr())
	finder.Routing().Upsert(b.Self(), b.LocalAddr())

	topic := NodeID{0xAA, 0xBB}

	if err := a.Announce(ctx, topic, 4242, DefaultLookupConfig()); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	peers, err := finder.Lookup(ctx, topic, DefaultLookupConfig())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected 1 announced peer visible via b, got %d", len(peers))
	}
	if peers[0].Port != 4242 {
		t.Fatalf("expected announced port 4242, got %d", peers[0].Port)
	}
}

func TestClient_AnnouncePeerRejectsBadToken(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	topic := NodeID{0x01}
	err := a.AnnouncePeer(ctx, b.LocalAddr(), topic, 1, []byte("not-a-real-token"))
	if err == nil {
		t.Fatalf("expected announce_peer with forged token to fail")
	}
}

func TestClient_PingToShutDownPeerFails(t *testing.T) {
	a := newTestClient(t)
	b := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, err := a.Ping(ctx, b.LocalAddr())
	if err == nil {
		t.Fatalf("expected ping to a shut-down peer to fail")
	}
}
