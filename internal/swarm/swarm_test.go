package swarm

import (
	"context"
	"testing"
	"time"

	"hyperswarm-go/internal/dht"
	"hyperswarm-go/internal/topic"
)

func newTestSwarm(t *testing.T) *Swarm {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BindPort = 0
	cfg.DHT.BindAddr = "127.0.0.1:0"
	cfg.LookupInterval = 50 * time.Millisecond
	sw, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = sw.Shutdown() })
	return sw
}

// §8 scenario 1: two-node localhost discovery. B inserts A's endpoint
// manually, B announces, A looks up and finds B.
func TestSwarm_TwoNodeLocalhostDiscovery(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	b.DHT().Routing().Upsert(a.DHT().Self(), a.DHT().LocalAddr())

	tp := topic.FromKey([]byte("two-node-discovery"))
	ih := infoHash(tp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.DHT().Announce(ctx, ih, uint16(b.DHT().LocalAddr().Port), dht.DefaultLookupConfig()); err != nil {
		t.Fatalf("announce: %v", err)
	}

	peers, err := a.DHT().Lookup(ctx, ih, dht.DefaultLookupConfig())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	found := false
	bAddr := b.DHT().LocalAddr()
	for _, p := range peers {
		pa := p.UDPAddr()
		if pa.Port == bAddr.Port && pa.IP.Equal(bAddr.IP) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find b's endpoint in lookup results, got %v", peers)
	}
}

func TestSwarm_JoinIsIdempotent(t *testing.T) {
	sw := newTestSwarm(t)
	tp := topic.FromKey([]byte("idempotent-topic"))

	sw.Join(tp)
	ch1 := sw.OnPeer(tp)
	sw.Join(tp)
	ch2 := sw.OnPeer(tp)

	if ch1 != ch2 {
		t.Fatal("joining an already-joined topic replaced its peer channel")
	}
}

func TestSwarm_LeaveClosesPeerChannel(t *testing.T) {
	sw := newTestSwarm(t)
	tp := topic.FromKey([]byte("leave-topic"))

	sw.Join(tp)
	ch := sw.OnPeer(tp)
	sw.Leave(tp)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected peer channel to be closed after Leave")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer channel was not closed after Leave")
	}

	if sw.OnPeer(tp) != nil {
		t.Fatal("expected OnPeer to return nil for an unjoined topic")
	}
}

func TestSwarm_BootstrapUnreachableReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DHT.BindAddr = "127.0.0.1:0"
	cfg.DHT.Bootstrap = []string{"192.0.2.1:6881", "192.0.2.2:6881"}
	cfg.DHT.QueryTimeout = 300 * time.Millisecond
	sw, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sw.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sw.Bootstrap(ctx); err == nil {
		t.Fatal("expected bootstrap against unreachable seeds to fail")
	}

	peers, err := sw.DHT().Lookup(ctx, infoHash(topic.FromKey([]byte("x"))), dht.DefaultLookupConfig())
	if err != nil {
		t.Fatalf("lookup after failed bootstrap should not error: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers, got %v", peers)
	}
}
