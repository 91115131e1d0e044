package dht

import (
	"net"
	"testing"
	"time"
)

func TestTokenBucket_AllowsBurstThenThrottles(t *testing.T) {
	b := &tokenBucket{}
	now := time.Now()

	for i := 0; i < 10; i++ {
		if !b.allow(now, 5.0, 10.0, 1) {
			t.Fatalf("expected burst token %d to be allowed", i)
		}
	}
	if b.allow(now, 5.0, 10.0, 1) {
		t.Fatalf("expected bucket to be exhausted after consuming the full burst")
	}

	// a second later, 5 tokens/sec should have refilled.
	if !b.allow(now.Add(1*time.Second), 5.0, 10.0, 1) {
		t.Fatalf("expected a token to have refilled after 1s")
	}
}

func TestClient_AllowQueryThrottlesPerSource(t *testing.T) {
	c := newTestClient(t)
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 6881}

	allowed := 0
	for i := 0; i < int(queryRateLimitBurst)+5; i++ {
		if c.allowQuery(addr) {
			allowed++
		}
	}
	if allowed != int(queryRateLimitBurst) {
		t.Fatalf("expected exactly %d allowed queries in an instant burst, got %d", int(queryRateLimitBurst), allowed)
	}

	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.99"), Port: 6881}
	if !c.allowQuery(other) {
		t.Fatalf("a different source address should have its own independent bucket")
	}
}
