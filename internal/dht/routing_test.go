package dht

import (
	"bytes"
	"crypto/rand"
	"net"
	"testing"
)

func randID(t *testing.T) NodeID {
	t.Helper()
	var id NodeID
	_, err := rand.Read(id[:])
	if err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return id
}

func xorBytes(a, b NodeID) [NodeIDBytes]byte {
	return Xor(a, b)
}

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	return addr
}

func TestXorSymmetry(t *testing.T) {
	a := randID(t)
	b := randID(t)
	if Xor(a, b) != Xor(b, a) {
		t.Fatalf("xor not symmetric")
	}
}

func TestBucketIndex_MSB(t *testing.T) {
	var self NodeID
	var peer NodeID
	peer[0] = 0x80 // differs at the very first bit
	if got := BucketIndex(self, peer); got != 0 {
		t.Fatalf("expected bucket index 0, got %d", got)
	}
}

func TestBucketIndex_Identical(t *testing.T) {
	id := randID(t)
	if got := BucketIndex(id, id); got != -1 {
		t.Fatalf("expected -1 for identical ids, got %d", got)
	}
}

func TestRoutingTable_ClosestSortedByDistance(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, 160)

	target := randID(t)

	for i := 0; i < 50; i++ {
		id := randID(t)
		rt.Upsert(id, udpAddr(t, "127.0.0.1:1234"))
	}

	got := rt.Closest(target, 10)
	if len(got) == 0 {
		t.Fatalf("expected some closest nodes")
	}
	if len(got) > 10 {
		t.Fatalf("expected <=10, got %d", len(got))
	}

	for i := 1; i < len(got); i++ {
		prev := xorBytes(got[i-1].ID, target)
		cur := xorBytes(got[i].ID, target)
		if bytes.Compare(prev[:], cur[:]) > 0 {
			t.Fatalf("closest not sorted at i=%d", i)
		}
	}
}

func TestRoutingTable_NoDuplicateNodeIDs(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, 160)

	id := randID(t)
	rt.Upsert(id, udpAddr(t, "127.0.0.1:1"))
	rt.Upsert(id, udpAddr(t, "127.0.0.1:2")) // same id, new endpoint: should update, not duplicate

	got := rt.Closest(id, 160)
	count := 0
	for _, n := range got {
		if n.ID == id {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entry for id, got %d", count)
	}
	for _, n := range got {
		if n.ID == id && n.Addr.Port != 2 {
			t.Fatalf("expected upsert to refresh endpoint, got port %d", n.Addr.Port)
		}
	}
}

func TestRoutingTable_EvictsLRUPastCapacity(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, 4)

	for i := 0; i < 10; i++ {
		rt.Upsert(randID(t), udpAddr(t, "127.0.0.1:1"))
	}

	if got := rt.Size(); got > 4 {
		t.Fatalf("expected size capped at 4, got %d", got)
	}
}

func TestRoutingTable_SelfNeverInserted(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, 160)
	rt.Upsert(self, udpAddr(t, "127.0.0.1:1"))
	if rt.Size() != 0 {
		t.Fatalf("expected self insertion to be a no-op, got size %d", rt.Size())
	}
}
