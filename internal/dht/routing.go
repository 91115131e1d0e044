package dht

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// NumBuckets is one bucket per bit of the 160-bit id space.
const NumBuckets = NodeIDBytes * 8

// DefaultCapacity is the routing table's default bound on total node count.
const DefaultCapacity = 160

// NodeInfo describes one entry in the routing table: an identity and the
// endpoint it was last observed at.
type NodeInfo struct {
	ID       NodeID
	Addr     *net.UDPAddr
	LastSeen time.Time
}

type bucket struct {
	nodes []NodeInfo // LRU: index 0 = most recently seen; end = least
}

// DiversityPolicy bounds how many entries from one /24 (or /64 for IPv6)
// subnet may occupy a single bucket, to resist eclipse attacks that flood
// the table with Sybils behind one network.
type DiversityPolicy struct {
	MaxPerSubnet int
}

// RoutingTable is a bounded multiset of Nodes keyed by 160-bit NodeId,
// organized into Kademlia buckets by XOR distance from self, with a
// table-wide LRU eviction cap (§3's "capacity K").
type RoutingTable struct {
	self     NodeID
	capacity int

	mu      sync.RWMutex
	buckets [NumBuckets]bucket

	diversity DiversityPolicy

	metrics Metrics
}

func NewRoutingTable(self NodeID, capacity int) *RoutingTable {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RoutingTable{
		self:      self,
		capacity:  capacity,
		diversity: DiversityPolicy{MaxPerSubnet: 2},
		metrics:   NoopMetrics{},
	}
}

// SetMetrics wires an observer; pass nil to restore the no-op default.
func (rt *RoutingTable) SetMetrics(m Metrics) {
	rt.mu.Lock()
	if m == nil {
		m = NoopMetrics{}
	}
	rt.metrics = m
	rt.mu.Unlock()
}

// Upsert records a sighting of id at addr: move-to-front if known, else
// insert, evicting the table-wide least-recently-seen entry if at capacity.
func (rt *RoutingTable) Upsert(id NodeID, addr *net.UDPAddr) {
	if id == rt.self {
		return
	}
	bi := BucketIndex(rt.self, id)
	if bi < 0 || bi >= NumBuckets {
		return
	}

	now := time.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[bi]
	for i := range b.nodes {
		if b.nodes[i].ID == id {
			ni := b.nodes[i]
			ni.Addr = addr
			ni.LastSeen = now

			copy(b.nodes[i:], b.nodes[i+1:])
			b.nodes = b.nodes[:len(b.nodes)-1]
			b.nodes = append([]NodeInfo{ni}, b.nodes...)
			rt.buckets[bi] = b
			rt.reportLocked()
			return
		}
	}

	ni := NodeInfo{ID: id, Addr: addr, LastSeen: now}

	if max := rt.diversity.MaxPerSubnet; max > 0 && addr != nil {
		sk := subnetKey(addr.IP)
		cnt := 0
		for i := range b.nodes {
			if b.nodes[i].Addr != nil && subnetKey(b.nodes[i].Addr.IP) == sk {
				cnt++
			}
		}
		if cnt >= max {
			return
		}
	}

	if rt.size() >= rt.capacity {
		rt.evictGlobalLRULocked()
		b = rt.buckets[bi]
	}

	b.nodes = append([]NodeInfo{ni}, b.nodes...)
	rt.buckets[bi] = b
	rt.reportLocked()
}

// evictGlobalLRULocked drops the least-recently-seen entry across every
// bucket. Caller holds rt.mu.
func (rt *RoutingTable) evictGlobalLRULocked() {
	oldestBucket, oldestIdx := -1, -1
	var oldest time.Time

	for bi := range rt.buckets {
		nodes := rt.buckets[bi].nodes
		if len(nodes) == 0 {
			continue
		}
		tail := nodes[len(nodes)-1]
		if oldestBucket < 0 || tail.LastSeen.Before(oldest) {
			oldest = tail.LastSeen
			oldestBucket = bi
			oldestIdx = len(nodes) - 1
		}
	}
	if oldestBucket < 0 {
		return
	}
	b := rt.buckets[oldestBucket]
	b.nodes = append(b.nodes[:oldestIdx:oldestIdx], b.nodes[oldestIdx+1:]...)
	rt.buckets[oldestBucket] = b
}

// Remove drops id from the table, if present.
func (rt *RoutingTable) Remove(id NodeID) {
	bi := BucketIndex(rt.self, id)
	if bi < 0 || bi >= NumBuckets {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[bi]
	for i := range b.nodes {
		if b.nodes[i].ID == id {
			b.nodes = append(b.nodes[:i:i], b.nodes[i+1:]...)
			rt.buckets[bi] = b
			rt.reportLocked()
			return
		}
	}
}

// Closest returns up to n known nodes sorted ascending by XOR distance to
// target.
func (rt *RoutingTable) Closest(target NodeID, n int) []NodeInfo {
	if n <= 0 {
		n = 20
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	all := make([]NodeInfo, 0, rt.capacity)
	for i := range rt.buckets {
		all = append(all, rt.buckets[i].nodes...)
	}

	SortByDistance(all, target)

	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Distance is the XOR metric between two node ids.
func Distance(a, b NodeID) NodeID { return Xor(a, b) }

// SortByDistance sorts a NodeInfo slice ascending by XOR distance to target.
func SortByDistance(nodes []NodeInfo, target NodeID) {
	type nd struct {
		ni   NodeInfo
		dist NodeID
	}
	tmp := make([]nd, len(nodes))
	for i := range nodes {
		tmp[i] = nd{ni: nodes[i], dist: Distance(nodes[i].ID, target)}
	}

	for i := 1; i < len(tmp); i++ {
		j := i
		for j > 0 && DistanceLess(tmp[j].dist, tmp[j-1].dist) {
			tmp[j], tmp[j-1] = tmp[j-1], tmp[j]
			j--
		}
	}
	for i := range tmp {
		nodes[i] = tmp[i].ni
	}
}

func subnetKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if ip.IsLoopback() {
		return "loopback:" + ip.String()
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("v4:%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	v6 := ip.To16()
	if v6 == nil {
		return "ip:unknown"
	}
	pfx := make(net.IP, 16)
	copy(pfx, v6)
	for i := 8; i < 16; i++ {
		pfx[i] = 0
	}
	return "v6:" + pfx.String() + "/64"
}

// Size returns the total number of nodes in the routing table.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.size()
}

func (rt *RoutingTable) size() int {
	n := 0
	for i := range rt.buckets {
		n += len(rt.buckets[i].nodes)
	}
	return n
}

// BucketSize returns the number of nodes in one bucket.
func (rt *RoutingTable) BucketSize(idx int) int {
	if idx < 0 || idx >= NumBuckets {
		return 0
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets[idx].nodes)
}

func (rt *RoutingTable) SetDiversityLimit(maxPerSubnet int) {
	rt.mu.Lock()
	rt.diversity.MaxPerSubnet = maxPerSubnet
	rt.mu.Unlock()
}

// reportLocked pushes current occupancy to the configured Metrics. Caller
// holds rt.mu.
func (rt *RoutingTable) reportLocked() {
	rt.metrics.SetRoutingTableSize(rt.size())
}
