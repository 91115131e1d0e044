package dht

import (
	"context"
	"net"
	"sync"

	"hyperswarm-go/internal/krpc"
)

// LookupConfig bounds an iterative get_peers/find_node round: Alpha is the
// fan-out per round, K is the closest-set size tracked, and MaxRounds caps
// how many rounds run before giving up.
type LookupConfig struct {
	Alpha     int
	K         int
	MaxRounds int
}

func DefaultLookupConfig() LookupConfig {
	return LookupConfig{Alpha: 3, K: DefaultLookupFanout, MaxRounds: 8}
}

type lookupState struct {
	target  NodeID
	queried map[NodeID]bool
	closest []NodeInfo
	mu      sync.Mutex
}

func newLookupState(target NodeID, seed []NodeInfo) *lookupState {
	s := &lookupState{target: target, queried: make(map[NodeID]bool)}
	s.merge(seed)
	return s
}

func (s *lookupState) merge(nodes []NodeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[NodeID]bool, len(s.closest))
	for _, n := range s.closest {
		seen[n.ID] = true
	}
	for _, n := range nodes {
		if !seen[n.ID] {
			seen[n.ID] = true
			s.closest = append(s.closest, n)
		}
	}
	SortByDistance(s.closest, s.target)
}

func (s *lookupState) unqueried(alpha int) []NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NodeInfo
	for _, n := range s.closest {
		if len(out) >= alpha {
			break
		}
		if !s.queried[n.ID] {
			s.queried[n.ID] = true
			out = append(out, n)
		}
	}
	return out
}

func (s *lookupState) snapshot(k int) []NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.closest) > k {
		return append([]NodeInfo{}, s.closest[:k]...)
	}
	return append([]NodeInfo{}, s.closest...)
}

// Lookup runs an iterative get_peers search for topic and returns every
// distinct peer discovered across all rounds (§4.3, §8 scenario 1).
func (c *Client) Lookup(ctx context.Context, topic NodeID, cfg LookupConfig) ([]krpc.CompactPeer, error) {
	if cfg.Alpha <= 0 || cfg.K <= 0 || cfg.MaxRounds <= 0 {
		cfg = DefaultLookupConfig()
	}

	state := newLookupState(topic, c.rt.Closest(topic, cfg.K))

	var (
		mu     sync.Mutex
		values []krpc.CompactPeer
		seen   = make(map[krpc.CompactPeer]bool)
	)
	addValues := func(vs []krpc.CompactPeer) {
		mu.Lock()
		defer mu.Unlock()
		for _, v := range vs {
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}

	for round := 0; round < cfg.MaxRounds; round++ {
		batch := state.unqueried(cfg.Alpha)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, n := range batch {
			n := n
			wg.Add(1)
			go func() {
				defer wg.Done()
				if n.Addr == nil {
					return
				}
				res, err := c.GetPeers(ctx, n.Addr, topic)
				if err != nil {
					return
				}
				if len(res.Values) > 0 {
					addValues(res.Values)
				}
				if len(res.Nodes) > 0 {
					state.merge(compactNodesToInfo(res.Nodes))
				}
			}()
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return values, ctx.Err()
		default:
		}
	}

	return values, nil
}

// Announce runs a Lookup for topic to find the closest nodes and a token
// from each, then sends announce_peer carrying port to every node that
// answered with a valid token (§4.3, §8 scenario 1). It is best-effort per
// node: individual announce failures don't fail the call.
func (c *Client) Announce(ctx context.Context, topic NodeID, port uint16, cfg LookupConfig) error {
	if cfg.Alpha <= 0 || cfg.K <= 0 || cfg.MaxRounds <= 0 {
		cfg = DefaultLookupConfig()
	}

	state := newLookupState(topic, c.rt.Closest(topic, cfg.K))
	type tokenHolder struct {
		addr  *net.UDPAddr
		token []byte
	}

	var (
		mu      sync.Mutex
		holders []tokenHolder
	)

	for round := 0; round < cfg.MaxRounds; round++ {
		batch := state.unqueried(cfg.Alpha)
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, n := range batch {
			n := n
			wg.Add(1)
			go func() {
				defer wg.Done()
				if n.Addr == nil {
					return
				}
				res, err := c.GetPeers(ctx, n.Addr, topic)
				if err != nil {
					return
				}
				if len(res.Token) > 0 {
					mu.Lock()
					holders = append(holders, tokenHolder{addr: n.Addr, token: res.Token})
					mu.Unlock()
				}
				if len(res.Nodes) > 0 {
					state.merge(compactNodesToInfo(res.Nodes))
				}
			}()
		}
		wg.Wait()
	}

	var wg sync.WaitGroup
	for _, h := range holders {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.AnnouncePeer(ctx, h.addr, topic, port, h.token)
		}()
	}
	wg.Wait()

	return nil
}

func compactNodesToInfo(nodes []krpc.CompactNode) []NodeInfo {
	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeInfo{ID: NodeID(n.ID), Addr: n.Peer.UDPAddr()})
	}
	return out
}
