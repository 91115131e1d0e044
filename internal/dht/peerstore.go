package dht

import (
	"sync"
	"time"

	"hyperswarm-go/internal/krpc"
)

// peerAnnounceTTL bounds how long an announced peer is returned from
// get_peers before it must re-announce.
const peerAnnounceTTL = 30 * time.Minute

// peerStore holds the set of peers this node has heard announce_peer for,
// keyed by info_hash, so this node can answer other peers' get_peers
// queries (§4.3: "Inbound queries are answered using local state").
type peerStore struct {
	mu   sync.Mutex
	byIH map[NodeID]map[krpc.CompactPeer]time.Time
}

func newPeerStore() *peerStore {
	return &peerStore{byIH: make(map[NodeID]map[krpc.CompactPeer]time.Time)}
}

func (s *peerStore) Announce(infoHash NodeID, peer krpc.CompactPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byIH[infoHash]
	if !ok {
		set = make(map[krpc.CompactPeer]time.Time)
		s.byIH[infoHash] = set
	}
	set[peer] = time.Now().Add(peerAnnounceTTL)
}

func (s *peerStore) Get(infoHash NodeID) []krpc.CompactPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byIH[infoHash]
	if !ok {
		return nil
	}
	now := time.Now()
	var out []krpc.CompactPeer
	for p, exp := range set {
		if now.After(exp) {
			delete(set, p)
			continue
		}
		out = append(out, p)
	}
	if len(set) == 0 {
		delete(s.byIH, infoHash)
	}
	return out
}
