package krpc

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	IDSize          = 20 // NodeId width in KRPC wire structures (160 bits)
	CompactPeerSize = 6  // 4-byte IPv4 + 2-byte port
	CompactNodeSize = IDSize + CompactPeerSize
)

// CompactPeer is the 6-byte (IPv4, port) pair used for get_peers "values".
type CompactPeer struct {
	IP   [4]byte
	Port uint16
}

func (p CompactPeer) Encode() []byte {
	b := make([]byte, CompactPeerSize)
	copy(b[:4], p.IP[:])
	binary.BigEndian.PutUint16(b[4:], p.Port)
	return b
}

func DecodeCompactPeer(b []byte) (CompactPeer, error) {
	if len(b) != CompactPeerSize {
		return CompactPeer{}, fmt.Errorf("krpc: compact peer must be %d bytes, got %d", CompactPeerSize, len(b))
	}
	var p CompactPeer
	copy(p.IP[:], b[:4])
	p.Port = binary.BigEndian.Uint16(b[4:])
	return p, nil
}

func (p CompactPeer) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(p.IP[0], p.IP[1], p.IP[2], p.IP[3]), Port: int(p.Port)}
}

func PeerFromUDPAddr(addr *net.UDPAddr) (CompactPeer, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return CompactPeer{}, fmt.Errorf("krpc: not an IPv4 address: %v", addr.IP)
	}
	var p CompactPeer
	copy(p.IP[:], ip4)
	p.Port = uint16(addr.Port)
	return p, nil
}

// CompactNode is the 26-byte (NodeId, IPv4, port) tuple returned by
// find_node/get_peers when no exact values are known.
type CompactNode struct {
	ID   [IDSize]byte
	Peer CompactPeer
}

func (n CompactNode) Encode() []byte {
	b := make([]byte, 0, CompactNodeSize)
	b = append(b, n.ID[:]...)
	b = append(b, n.Peer.Encode()...)
	return b
}

func DecodeCompactNode(b []byte) (CompactNode, error) {
	if len(b) != CompactNodeSize {
		return CompactNode{}, fmt.Errorf("krpc: compact node must be %d bytes, got %d", CompactNodeSize, len(b))
	}
	var n CompactNode
	copy(n.ID[:], b[:IDSize])
	p, err := DecodeCompactPeer(b[IDSize:])
	if err != nil {
		return CompactNode{}, err
	}
	n.Peer = p
	return n, nil
}

// EncodeNodes concatenates a compact node list into the "nodes" wire value.
func EncodeNodes(nodes []CompactNode) []byte {
	out := make([]byte, 0, len(nodes)*CompactNodeSize)
	for _, n := range nodes {
		out = append(out, n.Encode()...)
	}
	return out
}

// DecodeNodes splits a "nodes" wire value back into compact nodes. A length
// that isn't a multiple of CompactNodeSize is a protocol error.
func DecodeNodes(b []byte) ([]CompactNode, error) {
	if len(b)%CompactNodeSize != 0 {
		return nil, fmt.Errorf("krpc: nodes field length %d is not a multiple of %d", len(b), CompactNodeSize)
	}
	out := make([]CompactNode, 0, len(b)/CompactNodeSize)
	for off := 0; off < len(b); off += CompactNodeSize {
		n, err := DecodeCompactNode(b[off : off+CompactNodeSize])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func EncodePeers(peers []CompactPeer) [][]byte {
	out := make([][]byte, len(peers))
	for i, p := range peers {
		out[i] = p.Encode()
	}
	return out
}
