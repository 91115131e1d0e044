package krpc

import (
	"fmt"

	"hyperswarm-go/internal/bencode"
)

// PingArgs / PingReturn ------------------------------------------------

type PingArgs struct {
	ID [IDSize]byte
}

func (a PingArgs) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{"id": bencode.String(a.ID[:])}
}

func ParsePingArgs(d map[string]bencode.Value) (PingArgs, error) {
	var a PingArgs
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return a, fmt.Errorf("krpc: ping missing/malformed id")
	}
	copy(a.ID[:], id)
	return a, nil
}

type PingReturn struct {
	ID [IDSize]byte
}

func (r PingReturn) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{"id": bencode.String(r.ID[:])}
}

func ParsePingReturn(d map[string]bencode.Value) (PingReturn, error) {
	var r PingReturn
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return r, fmt.Errorf("krpc: ping response missing/malformed id")
	}
	copy(r.ID[:], id)
	return r, nil
}

// FindNodeArgs / FindNodeReturn ----------------------------------------

type FindNodeArgs struct {
	ID     [IDSize]byte
	Target [IDSize]byte
}

func (a FindNodeArgs) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{
		"id":     bencode.String(a.ID[:]),
		"target": bencode.String(a.Target[:]),
	}
}

func ParseFindNodeArgs(d map[string]bencode.Value) (FindNodeArgs, error) {
	var a FindNodeArgs
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return a, fmt.Errorf("krpc: find_node missing/malformed id")
	}
	target, ok := dictStr(d, "target")
	if !ok || len(target) != IDSize {
		return a, fmt.Errorf("krpc: find_node missing/malformed target")
	}
	copy(a.ID[:], id)
	copy(a.Target[:], target)
	return a, nil
}

type FindNodeReturn struct {
	ID    [IDSize]byte
	Nodes []CompactNode
}

func (r FindNodeReturn) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{
		"id":    bencode.String(r.ID[:]),
		"nodes": bencode.String(EncodeNodes(r.Nodes)),
	}
}

func ParseFindNodeReturn(d map[string]bencode.Value) (FindNodeReturn, error) {
	var r FindNodeReturn
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return r, fmt.Errorf("krpc: find_node response missing/malformed id")
	}
	copy(r.ID[:], id)

	nodesRaw, ok := dictStr(d, "nodes")
	if !ok {
		return r, nil
	}
	nodes, err := DecodeNodes(nodesRaw)
	if err != nil {
		return r, err
	}
	r.Nodes = nodes
	return r, nil
}

// GetPeersArgs / GetPeersReturn ------------------------------------------

type GetPeersArgs struct {
	ID       [IDSize]byte
	InfoHash [IDSize]byte
}

func (a GetPeersArgs) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{
		"id":        bencode.String(a.ID[:]),
		"info_hash": bencode.String(a.InfoHash[:]),
	}
}

func ParseGetPeersArgs(d map[string]bencode.Value) (GetPeersArgs, error) {
	var a GetPeersArgs
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return a, fmt.Errorf("krpc: get_peers missing/malformed id")
	}
	ih, ok := dictStr(d, "info_hash")
	if !ok || len(ih) != IDSize {
		return a, fmt.Errorf("krpc: get_peers missing/malformed info_hash")
	}
	copy(a.ID[:], id)
	copy(a.InfoHash[:], ih)
	return a, nil
}

type GetPeersReturn struct {
	ID     [IDSize]byte
	Token  []byte
	Values []CompactPeer // present if known
	Nodes  []CompactNode // present otherwise
}

func (r GetPeersReturn) Encode() map[string]bencode.Value {
	d := map[string]bencode.Value{
		"id":    bencode.String(r.ID[:]),
		"token": bencode.String(r.Token),
	}
	if len(r.Values) > 0 {
		vs := make([]bencode.Value, len(r.Values))
		for i, p := range r.Values {
			vs[i] = bencode.String(p.Encode())
		}
		d["values"] = bencode.List(vs...)
	} else {
		d["nodes"] = bencode.String(EncodeNodes(r.Nodes))
	}
	return d
}

func ParseGetPeersReturn(d map[string]bencode.Value) (GetPeersReturn, error) {
	var r GetPeersReturn
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return r, fmt.Errorf("krpc: get_peers response missing/malformed id")
	}
	copy(r.ID[:], id)

	token, ok := dictStr(d, "token")
	if !ok {
		return r, fmt.Errorf("krpc: get_peers response missing token")
	}
	r.Token = token

	if vv, ok := d["values"]; ok {
		list, ok := vv.ListVal()
		if !ok {
			return r, fmt.Errorf("krpc: get_peers values is not a list")
		}
		peers := make([]CompactPeer, 0, len(list))
		for _, item := range list {
			raw, ok := item.Str()
			if !ok {
				return r, fmt.Errorf("krpc: get_peers values entry is not a string")
			}
			p, err := DecodeCompactPeer(raw)
			if err != nil {
				return r, err
			}
			peers = append(peers, p)
		}
		r.Values = peers
		return r, nil
	}

	if nodesRaw, ok := dictStr(d, "nodes"); ok {
		nodes, err := DecodeNodes(nodesRaw)
		if err != nil {
			return r, err
		}
		r.Nodes = nodes
	}
	return r, nil
}

// AnnouncePeerArgs / AnnouncePeerReturn -----------------------------------

type AnnouncePeerArgs struct {
	ID       [IDSize]byte
	InfoHash [IDSize]byte
	Port     uint16
	Token    []byte
}

func (a AnnouncePeerArgs) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{
		"id":        bencode.String(a.ID[:]),
		"info_hash": bencode.String(a.InfoHash[:]),
		"port":      bencode.Int(int64(a.Port)),
		"token":     bencode.String(a.Token),
	}
}

func ParseAnnouncePeerArgs(d map[string]bencode.Value) (AnnouncePeerArgs, error) {
	var a AnnouncePeerArgs
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return a, fmt.Errorf("krpc: announce_peer missing/malformed id")
	}
	ih, ok := dictStr(d, "info_hash")
	if !ok || len(ih) != IDSize {
		return a, fmt.Errorf("krpc: announce_peer missing/malformed info_hash")
	}
	port, ok := dictInt(d, "port")
	if !ok || port < 0 || port > 65535 {
		return a, fmt.Errorf("krpc: announce_peer missing/malformed port")
	}
	token, ok := dictStr(d, "token")
	if !ok {
		return a, fmt.Errorf("krpc: announce_peer missing token")
	}
	copy(a.ID[:], id)
	copy(a.InfoHash[:], ih)
	a.Port = uint16(port)
	a.Token = token
	return a, nil
}

type AnnouncePeerReturn struct {
	ID [IDSize]byte
}

func (r AnnouncePeerReturn) Encode() map[string]bencode.Value {
	return map[string]bencode.Value{"id": bencode.String(r.ID[:])}
}

func ParseAnnouncePeerReturn(d map[string]bencode.Value) (AnnouncePeerReturn, error) {
	var r AnnouncePeerReturn
	id, ok := dictStr(d, "id")
	if !ok || len(id) != IDSize {
		return r, fmt.Errorf("krpc: announce_peer response missing/malformed id")
	}
	copy(r.ID[:], id)
	return r, nil
}
