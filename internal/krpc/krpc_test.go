package krpc

import (
	"bytes"
	"testing"
)

func id20(fill byte) (id [IDSize]byte) {
	for i := range id {
		id[i] = fill
	}
	return
}

func TestEncodeDecodePingQuery(t *testing.T) {
	args := PingArgs{ID: id20(0x11)}
	msg := Message{TxID: []byte("aa"), Type: TypeQuery, Query: MethodPing, Args: args.Encode()}

	enc := msg.Encode()
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Type != TypeQuery || dec.Query != MethodPing {
		t.Fatalf("unexpected decoded message: %+v", dec)
	}
	got, err := ParsePingArgs(dec.Args)
	if err != nil {
		t.Fatalf("ParsePingArgs: %v", err)
	}
	if got.ID != args.ID {
		t.Fatalf("id mismatch: got %x want %x", got.ID, args.ID)
	}
}

func TestEncodeDecodeFindNodeReturn(t *testing.T) {
	nodes := []CompactNode{
		{ID: id20(0x01), Peer: CompactPeer{IP: [4]byte{192, 168, 1, 1}, Port: 6881}},
		{ID: id20(0x02), Peer: CompactPeer{IP: [4]byte{10, 0, 0, 1}, Port: 6882}},
	}
	ret := FindNodeReturn{ID: id20(0xff), Nodes: nodes}
	msg := Message{TxID: []byte("bb"), Type: TypeResponse, Return: ret.Encode()}

	dec, err := Decode(msg.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := ParseFindNodeReturn(dec.Return)
	if err != nil {
		t.Fatalf("ParseFindNodeReturn: %v", err)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].Peer.Port != 6881 {
		t.Fatalf("unexpected nodes: %+v", got.Nodes)
	}
}

func TestEncodeDecodeErrorMessage(t *testing.T) {
	msg := Message{TxID: []byte("cc"), Type: TypeError, ErrCode: ErrGeneric, ErrMsg: "nope"}
	dec, err := Decode(msg.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Type != TypeError || dec.ErrCode != ErrGeneric || dec.ErrMsg != "nope" {
		t.Fatalf("unexpected decoded error message: %+v", dec)
	}
}

func TestCompactPeerRoundTrip(t *testing.T) {
	p := CompactPeer{IP: [4]byte{127, 0, 0, 1}, Port: 4001}
	got, err := DecodeCompactPeer(p.Encode())
	if err != nil {
		t.Fatalf("DecodeCompactPeer: %v", err)
	}
	if got != p {
		t.Fatalf("compact peer round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestDecodeNodesRejectsBadLength(t *testing.T) {
	_, err := DecodeNodes(bytes.Repeat([]byte{0}, CompactNodeSize+1))
	if err == nil {
		t.Fatalf("expected error for misaligned nodes field")
	}
}

func TestGetPeersReturnValuesPreferredOverNodes(t *testing.T) {
	ret := GetPeersReturn{
		ID:     id20(0x09),
		Token:  []byte("tok"),
		Values: []CompactPeer{{IP: [4]byte{1, 2, 3, 4}, Port: 1000}},
		Nodes:  []CompactNode{{ID: id20(0x0a), Peer: CompactPeer{IP: [4]byte{5, 6, 7, 8}, Port: 2000}}},
	}
	dec, err := ParseGetPeersReturn(ret.Encode())
	if err != nil {
		t.Fatalf("ParseGetPeersReturn: %v", err)
	}
	if len(dec.Values) != 1 || len(dec.Nodes) != 0 {
		t.Fatalf("expected values-only response, got %+v", dec)
	}
}
