// Package krpc implements the query/response/error envelope and method
// contracts used by the DHT client, wire-compatible with BEP 5 KRPC.
package krpc

import (
	"fmt"

	"hyperswarm-go/internal/bencode"
)

// MessageType is the KRPC "y" field.
type MessageType string

const (
	TypeQuery    MessageType = "q"
	TypeResponse MessageType = "r"
	TypeError    MessageType = "e"
)

// Method is the KRPC "q" field for queries.
type Method string

const (
	MethodPing         Method = "ping"
	MethodFindNode     Method = "find_node"
	MethodGetPeers     Method = "get_peers"
	MethodAnnouncePeer Method = "announce_peer"
)

// ErrorCode mirrors BEP 5's small error code space; the DHT's query
// handlers produce only Protocol and MethodUnknown.
type ErrorCode int

const (
	ErrGeneric       ErrorCode = 201
	ErrServer        ErrorCode = 202
	ErrProtocol      ErrorCode = 203
	ErrMethodUnknown ErrorCode = 204
)

// Message is the decoded form of one KRPC envelope.
type Message struct {
	TxID []byte
	Type MessageType

	Query Method
	Args  map[string]bencode.Value

	Return map[string]bencode.Value

	ErrCode ErrorCode
	ErrMsg  string
}

// Encode renders m as its canonical bencode wire form.
func (m Message) Encode() []byte {
	d := map[string]bencode.Value{
		"t": bencode.String(m.TxID),
		"y": bencode.String([]byte(m.Type)),
	}
	switch m.Type {
	case TypeQuery:
		d["q"] = bencode.String([]byte(m.Query))
		d["a"] = bencode.Dict(m.Args)
	case TypeResponse:
		d["r"] = bencode.Dict(m.Return)
	case TypeError:
		d["e"] = bencode.List(bencode.Int(int64(m.ErrCode)), bencode.String([]byte(m.ErrMsg)))
	}
	return bencode.Encode(bencode.Dict(d))
}

// Decode parses a raw KRPC datagram. Malformed input yields an error rather
// than a panic, so callers can count and drop it.
func Decode(raw []byte) (Message, error) {
	v, err := bencode.Decode(raw)
	if err != nil {
		return Message{}, fmt.Errorf("krpc: %w", err)
	}
	dict, ok := v.DictVal()
	if !ok {
		return Message{}, fmt.Errorf("krpc: top-level value is not a dict")
	}

	var m Message

	tv, ok := dict["t"]
	if !ok {
		return Message{}, fmt.Errorf("krpc: missing transaction id")
	}
	t, ok := tv.Str()
	if !ok {
		return Message{}, fmt.Errorf("krpc: transaction id is not a string")
	}
	m.TxID = t

	yv, ok := dict["y"]
	if !ok {
		return Message{}, fmt.Errorf("krpc: missing message type")
	}
	y, ok := yv.Str()
	if !ok {
		return Message{}, fmt.Errorf("krpc: message type is not a string")
	}
	m.Type = MessageType(y)

	switch m.Type {
	case TypeQuery:
		qv, ok := dict["q"]
		if !ok {
			return Message{}, fmt.Errorf("krpc: query missing method name")
		}
		q, ok := qv.Str()
		if !ok {
			return Message{}, fmt.Errorf("krpc: method name is not a string")
		}
		m.Query = Method(q)

		av, ok := dict["a"]
		if !ok {
			return Message{}, fmt.Errorf("krpc: query missing arguments")
		}
		a, ok := av.DictVal()
		if !ok {
			return Message{}, fmt.Errorf("krpc: arguments is not a dict")
		}
		m.Args = a

	case TypeResponse:
		rv, ok := dict["r"]
		if !ok {
			return Message{}, fmt.Errorf("krpc: response missing return values")
		}
		r, ok := rv.DictVal()
		if !ok {
			return Message{}, fmt.Errorf("krpc: return values is not a dict")
		}
		m.Return = r

	case TypeError:
		ev, ok := dict["e"]
		if !ok {
			return Message{}, fmt.Errorf("krpc: error missing payload")
		}
		elist, ok := ev.ListVal()
		if !ok || len(elist) != 2 {
			return Message{}, fmt.Errorf("krpc: error payload must be a 2-element list")
		}
		code, ok := elist[0].IntVal()
		if !ok {
			return Message{}, fmt.Errorf("krpc: error code is not an integer")
		}
		msg, ok := elist[1].Str()
		if !ok {
			return Message{}, fmt.Errorf("krpc: error message is not a string")
		}
		m.ErrCode = ErrorCode(code)
		m.ErrMsg = string(msg)

	default:
		return Message{}, fmt.Errorf("krpc: unknown message type %q", y)
	}

	return m, nil
}

func dictStr(d map[string]bencode.Value, key string) ([]byte, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	return v.Str()
}

func dictInt(d map[string]bencode.Value, key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	return v.IntVal()
}
