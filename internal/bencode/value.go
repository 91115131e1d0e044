// Package bencode implements the BEP 3 bencoding used by KRPC.
package bencode

import "fmt"

// Value is the dynamic bencode value: exactly one of the four BEP 3 types.
// Strings are raw bytes, never assumed to be UTF-8.
type Value struct {
	kind Kind
	str  []byte
	i    int64
	list []Value
	dict map[string]Value
}

// Kind tags which bencode type a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindList
	KindDict
)

func String(s []byte) Value {
	cp := make([]byte, len(s))
	copy(cp, s)
	return Value{kind: KindString, str: cp}
}

func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

func List(vs ...Value) Value {
	return Value{kind: KindList, list: vs}
}

func Dict(m map[string]Value) Value {
	return Value{kind: KindDict, dict: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() ([]byte, bool) {
	if v.kind != KindString {
		return nil, false
	}
	return v.str, true
}

func (v Value) IntVal() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) ListVal() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) DictVal() (map[string]Value, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.dict, true
}

// Get fetches a dict key, reporting whether the value is a dict and the key exists.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindDict {
		return Value{}, false
	}
	val, ok := v.dict[key]
	return val, ok
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindDict:
		return fmt.Sprintf("%v", v.dict)
	default:
		return "<invalid bencode value>"
	}
}

// Equal reports deep equality, matching the round-trip law in the spec.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return string(a.str) == string(b.str)
	case KindInt:
		return a.i == b.i
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(a.dict) != len(b.dict) {
			return false
		}
		for k, av := range a.dict {
			bv, ok := b.dict[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
