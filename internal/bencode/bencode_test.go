package bencode

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Int(0),
		Int(-1),
		Int(1234567890),
		String([]byte("spam")),
		String([]byte{}),
		List(Int(1), Int(2), String([]byte("three"))),
		Dict(map[string]Value{
			"a": Int(1),
			"b": List(Int(2), Int(3)),
			"z": String([]byte("last")),
		}),
	}

	for _, v := range cases {
		enc := Encode(v)
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(Encode(%v)): %v", v, err)
		}
		if !Equal(got, v) {
			t.Fatalf("round trip mismatch: got %v want %v", got, v)
		}
	}
}

func TestEncodeDictKeysAscending(t *testing.T) {
	v := Dict(map[string]Value{
		"z": Int(1),
		"a": Int(2),
		"m": Int(3),
	})
	enc := Encode(v)
	if !bytes.Equal(enc, []byte("d1:ai2e1:mi3e1:zi1ee")) {
		t.Fatalf("unexpected encoding: %s", enc)
	}
}

func TestDecodeRejectsUnsortedKeys(t *testing.T) {
	_, err := Decode([]byte("d1:zi1e1:ai2ee"))
	if err == nil {
		t.Fatalf("expected error for unsorted dict keys")
	}
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	_, err := Decode([]byte("d1:ai1e1:ai2ee"))
	if err == nil {
		t.Fatalf("expected error for duplicate dict keys")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	_, err := Decode([]byte("i1eextra"))
	if err == nil {
		t.Fatalf("expected error for trailing bytes")
	}
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	cases := [][]byte{
		[]byte("i01e"),
		[]byte("i-0e"),
	}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Fatalf("expected error decoding %s", c)
		}
	}
}

func TestDecodeRejectsNegativeStringLength(t *testing.T) {
	_, err := Decode([]byte("-1:a"))
	if err == nil {
		t.Fatalf("expected error for negative string length")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	cases := [][]byte{
		[]byte("5:abc"),
		[]byte("i123"),
		[]byte("l1:ae"[:4]),
		[]byte("d1:a"),
	}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Fatalf("expected error decoding %q", c)
		}
	}
}

func TestDecodeRejectsIntOverflow(t *testing.T) {
	_, err := Decode([]byte("i99999999999999999999999999e"))
	if err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestKRPCShapedDict(t *testing.T) {
	ping := Dict(map[string]Value{
		"t": String([]byte("aa")),
		"y": String([]byte("q")),
		"q": String([]byte("ping")),
		"a": Dict(map[string]Value{
			"id": String(bytes.Repeat([]byte{0x11}, 20)),
		}),
	})
	enc := Encode(ping)
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !Equal(dec, ping) {
		t.Fatalf("round trip mismatch for KRPC-shaped dict")
	}
}
