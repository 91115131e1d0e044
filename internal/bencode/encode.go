package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Encode renders v as canonical bencode: dict keys ascending, integers
// without leading zeros, negative zero forbidden.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.str)))
		buf.WriteByte(':')
		buf.Write(v.str)
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteByte('e')
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.list {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			encodeInto(buf, String([]byte(k)))
			encodeInto(buf, v.dict[k])
		}
		buf.WriteByte('e')
	}
}
