// Package topic derives the 32-byte swarm Topic identifier from arbitrary
// input bytes (§3, §6 Topic::from_key).
package topic

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const Size = 32

// Topic is the 256-bit identifier that partitions the swarm: peers
// interested in the same Topic find each other via the DHT.
type Topic [Size]byte

// domainKey is a fixed, public constant used as the HMAC key for topic
// derivation. It is not a secret: its only purpose is to namespace this
// derivation away from other uses of SHA-256 over the same input, so two
// unrelated systems hashing the same bytes don't collide on the same
// Topic. Every implementation must use the same key to interoperate.
var domainKey = []byte("hyperswarm-go/topic/v1")

// FromKey derives a Topic from arbitrary input bytes. Deterministic: the
// same input always yields the same Topic (§8 round-trip law).
func FromKey(key []byte) Topic {
	mac := hmac.New(sha256.New, domainKey)
	mac.Write(key)
	sum := mac.Sum(nil)
	var t Topic
	copy(t[:], sum)
	return t
}

func (t Topic) String() string { return hex.EncodeToString(t[:]) }

func (t Topic) Bytes() []byte { return t[:] }
