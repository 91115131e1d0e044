package dht

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"net"
	"sync"
	"time"
)

// tokenLifetime bounds how long a get_peers token remains valid for the
// announce_peer it was handed out for; §4.2 requires at least 10 minutes.
const tokenLifetime = 10 * time.Minute

// tokenManager issues and validates get_peers/announce_peer tokens without
// storing per-requester state: a token is an HMAC of the requester's
// endpoint under a rotating secret, so validation is a recompute-and-compare
// against the current and previous secret.
type tokenManager struct {
	mu       sync.Mutex
	current  []byte
	previous []byte
	rotated  time.Time
}

func newTokenManager() *tokenManager {
	tm := &tokenManager{rotated: time.Now()}
	tm.current = randomSecret()
	return tm
}

func randomSecret() []byte {
	s := make([]byte, 20)
	_, _ = rand.Read(s)
	return s
}

func (tm *tokenManager) maybeRotateLocked() {
	if time.Since(tm.rotated) < tokenLifetime {
		return
	}
	tm.previous = tm.current
	tm.current = randomSecret()
	tm.rotated = time.Now()
}

// Issue returns a token bound to addr, valid until the next-but-one
// rotation (so any token handed out remains valid for at least
// tokenLifetime).
func (tm *tokenManager) Issue(addr *net.UDPAddr) []byte {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.maybeRotateLocked()
	return mac(tm.current, addr)
}

// Validate reports whether token was issued for addr under the current or
// previous secret.
func (tm *tokenManager) Validate(addr *net.UDPAddr, token []byte) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.maybeRotateLocked()

	if hmac.Equal(token, mac(tm.current, addr)) {
		return true
	}
	if tm.previous != nil && hmac.Equal(token, mac(tm.previous, addr)) {
		return true
	}
	return false
}

func mac(secret []byte, addr *net.UDPAddr) []byte {
	h := hmac.New(sha1.New, secret)
	h.Write(addr.IP.To4())
	h.Write([]byte{byte(addr.Port >> 8), byte(addr.Port)})
	return h.Sum(nil)[:8]
}
