// Package holepunch implements the §4.4 UDP holepunch coordinator:
// probe/punch session state machines run over a single shared UDP socket,
// with multi-candidate selection and a wall-clock deadline. It is
// grounded on the reference codebase's internal/p2p/nat.go concept of a
// coordinator mediating direct connectivity between two NATed peers, but
// replaces its session/relay machinery with the spec's own
// Probe/ProbeAck/Punch state machine addressed by endpoint rather than by
// a relay-registered user id.
package holepunch

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"hyperswarm-go/internal/swarmerr"
)

// Phase is a HolepunchSession's lifecycle state (§3, §4.4).
type Phase int

const (
	Idle Phase = iota
	Probing
	Punching
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	case Punching:
		return "punching"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role identifies which side of a session a message concerns.
type Role byte

const (
	RoleInitiator Role = 0
	RoleResponder Role = 1
)

// Kind tags the three wire messages (§4.4, §6: "1-byte kind tag").
type Kind byte

const (
	KindProbe    Kind = 1
	KindProbeAck Kind = 2
	KindPunch    Kind = 3
)

const sessionIDSize = 16

// SessionID is the 16-byte opaque identifier a wire message is addressed
// to (§4.4).
type SessionID [sessionIDSize]byte

// DefaultProbeInterval is how often Probe is resent to each candidate
// while Probing (§6).
const DefaultProbeInterval = 250 * time.Millisecond

// DefaultDeadline bounds a session's total lifetime from Idle (§6).
const DefaultDeadline = 5 * time.Second

// wireMsg is the on-the-wire encoding of a holepunch datagram: 1-byte
// kind, 16-byte session id, 1-byte role (§6).
type wireMsg struct {
	Kind      Kind
	SessionID SessionID
	Role      Role
}

func (m wireMsg) encode() []byte {
	b := make([]byte, 1+sessionIDSize+1)
	b[0] = byte(m.Kind)
	copy(b[1:1+sessionIDSize], m.SessionID[:])
	b[1+sessionIDSize] = byte(m.Role)
	return b
}

func decodeWireMsg(b []byte) (wireMsg, error) {
	if len(b) != 1+sessionIDSize+1 {
		return wireMsg{}, fmt.Errorf("holepunch: bad datagram length %d", len(b))
	}
	var m wireMsg
	m.Kind = Kind(b[0])
	copy(m.SessionID[:], b[1:1+sessionIDSize])
	m.Role = Role(b[1+sessionIDSize])
	return m, nil
}

// socket is the minimal UDP surface the coordinator needs, so it can run
// either on a dedicated net.UDPConn or share the DHT client's (§4.4:
// "either the DHT socket or a dedicated one").
type socket interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Session is one holepunch attempt: a set of candidate endpoints for one
// peer, probed concurrently until one acks or the deadline passes.
type Session struct {
	id   SessionID
	role Role

	sock socket

	probeInterval time.Duration
	deadline      time.Duration

	mu       sync.Mutex
	phase    Phase
	selected *net.UDPAddr
	acked    map[string]int // candidate addr -> arrival order
	ackOrder int

	done     chan struct{}
	closeOnce sync.Once

	logger *log.Logger
	debug  bool
}

// Option configures a Session at construction (Coordinator.NewSession
// passes its options through to the Session it creates).
type Option func(*Session)

func WithProbeInterval(d time.Duration) Option {
	return func(s *Session) { s.probeInterval = d }
}

func WithDeadline(d time.Duration) Option {
	return func(s *Session) { s.deadline = d }
}

func WithLogger(l *log.Logger, debug bool) Option {
	return func(s *Session) { s.logger = l; s.debug = debug }
}

// NewSession constructs a Session in the Idle phase.
func NewSession(id SessionID, role Role, sock socket, opts ...Option) *Session {
	s := &Session{
		id:            id,
		role:          role,
		sock:          sock,
		probeInterval: DefaultProbeInterval,
		deadline:      DefaultDeadline,
		acked:         make(map[string]int),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) logf(format string, args ...any) {
	if !s.debug || s.logger == nil {
		return
	}
	s.logger.Printf("[holepunch %x] "+format, append([]any{s.id[:4]}, args...)...)
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Selected returns the candidate chosen once the session has left
// Probing, or nil before then.
func (s *Session) Selected() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Initiate transitions Idle -> Probing and sends Probe to every candidate
// at probeInterval until one acks or deadline elapses (§4.4). It blocks
// until the session reaches Connected or Failed.
func (s *Session) Initiate(candidates []*net.UDPAddr) error {
	s.mu.Lock()
	if s.phase != Idle {
		s.mu.Unlock()
		return swarmerr.ProtocolError.New("holepunch: initiate called out of Idle phase")
	}
	s.phase = Probing
	s.mu.Unlock()

	if len(candidates) == 0 {
		s.fail()
		return swarmerr.NoCandidateReachable.New("holepunch: no candidates supplied")
	}

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.deadline)
	defer deadline.Stop()

	s.probeAll(candidates)
	for {
		select {
		case <-ticker.C:
			if s.Phase() != Probing {
				continue
			}
			s.probeAll(candidates)
		case <-deadline.C:
			if s.Phase() == Probing {
				s.fail()
				return swarmerr.NoCandidateReachable.New("holepunch: deadline expired with no ack")
			}
			err := s.waitTerminal()
			s.fail()
			return err
		case <-s.done:
			return s.waitTerminal()
		}
	}
}

func (s *Session) waitTerminal() error {
	switch s.Phase() {
	case Connected:
		return nil
	case Failed:
		return swarmerr.NoCandidateReachable.New("holepunch: session failed")
	default:
		return swarmerr.Timeout.New("holepunch: session did not reach a terminal phase")
	}
}

func (s *Session) probeAll(candidates []*net.UDPAddr) {
	msg := wireMsg{Kind: KindProbe, SessionID: s.id, Role: s.role}.encode()
	for _, c := range candidates {
		if _, err := s.sock.WriteToUDP(msg, c); err != nil {
			s.logf("probe to %s failed: %v", c, err)
		}
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	if s.phase != Connected {
		s.phase = Failed
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// HandleDatagram feeds one received holepunch datagram into the session's
// state machine. It is a no-op if the datagram's session id doesn't match
// (callers are expected to dispatch by session id before calling this).
func (s *Session) HandleDatagram(raw []byte, from *net.UDPAddr) {
	msg, err := decodeWireMsg(raw)
	if err != nil {
		return
	}
	if msg.SessionID != s.id {
		return
	}

	switch msg.Kind {
	case KindProbe:
		s.handleProbe(from)
	case KindProbeAck:
		s.handleProbeAck(from)
	case KindPunch:
		s.handlePunch(from)
	}
}

// handleProbe is the responder side of §4.4: "on receiving Probe from
// endpoint E, respond ProbeAck to E and record E as the initiator's
// public endpoint."
func (s *Session) handleProbe(from *net.UDPAddr) {
	s.mu.Lock()
	if s.phase == Idle {
		s.phase = Probing
	}
	if s.phase != Probing && s.phase != Punching {
		s.mu.Unlock()
		return
	}
	if s.selected == nil {
		s.selected = from
		s.phase = Punching
	}
	s.mu.Unlock()

	ack := wireMsg{Kind: KindProbeAck, SessionID: s.id, Role: s.role}.encode()
	if _, err := s.sock.WriteToUDP(ack, from); err != nil {
		s.logf("probeack to %s failed: %v", from, err)
	}
}

// handleProbeAck is the initiator side: the first ack selects the
// candidate; ties are broken by arrival order (§4.4).
func (s *Session) handleProbeAck(from *net.UDPAddr) {
	s.mu.Lock()
	if s.phase != Probing {
		s.mu.Unlock()
		return
	}
	key := from.String()
	if _, seen := s.acked[key]; !seen {
		s.acked[key] = s.ackOrder
		s.ackOrder++
	}
	if s.selected == nil {
		s.selected = from
		s.phase = Punching
	}
	sel := s.selected
	s.mu.Unlock()

	if sel == nil || sel.String() != key {
		return
	}
	punch := wireMsg{Kind: KindPunch, SessionID: s.id, Role: s.role}.encode()
	if _, err := s.sock.WriteToUDP(punch, sel); err != nil {
		s.logf("punch to %s failed: %v", sel, err)
	}
}

// handlePunch accepts Punch from the selected candidate regardless of
// whether it arrives before or after this side's own Punch send (§9's
// documented race: the responder's Punch must be accepted either way).
func (s *Session) handlePunch(from *net.UDPAddr) {
	s.mu.Lock()
	if s.phase != Punching && s.phase != Probing {
		s.mu.Unlock()
		return
	}
	if s.selected == nil {
		s.selected = from
	} else if s.selected.String() != from.String() {
		s.mu.Unlock()
		return
	}
	s.phase = Connected
	s.mu.Unlock()

	// Echo a Punch back in case this side hasn't sent its own yet (e.g. the
	// responder receiving the initiator's first Punch before it has
	// selected a candidate via Probe/ProbeAck).
	echo := wireMsg{Kind: KindPunch, SessionID: s.id, Role: s.role}.encode()
	_, _ = s.sock.WriteToUDP(echo, from)

	s.closeOnce.Do(func() { close(s.done) })
}

// NewRandomSessionID generates a session id suitable for Initiate.
func NewRandomSessionID(randSource func([]byte) (int, error)) (SessionID, error) {
	var id SessionID
	if _, err := randSource(id[:]); err != nil {
		return SessionID{}, err
	}
	return id, nil
}

// SessionIDFromUint64 is a convenience for constructing a deterministic,
// easily-eyeballed session id out of a counter.
func SessionIDFromUint64(n uint64) SessionID {
	var id SessionID
	binary.BigEndian.PutUint64(id[8:], n)
	return id
}
