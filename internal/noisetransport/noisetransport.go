// Package noisetransport implements a Noise-XX encrypted stream
// transport: a three-message Noise_XX_25519_ChaChaPoly_BLAKE2s handshake
// followed by framed, ordered, authenticated send/recv over any reliable
// bidirectional byte stream (io.ReadWriter). The framing narrows to a
// 2-byte length prefix and exposes an explicit handshake/send/recv state
// machine and error kinds on top of the flynn/noise cipher suite.
package noisetransport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"

	"hyperswarm-go/internal/swarmerr"
)

// Role is which side of the handshake a Session plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

// Phase is a NoiseSession's lifecycle state (§3).
type Phase int

const (
	Idle Phase = iota
	Handshaking
	Transport
	Closed
)

// MaxFrameSize is the largest ciphertext a single frame may carry (§4.5).
const MaxFrameSize = 65535

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Session is one Noise-XX encrypted stream over an underlying
// io.ReadWriter. It is safe for one concurrent reader and one concurrent
// writer (per §5, concurrent senders on the same session must serialize
// externally; Session does not do that for callers).
type Session struct {
	conn io.ReadWriter
	role Role

	mu    sync.Mutex
	phase Phase

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	sendNonce uint64
	recvNonce uint64
}

// NewSession wraps conn for a handshake in the given role. Call Handshake
// before Send/Recv.
func NewSession(conn io.ReadWriter, role Role) *Session {
	return &Session{conn: conn, role: role, phase: Idle}
}

// Handshake runs the three Noise_XX messages and transitions Idle ->
// Handshaking -> Transport. Static keys are generated fresh per session
// (§4.5: "ephemeral identity"; peer verification is not performed — see
// DESIGN.md's open-question note). Returns a swarmerr.HandshakeFailed on
// any failure.
func (s *Session) Handshake() error {
	s.mu.Lock()
	if s.phase != Idle {
		s.mu.Unlock()
		return swarmerr.ProtocolError.New("noisetransport: handshake called out of Idle phase")
	}
	s.phase = Handshaking
	s.mu.Unlock()

	static, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return swarmerr.HandshakeFailed.Wrap("noisetransport: generate static keypair", err)
	}

	cfg := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     s.role == Initiator,
		StaticKeypair: static,
	}
	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return swarmerr.HandshakeFailed.Wrap("noisetransport: new handshake state", err)
	}

	var sendCS, recvCS *noise.CipherState
	if s.role == Initiator {
		sendCS, recvCS, err = s.runInitiator(hs)
	} else {
		sendCS, recvCS, err = s.runResponder(hs)
	}
	if err != nil {
		s.mu.Lock()
		s.phase = Closed
		s.mu.Unlock()
		return swarmerr.HandshakeFailed.Wrap("noisetransport: handshake", err)
	}

	s.mu.Lock()
	s.sendCS, s.recvCS = sendCS, recvCS
	s.phase = Transport
	s.mu.Unlock()
	return nil
}

func (s *Session) runInitiator(hs *noise.HandshakeState) (send, recv *noise.CipherState, err error) {
	// -> e
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(s.conn, msg); err != nil {
		return nil, nil, err
	}

	// <- e, ee, s, es
	peerMsg, err := readFrame(s.conn)
	if err != nil {
		return nil, nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, peerMsg); err != nil {
		return nil, nil, err
	}

	// -> s, se
	msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(s.conn, msg2); err != nil {
		return nil, nil, err
	}

	return cs1, cs2, nil
}

func (s *Session) runResponder(hs *noise.HandshakeState) (send, recv *noise.CipherState, err error) {
	// <- e
	peerMsg, err := readFrame(s.conn)
	if err != nil {
		return nil, nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, peerMsg); err != nil {
		return nil, nil, err
	}

	// -> e, ee, s, es
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(s.conn, msg); err != nil {
		return nil, nil, err
	}

	// <- s, se
	peerMsg2, err := readFrame(s.conn)
	if err != nil {
		return nil, nil, err
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, peerMsg2)
	if err != nil {
		return nil, nil, err
	}

	// The responder's directional keys are swapped relative to the
	// initiator's: cs1 is "what I send" for whoever computed it last in
	// WriteMessage, but ReadMessage on the final message hands them back
	// in the same (tx, rx) order as the initiator's WriteMessage, so the
	// responder must swap to get (send, recv).
	return cs2, cs1, nil
}

// Send encrypts p as a single frame and writes it, prefixed with its
// 2-byte big-endian ciphertext length. Valid only in the Transport phase.
func (s *Session) Send(p []byte) error {
	s.mu.Lock()
	if s.phase != Transport {
		s.mu.Unlock()
		return swarmerr.ProtocolError.New("noisetransport: send before handshake complete")
	}
	cs := s.sendCS
	nonce := s.sendNonce
	s.sendNonce++
	s.mu.Unlock()

	ct, err := cs.Encrypt(nil, nil, p)
	if err != nil {
		s.poison()
		return swarmerr.DecryptFailed.Wrap("noisetransport: encrypt", err)
	}
	if len(ct) > MaxFrameSize {
		return swarmerr.ProtocolError.New("noisetransport: frame too large")
	}
	_ = nonce // advanced for bookkeeping/observability; flynn/noise tracks its own nonce internally

	if err := writeFrame(s.conn, ct); err != nil {
		return swarmerr.Io.Wrap("noisetransport: write frame", err)
	}
	return nil
}

// Recv reads and decrypts one frame, returning plaintext in the exact
// order the peer called Send (§4.5, §5). On orderly EOF it returns a
// swarmerr.Shutdown error wrapping io.EOF (swarmerr has no separate Closed
// kind). Returns swarmerr.DecryptFailed on AEAD failure (the session is then
// poisoned: see Closed()), and swarmerr.ProtocolError on malformed
// framing.
func (s *Session) Recv() ([]byte, error) {
	s.mu.Lock()
	if s.phase != Transport {
		s.mu.Unlock()
		return nil, swarmerr.ProtocolError.New("noisetransport: recv before handshake complete")
	}
	cs := s.recvCS
	s.mu.Unlock()

	ct, err := readFrame(s.conn)
	if err != nil {
		if err == io.EOF {
			return nil, swarmerr.Shutdown.Wrap("noisetransport: recv", io.EOF)
		}
		if pe, ok := err.(protoErr); ok {
			return nil, swarmerr.ProtocolError.Wrap("noisetransport: recv", pe.err)
		}
		return nil, swarmerr.Io.Wrap("noisetransport: recv", err)
	}

	pt, err := cs.Decrypt(nil, nil, ct)
	if err != nil {
		s.poison()
		return nil, swarmerr.DecryptFailed.Wrap("noisetransport: decrypt", err)
	}

	s.mu.Lock()
	s.recvNonce++
	s.mu.Unlock()
	return pt, nil
}

// Closed reports whether the session has been poisoned by a cryptographic
// failure or explicitly closed. A poisoned session must not be reused
// (§4.5: "the session must not attempt to resync").
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Closed
}

func (s *Session) poison() {
	s.mu.Lock()
	s.phase = Closed
	s.mu.Unlock()
}

// Close transitions the session to Closed. It does not close the
// underlying stream; that is the caller's responsibility, matching the
// layering in §4.5 ("the integration point is a byte-stream pair").
func (s *Session) Close() error {
	s.poison()
	return nil
}

type protoErr struct{ err error }

func (p protoErr) Error() string { return p.err.Error() }

func writeFrame(w io.Writer, ct []byte) error {
	if len(ct) == 0 || len(ct) > MaxFrameSize {
		return fmt.Errorf("noisetransport: invalid frame length %d", len(ct))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(ct)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(ct)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, protoErr{fmt.Errorf("noisetransport: zero-length frame")}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
