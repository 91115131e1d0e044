package holepunch

import (
	"net"
	"testing"
	"time"
)

func testSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// §8 scenario 4: the coordinator probes every candidate concurrently; a
// plain listener on the second of two candidates observes at least one
// Probe datagram.
func TestSession_ProbesAllCandidates(t *testing.T) {
	other := testSocket(t)
	listener := testSocket(t)

	id := SessionIDFromUint64(1)
	sock := testSocket(t)
	sess := NewSession(id, RoleInitiator, sock, WithProbeInterval(50*time.Millisecond), WithDeadline(500*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Initiate([]*net.UDPAddr{other.LocalAddr().(*net.UDPAddr), listener.LocalAddr().(*net.UDPAddr)})
	}()

	buf := make([]byte, 64)
	_ = listener.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a probe datagram: %v", err)
	}
	msg, err := decodeWireMsg(buf[:n])
	if err != nil {
		t.Fatalf("decode probe: %v", err)
	}
	if msg.Kind != KindProbe {
		t.Fatalf("expected KindProbe, got %v", msg.Kind)
	}
	if msg.SessionID != id {
		t.Fatalf("session id mismatch")
	}

	<-done // Initiate returns NoCandidateReachable since the listener never acks
}

// Two coordinators on loopback sockets should reach Connected on each
// other's only candidate.
func TestCoordinators_InitiateAndRespond(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	id := SessionIDFromUint64(42)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	initSess := a.NewSession(id, RoleInitiator, WithProbeInterval(50*time.Millisecond), WithDeadline(2*time.Second))
	respSess := b.NewSession(id, RoleResponder, WithProbeInterval(50*time.Millisecond), WithDeadline(2*time.Second))

	errCh := make(chan error, 1)
	go func() { errCh <- initSess.Initiate([]*net.UDPAddr{bAddr}) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("initiate: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for session to connect")
	}

	if initSess.Phase() != Connected {
		t.Fatalf("initiator phase = %v, want Connected", initSess.Phase())
	}

	deadline := time.Now().Add(2 * time.Second)
	for respSess.Phase() != Connected && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if respSess.Phase() != Connected {
		t.Fatalf("responder phase = %v, want Connected", respSess.Phase())
	}
}

func TestSession_DeadlineWithNoAckFails(t *testing.T) {
	listener := testSocket(t) // never acks anything
	sock := testSocket(t)

	sess := NewSession(SessionIDFromUint64(7), RoleInitiator, sock, WithProbeInterval(20*time.Millisecond), WithDeadline(100*time.Millisecond))
	err := sess.Initiate([]*net.UDPAddr{listener.LocalAddr().(*net.UDPAddr)})
	if err == nil {
		t.Fatal("expected NoCandidateReachable")
	}
	if sess.Phase() != Failed {
		t.Fatalf("phase = %v, want Failed", sess.Phase())
	}
}
