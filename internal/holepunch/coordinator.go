package holepunch

import (
	"log"
	"net"
	"sync"
)

// Coordinator owns a UDP socket shared by every holepunch Session it runs
// and dispatches inbound datagrams to the right Session by session id
// (§4.4: "operates on a single UDP socket"). It can share the DHT
// client's socket (via WrapConn) or bind its own (via Listen).
type Coordinator struct {
	conn *net.UDPConn
	own  bool

	mu       sync.RWMutex
	sessions map[SessionID]*Session

	logger *log.Logger
	debug  bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a dedicated UDP socket for holepunch traffic.
func Listen(bindAddr string) (*Coordinator, error) {
	addr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	c := newCoordinator(conn, true)
	c.start()
	return c, nil
}

// WrapConn builds a Coordinator over an already-bound socket (e.g. the DHT
// client's), so holepunch and DHT traffic share one UDP endpoint. The
// caller remains responsible for demultiplexing inbound datagrams between
// DHT and holepunch framing (e.g. by a leading byte or by trying
// krpc.Decode first) and calling HandleDatagram for the ones it claims.
func WrapConn(conn *net.UDPConn) *Coordinator {
	return newCoordinator(conn, false)
}

func newCoordinator(conn *net.UDPConn, own bool) *Coordinator {
	return &Coordinator{
		conn:     conn,
		own:      own,
		sessions: make(map[SessionID]*Session),
		closed:   make(chan struct{}),
	}
}

func (c *Coordinator) SetLogger(l *log.Logger, debug bool) {
	c.mu.Lock()
	c.logger, c.debug = l, debug
	c.mu.Unlock()
}

func (c *Coordinator) start() {
	c.wg.Add(1)
	go c.readLoop()
}

func (c *Coordinator) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
				continue
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		c.HandleDatagram(raw, from)
	}
}

// HandleDatagram decodes raw as a holepunch wire message and routes it to
// the matching Session, if one is registered. Malformed or unrecognized
// datagrams are dropped silently, matching §7's "never panics on
// adversarial input."
func (c *Coordinator) HandleDatagram(raw []byte, from *net.UDPAddr) {
	msg, err := decodeWireMsg(raw)
	if err != nil {
		return
	}
	c.mu.RLock()
	sess, ok := c.sessions[msg.SessionID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	sess.HandleDatagram(raw, from)
}

// NewSession registers and returns a new Session bound to this
// Coordinator's socket, ready for Initiate (initiator) or to have
// HandleDatagram fed into it as probes arrive (responder).
func (c *Coordinator) NewSession(id SessionID, role Role, opts ...Option) *Session {
	opts = append([]Option{WithLogger(c.logger, c.debug)}, opts...)
	sess := NewSession(id, role, c.conn, opts...)
	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	return sess
}

// Forget drops a session once it has reached a terminal phase, so its
// socket reservation (the Coordinator's routing map entry) is released
// (§5: "on expiry the session transitions to Failed and releases its
// socket reservation").
func (c *Coordinator) Forget(id SessionID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Close shuts down a Coordinator that owns its socket (one built via
// Listen). It is a no-op for one built via WrapConn, since that socket is
// owned by the DHT client.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.own {
			err = c.conn.Close()
		}
	})
	c.wg.Wait()
	return err
}
