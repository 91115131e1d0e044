// Package dht implements a KRPC-over-UDP DHT client: routing table,
// transaction-demultiplexed queries, bootstrap, and topic announce/lookup.
package dht

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"hyperswarm-go/internal/krpc"
)

// DefaultQueryTimeout is the per-query deadline when Config.QueryTimeout is
// unset.
const DefaultQueryTimeout = 2 * time.Second

// DefaultLookupFanout is N in "the N closest known nodes" (§4.3).
const DefaultLookupFanout = 8

// Config configures a Client. Construct with DefaultConfig and apply
// Options, or set fields directly.
type Config struct {
	Bootstrap    []string
	BindAddr     string
	QueryTimeout time.Duration
	Capacity     int

	Logger *log.Logger
	Debug  bool

	Metrics Metrics
}

func DefaultConfig() Config {
	return Config{
		BindAddr:     "0.0.0.0:0",
		QueryTimeout: DefaultQueryTimeout,
		Capacity:     DefaultCapacity,
	}
}

// Option mutates a Client at construction time, mirroring the functional
// option style used throughout this codebase.
type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.cfg.Logger = l }
}

func WithDebug(debug bool) Option {
	return func(c *Client) { c.cfg.Debug = debug }
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.cfg.Metrics = m
		c.rt.SetMetrics(m)
	}
}

func WithCandidateStore(s CandidateStore) Option {
	return func(c *Client) { c.candidates = s }
}

// CandidateStore persists bootstrap-worthy endpoints across restarts; see
// internal/dhtstore for the BoltDB-backed implementation.
type CandidateStore interface {
	NoteSuccess(nodeIDHex, addr string)
	NoteFailure(addr string)
	Candidates(limit int) []string
}

// Client is a KRPC DHT node: it issues queries, answers queries, and keeps
// a routing table current as a side effect of both.
type Client struct {
	self NodeID
	cfg  Config

	conn *net.UDPConn
	rt   *RoutingTable

	pendingMu sync.Mutex
	pending   map[string]*pendingQuery
	nextTx    uint32

	tokens *tokenManager
	peers  *peerStore

	candidates CandidateStore

	limitersMu sync.Mutex
	limiters   map[string]*tokenBucket

	bootstrapOnce sync.Once
	bootstrapErr  error
	bootstrapDone chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

type pendingQuery struct {
	ch       chan krpc.Message
	deadline time.Time
}

// New binds a UDP socket and starts the receive loop. The self NodeID is
// generated uniformly at random, per §3.
func New(cfg Config, opts ...Option) (*Client, error) {
	self, err := NewRandomNodeID()
	if err != nil {
		return nil, err
	}
	return NewWithID(self, cfg, opts...)
}

// NewWithID is New with an explicit self id, useful for deterministic tests.
func NewWithID(self NodeID, cfg Config, opts ...Option) (*Client, error) {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0:0"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}

	addr, err := net.ResolveUDPAddr("udp4", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("dht: resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("dht: listen udp: %w", err)
	}

	c := &Client{
		self:          self,
		cfg:           cfg,
		conn:          conn,
		rt:            NewRoutingTable(self, cfg.Capacity),
		pending:       make(map[string]*pendingQuery),
		tokens:        newTokenManager(),
		peers:         newPeerStore(),
		limiters:      make(map[string]*tokenBucket),
		bootstrapDone: make(chan struct{}),
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rt.SetMetrics(c.cfg.Metrics)

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// Self returns this client's NodeID.
func (c *Client) Self() NodeID { return c.self }

// LocalAddr returns the bound UDP endpoint (useful when BindAddr's port is 0).
func (c *Client) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

// Routing exposes the routing table, e.g. so a caller can seed it manually
// in tests (§8 scenario 1: "Client A inserts Client B's endpoint manually").
func (c *Client) Routing() *RoutingTable { return c.rt }

func (c *Client) Logf(format string, args ...any) {
	if !c.cfg.Debug || c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.Printf("[dht %s] "+format, append([]any{c.self.Hex()[:8]}, args...)...)
}

// Shutdown cancels the socket loop, fails every pending transaction (its
// query returns a "dht: shutting down" error), and releases the UDP socket.
func (c *Client) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()

		c.pendingMu.Lock()
		for id, p := range c.pending {
			close(p.ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
	c.wg.Wait()
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			c.Logf("read error: %v", err)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		c.handleDatagram(raw, from)
	}
}

func (c *Client) handleDatagram(raw []byte, from *net.UDPAddr) {
	msg, err := krpc.Decode(raw)
	if err != nil {
		c.cfg.Metrics.IncRPC("malformed", false)
		c.Logf("dropped malformed datagram from %s: %v", from, err)
		return
	}

	switch msg.Type {
	case krpc.TypeResponse, krpc.TypeError:
		c.dispatchResponse(msg)
	case krpc.TypeQuery:
		c.handleQuery(msg, from)
	}
}

func (c *Client) dispatchResponse(msg krpc.Message) {
	key := string(msg.TxID)

	c.pendingMu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Late or unsolicited: drop it silently per §5 cancellation semantics.
		return
	}
	select {
	case p.ch <- msg:
	default:
	}
}

func (c *Client) send(msg krpc.Message, to *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(msg.Encode(), to)
	return err
}

// newTransactionLocked allocates a TransactionId not currently pending.
// Caller holds pendingMu for the duration of the search.
func (c *Client) newTransactionLocked() (string, chan krpc.Message, error) {
	for attempts := 0; attempts < 1<<16; attempts++ {
		c.nextTx++
		id := txIDBytes(uint16(c.nextTx))
		key := string(id)
		if _, exists := c.pending[key]; exists {
			continue
		}
		ch := make(chan krpc.Message, 1)
		c.pending[key] = &pendingQuery{ch: ch, deadline: time.Now().Add(c.cfg.QueryTimeout)}
		return key, ch, nil
	}
	return "", nil, fmt.Errorf("dht: no free transaction ids")
}

func txIDBytes(n uint16) []byte {
	return []byte{byte(n >> 8), byte(n)}
}

func (c *Client) observeNode(id NodeID, addr *net.UDPAddr) {
	c.rt.Upsert(id, addr)
	if c.candidates != nil {
		c.candidates.NoteSuccess(id.Hex(), addr.String())
	}
}
