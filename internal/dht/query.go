package dht

import (
	"context"
	"fmt"
	"net"
	"time"

	"hyperswarm-go/internal/bencode"
	"hyperswarm-go/internal/krpc"
)

// query sends msg to addr, waits for the matching response or the client's
// QueryTimeout (bounded further by ctx), and returns the decoded reply.
// It does not touch the routing table; the per-method wrappers below feed
// the responder back into it on success.
func (c *Client) query(ctx context.Context, method krpc.Method, args map[string]bencode.Value, to *net.UDPAddr) (krpc.Message, error) {
	c.pendingMu.Lock()
	key, ch, err := c.newTransactionLocked()
	c.pendingMu.Unlock()
	if err != nil {
		return krpc.Message{}, err
	}

	msg := krpc.Message{
		TxID:  []byte(key),
		Type:  krpc.TypeQuery,
		Query: method,
		Args:  args,
	}
	if err := c.send(msg, to); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
		return krpc.Message{}, fmt.Errorf("dht: send %s to %s: %w", method, to, err)
	}

	deadline := time.NewTimer(c.cfg.QueryTimeout)
	defer deadline.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return krpc.Message{}, fmt.Errorf("dht: shutting down")
		}
		c.cfg.Metrics.IncRPC(string(method), reply.Type != krpc.TypeError)
		if reply.Type == krpc.TypeError {
			return reply, fmt.Errorf("dht: %s error %d: %s", method, reply.ErrCode, reply.ErrMsg)
		}
		return reply, nil
	case <-deadline.C:
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
		c.cfg.Metrics.IncRPC(string(method), false)
		return krpc.Message{}, fmt.Errorf("dht: %s to %s: %w", method, to, context.DeadlineExceeded)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
		return krpc.Message{}, ctx.Err()
	case <-c.closed:
		return krpc.Message{}, fmt.Errorf("dht: shutting down")
	}
}

// Ping queries addr's liveness and identity.
func (c *Client) Ping(ctx context.Context, to *net.UDPAddr) (NodeID, error) {
	args := krpc.PingArgs{ID: c.self}.Encode()
	reply, err := c.query(ctx, krpc.MethodPing, args, to)
	if err != nil {
		return NodeID{}, err
	}
	ret, err := krpc.ParsePingReturn(reply.Return)
	if err != nil {
		return NodeID{}, err
	}
	id := NodeID(ret.ID)
	c.observeNode(id, to)
	return id, nil
}

// FindNode asks addr for the nodes closest to target.
func (c *Client) FindNode(ctx context.Context, to *net.UDPAddr, target NodeID) ([]krpc.CompactNode, error) {
	args := krpc.FindNodeArgs{ID: c.self, Target: [20]byte(target)}.Encode()
	reply, err := c.query(ctx, krpc.MethodFindNode, args, to)
	if err != nil {
		return nil, err
	}
	ret, err := krpc.ParseFindNodeReturn(reply.Return)
	if err != nil {
		return nil, err
	}
	c.observeNode(NodeID(ret.ID), to)
	return ret.Nodes, nil
}

// GetPeersResult is the decoded return of a get_peers query: either a set
// of peers for the info_hash, or closer nodes to continue the lookup.
type GetPeersResult struct {
	ID     NodeID
	Token  []byte
	Values []krpc.CompactPeer
	Nodes  []krpc.CompactNode
}

func (c *Client) GetPeers(ctx context.Context, to *net.UDPAddr, infoHash NodeID) (GetPeersResult, error) {
	args := krpc.GetPeersArgs{ID: c.self, InfoHash: [20]byte(infoHash)}.Encode()
	reply, err := c.query(ctx, krpc.MethodGetPeers, args, to)
	if err != nil {
		return GetPeersResult{}, err
	}
	ret, err := krpc.ParseGetPeersReturn(reply.Return)
	if err != nil {
		return GetPeersResult{}, err
	}
	c.observeNode(NodeID(ret.ID), to)
	return GetPeersResult{ID: NodeID(ret.ID), Token: ret.Token, Values: ret.Values, Nodes: ret.Nodes}, nil
}

func (c *Client) AnnouncePeer(ctx context.Context, to *net.UDPAddr, infoHash NodeID, port uint16, token []byte) error {
	args := krpc.AnnouncePeerArgs{ID: c.self, InfoHash: [20]byte(infoHash), Port: port, Token: token}.Encode()
	reply, err := c.query(ctx, krpc.MethodAnnouncePeer, args, to)
	if err != nil {
		return err
	}
	ret, err := krpc.ParseAnnouncePeerReturn(reply.Return)
	if err != nil {
		return err
	}
	c.observeNode(NodeID(ret.ID), to)
	return nil
}
