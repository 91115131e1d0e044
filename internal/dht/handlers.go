package dht

import (
	"net"

	"hyperswarm-go/internal/bencode"
	"hyperswarm-go/internal/krpc"
)

// handleQuery answers an inbound KRPC query using local routing-table,
// token, and peer-store state, then folds the querier into the routing
// table as a side effect (§4.3). Inbound queries are rate-limited
// per-source so a single noisy or hostile peer can't monopolize reply
// cycles; callers past the limit are dropped silently, same as malformed
// datagrams (§7).
func (c *Client) handleQuery(msg krpc.Message, from *net.UDPAddr) {
	if !c.allowQuery(from) {
		c.cfg.Metrics.IncRPC("rate_limited", false)
		return
	}
	switch msg.Query {
	case krpc.MethodPing:
		c.handlePing(msg, from)
	case krpc.MethodFindNode:
		c.handleFindNode(msg, from)
	case krpc.MethodGetPeers:
		c.handleGetPeers(msg, from)
	case krpc.MethodAnnouncePeer:
		c.handleAnnouncePeer(msg, from)
	default:
		c.replyError(msg, from, krpc.ErrMethodUnknown, "unknown method")
	}
}

func (c *Client) reply(msg krpc.Message, from *net.UDPAddr, ret map[string]bencode.Value) {
	resp := krpc.Message{TxID: msg.TxID, Type: krpc.TypeResponse, Return: ret}
	if err := c.send(resp, from); err != nil {
		c.Logf("reply to %s failed: %v", from, err)
	}
}

func (c *Client) replyError(msg krpc.Message, from *net.UDPAddr, code krpc.ErrorCode, errMsg string) {
	resp := krpc.Message{TxID: msg.TxID, Type: krpc.TypeError, ErrCode: code, ErrMsg: errMsg}
	if err := c.send(resp, from); err != nil {
		c.Logf("error reply to %s failed: %v", from, err)
	}
}

func (c *Client) handlePing(msg krpc.Message, from *net.UDPAddr) {
	args, err := krpc.ParsePingArgs(msg.Args)
	if err != nil {
		c.replyError(msg, from, krpc.ErrProtocol, err.Error())
		return
	}
	c.observeNode(NodeID(args.ID), from)
	c.cfg.Metrics.IncRPC("ping", true)
	c.reply(msg, from, krpc.PingReturn{ID: [20]byte(c.self)}.Encode())
}

func (c *Client) handleFindNode(msg krpc.Message, from *net.UDPAddr) {
	args, err := krpc.ParseFindNodeArgs(msg.Args)
	if err != nil {
		c.replyError(msg, from, krpc.ErrProtocol, err.Error())
		return
	}
	c.observeNode(NodeID(args.ID), from)
	c.cfg.Metrics.IncRPC("find_node", true)

	closest := c.rt.Closest(NodeID(args.Target), DefaultLookupFanout)
	c.reply(msg, from, krpc.FindNodeReturn{ID: [20]byte(c.self), Nodes: toCompactNodes(closest)}.Encode())
}

func (c *Client) handleGetPeers(msg krpc.Message, from *net.UDPAddr) {
	args, err := krpc.ParseGetPeersArgs(msg.Args)
	if err != nil {
		c.replyError(msg, from, krpc.ErrProtocol, err.Error())
		return
	}
	c.observeNode(NodeID(args.ID), from)
	c.cfg.Metrics.IncRPC("get_peers", true)

	infoHash := NodeID(args.InfoHash)
	token := c.tokens.Issue(from)

	if values := c.peers.Get(infoHash); len(values) > 0 {
		c.reply(msg, from, krpc.GetPeersReturn{ID: [20]byte(c.self), Token: token, Values: values}.Encode())
		return
	}

	closest := c.rt.Closest(infoHash, DefaultLookupFanout)
	c.reply(msg, from, krpc.GetPeersReturn{ID: [20]byte(c.self), Token: token, Nodes: toCompactNodes(closest)}.Encode())
}

func (c *Client) handleAnnouncePeer(msg krpc.Message, from *net.UDPAddr) {
	args, err := krpc.ParseAnnouncePeerArgs(msg.Args)
	if err != nil {
		c.replyError(msg, from, krpc.ErrProtocol, err.Error())
		return
	}
	if !c.tokens.Validate(from, args.Token) {
		c.cfg.Metrics.IncRPC("announce_peer", false)
		c.replyError(msg, from, krpc.ErrProtocol, "bad token")
		return
	}

	c.observeNode(NodeID(args.ID), from)
	c.cfg.Metrics.IncRPC("announce_peer", true)

	peer, err := krpc.PeerFromUDPAddr(&net.UDPAddr{IP: from.IP, Port: int(args.Port)})
	if err != nil {
		c.replyError(msg, from, krpc.ErrProtocol, err.Error())
		return
	}
	c.peers.Announce(NodeID(args.InfoHash), peer)

	c.reply(msg, from, krpc.AnnouncePeerReturn{ID: [20]byte(c.self)}.Encode())
}

func toCompactNodes(nodes []NodeInfo) []krpc.CompactNode {
	out := make([]krpc.CompactNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Addr == nil {
			continue
		}
		peer, err := krpc.PeerFromUDPAddr(n.Addr)
		if err != nil {
			continue
		}
		out = append(out, krpc.CompactNode{ID: [20]byte(n.ID), Peer: peer})
	}
	return out
}
