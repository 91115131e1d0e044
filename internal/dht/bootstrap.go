package dht

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// errNoBootstrapNodes is returned from Bootstrap when not one of the
// configured seeds (nor any persisted candidate) answered.
var errNoBootstrapNodes = fmt.Errorf("dht: no bootstrap node reachable")

// Bootstrap resolves the configured seed addresses (plus any persisted
// CandidateStore entries), pings each concurrently, and seeds the routing
// table with a find_node(self) round against whichever answer. It waits
// for every seed to answer or fail, and succeeds if at least one responded.
func (c *Client) Bootstrap(ctx context.Context) error {
	var err error
	c.bootstrapOnce.Do(func() {
		err = c.bootstrap(ctx)
		c.bootstrapErr = err
		close(c.bootstrapDone)
	})
	if err != nil {
		return err
	}
	<-c.bootstrapDone
	return c.bootstrapErr
}

func (c *Client) bootstrap(ctx context.Context) error {
	seeds := append([]string{}, c.cfg.Bootstrap...)
	if c.candidates != nil {
		seeds = append(seeds, c.candidates.Candidates(DefaultLookupFanout)...)
	}
	if len(seeds) == 0 {
		return errNoBootstrapNodes
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		lastErr error
	)
	for _, s := range seeds {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := net.ResolveUDPAddr("udp4", s)
			if err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			if _, err := c.Ping(ctx, addr); err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				if c.candidates != nil {
					c.candidates.NoteFailure(addr.String())
				}
				return
			}
			nodes, err := c.FindNode(ctx, addr, c.self)
			if err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			for _, n := range nodes {
				c.rt.Upsert(NodeID(n.ID), n.Peer.UDPAddr())
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if ok == 0 {
		if lastErr != nil {
			return fmt.Errorf("%w: %v", errNoBootstrapNodes, lastErr)
		}
		return errNoBootstrapNodes
	}
	return nil
}
