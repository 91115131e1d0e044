// Command hyperswarm-node is a thin CLI around the swarm package: it
// bootstraps a DHT client, joins one topic derived from a key string, and
// prints every peer it discovers. Everything interesting lives in the
// internal packages; this just wires them together from the outside.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"hyperswarm-go/internal/dht"
	"hyperswarm-go/internal/swarm"
	"hyperswarm-go/internal/topic"
)

func main() {
	bindPort := flag.Int("port", 0, "UDP bind port (0 = OS-assigned)")
	bootstrapStr := flag.String("bootstrap", "", "comma-separated bootstrap addresses host:port")
	key := flag.String("topic", "default-topic", "arbitrary key to derive this swarm's topic from")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	var bootstrap []string
	if *bootstrapStr != "" {
		for _, part := range strings.Split(*bootstrapStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				bootstrap = append(bootstrap, part)
			}
		}
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg := swarm.DefaultConfig()
	cfg.BindPort = *bindPort
	cfg.Logger = logger
	cfg.Debug = *debug
	cfg.DHT.Bootstrap = bootstrap

	metrics := &dht.AtomicMetrics{}

	sw, err := swarm.New(cfg, dht.WithMetrics(metrics), dht.WithLogger(logger), dht.WithDebug(*debug))
	if err != nil {
		log.Fatalf("hyperswarm-node: %v", err)
	}
	defer sw.Shutdown()

	fmt.Printf("node id: %s, listening on %s\n", sw.DHT().Self().Hex(), sw.DHT().LocalAddr())

	if len(bootstrap) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
		if err := sw.Bootstrap(ctx); err != nil {
			fmt.Printf("bootstrap: %v (continuing with an empty routing table)\n", err)
		}
		cancel()
	}

	t := topic.FromKey([]byte(*key))
	fmt.Printf("joining topic %s (from key %q)\n", t, *key)
	sw.Join(t)

	go func() {
		for peer := range sw.OnPeer(t) {
			fmt.Printf("discovered peer: %s\n", peer.UDPAddr())
		}
	}()

	fmt.Println("press enter to print routing table size, ctrl-d to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Printf("routing table size: %d, metrics: %+v\n", sw.DHT().Routing().Size(), metrics.Snapshot())
	}
}
