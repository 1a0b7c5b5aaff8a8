package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/wavetree/pkg/coordinator"
	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

func main() {
	n := flag.Int("n", 200, "vertices per graph")
	extra := flag.Int("extra", 200, "edges added on top of the random spanning tree")
	runs := flag.Int("runs", 50, "graphs to run")
	conc := flag.Int("c", 4, "concurrent runs")
	jitter := flag.Duration("jitter", 0, "random per-message link delay")
	seed := flag.Int64("seed", 1, "graph generator seed")
	flag.Parse()

	if *n < 1 || *runs < 1 || *conc < 1 {
		fmt.Fprintln(os.Stderr, "bench: -n, -runs and -c must be positive")
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(*seed))
	graphs := make([]topology.Graph, *runs)
	for i := range graphs {
		graphs[i] = topology.Random(*n, *extra, rng)
	}

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
		explores atomic.Int64
	)
	ch := make(chan struct{}, *conc)
	start := time.Now()

	for i, g := range graphs {
		wg.Add(1)
		ch <- struct{}{}
		go func(i int, g topology.Graph) {
			defer wg.Done()
			defer func() { <-ch }()
			root := wave.NodeID(strconv.Itoa(i % *n))
			sent, err := runOnce(g, root, *jitter, *seed+int64(i))
			if err != nil {
				failures.Add(1)
				fmt.Fprintf(os.Stderr, "run %d: %v\n", i, err)
				return
			}
			explores.Add(int64(sent))
		}(i, g)
	}
	wg.Wait()
	dur := time.Since(start)

	ok := int64(*runs) - failures.Load()
	fmt.Printf("Completed %d runs (%d failed) of %d vertices in %s (%.2f runs/s, %d explores)\n",
		*runs, failures.Load(), *n, dur, float64(ok)/dur.Seconds(), explores.Load())
	if failures.Load() > 0 {
		os.Exit(1)
	}
}

// runOnce drives one wave to quiescence and checks the resulting tree.
func runOnce(g topology.Graph, root wave.NodeID, jitter time.Duration, seed int64) (int, error) {
	c := coordinator.New(g, coordinator.Options{Root: root, Jitter: jitter, Seed: seed, Logger: zap.NewNop()})
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.Start(); err != nil {
		return 0, err
	}
	if err := c.Initialize(ctx); err != nil {
		return 0, err
	}
	if err := c.Trigger(root); err != nil {
		return 0, err
	}
	if err := c.Bus().WaitIdle(ctx); err != nil {
		return 0, err
	}
	tree, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if err := tree.Validate(); err != nil {
		return 0, err
	}
	if m := tree.Missing(); len(m) > 0 {
		return 0, fmt.Errorf("%d reachable vertices unreached", len(m))
	}
	sent := 0
	for _, s := range tree.Nodes {
		sent += s.ExploresSent
	}
	return sent, nil
}
