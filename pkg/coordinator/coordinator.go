// Package coordinator boots one wave node per vertex, hands each its
// neighbors, designates a single root, waits a fixed settle interval and tears
// everything down. It never inspects protocol progress to decide when to stop.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/wavetree/internal/telemetry"
	"github.com/ryandielhenn/wavetree/pkg/bus"
	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

const DefaultInitTimeout = 5 * time.Second

var (
	ErrInitTimeout    = errors.New("coordinator: init handshake timed out")
	ErrUnknownRoot    = errors.New("coordinator: root is not a vertex")
	ErrAlreadyStarted = errors.New("coordinator: root already triggered")
	ErrNotRunning     = errors.New("coordinator: not running")
)

type Options struct {
	Root wave.NodeID
	// InitTimeout bounds each Init/InitAck round trip and each inspection.
	InitTimeout time.Duration
	// Settle is the fixed wait between triggering the root and the final
	// snapshot. Zero does not wait at all.
	Settle time.Duration
	Jitter time.Duration
	Seed   int64
	Logger *zap.Logger
}

type Coordinator struct {
	graph topology.Graph
	opts  Options
	bus   *bus.Bus
	log   *zap.Logger

	mu        sync.Mutex
	running   bool
	triggered bool
	root      wave.NodeID
	stopOnce  sync.Once

	// handlerFor lets tests put something between the bus and a node.
	handlerFor func(*wave.Node) bus.Handler
}

func New(g topology.Graph, opts Options) *Coordinator {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		graph: g,
		opts:  opts,
		bus: bus.New(bus.Options{
			Jitter: opts.Jitter,
			Seed:   opts.Seed,
			Logger: opts.Logger,
		}),
		log:        opts.Logger.Named("coordinator"),
		handlerFor: func(n *wave.Node) bus.Handler { return n },
	}
}

// Bus exposes the transport, mainly so harnesses can wait for idleness.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Start creates and attaches one node per vertex. Nodes are Uninitialized
// until Initialize runs.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	for _, id := range c.graph.Vertices() {
		n := wave.NewNode(id, c.bus, c.opts.Logger)
		if err := c.bus.Attach(id, c.handlerFor(n)); err != nil {
			return fmt.Errorf("coordinator: attach %s: %w", id, err)
		}
	}
	c.running = true
	c.log.Info("nodes started", zap.Int("nodes", c.graph.Len()), zap.Int("edges", c.graph.Edges()))
	return nil
}

// Initialize sends Init to every node in vertex order and blocks on each
// InitAck. The first node that fails to answer within InitTimeout aborts the
// whole handshake.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if !c.isRunning() {
		return ErrNotRunning
	}
	for _, id := range c.graph.Vertices() {
		if err := c.initOne(ctx, id); err != nil {
			return err
		}
	}
	c.log.Info("all nodes initialized")
	return nil
}

func (c *Coordinator) initOne(ctx context.Context, id wave.NodeID) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()
	start := time.Now()
	ack, err := c.bus.Request(ctx, id, wave.Init(c.graph.Neighbors(id)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: node %s after %s", ErrInitTimeout, id, c.opts.InitTimeout)
		}
		return fmt.Errorf("coordinator: init %s: %w", id, err)
	}
	if ack.Kind != wave.KindInitAck {
		return fmt.Errorf("coordinator: init %s: unexpected reply %s", id, ack.Kind)
	}
	telemetry.InitDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Trigger designates root. It may be called once per run.
func (c *Coordinator) Trigger(root wave.NodeID) error {
	if !c.graph.Has(root) {
		return fmt.Errorf("%w: %q", ErrUnknownRoot, root)
	}
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if c.triggered {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.triggered = true
	c.root = root
	c.mu.Unlock()

	c.log.Info("triggering root", zap.String("root", string(root)))
	c.bus.Send(root, wave.Start())
	return nil
}

// Settle waits the configured interval, or until ctx is done.
func (c *Coordinator) Settle(ctx context.Context) error {
	if c.opts.Settle == 0 {
		return nil
	}
	t := time.NewTimer(c.opts.Settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot asks every node for its state.
func (c *Coordinator) Snapshot(ctx context.Context) (Tree, error) {
	if !c.isRunning() {
		return Tree{}, ErrNotRunning
	}
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()
	if root == "" {
		root = c.opts.Root
	}
	tree := Tree{
		Root:  root,
		Nodes: make(map[wave.NodeID]wave.Snapshot, c.graph.Len()),
		graph: c.graph,
	}
	for _, id := range c.graph.Vertices() {
		rctx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
		r, err := c.bus.Request(rctx, id, wave.Inspect())
		cancel()
		if err != nil {
			return Tree{}, fmt.Errorf("coordinator: inspect %s: %w", id, err)
		}
		if r.Snapshot == nil {
			return Tree{}, fmt.Errorf("coordinator: inspect %s: empty report", id)
		}
		tree.Nodes[id] = *r.Snapshot
	}
	return tree, nil
}

// Stop tears the bus down. It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.bus.Close()
		c.log.Info("stopped")
	})
}

func (c *Coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Run performs a complete run: start, handshake, trigger Options.Root,
// settle, snapshot, stop.
func (c *Coordinator) Run(ctx context.Context) (Tree, error) {
	tree, err := c.run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.RunsTotal.WithLabelValues(result).Inc()
	return tree, err
}

func (c *Coordinator) run(ctx context.Context) (Tree, error) {
	if !c.graph.Has(c.opts.Root) {
		return Tree{}, fmt.Errorf("%w: %q", ErrUnknownRoot, c.opts.Root)
	}
	defer c.Stop()
	if err := c.Start(); err != nil {
		return Tree{}, err
	}
	if err := c.Initialize(ctx); err != nil {
		return Tree{}, err
	}
	if err := c.Trigger(c.opts.Root); err != nil {
		return Tree{}, err
	}
	if err := c.Settle(ctx); err != nil {
		return Tree{}, err
	}
	return c.Snapshot(ctx)
}
