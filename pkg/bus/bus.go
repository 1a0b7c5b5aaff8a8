// Package bus is an in-process message transport for wave nodes. Every
// attached node gets an unbounded FIFO mailbox served by one goroutine, so
// Send never blocks and messages along one directed link arrive in the order
// they were sent. No ordering holds across links.
package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/wavetree/internal/telemetry"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

var (
	ErrClosed      = errors.New("bus: closed")
	ErrUnknownNode = errors.New("bus: unknown node")
	ErrDuplicate   = errors.New("bus: node already attached")
)

// Handler consumes messages for one node. Handle is never called
// concurrently for the same node.
type Handler interface {
	Handle(m wave.Message)
}

type Options struct {
	// Jitter delays each node-to-node message by a random duration in
	// [0, Jitter). Per-link order is kept.
	Jitter time.Duration
	// Seed feeds the jitter PRNG. Zero picks a time-based seed.
	Seed   int64
	Logger *zap.Logger
}

type link struct {
	from, to wave.NodeID
}

type Bus struct {
	mu     sync.Mutex
	boxes  map[wave.NodeID]*mailbox
	links  map[link]*mailbox
	closed bool

	closing chan struct{}
	loops   sync.WaitGroup
	pending atomic.Int64

	jitter time.Duration
	rng    *rand.Rand
	rngMu  sync.Mutex

	log *zap.Logger
}

func New(opts Options) *Bus {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Bus{
		boxes:   make(map[wave.NodeID]*mailbox),
		links:   make(map[link]*mailbox),
		closing: make(chan struct{}),
		jitter:  opts.Jitter,
		rng:     rand.New(rand.NewSource(seed)),
		log:     log.Named("bus"),
	}
}

// Attach registers h under id and starts its serve loop.
func (b *Bus) Attach(id wave.NodeID, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.boxes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	box := newMailbox(func(m wave.Message) {
		h.Handle(m)
		b.pending.Add(-1)
	})
	b.boxes[id] = box
	b.start(box)
	return nil
}

func (b *Bus) start(box *mailbox) {
	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		box.serve()
	}()
}

// Send implements wave.Sender. Undeliverable messages are logged and dropped.
func (b *Bus) Send(to wave.NodeID, m wave.Message) {
	if err := b.post(to, m); err != nil {
		b.log.Debug("send dropped",
			zap.String("to", string(to)),
			zap.String("from", string(m.From)),
			zap.Stringer("kind", m.Kind),
			zap.Error(err),
		)
	}
}

// Request sends m to a node and waits for its reply, bounded by ctx.
func (b *Bus) Request(ctx context.Context, to wave.NodeID, m wave.Message) (wave.Message, error) {
	reply := make(chan wave.Message, 1)
	if err := b.post(to, m.WithReply(reply)); err != nil {
		return wave.Message{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return wave.Message{}, fmt.Errorf("bus: %s request to %s: %w", m.Kind, to, ctx.Err())
	}
}

func (b *Bus) post(to wave.NodeID, m wave.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		telemetry.SendsDropped.WithLabelValues("closed").Inc()
		return ErrClosed
	}
	dst, ok := b.boxes[to]
	if !ok {
		b.mu.Unlock()
		telemetry.SendsDropped.WithLabelValues("unknown").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	box := dst
	if b.jitter > 0 && m.From != "" {
		box = b.linkLocked(link{from: m.From, to: to}, dst)
	}
	b.pending.Add(1)
	b.mu.Unlock()

	if !box.push(m) {
		b.pending.Add(-1)
		telemetry.SendsDropped.WithLabelValues("closed").Inc()
		return ErrClosed
	}
	return nil
}

// linkLocked returns the forwarder for l, creating it on first use. The
// forwarder delays each message, then hands it to dst in arrival order.
func (b *Bus) linkLocked(l link, dst *mailbox) *mailbox {
	if fw, ok := b.links[l]; ok {
		return fw
	}
	fw := newMailbox(func(m wave.Message) {
		if !b.sleep(b.delay()) || !dst.push(m) {
			b.pending.Add(-1)
		}
	})
	b.links[l] = fw
	b.start(fw)
	return fw
}

func (b *Bus) delay() time.Duration {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return time.Duration(b.rng.Int63n(int64(b.jitter)))
}

func (b *Bus) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-b.closing:
		return false
	}
}

// Pending reports how many messages are queued, delayed or being handled.
func (b *Bus) Pending() int64 {
	return b.pending.Load()
}

// WaitIdle blocks until no message is in flight anywhere on the bus. It says
// nothing about whether the protocol is done; it only observes the bus.
func (b *Bus) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bus: wait idle with %d pending: %w", b.pending.Load(), ctx.Err())
		case <-t.C:
		}
	}
}

// Close stops every serve loop and drops queued messages. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.closing)
	boxes := make([]*mailbox, 0, len(b.boxes)+len(b.links))
	for _, box := range b.boxes {
		boxes = append(boxes, box)
	}
	for _, fw := range b.links {
		boxes = append(boxes, fw)
	}
	b.mu.Unlock()

	for _, box := range boxes {
		if n := box.close(); n > 0 {
			b.pending.Add(-int64(n))
		}
	}
	b.loops.Wait()
	b.log.Debug("closed", zap.Int("mailboxes", len(boxes)))
}
