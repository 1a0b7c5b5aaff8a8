package bus

import (
	"sync"

	"github.com/ryandielhenn/wavetree/pkg/wave"
)

// mailbox is an unbounded FIFO drained by a single serve loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []wave.Message
	closed bool
	wake   chan struct{}

	handle func(wave.Message)
}

func newMailbox(handle func(wave.Message)) *mailbox {
	return &mailbox{
		wake:   make(chan struct{}, 1),
		handle: handle,
	}
}

func (mb *mailbox) push(m wave.Message) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.queue = append(mb.queue, m)
	mb.mu.Unlock()
	mb.signal()
	return true
}

func (mb *mailbox) signal() {
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox) pop() (wave.Message, bool) {
	for {
		mb.mu.Lock()
		if mb.closed {
			mb.mu.Unlock()
			return wave.Message{}, false
		}
		if len(mb.queue) > 0 {
			m := mb.queue[0]
			mb.queue[0] = wave.Message{}
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			return m, true
		}
		mb.mu.Unlock()
		<-mb.wake
	}
}

func (mb *mailbox) serve() {
	for {
		m, ok := mb.pop()
		if !ok {
			return
		}
		mb.handle(m)
	}
}

// close marks the mailbox closed and returns how many queued messages were
// discarded.
func (mb *mailbox) close() int {
	mb.mu.Lock()
	n := len(mb.queue)
	mb.queue = nil
	mb.closed = true
	mb.mu.Unlock()
	mb.signal()
	return n
}
