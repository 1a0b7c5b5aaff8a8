package wave

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/wavetree/internal/telemetry"
)

// State is the lifecycle position of a Node. There is no terminal state: a
// node stays Active until the bus is torn down.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Node holds the protocol state for one vertex. All fields are owned by the
// goroutine calling Handle.
type Node struct {
	id          NodeID
	neighbors   []NodeID
	waitingFrom *waitSet
	parent      NodeID // "" until reached; written once
	state       State

	exploresSent int
	feedbackSent int

	out Sender
	log *zap.Logger
}

func NewNode(id NodeID, out Sender, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		id:          id,
		waitingFrom: newWaitSet(nil),
		out:         out,
		log:         log.With(zap.String("node", string(id))),
	}
}

func (n *Node) ID() NodeID { return n.id }

// Handle processes one message. It must not be called concurrently.
func (n *Node) Handle(m Message) {
	telemetry.MessagesHandled.WithLabelValues(m.Kind.String()).Inc()
	switch m.Kind {
	case KindInit:
		n.onInit(m)
	case KindStart:
		n.onStart()
	case KindExplore:
		n.onExplore(m.From)
	case KindFeedback:
		n.onFeedback(m.From)
	case KindInspect:
		snap := n.Snapshot()
		m.Respond(Message{Kind: KindReport, From: n.id, Snapshot: &snap})
	default:
		n.log.Warn("unexpected message", zap.Stringer("kind", m.Kind), zap.String("from", string(m.From)))
	}
}

func (n *Node) onInit(m Message) {
	n.log.Debug("received init", zap.Int("neighbors", len(m.Neighbors)))
	if n.state != StateUninitialized {
		n.log.Warn("reinitialized; overwriting neighbor set",
			zap.Stringer("state", n.state),
			zap.Int("old_neighbors", len(n.neighbors)),
			zap.Int("new_neighbors", len(m.Neighbors)),
		)
	}
	n.waitingFrom = newWaitSet(m.Neighbors)
	n.neighbors = n.waitingFrom.Members()
	if n.state == StateUninitialized {
		n.state = StateInitialized
	}
	m.Respond(Message{Kind: KindInitAck, From: n.id})
}

func (n *Node) onStart() {
	if n.parent != "" {
		n.log.Debug("ignoring start", zap.String("parent", string(n.parent)))
		return
	}
	n.log.Info("setting root")
	n.parent = n.id
	n.state = StateActive
	telemetry.ParentsAssigned.WithLabelValues("root").Inc()
	n.flood()
}

func (n *Node) onExplore(from NodeID) {
	if n.parent != "" {
		n.log.Debug("dropping explore", zap.String("from", string(from)), zap.String("parent", string(n.parent)))
		telemetry.ExploresDropped.Inc()
		return
	}
	n.log.Info("setting parent", zap.String("parent", string(from)))
	n.parent = from
	n.state = StateActive
	telemetry.ParentsAssigned.WithLabelValues("child").Inc()
	if n.waitingFrom.Len() == 0 {
		n.send(from, Feedback(n.id))
		n.feedbackSent++
		return
	}
	// The waiting set still contains the new parent here; it gets an Explore
	// back and drops it.
	n.flood()
}

// onFeedback only shrinks the waiting set. Draining it does not notify the
// parent; Feedback upward is sent solely from onExplore.
func (n *Node) onFeedback(from NodeID) {
	if !n.waitingFrom.Remove(from) {
		n.log.Debug("feedback from non-waiting neighbor", zap.String("from", string(from)))
		return
	}
	n.log.Debug("received feedback", zap.String("from", string(from)), zap.Int("waiting", n.waitingFrom.Len()))
}

func (n *Node) flood() {
	for _, to := range n.waitingFrom.Members() {
		n.send(to, Explore(n.id))
		n.exploresSent++
	}
}

func (n *Node) send(to NodeID, m Message) {
	telemetry.MessagesSent.WithLabelValues(m.Kind.String()).Inc()
	n.out.Send(to, m)
}

// Snapshot copies the node's current state.
func (n *Node) Snapshot() Snapshot {
	return Snapshot{
		ID:           n.id,
		State:        n.state,
		Parent:       n.parent,
		Neighbors:    append([]NodeID(nil), n.neighbors...),
		WaitingFrom:  n.waitingFrom.Members(),
		ExploresSent: n.exploresSent,
		FeedbackSent: n.feedbackSent,
	}
}

// Snapshot is a point-in-time copy of a Node's protocol state.
type Snapshot struct {
	ID           NodeID
	State        State
	Parent       NodeID
	Neighbors    []NodeID
	WaitingFrom  []NodeID
	ExploresSent int
	FeedbackSent int
}

func (s Snapshot) Reached() bool { return s.Parent != "" }

func (s Snapshot) IsRoot() bool { return s.Parent != "" && s.Parent == s.ID }
