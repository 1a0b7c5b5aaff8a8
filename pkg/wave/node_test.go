package wave

import (
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"
)

type sent struct {
	to   NodeID
	kind Kind
	from NodeID
}

type recorder struct {
	out []sent
}

func (r *recorder) Send(to NodeID, m Message) {
	r.out = append(r.out, sent{to: to, kind: m.Kind, from: m.From})
}

func (r *recorder) reset() { r.out = nil }

func ids(s ...string) []NodeID {
	out := make([]NodeID, len(s))
	for i, v := range s {
		out[i] = NodeID(v)
	}
	return out
}

func newTestNode(t *testing.T, id string, neighbors ...string) (*Node, *recorder) {
	t.Helper()
	rec := &recorder{}
	n := NewNode(NodeID(id), rec, zaptest.NewLogger(t))
	reply := make(chan Message, 1)
	n.Handle(Init(ids(neighbors...)).WithReply(reply))
	select {
	case ack := <-reply:
		if ack.Kind != KindInitAck || ack.From != NodeID(id) {
			t.Fatalf("init reply = %+v, want init_ack from %s", ack, id)
		}
	default:
		t.Fatalf("no init ack from %s", id)
	}
	return n, rec
}

func TestInitAssignsWaitingSet(t *testing.T) {
	n, rec := newTestNode(t, "a", "b", "c", "b")

	snap := n.Snapshot()
	if snap.State != StateInitialized {
		t.Fatalf("state = %v, want initialized", snap.State)
	}
	if want := ids("b", "c"); !reflect.DeepEqual(snap.WaitingFrom, want) {
		t.Fatalf("waitingFrom = %v, want %v", snap.WaitingFrom, want)
	}
	if !reflect.DeepEqual(snap.Neighbors, ids("b", "c")) {
		t.Fatalf("neighbors = %v, want [b c]", snap.Neighbors)
	}
	if snap.Reached() {
		t.Fatalf("fresh node should have no parent, got %q", snap.Parent)
	}
	if len(rec.out) != 0 {
		t.Fatalf("init sent messages: %v", rec.out)
	}
}

func TestInitCopiesNeighborSlice(t *testing.T) {
	rec := &recorder{}
	n := NewNode("a", rec, zaptest.NewLogger(t))
	nbs := ids("b", "c")
	m := Message{Kind: KindInit, Neighbors: nbs}
	n.Handle(m)
	nbs[0] = "z"
	if got := n.Snapshot().WaitingFrom; !reflect.DeepEqual(got, ids("b", "c")) {
		t.Fatalf("waitingFrom aliased caller slice: %v", got)
	}
}

func TestDuplicateInitOverwrites(t *testing.T) {
	n, _ := newTestNode(t, "a", "b", "c")
	reply := make(chan Message, 1)
	n.Handle(Init(ids("d")).WithReply(reply))

	if ack := <-reply; ack.Kind != KindInitAck {
		t.Fatalf("second init reply kind = %v, want init_ack", ack.Kind)
	}
	snap := n.Snapshot()
	if !reflect.DeepEqual(snap.WaitingFrom, ids("d")) {
		t.Fatalf("waitingFrom = %v, want [d]", snap.WaitingFrom)
	}
	if snap.State != StateInitialized {
		t.Fatalf("state = %v, want initialized", snap.State)
	}
}

func TestStartFloodsInOrder(t *testing.T) {
	n, rec := newTestNode(t, "r", "x", "y", "z")
	n.Handle(Start())

	snap := n.Snapshot()
	if !snap.IsRoot() || snap.State != StateActive {
		t.Fatalf("after start: parent=%q state=%v, want self/active", snap.Parent, snap.State)
	}
	want := []sent{
		{to: "x", kind: KindExplore, from: "r"},
		{to: "y", kind: KindExplore, from: "r"},
		{to: "z", kind: KindExplore, from: "r"},
	}
	if !reflect.DeepEqual(rec.out, want) {
		t.Fatalf("sent = %v, want %v", rec.out, want)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	n, rec := newTestNode(t, "r", "x")
	n.Handle(Start())
	rec.reset()
	n.Handle(Start())
	if len(rec.out) != 0 {
		t.Fatalf("second start sent %v", rec.out)
	}
	if got := n.Snapshot().Parent; got != "r" {
		t.Fatalf("parent = %q, want r", got)
	}
}

func TestStartAfterExploreIsIgnored(t *testing.T) {
	n, rec := newTestNode(t, "b", "a", "c")
	n.Handle(Explore("a"))
	rec.reset()
	n.Handle(Start())
	if got := n.Snapshot().Parent; got != "a" {
		t.Fatalf("parent = %q, want a", got)
	}
	if len(rec.out) != 0 {
		t.Fatalf("start after explore sent %v", rec.out)
	}
}

func TestExploreAdoptsParentAndFloodsIncludingSender(t *testing.T) {
	n, rec := newTestNode(t, "b", "a", "c")
	n.Handle(Explore("a"))

	snap := n.Snapshot()
	if snap.Parent != "a" || snap.State != StateActive {
		t.Fatalf("parent=%q state=%v, want a/active", snap.Parent, snap.State)
	}
	want := []sent{
		{to: "a", kind: KindExplore, from: "b"},
		{to: "c", kind: KindExplore, from: "b"},
	}
	if !reflect.DeepEqual(rec.out, want) {
		t.Fatalf("sent = %v, want %v", rec.out, want)
	}
}

func TestExploreWithEmptyWaitingSetSendsFeedback(t *testing.T) {
	n, rec := newTestNode(t, "lonely")
	n.Handle(Explore("p"))

	want := []sent{{to: "p", kind: KindFeedback, from: "lonely"}}
	if !reflect.DeepEqual(rec.out, want) {
		t.Fatalf("sent = %v, want %v", rec.out, want)
	}
	if snap := n.Snapshot(); snap.Parent != "p" || snap.FeedbackSent != 1 {
		t.Fatalf("parent=%q feedbackSent=%d, want p/1", snap.Parent, snap.FeedbackSent)
	}
}

func TestExploreAfterWaitingSetDrainedSendsFeedback(t *testing.T) {
	n, rec := newTestNode(t, "b", "a")
	n.Handle(Feedback("a"))
	n.Handle(Explore("a"))
	want := []sent{{to: "a", kind: KindFeedback, from: "b"}}
	if !reflect.DeepEqual(rec.out, want) {
		t.Fatalf("sent = %v, want %v", rec.out, want)
	}
}

func TestDuplicateExploreHasNoEffect(t *testing.T) {
	n, rec := newTestNode(t, "b", "a", "c")
	n.Handle(Explore("a"))
	before := n.Snapshot()
	rec.reset()

	n.Handle(Explore("c"))
	n.Handle(Explore("a"))

	after := n.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("duplicate explore changed state:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(rec.out) != 0 {
		t.Fatalf("duplicate explore sent %v", rec.out)
	}
}

func TestFeedbackShrinksWithoutPropagating(t *testing.T) {
	n, rec := newTestNode(t, "b", "a", "c")
	n.Handle(Explore("a"))
	rec.reset()

	n.Handle(Feedback("c"))
	if got := n.Snapshot().WaitingFrom; !reflect.DeepEqual(got, ids("a")) {
		t.Fatalf("waitingFrom = %v, want [a]", got)
	}
	n.Handle(Feedback("a"))
	if got := n.Snapshot().WaitingFrom; len(got) != 0 {
		t.Fatalf("waitingFrom = %v, want empty", got)
	}
	// A drained waiting set does not notify the parent.
	if len(rec.out) != 0 {
		t.Fatalf("feedback triggered sends: %v", rec.out)
	}
}

func TestWaitingSetOnlyShrinks(t *testing.T) {
	n, _ := newTestNode(t, "b", "a", "c", "d")
	steps := []Message{
		Feedback("c"), Feedback("c"), Explore("a"), Feedback("x"), Feedback("a"), Explore("d"), Feedback("d"),
	}
	prev := len(n.Snapshot().WaitingFrom)
	removed := map[NodeID]bool{}
	for i, m := range steps {
		n.Handle(m)
		snap := n.Snapshot()
		if len(snap.WaitingFrom) > prev {
			t.Fatalf("step %d (%v): waitingFrom grew from %d to %d", i, m.Kind, prev, len(snap.WaitingFrom))
		}
		for _, id := range snap.WaitingFrom {
			if removed[id] {
				t.Fatalf("step %d: %s came back into waitingFrom", i, id)
			}
		}
		if m.Kind == KindFeedback {
			removed[m.From] = true
		}
		prev = len(snap.WaitingFrom)
	}
}

func TestInspectReportsSnapshot(t *testing.T) {
	n, _ := newTestNode(t, "a", "b")
	reply := make(chan Message, 1)
	n.Handle(Inspect().WithReply(reply))
	r := <-reply
	if r.Kind != KindReport || r.Snapshot == nil {
		t.Fatalf("inspect reply = %+v, want report with snapshot", r)
	}
	if r.Snapshot.ID != "a" || !reflect.DeepEqual(r.Snapshot.WaitingFrom, ids("b")) {
		t.Fatalf("snapshot = %+v", *r.Snapshot)
	}
}

func TestUnexpectedKindIgnored(t *testing.T) {
	n, rec := newTestNode(t, "a", "b")
	before := n.Snapshot()
	n.Handle(Message{Kind: KindInitAck, From: "b"})
	n.Handle(Message{Kind: Kind(200)})
	if !reflect.DeepEqual(before, n.Snapshot()) || len(rec.out) != 0 {
		t.Fatalf("unexpected kinds changed state or sent %v", rec.out)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{
		KindInit: "init", KindExplore: "explore", KindFeedback: "feedback", Kind(99): "unknown",
	} {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
