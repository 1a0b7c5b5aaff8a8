package wave

// NodeID identifies one vertex. The empty NodeID means "no sender" and is
// used for messages injected from outside the graph.
type NodeID string

type Kind uint8

const (
	KindInit Kind = iota
	KindInitAck
	KindStart
	KindExplore
	KindFeedback
	// KindInspect asks a node for a Snapshot; it answers with KindReport.
	KindInspect
	KindReport
)

var kindNames = [...]string{
	KindInit:     "init",
	KindInitAck:  "init_ack",
	KindStart:    "start",
	KindExplore:  "explore",
	KindFeedback: "feedback",
	KindInspect:  "inspect",
	KindReport:   "report",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Message is the single envelope exchanged on the bus. Which fields are
// meaningful depends on Kind.
type Message struct {
	Kind      Kind
	From      NodeID
	Neighbors []NodeID  // KindInit
	Snapshot  *Snapshot // KindReport

	reply chan<- Message
}

// WithReply returns a copy of m that expects an answer on ch.
func (m Message) WithReply(ch chan<- Message) Message {
	m.reply = ch
	return m
}

// Respond delivers r to whoever is waiting on m. It never blocks; a message
// without a reply channel, or one whose requester already gave up, is
// answered into the void.
func (m Message) Respond(r Message) bool {
	if m.reply == nil {
		return false
	}
	select {
	case m.reply <- r:
		return true
	default:
		return false
	}
}

func Init(neighbors []NodeID) Message {
	return Message{Kind: KindInit, Neighbors: append([]NodeID(nil), neighbors...)}
}

func Start() Message { return Message{Kind: KindStart} }

func Explore(from NodeID) Message { return Message{Kind: KindExplore, From: from} }

func Feedback(from NodeID) Message { return Message{Kind: KindFeedback, From: from} }

func Inspect() Message { return Message{Kind: KindInspect} }

// Sender delivers a message to another node without waiting for it to be
// processed.
type Sender interface {
	Send(to NodeID, m Message)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(to NodeID, m Message)

func (f SenderFunc) Send(to NodeID, m Message) { f(to, m) }
