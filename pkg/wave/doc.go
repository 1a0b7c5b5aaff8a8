// Package wave implements the per-node state machine of a flooding wave with
// feedback. Each Node owns its neighbor set, the set of neighbors it still
// waits on, and a write-once parent. Nodes react only to messages:
//
//	Init      assign neighbors, reply InitAck
//	Start     become root (parent = self) and flood Explore
//	Explore   first arrival adopts the sender as parent and floods
//	Feedback  drop the sender from the waiting set
//
// A Node never touches another node's state. It is driven by a single
// goroutine (see package bus) calling Handle for one message at a time, and
// it emits messages through a Sender.
//
// Typical usage:
//
//	n := wave.NewNode("0", b, log)
//	go b.Serve(ctx, "0", n)
package wave
