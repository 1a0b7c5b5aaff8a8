package wave

import "container/list"

// waitSet is an insertion-ordered set of neighbor ids. Flooding walks it in
// the order neighbors were assigned, so a node's send order is stable.
type waitSet struct {
	index map[NodeID]*list.Element
	ll    *list.List
}

func newWaitSet(ids []NodeID) *waitSet {
	s := &waitSet{
		index: make(map[NodeID]*list.Element, len(ids)),
		ll:    list.New(),
	}
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = s.ll.PushBack(id)
	}
	return s
}

// Remove drops id and reports whether it was present. A removed id can never
// come back.
func (s *waitSet) Remove(id NodeID) bool {
	el, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	s.ll.Remove(el)
	return true
}

func (s *waitSet) Contains(id NodeID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *waitSet) Len() int {
	if s == nil {
		return 0
	}
	return s.ll.Len()
}

// Members returns the remaining ids in order.
func (s *waitSet) Members() []NodeID {
	if s == nil {
		return nil
	}
	out := make([]NodeID, 0, s.ll.Len())
	for el := s.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(NodeID))
	}
	return out
}
