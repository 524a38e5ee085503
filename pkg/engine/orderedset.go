package engine

import "github.com/loomgraph/loom/pkg/types"

// orderedSet tracks membership and preserves insertion order, used for
// the dirty set: dispatch must consider dirty nodes oldest-first so
// that re-dispatch is deterministic across runs.
type orderedSet struct {
	order []types.NodeID
	index map[types.NodeID]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: map[types.NodeID]int{}}
}

func (s *orderedSet) Add(id types.NodeID) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
}

func (s *orderedSet) Remove(id types.NodeID) {
	pos, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	for i := pos; i < len(s.order); i++ {
		s.index[s.order[i]] = i
	}
}

func (s *orderedSet) Has(id types.NodeID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *orderedSet) Len() int {
	return len(s.order)
}

// Snapshot returns a copy of the current order, safe to range over
// while the caller mutates the set.
func (s *orderedSet) Snapshot() []types.NodeID {
	out := make([]types.NodeID, len(s.order))
	copy(out, s.order)
	return out
}
