package ecs

// componentSet is an insertion-ordered set with O(1) add and remove.
// Removal moves the last element into the hole.
type componentSet struct {
	items []*Component
	index map[*Component]int
}

func newComponentSet() *componentSet {
	return &componentSet{index: make(map[*Component]int)}
}

func (s *componentSet) add(c *Component) bool {
	if _, ok := s.index[c]; ok {
		return false
	}
	s.index[c] = len(s.items)
	s.items = append(s.items, c)
	return true
}

func (s *componentSet) remove(c *Component) bool {
	i, ok := s.index[c]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.index[moved] = i
	}
	s.items[last] = nil
	s.items = s.items[:last]
	delete(s.index, c)
	return true
}

func (s *componentSet) contains(c *Component) bool {
	_, ok := s.index[c]
	return ok
}

func (s *componentSet) first() (*Component, bool) {
	if s == nil || len(s.items) == 0 {
		return nil, false
	}
	return s.items[0], true
}

func (s *componentSet) len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *componentSet) snapshot() []*Component {
	if s == nil || len(s.items) == 0 {
		return nil
	}
	out := make([]*Component, len(s.items))
	copy(out, s.items)
	return out
}
