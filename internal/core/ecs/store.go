package ecs

import (
	"fmt"
	"slices"
)

// Hooks are notified after a component enters or leaves a store.
type Hooks struct {
	OnAdd    func(*Component)
	OnRemove func(*Component)
}

// Store indexes components by their concrete kind (primary sets) and by
// every key the kind answers to, itself included (redundant sets).
//
// A Store is not safe for concurrent mutation. Reads may run concurrently
// with each other as long as no Add, Remove, Merge or Unmerge is in flight.
type Store struct {
	types     *Types
	owner     Entity
	scoped    bool
	primary   map[TypeKey]*componentSet
	redundant map[TypeKey]*componentSet
	hooks     Hooks
	count     int
}

// NewStore creates an unscoped store accepting components of any owner.
func NewStore(types *Types) *Store {
	return &Store{
		types:     types,
		owner:     InvalidEntity,
		primary:   make(map[TypeKey]*componentSet),
		redundant: make(map[TypeKey]*componentSet),
	}
}

// NewEntityStore creates a store that only accepts components owned by owner.
func NewEntityStore(types *Types, owner Entity) *Store {
	s := NewStore(types)
	s.owner = owner
	s.scoped = true
	return s
}

func (s *Store) SetHooks(h Hooks) { s.hooks = h }

// Owner returns the owning entity of a scoped store, InvalidEntity otherwise.
func (s *Store) Owner() Entity { return s.owner }

// Add inserts c into the primary set of its kind and into the redundant
// set of its kind and of every alternate the kind declares.
func (s *Store) Add(c *Component) error {
	if !c.Live() {
		return fmt.Errorf("add: released component: %w", ErrComponentNotFound)
	}
	if s.scoped && c.owner != s.owner {
		return fmt.Errorf("add %s to %s: %w", c, s.owner, ErrForeignComponent)
	}
	if !s.insert(c) {
		return fmt.Errorf("add %s: %w", c, ErrDuplicateComponent)
	}
	if s.hooks.OnAdd != nil {
		s.hooks.OnAdd(c)
	}
	return nil
}

// Remove deletes c from its primary set and from every redundant set it was
// inserted into.
func (s *Store) Remove(c *Component) error {
	if c == nil || !s.erase(c) {
		return fmt.Errorf("remove %v: %w", c, ErrComponentNotFound)
	}
	if s.hooks.OnRemove != nil {
		s.hooks.OnRemove(c)
	}
	return nil
}

func (s *Store) insert(c *Component) bool {
	set := s.primary[c.kind]
	if set == nil {
		set = newComponentSet()
		s.primary[c.kind] = set
	}
	if !set.add(c) {
		return false
	}
	for _, key := range s.types.indexKeys(c.kind) {
		rs := s.redundant[key]
		if rs == nil {
			rs = newComponentSet()
			s.redundant[key] = rs
		}
		rs.add(c)
	}
	s.count++
	return true
}

func (s *Store) erase(c *Component) bool {
	set := s.primary[c.kind]
	if set == nil || !set.remove(c) {
		return false
	}
	if set.len() == 0 {
		delete(s.primary, c.kind)
	}
	for _, key := range s.types.indexKeys(c.kind) {
		if rs := s.redundant[key]; rs != nil {
			rs.remove(c)
			if rs.len() == 0 {
				delete(s.redundant, key)
			}
		}
	}
	s.count--
	return true
}

// Get returns the first component of kind key, falling back to the first
// component answering to key as an alternate.
func (s *Store) Get(key TypeKey) (*Component, error) {
	if c, ok := s.Lookup(key); ok {
		return c, nil
	}
	return nil, fmt.Errorf("get %s: %w", s.types.Name(key), ErrComponentNotFound)
}

// Lookup is the checked form of Get.
func (s *Store) Lookup(key TypeKey) (*Component, bool) {
	if c, ok := s.primary[key].first(); ok {
		return c, true
	}
	return s.redundant[key].first()
}

func (s *Store) HasType(key TypeKey) bool     { return s.primary[key].len() > 0 }
func (s *Store) HasSubclass(key TypeKey) bool { return s.redundant[key].len() > 0 }

// Contains reports whether c itself is stored here.
func (s *Store) Contains(c *Component) bool {
	if c == nil {
		return false
	}
	set := s.primary[c.kind]
	return set != nil && set.contains(c)
}

// AllOfType returns a copy of the primary set for key, possibly empty.
func (s *Store) AllOfType(key TypeKey) []*Component { return s.primary[key].snapshot() }

// AllOfSubclass returns a copy of the redundant set for key, possibly empty.
func (s *Store) AllOfSubclass(key TypeKey) []*Component { return s.redundant[key].snapshot() }

// CountOfType and CountOfSubclass avoid the copy made by the All* accessors.
func (s *Store) CountOfType(key TypeKey) int     { return s.primary[key].len() }
func (s *Store) CountOfSubclass(key TypeKey) int { return s.redundant[key].len() }

// Len returns the number of distinct components stored.
func (s *Store) Len() int { return s.count }

// Kinds returns the concrete kinds present, in ascending key order.
func (s *Store) Kinds() []TypeKey {
	keys := make([]TypeKey, 0, len(s.primary))
	for k := range s.primary {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Each visits every component grouped by kind in ascending key order.
// Returning false stops the walk. fn must not mutate the store.
func (s *Store) Each(fn func(*Component) bool) {
	for _, k := range s.Kinds() {
		for _, c := range s.primary[k].items {
			if !fn(c) {
				return
			}
		}
	}
}

// Components returns every stored component in Each order.
func (s *Store) Components() []*Component {
	out := make([]*Component, 0, s.count)
	s.Each(func(c *Component) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Merge adds every component of other not already present here, firing
// OnAdd per inserted element. It returns the number of inserted components.
func (s *Store) Merge(other *Store) (int, error) {
	added := 0
	for _, c := range other.Components() {
		if s.Contains(c) {
			continue
		}
		if err := s.Add(c); err != nil {
			return added, fmt.Errorf("merge: %w", err)
		}
		added++
	}
	return added, nil
}

// Unmerge removes every component of other present here, firing OnRemove
// per removed element. It returns the number of removed components.
func (s *Store) Unmerge(other *Store) int {
	removed := 0
	for _, c := range other.Components() {
		if !s.Contains(c) {
			continue
		}
		if err := s.Remove(c); err == nil {
			removed++
		}
	}
	return removed
}

// GetAs returns the payload of the component Get finds for key.
func GetAs[T any](s *Store, key TypeKey) (*T, error) {
	c, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	v, ok := Payload[T](c)
	if !ok {
		return nil, fmt.Errorf("get %s: %w: %T", s.types.Name(key), ErrPayloadType, c.Value)
	}
	return v, nil
}
