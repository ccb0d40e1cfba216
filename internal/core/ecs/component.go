package ecs

import "fmt"

// Component is a typed payload owned by exactly one entity. The owner is a
// plain handle, so a component never keeps its entity alive.
type Component struct {
	owner Entity
	kind  TypeKey
	live  bool

	// Value is the payload, by convention a pointer to a struct so that
	// systems can update it in place.
	Value any
}

func (c *Component) Owner() Entity { return c.owner }
func (c *Component) Kind() TypeKey { return c.kind }

// Live reports whether the component is still attached to its owner.
func (c *Component) Live() bool { return c != nil && c.live }

func (c *Component) String() string {
	return fmt.Sprintf("component{kind=%d owner=%s}", c.kind, c.owner)
}

// Payload returns the component value as *T.
func Payload[T any](c *Component) (*T, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.Value.(*T)
	return v, ok
}

// MustPayload is Payload for callers that matched the kind already.
func MustPayload[T any](c *Component) *T {
	v, ok := Payload[T](c)
	if !ok {
		panic(fmt.Errorf("%s: %w: %T", c, ErrPayloadType, c.Value))
	}
	return v
}

const arenaChunk = 256

// Arena hands out pointer-stable Component slots in fixed-size chunks and
// recycles released slots. Not safe for concurrent use.
type Arena struct {
	chunks [][]Component
	next   int
	free   []*Component
	inUse  int
}

func NewArena() *Arena {
	return &Arena{}
}

// Alloc returns a live component owned by owner.
func (a *Arena) Alloc(owner Entity, kind TypeKey, value any) *Component {
	var c *Component
	if n := len(a.free); n > 0 {
		c = a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
	} else {
		if len(a.chunks) == 0 || a.next == arenaChunk {
			a.chunks = append(a.chunks, make([]Component, arenaChunk))
			a.next = 0
		}
		c = &a.chunks[len(a.chunks)-1][a.next]
		a.next++
	}
	*c = Component{owner: owner, kind: kind, live: true, Value: value}
	a.inUse++
	return c
}

// Release returns c to the arena. Holders of the pointer observe
// Live() == false until the slot is reused.
func (a *Arena) Release(c *Component) {
	if c == nil || !c.live {
		return
	}
	*c = Component{owner: InvalidEntity, kind: NoType}
	a.free = append(a.free, c)
	a.inUse--
}

// InUse returns the number of live components.
func (a *Arena) InUse() int { return a.inUse }
