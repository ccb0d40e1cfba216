package ecs

import (
	"fmt"
	"math"
)

// EntityID indexes an entity slot. Slots are reused after destruction.
type EntityID uint32

// Version is the generation counter of a slot.
type Version uint32

// Entity is a handle to a slot at a specific generation. A handle captured
// before its slot was destroyed never becomes valid again, even when the
// numeric id is handed out to a new entity.
type Entity struct {
	ID      EntityID
	Version Version
}

// InvalidEntity never refers to a live slot.
var InvalidEntity = Entity{ID: math.MaxUint32, Version: math.MaxUint32}

func (e Entity) String() string {
	return fmt.Sprintf("%d@%d", e.ID, e.Version)
}

// Entities allocates entity handles.
// It is not safe for concurrent use: the world only mutates it during
// serial phases of a tick.
type Entities struct {
	versions []Version
	alive    []bool
	free     []EntityID
	head     int
	count    int
}

// NewEntities creates an empty allocator with room for capacity slots.
func NewEntities(capacity int) *Entities {
	return &Entities{
		versions: make([]Version, 0, capacity),
		alive:    make([]bool, 0, capacity),
	}
}

// Create returns a freed slot with its bumped version, or a fresh slot at
// version 0 when the free pool is empty.
func (es *Entities) Create() Entity {
	var id EntityID
	if es.head < len(es.free) {
		id = es.free[es.head]
		es.head++
		if es.head == len(es.free) {
			es.free = es.free[:0]
			es.head = 0
		}
	} else {
		id = EntityID(len(es.versions))
		es.versions = append(es.versions, 0)
		es.alive = append(es.alive, false)
	}
	es.alive[id] = true
	es.count++
	return Entity{ID: id, Version: es.versions[id]}
}

// Destroy invalidates e, increments the slot version and returns the slot
// to the free pool.
func (es *Entities) Destroy(e Entity) error {
	if !es.IsValid(e) {
		return fmt.Errorf("destroy %s: %w", e, ErrInvalidEntity)
	}
	es.alive[e.ID] = false
	es.versions[e.ID]++
	es.free = append(es.free, e.ID)
	es.count--
	return nil
}

// IsValid checks the id range and an exact version match.
func (es *Entities) IsValid(e Entity) bool {
	if int(e.ID) >= len(es.versions) {
		return false
	}
	return es.alive[e.ID] && es.versions[e.ID] == e.Version
}

// Current returns the live handle occupying id, if any.
func (es *Entities) Current(id EntityID) (Entity, bool) {
	if int(id) >= len(es.versions) || !es.alive[id] {
		return InvalidEntity, false
	}
	return Entity{ID: id, Version: es.versions[id]}, true
}

// Alive returns the number of live entities.
func (es *Entities) Alive() int { return es.count }

// Capacity returns the number of slots ever allocated.
func (es *Entities) Capacity() int { return len(es.versions) }
