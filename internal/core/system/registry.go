package system

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Edge orders two systems: Before finishes before After starts.
type Edge struct {
	Before string
	After  string
}

// Entry is a registered system as seen by the analyzer and the builder.
type Entry struct {
	Descriptor
	Timed    bool
	Interval time.Duration
}

// Snapshot is an immutable copy of the registry taken at rebuild time.
type Snapshot struct {
	Generation uint64
	Systems    []Entry
	Edges      []Edge
	SyncPoints []SyncPoint
}

// Lookup finds a system entry by name.
func (s Snapshot) Lookup(name string) (Entry, bool) {
	for _, e := range s.Systems {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Stats are per-system execution counters.
type Stats struct {
	Ticks         uint64
	Entities      uint64
	Errors        uint64
	LastDuration  time.Duration
	TotalDuration time.Duration
}

type gate struct {
	interval    time.Duration
	accumulated time.Duration
	due         atomic.Bool
}

type registered struct {
	entry Entry
	gate  *gate

	ticks    atomic.Uint64
	entities atomic.Uint64
	errors   atomic.Uint64
	last     atomic.Int64
	total    atomic.Int64
}

// Registry tracks always-tick and interval-gated systems, their explicit
// ordering edges and sync points. Every change marks the graph for a
// rebuild; the world performs it at the start of the next tick.
type Registry struct {
	mu         sync.RWMutex
	systems    map[string]*registered
	order      []string
	edges      []Edge
	syncPoints []SyncPoint
	generation uint64
	built      uint64
}

func NewRegistry() *Registry {
	return &Registry{systems: make(map[string]*registered)}
}

// Register adds an always-tick system.
func (r *Registry) Register(d Descriptor) error {
	return r.register(Entry{Descriptor: d})
}

// RegisterTimed adds a system that ticks once accumulated frame time reaches
// interval. The accumulator restarts from zero after every firing.
func (r *Registry) RegisterTimed(d Descriptor, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("register %q: %w", d.Name, ErrInvalidInterval)
	}
	return r.register(Entry{Descriptor: d, Timed: true, Interval: interval})
}

func (r *Registry) register(e Entry) error {
	if e.Name == "" || e.System == nil {
		return fmt.Errorf("register %q: %w", e.Name, ErrInvalidSystem)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTakenLocked(e.Name) {
		return fmt.Errorf("register %q: %w", e.Name, ErrDuplicateSystem)
	}
	e.Reads = slices.Clone(e.Reads)
	e.Writes = slices.Clone(e.Writes)
	e.MustRunAfter = slices.Clone(e.MustRunAfter)

	reg := &registered{entry: e}
	if e.Timed {
		reg.gate = &gate{interval: e.Interval}
	}
	r.systems[e.Name] = reg
	r.order = append(r.order, e.Name)
	r.generation++
	return nil
}

// Unregister removes a system and every explicit edge touching it. Unknown
// names are ignored.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.systems[name]; !ok {
		return false
	}
	delete(r.systems, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.edges = slices.DeleteFunc(r.edges, func(e Edge) bool { return e.Before == name || e.After == name })
	r.generation++
	return true
}

// CreateDependency records that before must finish before after starts,
// independent of any inferred conflict.
func (r *Registry) CreateDependency(before, after string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{before, after} {
		if !r.nameTakenLocked(name) {
			return fmt.Errorf("dependency %q -> %q: %q: %w", before, after, name, ErrUnknownSystem)
		}
	}
	edge := Edge{Before: before, After: after}
	if slices.Contains(r.edges, edge) {
		return nil
	}
	r.edges = append(r.edges, edge)
	r.generation++
	return nil
}

// RemoveDependency drops an edge added by CreateDependency.
func (r *Registry) RemoveDependency(before, after string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	edge := Edge{Before: before, After: after}
	i := slices.Index(r.edges, edge)
	if i < 0 {
		return false
	}
	r.edges = slices.Delete(r.edges, i, i+1)
	r.generation++
	return true
}

// RegisterSyncPoint anchors an opaque step between systems. Anchored names
// are resolved at rebuild time, so systems may be registered afterwards.
func (r *Registry) RegisterSyncPoint(sp SyncPoint) error {
	if sp.Name == "" || sp.Run == nil {
		return fmt.Errorf("sync point %q: %w", sp.Name, ErrInvalidSyncPoint)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTakenLocked(sp.Name) {
		return fmt.Errorf("sync point %q: %w", sp.Name, ErrDuplicateSystem)
	}
	sp.After = slices.Clone(sp.After)
	sp.Before = slices.Clone(sp.Before)
	r.syncPoints = append(r.syncPoints, sp)
	r.generation++
	return nil
}

func (r *Registry) UnregisterSyncPoint(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.syncPoints, func(sp SyncPoint) bool { return sp.Name == name })
	if i < 0 {
		return false
	}
	r.syncPoints = slices.Delete(r.syncPoints, i, i+1)
	r.edges = slices.DeleteFunc(r.edges, func(e Edge) bool { return e.Before == name || e.After == name })
	r.generation++
	return true
}

func (r *Registry) nameTakenLocked(name string) bool {
	if _, ok := r.systems[name]; ok {
		return true
	}
	return slices.ContainsFunc(r.syncPoints, func(sp SyncPoint) bool { return sp.Name == name })
}

// Has reports whether a system is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.systems[name]
	return ok
}

// Len returns the number of registered systems.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.systems)
}

// Names lists systems in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// NeedsRebuild reports whether anything changed since the last MarkBuilt.
func (r *Registry) NeedsRebuild() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation != r.built
}

// MarkBuilt clears the rebuild flag for the given snapshot generation. A
// change that raced in after the snapshot keeps the flag set.
func (r *Registry) MarkBuilt(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if generation > r.built {
		r.built = generation
	}
}

// Snapshot copies the current registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Generation: r.generation,
		Systems:    make([]Entry, 0, len(r.order)),
		Edges:      slices.Clone(r.edges),
		SyncPoints: slices.Clone(r.syncPoints),
	}
	for _, name := range r.order {
		snap.Systems = append(snap.Systems, r.systems[name].entry)
	}
	return snap
}

// Advance feeds frame time to every timed gate. A gate fires on the first
// call where the accumulated time reaches its interval and then restarts
// from zero, so one long frame never produces a catch-up tick.
func (r *Registry) Advance(dt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		g := r.systems[name].gate
		if g == nil {
			continue
		}
		g.accumulated += dt
		if g.accumulated >= g.interval {
			g.accumulated = 0
			g.due.Store(true)
		} else {
			g.due.Store(false)
		}
	}
}

// Due reports whether name ticks this frame. Always-tick systems are always
// due; unknown systems never are.
func (r *Registry) Due(name string) bool {
	r.mu.RLock()
	reg, ok := r.systems[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return reg.gate == nil || reg.gate.due.Load()
}

// Record accumulates execution statistics for name.
func (r *Registry) Record(name string, entities int, d time.Duration, err error) {
	r.mu.RLock()
	reg, ok := r.systems[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	reg.ticks.Add(1)
	reg.entities.Add(uint64(entities))
	reg.last.Store(int64(d))
	reg.total.Add(int64(d))
	if err != nil {
		reg.errors.Add(1)
	}
}

// Stats returns the counters recorded for name.
func (r *Registry) Stats(name string) (Stats, bool) {
	r.mu.RLock()
	reg, ok := r.systems[name]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Ticks:         reg.ticks.Load(),
		Entities:      reg.entities.Load(),
		Errors:        reg.errors.Load(),
		LastDuration:  time.Duration(reg.last.Load()),
		TotalDuration: time.Duration(reg.total.Load()),
	}, true
}
