// Package world owns the component store, the system registry and the task
// graph, and drives them one frame at a time.
package world

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/events/bus"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/system/analyzer"
	"github.com/zeusync/simcore/internal/core/system/graph"
	"github.com/zeusync/simcore/pkg/generic"
)

type Options struct {
	Name string
	// Workers bounds the graph executor and the per-system chunk fan-out.
	// Zero means GOMAXPROCS.
	Workers int
	// Grain is the number of entities a do-tick chunk handles.
	Grain   int
	Overlap analyzer.OverlapMode
	Types   *ecs.Types
	Logger  log.Log
	Bus     bus.EventBus
}

// World is the simulation container.
//
// Structural calls (CreateEntity, DestroyEntity, AddComponent,
// RemoveComponent) belong to the goroutine that drives Tick. Other
// goroutines, and systems during execution, go through Defer and
// QueueDestroy.
type World struct {
	id   uuid.UUID
	name string
	log  log.Log
	bus  bus.EventBus

	types    *ecs.Types
	entities *ecs.Entities
	arena    *ecs.Arena
	stores   []*ecs.Store
	index    *ecs.Store

	registry *system.Registry
	overlap  analyzer.OverlapMode
	executor *graph.Executor
	graph    *graph.Graph
	grain    int
	workers  int
	contexts *generic.Pool[*system.Context]

	tickMu    sync.Mutex
	executing atomic.Bool
	frame     uint64
	elapsed   time.Duration
	delta     time.Duration

	mu       sync.Mutex
	commands []func(system.Mutator) error
	doomed   []ecs.Entity
	async    []asyncCall
	asyncSeq uint64

	preTick  []Hook
	postTick []Hook
	sinks    []FrameSink
}

func New(opts Options) *World {
	if opts.Types == nil {
		opts.Types = ecs.NewTypes()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.Name == "" {
		opts.Name = "world"
	}

	id := uuid.New()
	w := &World{
		id:       id,
		name:     opts.Name,
		log:      opts.Logger.Named("world").With(log.String("world", opts.Name), log.String("id", id.String())),
		bus:      opts.Bus,
		types:    opts.Types,
		entities: ecs.NewEntities(0),
		arena:    ecs.NewArena(),
		index:    ecs.NewStore(opts.Types),
		registry: system.NewRegistry(),
		overlap:  opts.Overlap,
		executor: graph.NewExecutor(opts.Workers),
		grain:    opts.Grain,
		contexts: generic.NewPool(func() *system.Context { return &system.Context{} }, (*system.Context).Reset),
	}
	w.workers = w.executor.Workers()
	w.index.SetHooks(ecs.Hooks{
		OnAdd:    func(c *ecs.Component) { w.publish(bus.ComponentAdded, c) },
		OnRemove: func(c *ecs.Component) { w.publish(bus.ComponentRemoved, c) },
	})
	return w
}

func (w *World) ID() uuid.UUID                 { return w.id }
func (w *World) Name() string                  { return w.name }
func (w *World) Types() *ecs.Types             { return w.types }
func (w *World) Registry() *system.Registry    { return w.registry }
func (w *World) Bus() bus.EventBus             { return w.bus }
func (w *World) Logger() log.Log               { return w.log }
func (w *World) Index() *ecs.Store             { return w.index }
func (w *World) IsValid(e ecs.Entity) bool     { return w.entities.IsValid(e) }
func (w *World) Executing() bool               { return w.executing.Load() }
func (w *World) Overlap() analyzer.OverlapMode { return w.overlap }

// Frame counts completed frames. Safe to call from any goroutine.
func (w *World) Frame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

// Elapsed is the simulated time including the current frame's delta once
// PreTick has run. Safe to call from any goroutine.
func (w *World) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed
}

// EntityStore returns the components of e.
func (w *World) EntityStore(e ecs.Entity) (*ecs.Store, bool) {
	if !w.entities.IsValid(e) {
		return nil, false
	}
	return w.stores[e.ID], true
}

func (w *World) CreateEntity() (ecs.Entity, error) {
	if w.executing.Load() {
		return ecs.InvalidEntity, ErrStructuralChangeDuringTick
	}
	e := w.entities.Create()
	for int(e.ID) >= len(w.stores) {
		w.stores = append(w.stores, nil)
	}
	w.stores[e.ID] = ecs.NewEntityStore(w.types, e)
	return e, nil
}

// DestroyEntity removes every component of e, firing remove events, and
// then retires the handle.
func (w *World) DestroyEntity(e ecs.Entity) error {
	if w.executing.Load() {
		return ErrStructuralChangeDuringTick
	}
	if !w.entities.IsValid(e) {
		return fmt.Errorf("destroy %s: %w", e, ecs.ErrInvalidEntity)
	}
	store := w.stores[e.ID]
	for _, c := range store.Components() {
		w.detach(store, c)
	}
	w.stores[e.ID] = nil
	if err := w.entities.Destroy(e); err != nil {
		return err
	}
	if err := w.bus.Publish(bus.NewEvent(bus.EntityDestroyed, w.name, e)); err != nil {
		w.log.Warn("entity destroyed handler failed", log.String("entity", e.String()), log.Error(err))
	}
	return nil
}

// AddComponent attaches a new component of kind to e. value should be a
// pointer so systems can mutate it in place.
func (w *World) AddComponent(e ecs.Entity, kind ecs.TypeKey, value any) (*ecs.Component, error) {
	if w.executing.Load() {
		return nil, ErrStructuralChangeDuringTick
	}
	if !w.entities.IsValid(e) {
		return nil, fmt.Errorf("add to %s: %w", e, ecs.ErrInvalidEntity)
	}
	if _, ok := w.types.Info(kind); !ok {
		return nil, fmt.Errorf("add type#%d: %w", kind, ecs.ErrUnknownType)
	}
	c := w.arena.Alloc(e, kind, value)
	store := w.stores[e.ID]
	if err := store.Add(c); err != nil {
		w.arena.Release(c)
		return nil, err
	}
	if err := w.index.Add(c); err != nil {
		_ = store.Remove(c)
		w.arena.Release(c)
		return nil, err
	}
	return c, nil
}

// RemoveComponent removes the first component of exactly kind from e.
func (w *World) RemoveComponent(e ecs.Entity, kind ecs.TypeKey) error {
	if w.executing.Load() {
		return ErrStructuralChangeDuringTick
	}
	store, ok := w.EntityStore(e)
	if !ok {
		return fmt.Errorf("remove from %s: %w", e, ecs.ErrInvalidEntity)
	}
	if !store.HasType(kind) {
		return fmt.Errorf("remove %s from %s: %w", w.types.Name(kind), e, ecs.ErrComponentNotFound)
	}
	c, _ := store.Lookup(kind)
	w.detach(store, c)
	return nil
}

// Detach removes c from its owner.
func (w *World) Detach(c *ecs.Component) error {
	if w.executing.Load() {
		return ErrStructuralChangeDuringTick
	}
	if !c.Live() {
		return fmt.Errorf("detach: %w", ecs.ErrComponentNotFound)
	}
	store, ok := w.EntityStore(c.Owner())
	if !ok || !store.Contains(c) {
		return fmt.Errorf("detach %s: %w", c, ecs.ErrComponentNotFound)
	}
	w.detach(store, c)
	return nil
}

func (w *World) detach(store *ecs.Store, c *ecs.Component) {
	_ = store.Remove(c)
	_ = w.index.Remove(c)
	w.arena.Release(c)
}

func (w *World) publish(typ string, c *ecs.Component) {
	change := bus.ComponentChange{Entity: c.Owner(), Kind: c.Kind(), Component: c}
	if err := w.bus.Publish(bus.NewEvent(typ, w.name, change)); err != nil {
		w.log.Warn("component handler failed",
			log.String("event", typ),
			log.String("component", w.types.Name(c.Kind())),
			log.Error(err))
	}
}

// Stats summarises the world state between frames. It blocks while a frame
// is running and must not be called from a system or hook.
type Stats struct {
	Frame      uint64
	Entities   int
	Components int
	Systems    int
	Elapsed    time.Duration
}

func (w *World) Stats() Stats {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	return Stats{
		Frame:      w.frame,
		Entities:   w.entities.Alive(),
		Components: w.index.Len(),
		Systems:    w.registry.Len(),
		Elapsed:    w.elapsed,
	}
}

var (
	_ system.View    = (*World)(nil)
	_ system.Mutator = (*World)(nil)
)
