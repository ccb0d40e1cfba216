package system

import (
	"context"
	"time"

	"github.com/zeusync/simcore/internal/core/ecs"
)

// System is a per-tick behavior operating over the entities matching its
// query. Tick is called once per matched entity, concurrently for different
// entities, so it must only touch the components it was handed or declared.
// A system with an empty query is ticked exactly once per frame.
type System interface {
	Tick(ctx *Context) error
	QueryTypes() []ecs.TypeKey
	MustRunBefore() []string
}

// Descriptor is what the registry stores for a system. Read and write sets
// are declared up front and are the only input of the safety checker.
type Descriptor struct {
	Name   string
	System System

	// Reads and Writes list every component kind the system touches beyond
	// what it iterates. Query types are implicitly read.
	Reads  []ecs.TypeKey
	Writes []ecs.TypeKey

	// MustRunAfter complements System.MustRunBefore.
	MustRunAfter []string

	// Opaque marks systems with whole-world access. They cannot be proven
	// safe and must be explicitly ordered against every other system.
	Opaque bool

	// Polymorphic systems iterate components answering to the query keys as
	// alternates, not only components of that exact kind.
	Polymorphic bool
}

// QueryTypes returns the system's query, never nil.
func (d Descriptor) QueryTypes() []ecs.TypeKey {
	if d.System == nil {
		return nil
	}
	return d.System.QueryTypes()
}

// ReadSet returns the declared reads plus the query.
func (d Descriptor) ReadSet() []ecs.TypeKey {
	q := d.QueryTypes()
	out := make([]ecs.TypeKey, 0, len(q)+len(d.Reads))
	out = append(out, q...)
	return append(out, d.Reads...)
}

func (d Descriptor) MustRunBefore() []string {
	if d.System == nil {
		return nil
	}
	return d.System.MustRunBefore()
}

// Mutator is the structural API. Deferred commands receive it during the
// serial phases of a tick.
type Mutator interface {
	CreateEntity() (ecs.Entity, error)
	DestroyEntity(e ecs.Entity) error
	AddComponent(e ecs.Entity, kind ecs.TypeKey, value any) (*ecs.Component, error)
	RemoveComponent(e ecs.Entity, kind ecs.TypeKey) error
}

// View is the read-only world access available inside Tick, plus the
// queues used to request structural changes for the next serial phase.
type View interface {
	Types() *ecs.Types
	IsValid(e ecs.Entity) bool
	EntityStore(e ecs.Entity) (*ecs.Store, bool)
	Index() *ecs.Store
	Elapsed() time.Duration

	Defer(cmd func(Mutator) error)
	QueueDestroy(e ecs.Entity)
}

// Context is handed to every Tick call. Contexts are pooled: systems must
// not retain them after Tick returns.
type Context struct {
	context.Context
	View

	Delta      time.Duration
	Entity     ecs.Entity
	Components []*ecs.Component

	system string
}

// NewContext prepares a context for one Tick call.
func NewContext(parent context.Context, view View, system string, delta time.Duration) *Context {
	return &Context{Context: parent, View: view, system: system, Delta: delta, Entity: ecs.InvalidEntity}
}

func (c *Context) System() string { return c.system }

// Seconds returns Delta as fractional seconds.
func (c *Context) Seconds() float64 { return c.Delta.Seconds() }

// Reset clears per-entity state so the context can be reused.
func (c *Context) Reset() {
	c.Context = nil
	c.View = nil
	c.Delta = 0
	c.Entity = ecs.InvalidEntity
	c.Components = c.Components[:0]
	c.system = ""
}

// Prepare fills the per-call fields of a pooled context.
func (c *Context) Prepare(parent context.Context, view View, system string, delta time.Duration) {
	c.Context = parent
	c.View = view
	c.system = system
	c.Delta = delta
	c.Entity = ecs.InvalidEntity
	c.Components = c.Components[:0]
}

// Arg returns the payload of the i-th query component as *T.
func Arg[T any](c *Context, i int) *T {
	if i < 0 || i >= len(c.Components) {
		return nil
	}
	v, _ := ecs.Payload[T](c.Components[i])
	return v
}

// Func adapts a function to System.
type Func struct {
	Query  []ecs.TypeKey
	Before []string
	Fn     func(ctx *Context) error
}

func (f Func) Tick(ctx *Context) error   { return f.Fn(ctx) }
func (f Func) QueryTypes() []ecs.TypeKey { return f.Query }
func (f Func) MustRunBefore() []string   { return f.Before }

var _ System = Func{}

// SyncPoint is an opaque step anchored in the graph: every system listed in
// After completes before Run starts, and every system listed in Before starts
// only after Run returns.
type SyncPoint struct {
	Name   string
	Run    func(ctx context.Context, dt time.Duration) error
	After  []string
	Before []string
}
