// Package physics links an external rigid-body solver to a world. A read
// system copies bodies out, the solver steps at a sync point, and a write
// system copies the results back.
package physics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/world"
)

const (
	ReadSystem  = "physics.read"
	StepPoint   = "physics.step"
	WriteSystem = "physics.write"
)

// Body is the solver's view of one entity.
type Body struct {
	Entity   ecs.Entity
	Position components.Vec3
	Velocity components.Vec3
	Mass     float64
	Static   bool
}

type Solver interface {
	// Load replaces the solver's bodies. Bodies arrive ordered by entity id.
	Load(bodies []Body)
	Step(dt time.Duration) error
	Results() []Body
}

// Link owns the staging buffers between the world and a Solver.
type Link struct {
	solver Solver
	keys   components.Keys

	mu      sync.Mutex
	staged  []Body
	results map[ecs.Entity]Body
}

func NewLink(solver Solver) *Link {
	return &Link{solver: solver, results: make(map[ecs.Entity]Body)}
}

// Install registers the read and write systems and the step sync point.
// Both systems are opaque: the solver owns transforms between them, so every
// other system touching bodies needs an explicit edge to the bracket.
func (l *Link) Install(w *world.World) error {
	keys, err := components.Register(w.Types())
	if err != nil {
		return err
	}
	l.keys = keys
	query := []ecs.TypeKey{keys.RigidBody, keys.Transform}

	reg := w.Registry()
	if err = reg.Register(system.Descriptor{
		Name:   ReadSystem,
		System: system.Func{Query: query, Fn: l.read},
		Opaque: true,
	}); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	if err = reg.Register(system.Descriptor{
		Name:   WriteSystem,
		System: system.Func{Query: query, Fn: l.write},
		Writes: query,
		Opaque: true,
	}); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	if err = reg.RegisterSyncPoint(system.SyncPoint{
		Name:   StepPoint,
		Run:    l.step,
		After:  []string{ReadSystem},
		Before: []string{WriteSystem},
	}); err != nil {
		return fmt.Errorf("physics: %w", err)
	}
	return nil
}

func (l *Link) read(c *system.Context) error {
	rb := system.Arg[components.RigidBody](c, 0)
	tr := system.Arg[components.Transform](c, 1)
	if rb == nil || tr == nil {
		return nil
	}
	l.mu.Lock()
	l.staged = append(l.staged, Body{
		Entity:   c.Entity,
		Position: tr.Position,
		Velocity: rb.Velocity,
		Mass:     rb.Mass,
		Static:   rb.Static,
	})
	l.mu.Unlock()
	return nil
}

func (l *Link) step(_ context.Context, dt time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slices.SortFunc(l.staged, func(a, b Body) int { return cmp.Compare(a.Entity.ID, b.Entity.ID) })
	l.solver.Load(l.staged)
	l.staged = l.staged[:0]
	if err := l.solver.Step(dt); err != nil {
		return fmt.Errorf("physics step: %w", err)
	}
	clear(l.results)
	for _, b := range l.solver.Results() {
		l.results[b.Entity] = b
	}
	return nil
}

func (l *Link) write(c *system.Context) error {
	l.mu.Lock()
	b, ok := l.results[c.Entity]
	l.mu.Unlock()
	if !ok || b.Static {
		return nil
	}
	system.Arg[components.Transform](c, 1).Position = b.Position
	system.Arg[components.RigidBody](c, 0).Velocity = b.Velocity
	return nil
}

// EulerSolver integrates velocity under constant gravity with explicit
// Euler steps.
type EulerSolver struct {
	Gravity components.Vec3
	bodies  []Body
}

func (s *EulerSolver) Load(bodies []Body) {
	s.bodies = append(s.bodies[:0], bodies...)
}

func (s *EulerSolver) Step(dt time.Duration) error {
	h := dt.Seconds()
	for i := range s.bodies {
		b := &s.bodies[i]
		if b.Static {
			continue
		}
		if b.Mass <= 0 {
			return fmt.Errorf("entity %s: non-positive mass %g", b.Entity, b.Mass)
		}
		b.Velocity = b.Velocity.Add(s.Gravity.Scale(h))
		b.Position = b.Position.Add(b.Velocity.Scale(h))
	}
	return nil
}

func (s *EulerSolver) Results() []Body { return s.bodies }
