// Package render is the renderer boundary: it tracks mesh renderers through
// component events and publishes per-material draw lists once per frame.
package render

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/events/bus"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/world"
)

// Command draws one mesh with its world matrix.
type Command struct {
	Entity ecs.Entity
	Mesh   string
	World  [16]float64
}

// Frame is immutable once published.
type Frame struct {
	Number  uint64
	Elapsed time.Duration
	// Batches maps a material to its commands, ordered by entity id.
	Batches map[string][]Command
}

// Draws counts the commands of f.
func (f *Frame) Draws() int {
	n := 0
	for _, b := range f.Batches {
		n += len(b)
	}
	return n
}

type Collector struct {
	keys components.Keys

	mu      sync.Mutex
	members map[*ecs.Component]struct{}
	subs    []bus.Subscription
	frames  uint64

	latest atomic.Pointer[Frame]
}

func NewCollector() *Collector {
	return &Collector{members: make(map[*ecs.Component]struct{})}
}

// Attach subscribes to w's component events, adopts the mesh renderers
// already present and registers c as a frame sink.
func (c *Collector) Attach(w *world.World) error {
	keys, err := components.Register(w.Types())
	if err != nil {
		return err
	}
	c.keys = keys

	added, err := w.Bus().Subscribe(bus.ComponentAdded, c.onAdded)
	if err != nil {
		return err
	}
	removed, err := w.Bus().Subscribe(bus.ComponentRemoved, c.onRemoved)
	if err != nil {
		_ = added.Cancel()
		return err
	}

	c.mu.Lock()
	c.subs = append(c.subs, added, removed)
	for _, comp := range w.Index().AllOfType(keys.MeshRenderer) {
		c.members[comp] = struct{}{}
	}
	c.mu.Unlock()

	w.AttachSink(c)
	return nil
}

// Detach stops tracking component events.
func (c *Collector) Detach() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	var errs error
	for _, s := range subs {
		errs = errors.Join(errs, s.Cancel())
	}
	return errs
}

func (c *Collector) onAdded(ev bus.Event) error {
	change, ok := ev.Data().(bus.ComponentChange)
	if !ok || change.Kind != c.keys.MeshRenderer {
		return nil
	}
	c.mu.Lock()
	c.members[change.Component] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Collector) onRemoved(ev bus.Event) error {
	change, ok := ev.Data().(bus.ComponentChange)
	if !ok || change.Kind != c.keys.MeshRenderer {
		return nil
	}
	c.mu.Lock()
	delete(c.members, change.Component)
	c.mu.Unlock()
	return nil
}

// RenderSync builds the next frame from the drained world. Meshes whose
// owner has no Transform are skipped.
func (c *Collector) RenderSync(_ context.Context, view system.View, _ time.Duration) error {
	c.mu.Lock()
	meshes := make([]*ecs.Component, 0, len(c.members))
	for comp := range c.members {
		meshes = append(meshes, comp)
	}
	c.frames++
	frame := &Frame{Number: c.frames, Elapsed: view.Elapsed(), Batches: make(map[string][]Command)}
	c.mu.Unlock()

	slices.SortFunc(meshes, func(a, b *ecs.Component) int { return cmp.Compare(a.Owner().ID, b.Owner().ID) })
	for _, comp := range meshes {
		mesh, ok := ecs.Payload[components.MeshRenderer](comp)
		if !ok {
			continue
		}
		store, ok := view.EntityStore(comp.Owner())
		if !ok {
			continue
		}
		tr, err := ecs.GetAs[components.Transform](store, c.keys.Transform)
		if err != nil {
			continue
		}
		frame.Batches[mesh.Material] = append(frame.Batches[mesh.Material], Command{
			Entity: comp.Owner(),
			Mesh:   mesh.Mesh,
			World:  tr.Matrix(),
		})
	}
	c.latest.Store(frame)
	return nil
}

// Latest returns the last published frame, nil before the first one.
// Safe to call from any goroutine.
func (c *Collector) Latest() *Frame {
	return c.latest.Load()
}

var _ world.FrameSink = (*Collector)(nil)
