// Package audio is the mixer boundary. A gathering system writes the
// audible voices of the frame into the back half of a double buffer and a
// PostTick hook publishes it for the mixer thread.
package audio

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/world"
)

const GatherSystem = "audio.gather"

type Voice struct {
	Entity ecs.Entity
	Clip   string
	Gain   float64
}

type Snapshot struct {
	Frame    uint64
	Listener components.Vec3
	Voices   []Voice
}

// DoubleBuffer hands whole snapshots from the simulation to a reader. Only
// one goroutine writes Back and calls Swap; any goroutine may call Front.
type DoubleBuffer struct {
	front atomic.Pointer[Snapshot]
	back  *Snapshot
}

func NewDoubleBuffer() *DoubleBuffer {
	b := &DoubleBuffer{back: &Snapshot{}}
	b.front.Store(&Snapshot{})
	return b
}

func (b *DoubleBuffer) Back() *Snapshot { return b.back }

// Front returns the last published snapshot. Readers must not modify it.
func (b *DoubleBuffer) Front() *Snapshot { return b.front.Load() }

// Swap publishes the back snapshot and starts a fresh one.
func (b *DoubleBuffer) Swap() {
	b.front.Store(b.back)
	b.back = &Snapshot{Voices: make([]Voice, 0, len(b.back.Voices))}
}

type Options struct {
	// Falloff scales distance attenuation: gain / (1 + Falloff*distance).
	Falloff float64
	// After lists systems that write transforms or audio components.
	After []string
}

// Gatherer is a query-less system: it reads the listener and every playing
// source from the index once per frame.
type Gatherer struct {
	opts   Options
	keys   components.Keys
	buf    *DoubleBuffer
	frames uint64
}

func NewGatherer(buf *DoubleBuffer, opts Options) *Gatherer {
	return &Gatherer{opts: opts, buf: buf}
}

// Install registers the gatherer and the PostTick swap on w.
func (g *Gatherer) Install(w *world.World) error {
	keys, err := components.Register(w.Types())
	if err != nil {
		return err
	}
	g.keys = keys
	if err = w.Registry().Register(system.Descriptor{
		Name:         GatherSystem,
		System:       g,
		Reads:        []ecs.TypeKey{keys.AudioListener, keys.AudioSource, keys.Transform},
		MustRunAfter: g.opts.After,
	}); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	w.OnPostTick(func(context.Context, time.Duration) error {
		g.buf.Swap()
		return nil
	})
	return nil
}

func (g *Gatherer) QueryTypes() []ecs.TypeKey { return nil }
func (g *Gatherer) MustRunBefore() []string   { return nil }

func (g *Gatherer) Tick(c *system.Context) error {
	g.frames++
	snap := g.buf.Back()
	snap.Frame = g.frames
	snap.Voices = snap.Voices[:0]

	index := c.Index()
	listeners := index.AllOfType(g.keys.AudioListener)
	if len(listeners) == 0 {
		return nil
	}
	slices.SortFunc(listeners, byOwner)
	listener := listeners[0]
	gain := ecs.MustPayload[components.AudioListener](listener).Gain
	if pos, ok := g.position(c, listener.Owner()); ok {
		snap.Listener = pos
	}

	sources := index.AllOfType(g.keys.AudioSource)
	slices.SortFunc(sources, byOwner)
	for _, src := range sources {
		s := ecs.MustPayload[components.AudioSource](src)
		if !s.Playing {
			continue
		}
		v := Voice{Entity: src.Owner(), Clip: s.Clip, Gain: s.Volume * gain}
		if pos, ok := g.position(c, src.Owner()); ok {
			v.Gain /= 1 + g.opts.Falloff*pos.Distance(snap.Listener)
		}
		snap.Voices = append(snap.Voices, v)
	}
	return nil
}

func (g *Gatherer) position(c *system.Context, e ecs.Entity) (components.Vec3, bool) {
	store, ok := c.EntityStore(e)
	if !ok {
		return components.Vec3{}, false
	}
	tr, err := ecs.GetAs[components.Transform](store, g.keys.Transform)
	if err != nil {
		return components.Vec3{}, false
	}
	return tr.Position, true
}

func byOwner(a, b *ecs.Component) int { return cmp.Compare(a.Owner().ID, b.Owner().ID) }

var _ system.System = (*Gatherer)(nil)
