package world

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/system/graph"
	"github.com/zeusync/simcore/pkg/concurrent"
)

// span is the per-frame work list of one system. The range update node
// writes it and the tick node reads it; the graph edge between them orders
// the two.
type span struct {
	entry system.Entry
	query []ecs.TypeKey
	due   bool
	items []*ecs.Component
}

type binder struct {
	w     *World
	spans map[string]*span
}

func newBinder(w *World, snap system.Snapshot) *binder {
	return &binder{w: w, spans: make(map[string]*span, len(snap.Systems))}
}

func (b *binder) spanOf(e system.Entry) *span {
	s, ok := b.spans[e.Name]
	if !ok {
		s = &span{entry: e, query: e.QueryTypes()}
		b.spans[e.Name] = s
	}
	return s
}

func (b *binder) RangeUpdate(e system.Entry) graph.Task {
	s := b.spanOf(e)
	return func(context.Context) error {
		s.items = nil
		s.due = b.w.registry.Due(e.Name)
		if !s.due || len(s.query) == 0 {
			return nil
		}
		if e.Polymorphic {
			s.items = b.w.index.AllOfSubclass(s.query[0])
		} else {
			s.items = b.w.index.AllOfType(s.query[0])
		}
		return nil
	}
}

func (b *binder) DoTick(e system.Entry) graph.Task {
	s := b.spanOf(e)
	return func(ctx context.Context) error {
		if !s.due {
			return nil
		}
		start := time.Now()
		n, err := b.tick(ctx, s)
		b.w.registry.Record(e.Name, n, time.Since(start), err)
		return err
	}
}

func (b *binder) Sync(sp system.SyncPoint) graph.Task {
	return func(ctx context.Context) error {
		if sp.Run == nil {
			return nil
		}
		return sp.Run(ctx, b.w.delta)
	}
}

func (b *binder) delta(e system.Entry) time.Duration {
	if e.Timed {
		return e.Interval
	}
	return b.w.delta
}

func (b *binder) tick(ctx context.Context, s *span) (int, error) {
	sys := s.entry.System
	dt := b.delta(s.entry)

	if len(s.query) == 0 {
		c := b.w.contexts.Get()
		defer b.w.contexts.Put(c)
		c.Prepare(ctx, b.w, s.entry.Name, dt)
		return 0, guard(func() error { return sys.Tick(c) })
	}

	var ticked atomic.Int64
	err := concurrent.ForEachChunk(ctx, len(s.items), b.w.grain, b.w.workers, func(ctx context.Context, lo, hi int) error {
		c := b.w.contexts.Get()
		defer b.w.contexts.Put(c)
		for _, head := range s.items[lo:hi] {
			c.Prepare(ctx, b.w, s.entry.Name, dt)
			if !b.match(c, s, head) {
				continue
			}
			if err := guard(func() error { return sys.Tick(c) }); err != nil {
				return err
			}
			ticked.Add(1)
		}
		return nil
	})
	return int(ticked.Load()), err
}

// match fills c with head and the owner's component for every other query
// type, reporting false if the owner lacks one.
func (b *binder) match(c *system.Context, s *span, head *ecs.Component) bool {
	owner := head.Owner()
	store := b.w.stores[owner.ID]
	c.Entity = owner
	c.Components = append(c.Components, head)
	for _, key := range s.query[1:] {
		var (
			other *ecs.Component
			ok    bool
		)
		if s.entry.Polymorphic {
			other, ok = store.Lookup(key)
		} else if store.HasType(key) {
			other, ok = store.Lookup(key)
		}
		if !ok {
			return false
		}
		c.Components = append(c.Components, other)
	}
	return true
}

// guard turns a panic in fn into an error. Chunks run on their own
// goroutines, so the executor's recovery does not reach them.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", graph.ErrPanic, r)
		}
	}()
	return fn()
}
