package world

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/events/bus"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/system/analyzer"
	"github.com/zeusync/simcore/internal/core/system/graph"
)

type position struct{ X, Y float64 }
type velocity struct{ X, Y float64 }
type health struct{ HP int }

type fixture struct {
	w        *World
	movable  ecs.TypeKey
	position ecs.TypeKey
	velocity ecs.TypeKey
	health   ecs.TypeKey
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	w := New(Options{Name: "test", Workers: workers, Grain: 4})
	types := w.Types()
	movable := types.MustRegister("Movable")
	return &fixture{
		w:        w,
		movable:  movable,
		position: types.MustRegister("Position", movable),
		velocity: types.MustRegister("Velocity"),
		health:   types.MustRegister("Health"),
	}
}

func (f *fixture) spawn(t *testing.T, p position, v *velocity) ecs.Entity {
	t.Helper()
	e, err := f.w.CreateEntity()
	require.NoError(t, err)
	_, err = f.w.AddComponent(e, f.position, &p)
	require.NoError(t, err)
	if v != nil {
		_, err = f.w.AddComponent(e, f.velocity, v)
		require.NoError(t, err)
	}
	return e
}

func (f *fixture) register(t *testing.T, d system.Descriptor, query []ecs.TypeKey, fn func(*system.Context) error) {
	t.Helper()
	d.System = system.Func{Query: query, Fn: fn}
	require.NoError(t, f.w.Registry().Register(d))
}

func positionOf(t *testing.T, w *World, e ecs.Entity, key ecs.TypeKey) position {
	t.Helper()
	store, ok := w.EntityStore(e)
	require.True(t, ok)
	p, err := ecs.GetAs[position](store, key)
	require.NoError(t, err)
	return *p
}

func TestComponentRoundTrip(t *testing.T) {
	f := newFixture(t, 1)
	e := f.spawn(t, position{X: 1}, nil)

	assert.Equal(t, position{X: 1}, positionOf(t, f.w, e, f.position))
	store, _ := f.w.EntityStore(e)
	assert.True(t, store.HasSubclass(f.movable))
	assert.Equal(t, 1, f.w.Index().CountOfSubclass(f.movable))

	require.NoError(t, f.w.RemoveComponent(e, f.position))
	_, err := store.Get(f.position)
	assert.ErrorIs(t, err, ecs.ErrComponentNotFound)
	assert.False(t, store.HasSubclass(f.movable))
	assert.Zero(t, f.w.Index().Len())

	assert.ErrorIs(t, f.w.RemoveComponent(e, f.position), ecs.ErrComponentNotFound)
	_, err = f.w.AddComponent(e, ecs.TypeKey(999), &health{})
	assert.ErrorIs(t, err, ecs.ErrUnknownType)
}

func TestStaleHandleAfterReuse(t *testing.T) {
	f := newFixture(t, 1)
	old := f.spawn(t, position{}, nil)
	require.NoError(t, f.w.DestroyEntity(old))

	reused, err := f.w.CreateEntity()
	require.NoError(t, err)
	assert.Equal(t, old.ID, reused.ID)
	assert.NotEqual(t, old.Version, reused.Version)

	assert.False(t, f.w.IsValid(old))
	assert.True(t, f.w.IsValid(reused))
	_, ok := f.w.EntityStore(old)
	assert.False(t, ok)
	_, err = f.w.AddComponent(old, f.health, &health{})
	assert.ErrorIs(t, err, ecs.ErrInvalidEntity)
	assert.ErrorIs(t, f.w.DestroyEntity(old), ecs.ErrInvalidEntity)
}

func TestDestroyFiresRemoveEvents(t *testing.T) {
	f := newFixture(t, 1)
	var added, removed []ecs.TypeKey
	_, err := f.w.Bus().Subscribe(bus.ComponentAdded, func(ev bus.Event) error {
		added = append(added, ev.Data().(bus.ComponentChange).Kind)
		return nil
	})
	require.NoError(t, err)
	_, err = f.w.Bus().Subscribe(bus.ComponentRemoved, func(ev bus.Event) error {
		change := ev.Data().(bus.ComponentChange)
		assert.True(t, change.Component.Live())
		removed = append(removed, change.Kind)
		return nil
	})
	require.NoError(t, err)

	e := f.spawn(t, position{}, &velocity{})
	require.NoError(t, f.w.DestroyEntity(e))

	assert.Equal(t, []ecs.TypeKey{f.position, f.velocity}, added)
	assert.ElementsMatch(t, []ecs.TypeKey{f.position, f.velocity}, removed)
	assert.Zero(t, f.w.Index().Len())
	assert.Zero(t, f.w.Stats().Entities)
}

func TestUnsafeScheduleIsRejectedUntilOrdered(t *testing.T) {
	f := newFixture(t, 4)
	var entities []ecs.Entity
	for i := 0; i < 32; i++ {
		entities = append(entities, f.spawn(t, position{X: float64(i)}, &velocity{X: 1}))
	}

	f.register(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{f.position}},
		[]ecs.TypeKey{f.position, f.velocity},
		func(c *system.Context) error {
			p := system.Arg[position](c, 0)
			v := system.Arg[velocity](c, 1)
			p.X += v.X
			return nil
		})

	var mu sync.Mutex
	seen := make(map[ecs.Entity]float64)
	f.register(t, system.Descriptor{Name: "observe"}, []ecs.TypeKey{f.position},
		func(c *system.Context) error {
			mu.Lock()
			seen[c.Entity] = system.Arg[position](c, 0).X
			mu.Unlock()
			return nil
		})

	err := f.w.Tick(context.Background(), time.Millisecond)
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.UnsafeAccess, cfg.Kind)
	assert.True(t, f.w.Registry().NeedsRebuild())
	assert.Zero(t, f.w.Frame())

	require.NoError(t, f.w.Registry().CreateDependency("integrate", "observe"))
	for frame := 1; frame <= 3; frame++ {
		require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
		for i, e := range entities {
			assert.Equal(t, float64(i+frame), seen[e], "frame %d entity %d", frame, i)
		}
	}
	assert.False(t, f.w.Registry().NeedsRebuild())
}

func TestDisjointSystemsRunWithoutEdges(t *testing.T) {
	f := newFixture(t, 4)
	e := f.spawn(t, position{}, &velocity{})
	hp, err := f.w.AddComponent(e, f.health, &health{HP: 10})
	require.NoError(t, err)

	f.register(t, system.Descriptor{Name: "move", Writes: []ecs.TypeKey{f.position}}, []ecs.TypeKey{f.position},
		func(c *system.Context) error { system.Arg[position](c, 0).X++; return nil })
	f.register(t, system.Descriptor{Name: "decay", Writes: []ecs.TypeKey{f.health}}, []ecs.TypeKey{f.health},
		func(c *system.Context) error { system.Arg[health](c, 0).HP--; return nil })

	for i := 0; i < 5; i++ {
		require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	}
	assert.Equal(t, 5.0, positionOf(t, f.w, e, f.position).X)
	assert.Equal(t, 5, ecs.MustPayload[health](hp).HP)
}

func TestSystemsOnTaggedKindsRunWithoutEdges(t *testing.T) {
	for _, mode := range []analyzer.OverlapMode{analyzer.OverlapSubset, analyzer.OverlapIntersect} {
		t.Run(mode.String(), func(t *testing.T) {
			w := New(Options{Workers: 4, Grain: 2, Overlap: mode})
			movable := w.Types().MustRegister("Movable")
			pos := w.Types().MustRegister("Position", movable)
			vel := w.Types().MustRegister("Velocity", movable)

			var entities []ecs.Entity
			for range 8 {
				e, err := w.CreateEntity()
				require.NoError(t, err)
				_, err = w.AddComponent(e, pos, &position{})
				require.NoError(t, err)
				_, err = w.AddComponent(e, vel, &velocity{})
				require.NoError(t, err)
				entities = append(entities, e)
			}

			require.NoError(t, w.Registry().Register(system.Descriptor{
				Name:   "move",
				Writes: []ecs.TypeKey{pos},
				System: system.Func{Query: []ecs.TypeKey{pos}, Fn: func(c *system.Context) error {
					system.Arg[position](c, 0).X++
					return nil
				}},
			}))
			require.NoError(t, w.Registry().Register(system.Descriptor{
				Name:   "drag",
				Writes: []ecs.TypeKey{vel},
				System: system.Func{Query: []ecs.TypeKey{vel}, Fn: func(c *system.Context) error {
					system.Arg[velocity](c, 0).Y--
					return nil
				}},
			}))

			for range 3 {
				require.NoError(t, w.Tick(context.Background(), time.Millisecond))
			}
			for _, e := range entities {
				store, ok := w.EntityStore(e)
				require.True(t, ok)
				p, err := ecs.GetAs[position](store, pos)
				require.NoError(t, err)
				v, err := ecs.GetAs[velocity](store, vel)
				require.NoError(t, err)
				assert.Equal(t, 3.0, p.X)
				assert.Equal(t, -3.0, v.Y)
			}
		})
	}
}

func TestEdgeFreeSystemsAreDeterministic(t *testing.T) {
	run := func(workers int) []float64 {
		f := newFixture(t, workers)
		var entities []ecs.Entity
		for i := 0; i < 100; i++ {
			entities = append(entities, f.spawn(t, position{X: float64(i)}, &velocity{X: float64(i % 7)}))
			_, err := f.w.AddComponent(entities[i], f.health, &health{HP: i})
			require.NoError(t, err)
		}
		f.register(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{f.position}},
			[]ecs.TypeKey{f.position, f.velocity},
			func(c *system.Context) error {
				system.Arg[position](c, 0).X += system.Arg[velocity](c, 1).X * c.Seconds()
				return nil
			})
		f.register(t, system.Descriptor{Name: "heal", Writes: []ecs.TypeKey{f.health}}, []ecs.TypeKey{f.health},
			func(c *system.Context) error { system.Arg[health](c, 0).HP += 2; return nil })

		for i := 0; i < 10; i++ {
			require.NoError(t, f.w.Tick(context.Background(), 100*time.Millisecond))
		}
		out := make([]float64, 0, 2*len(entities))
		for _, e := range entities {
			store, _ := f.w.EntityStore(e)
			h, _ := ecs.GetAs[health](store, f.health)
			out = append(out, positionOf(t, f.w, e, f.position).X, float64(h.HP))
		}
		return out
	}
	assert.Equal(t, run(1), run(8))
}

func TestMultiTypeQueryMatchesOnlyCompleteEntities(t *testing.T) {
	f := newFixture(t, 2)
	full := f.spawn(t, position{}, &velocity{X: 2})
	partial := f.spawn(t, position{}, nil)

	f.register(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{f.position}},
		[]ecs.TypeKey{f.position, f.velocity},
		func(c *system.Context) error {
			system.Arg[position](c, 0).X += system.Arg[velocity](c, 1).X
			return nil
		})
	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))

	assert.Equal(t, 2.0, positionOf(t, f.w, full, f.position).X)
	assert.Equal(t, 0.0, positionOf(t, f.w, partial, f.position).X)
	stats, ok := f.w.Registry().Stats("integrate")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Entities)
	assert.Equal(t, uint64(1), stats.Ticks)
}

func TestPolymorphicSystemIteratesAlternates(t *testing.T) {
	f := newFixture(t, 2)
	f.spawn(t, position{}, nil)
	f.spawn(t, position{}, nil)

	var mu sync.Mutex
	exact, poly := 0, 0
	f.register(t, system.Descriptor{Name: "exact"}, []ecs.TypeKey{f.movable},
		func(*system.Context) error { mu.Lock(); exact++; mu.Unlock(); return nil })
	f.register(t, system.Descriptor{Name: "poly", Polymorphic: true}, []ecs.TypeKey{f.movable},
		func(c *system.Context) error {
			_, ok := ecs.Payload[position](c.Components[0])
			assert.True(t, ok)
			mu.Lock()
			poly++
			mu.Unlock()
			return nil
		})

	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	assert.Zero(t, exact)
	assert.Equal(t, 2, poly)
}

func TestQuerylessSystemTicksOnce(t *testing.T) {
	f := newFixture(t, 4)
	for i := 0; i < 10; i++ {
		f.spawn(t, position{}, nil)
	}
	calls := 0
	f.register(t, system.Descriptor{Name: "frame"}, nil, func(c *system.Context) error {
		calls++
		assert.Equal(t, ecs.InvalidEntity, c.Entity)
		assert.Equal(t, "frame", c.System())
		return nil
	})
	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	assert.Equal(t, 1, calls)
}

func TestTimedCadenceResetsToZero(t *testing.T) {
	f := newFixture(t, 1)
	var ticks []uint64
	var deltas []time.Duration
	d := system.Descriptor{Name: "slow", System: system.Func{Fn: func(c *system.Context) error {
		ticks = append(ticks, f.w.Frame())
		deltas = append(deltas, c.Delta)
		return nil
	}}}
	require.NoError(t, f.w.Registry().RegisterTimed(d, 30*time.Millisecond))

	for i := 0; i < 9; i++ {
		require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	}
	assert.Equal(t, []uint64{2, 5, 8}, ticks)
	assert.Equal(t, []time.Duration{30 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}, deltas)

	ticks = nil
	for i := 0; i < 3; i++ {
		require.NoError(t, f.w.Tick(context.Background(), 100*time.Millisecond))
	}
	assert.Len(t, ticks, 3, "a long frame fires once, never catches up")
}

func TestFailedPreTickKeepsTimedGates(t *testing.T) {
	f := newFixture(t, 1)
	var fired []time.Duration
	d := system.Descriptor{Name: "slow", System: system.Func{Fn: func(*system.Context) error {
		fired = append(fired, f.w.Elapsed())
		return nil
	}}}
	require.NoError(t, f.w.Registry().RegisterTimed(d, 20*time.Millisecond))

	fail := true
	f.w.OnPreTick(func(context.Context, time.Duration) error {
		if fail {
			fail = false
			return errors.New("input not ready")
		}
		return nil
	})

	require.Error(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Zero(t, f.w.Elapsed())
	assert.Zero(t, f.w.Frame())

	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Empty(t, fired)
	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, fired)
}

func TestClockReadableWhileTicking(t *testing.T) {
	f := newFixture(t, 2)
	f.spawn(t, position{}, nil)
	f.register(t, system.Descriptor{Name: "idle"}, []ecs.TypeKey{f.position},
		func(*system.Context) error { return nil })

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var lastFrame uint64
		var lastElapsed time.Duration
		for {
			select {
			case <-done:
				return
			default:
			}
			frame, elapsed := f.w.Frame(), f.w.Elapsed()
			assert.GreaterOrEqual(t, frame, lastFrame)
			assert.GreaterOrEqual(t, elapsed, lastElapsed)
			lastFrame, lastElapsed = frame, elapsed
		}
	}()

	for range 50 {
		require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	}
	close(done)
	wg.Wait()
	assert.Equal(t, uint64(50), f.w.Frame())
	assert.Equal(t, 50*time.Millisecond, f.w.Elapsed())
}

func TestStructuralChangeDuringTickIsRejected(t *testing.T) {
	f := newFixture(t, 2)
	e := f.spawn(t, position{}, nil)

	var addErr, destroyErr, createErr error
	f.register(t, system.Descriptor{Name: "meddle"}, nil, func(c *system.Context) error {
		_, addErr = f.w.AddComponent(e, f.health, &health{})
		destroyErr = f.w.DestroyEntity(e)
		_, createErr = f.w.CreateEntity()
		return nil
	})
	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))

	assert.ErrorIs(t, addErr, ErrStructuralChangeDuringTick)
	assert.ErrorIs(t, destroyErr, ErrStructuralChangeDuringTick)
	assert.ErrorIs(t, createErr, ErrStructuralChangeDuringTick)
	assert.True(t, f.w.IsValid(e))
}

func TestDeferredCommandsApplyAfterDrain(t *testing.T) {
	f := newFixture(t, 2)
	victim := f.spawn(t, position{}, nil)

	counts := make([]int, 0)
	f.register(t, system.Descriptor{Name: "spawner"}, nil, func(c *system.Context) error {
		counts = append(counts, c.Index().CountOfType(f.position))
		if f.w.Frame() == 0 {
			c.Defer(func(m system.Mutator) error {
				e, err := m.CreateEntity()
				if err != nil {
					return err
				}
				_, err = m.AddComponent(e, f.position, &position{X: 7})
				return err
			})
			c.QueueDestroy(victim)
			c.QueueDestroy(victim)
		}
		return nil
	})

	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	assert.False(t, f.w.IsValid(victim))
	assert.Equal(t, 1, f.w.Index().CountOfType(f.position))

	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	assert.Equal(t, []int{1, 1}, counts)
}

func TestDispatchAsyncUsesSimulatedTime(t *testing.T) {
	f := newFixture(t, 1)
	var fired []string
	f.w.DispatchAsync(func(system.Mutator) error { fired = append(fired, "late"); return nil }, 25*time.Millisecond)
	f.w.DispatchAsync(func(system.Mutator) error { fired = append(fired, "soon"); return nil }, 10*time.Millisecond)
	f.w.DispatchAsync(func(system.Mutator) error { fired = append(fired, "soon-2"); return nil }, 10*time.Millisecond)

	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Equal(t, []string{"soon", "soon-2"}, fired)
	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Len(t, fired, 2)
	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Equal(t, []string{"soon", "soon-2", "late"}, fired)
}

type sinkFunc func(ctx context.Context, view system.View, dt time.Duration) error

func (s sinkFunc) RenderSync(ctx context.Context, view system.View, dt time.Duration) error {
	return s(ctx, view, dt)
}

func TestFramePhasesRunInOrder(t *testing.T) {
	f := newFixture(t, 2)
	var phases []string
	f.w.OnPreTick(func(context.Context, time.Duration) error { phases = append(phases, "pre"); return nil })
	f.w.OnPostTick(func(context.Context, time.Duration) error { phases = append(phases, "post"); return nil })
	f.w.AttachSink(sinkFunc(func(_ context.Context, view system.View, _ time.Duration) error {
		assert.Equal(t, 10*time.Millisecond, view.Elapsed())
		phases = append(phases, "render")
		return nil
	}))
	f.register(t, system.Descriptor{Name: "sys"}, nil, func(*system.Context) error {
		phases = append(phases, "exec")
		return nil
	})

	require.NoError(t, f.w.Tick(context.Background(), 10*time.Millisecond))
	assert.Equal(t, []string{"pre", "exec", "post", "render"}, phases)
	assert.Equal(t, uint64(1), f.w.Frame())
}

func TestExecutionErrorAbortsFrame(t *testing.T) {
	f := newFixture(t, 2)
	f.spawn(t, position{}, nil)
	failure := errors.New("diverged")

	ranAfter := false
	postRan := false
	f.w.OnPostTick(func(context.Context, time.Duration) error { postRan = true; return nil })
	f.register(t, system.Descriptor{Name: "solver"}, []ecs.TypeKey{f.position}, func(c *system.Context) error {
		c.Defer(func(m system.Mutator) error {
			_, err := m.CreateEntity()
			return err
		})
		return failure
	})
	f.register(t, system.Descriptor{Name: "after", MustRunAfter: []string{"solver"}}, nil, func(*system.Context) error {
		ranAfter = true
		return nil
	})

	err := f.w.Tick(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, failure)
	var execErr *graph.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "solver", execErr.System)
	assert.False(t, ranAfter)
	assert.False(t, postRan)
	assert.Zero(t, f.w.Frame())
	assert.Equal(t, 1, f.w.Stats().Entities, "deferred spawn still queued")

	stats, _ := f.w.Registry().Stats("solver")
	assert.Equal(t, uint64(1), stats.Errors)

	require.True(t, f.w.Registry().Unregister("after"))
	require.True(t, f.w.Registry().Unregister("solver"))
	require.NoError(t, f.w.Tick(context.Background(), time.Millisecond))
	assert.Equal(t, 2, f.w.Stats().Entities)
	assert.True(t, postRan)
}

func TestPanicInSystemBecomesError(t *testing.T) {
	f := newFixture(t, 4)
	for i := 0; i < 20; i++ {
		f.spawn(t, position{}, nil)
	}
	f.register(t, system.Descriptor{Name: "fragile"}, []ecs.TypeKey{f.position}, func(*system.Context) error {
		panic("bad payload")
	})
	err := f.w.Tick(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, graph.ErrPanic)
}

func TestDumpGraph(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, system.Descriptor{Name: "a"}, nil, func(*system.Context) error { return nil })

	var buf strings.Builder
	require.NoError(t, f.w.DumpGraph(&buf))
	assert.Contains(t, buf.String(), `"a range update"`)
	require.NotNil(t, f.w.Graph())
	assert.Equal(t, 2, f.w.Graph().Len())
}
