package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/system"
)

type fixture struct {
	types    *ecs.Types
	position ecs.TypeKey
	velocity ecs.TypeKey
	health   ecs.TypeKey
	mesh     ecs.TypeKey
	reg      *system.Registry
}

func newFixture() *fixture {
	types := ecs.NewTypes()
	return &fixture{
		types:    types,
		position: types.MustRegister("Position"),
		velocity: types.MustRegister("Velocity"),
		health:   types.MustRegister("Health"),
		mesh:     types.MustRegister("Mesh"),
		reg:      system.NewRegistry(),
	}
}

func (f *fixture) add(t *testing.T, d system.Descriptor, query ...ecs.TypeKey) {
	t.Helper()
	d.System = system.Func{Query: query, Fn: func(*system.Context) error { return nil }}
	require.NoError(t, f.reg.Register(d))
}

func (f *fixture) check() (*Report, error) {
	return Check(f.reg.Snapshot(), Options{Types: f.types})
}

func TestWriterAndReaderWithoutEdgeFail(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "A", Writes: []ecs.TypeKey{f.position}}, f.position)
	f.add(t, system.Descriptor{Name: "B", Reads: []ecs.TypeKey{f.position}}, f.position)

	_, err := f.check()
	require.ErrorIs(t, err, system.ErrConfiguration)

	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.UnsafeAccess, cfg.Kind)
	assert.Equal(t, []string{"A", "B"}, cfg.Systems)
	assert.Equal(t, "Position", cfg.Type)
	assert.Contains(t, err.Error(), "Position")

	require.NoError(t, f.reg.CreateDependency("A", "B"))
	report, err := f.check()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{A: "A", B: "B"}}, report.Ordered)
	assert.Empty(t, report.Parallel)
}

func TestQueryTypesCountAsReads(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "writer", Writes: []ecs.TypeKey{f.position}}, f.position)
	f.add(t, system.Descriptor{Name: "iterator"}, f.position)

	_, err := f.check()
	assert.ErrorIs(t, err, system.ErrConfiguration)
}

func TestDisjointQueriesNeverConflict(t *testing.T) {
	f := newFixture()
	all := []ecs.TypeKey{f.position, f.velocity, f.health, f.mesh}
	f.add(t, system.Descriptor{Name: "movement", Writes: all, Reads: all}, f.position, f.velocity)
	f.add(t, system.Descriptor{Name: "regen", Writes: all, Reads: all}, f.health)
	f.add(t, system.Descriptor{Name: "draw", Writes: all}, f.mesh)

	report, err := f.check()
	require.NoError(t, err)
	assert.Len(t, report.Parallel, 3)
}

func TestReadersShareFreely(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "a", Reads: []ecs.TypeKey{f.velocity}}, f.position)
	f.add(t, system.Descriptor{Name: "b", Reads: []ecs.TypeKey{f.velocity}}, f.position, f.velocity)

	_, err := f.check()
	assert.NoError(t, err)
}

func TestSubsetRuleIgnoresPartialOverlap(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "a", Writes: []ecs.TypeKey{f.position}}, f.position, f.velocity)
	f.add(t, system.Descriptor{Name: "b", Writes: []ecs.TypeKey{f.position}}, f.position, f.health)

	_, err := f.check()
	assert.NoError(t, err, "neither query contains the other")

	_, err = Check(f.reg.Snapshot(), Options{Overlap: OverlapIntersect, Types: f.types})
	assert.ErrorIs(t, err, system.ErrConfiguration, "intersect mode sees the shared Position")
}

func TestSubsetRuleCatchesContainedQuery(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "wide", Writes: []ecs.TypeKey{f.velocity}}, f.position, f.velocity)
	f.add(t, system.Descriptor{Name: "narrow", Reads: []ecs.TypeKey{f.velocity}}, f.position)

	_, err := f.check()
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "Velocity", cfg.Type)
}

func TestOpaqueSystemNeedsExplicitEdge(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "physics.read", Opaque: true})
	f.add(t, system.Descriptor{Name: "ai"}, f.health)

	_, err := f.check()
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.UnscopedAccess, cfg.Kind)
	assert.ElementsMatch(t, []string{"physics.read", "ai"}, cfg.Systems)

	require.NoError(t, f.reg.CreateDependency("ai", "physics.read"))
	_, err = f.check()
	assert.NoError(t, err)
}

func TestSyncPointProvidesTransitiveOrdering(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "pre", Opaque: true})
	f.add(t, system.Descriptor{Name: "post", Opaque: true})
	require.NoError(t, f.reg.RegisterSyncPoint(system.SyncPoint{
		Name:   "step",
		Run:    func(context.Context, time.Duration) error { return nil },
		After:  []string{"pre"},
		Before: []string{"post"},
	}))

	_, err := f.check()
	assert.NoError(t, err)
}

func TestCycleIsConfigurationError(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "a"}, f.position)
	f.add(t, system.Descriptor{Name: "b", MustRunAfter: []string{"a"}}, f.velocity)
	require.NoError(t, f.reg.CreateDependency("b", "a"))

	_, err := f.check()
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.Cycle, cfg.Kind)
}

func TestEmptyQueryOverlapsEverything(t *testing.T) {
	f := newFixture()
	f.add(t, system.Descriptor{Name: "gather", Reads: []ecs.TypeKey{f.position}})
	f.add(t, system.Descriptor{Name: "move", Writes: []ecs.TypeKey{f.position}}, f.position)

	_, err := f.check()
	assert.ErrorIs(t, err, system.ErrConfiguration)
}

func TestParseOverlapMode(t *testing.T) {
	assert.Equal(t, OverlapIntersect, ParseOverlapMode("intersect"))
	assert.Equal(t, OverlapSubset, ParseOverlapMode("subset"))
	assert.Equal(t, OverlapSubset, ParseOverlapMode(""))
	assert.Equal(t, "intersect", OverlapIntersect.String())
}

func TestTagQueryReachesConcreteWriters(t *testing.T) {
	f := newFixture()
	movable := f.types.MustRegister("Movable")
	body := f.types.MustRegister("Body", movable)

	f.add(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{body}}, body)
	f.add(t, system.Descriptor{Name: "cull", Polymorphic: true}, movable)

	_, err := f.check()
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.UnsafeAccess, cfg.Kind)

	require.NoError(t, f.reg.CreateDependency("integrate", "cull"))
	_, err = f.check()
	assert.NoError(t, err)
}

func TestDisjointQueriesSharingATagNeverConflict(t *testing.T) {
	for _, mode := range []OverlapMode{OverlapSubset, OverlapIntersect} {
		t.Run(mode.String(), func(t *testing.T) {
			types := ecs.NewTypes()
			movable := types.MustRegister("Movable")
			position := types.MustRegister("Position", movable)
			velocity := types.MustRegister("Velocity", movable)

			reg := system.NewRegistry()
			nop := func(*system.Context) error { return nil }
			require.NoError(t, reg.Register(system.Descriptor{
				Name:   "A",
				System: system.Func{Query: []ecs.TypeKey{position}, Fn: nop},
				Writes: []ecs.TypeKey{position},
			}))
			require.NoError(t, reg.Register(system.Descriptor{
				Name:   "B",
				System: system.Func{Query: []ecs.TypeKey{velocity}, Fn: nop},
				Writes: []ecs.TypeKey{velocity},
			}))

			report, err := Check(reg.Snapshot(), Options{Overlap: mode, Types: types})
			require.NoError(t, err)
			assert.Equal(t, []Pair{{A: "A", B: "B"}}, report.Parallel)
		})
	}
}

func TestConcreteAlternateDoesNotWidenExactQueries(t *testing.T) {
	for _, mode := range []OverlapMode{OverlapSubset, OverlapIntersect} {
		t.Run(mode.String(), func(t *testing.T) {
			types := ecs.NewTypes()
			position := types.MustRegister("Position")
			velocity := types.MustRegister("Velocity", position)

			reg := system.NewRegistry()
			nop := func(*system.Context) error { return nil }
			require.NoError(t, reg.Register(system.Descriptor{
				Name:   "A",
				System: system.Func{Query: []ecs.TypeKey{position}, Fn: nop},
				Writes: []ecs.TypeKey{position},
			}))
			require.NoError(t, reg.Register(system.Descriptor{
				Name:   "B",
				System: system.Func{Query: []ecs.TypeKey{velocity}, Fn: nop},
				Writes: []ecs.TypeKey{velocity},
			}))

			_, err := Check(reg.Snapshot(), Options{Overlap: mode, Types: types})
			assert.NoError(t, err)
		})
	}
}

func TestDeclaredTagReadReachesConcreteWriters(t *testing.T) {
	f := newFixture()
	movable := f.types.MustRegister("Movable")
	body := f.types.MustRegister("Body", movable)

	f.add(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{body}}, body)
	f.add(t, system.Descriptor{Name: "census"})
	_, err := f.check()
	require.NoError(t, err, "a query-less system reading nothing is disjoint")

	require.True(t, f.reg.Unregister("census"))
	f.add(t, system.Descriptor{Name: "census", Reads: []ecs.TypeKey{movable}})
	_, err = f.check()
	var cfg *system.ConfigError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, system.UnsafeAccess, cfg.Kind)
	assert.Equal(t, "Body", cfg.Type)
}

func TestExactTagQueryIgnoresConcreteWriters(t *testing.T) {
	f := newFixture()
	movable := f.types.MustRegister("Movable")
	body := f.types.MustRegister("Body", movable)

	f.add(t, system.Descriptor{Name: "integrate", Writes: []ecs.TypeKey{body}}, body)
	f.add(t, system.Descriptor{Name: "cull"}, movable)

	_, err := Check(f.reg.Snapshot(), Options{Overlap: OverlapIntersect, Types: f.types})
	assert.NoError(t, err)
}
