// Package analyzer proves that no two systems that may run concurrently
// race on component data. It runs on every graph rebuild, before the graph
// is built, and reports the first unsafe pair as a fatal *system.ConfigError.
package analyzer

import (
	"fmt"
	"slices"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/system"
)

// OverlapMode selects how query sets are compared.
type OverlapMode uint8

const (
	// OverlapSubset treats two queries as overlapping only when one query
	// set contains the other. Systems sharing some but not all query types
	// are considered disjoint.
	OverlapSubset OverlapMode = iota
	// OverlapIntersect treats any shared query type as an overlap.
	OverlapIntersect
)

func (m OverlapMode) String() string {
	if m == OverlapIntersect {
		return "intersect"
	}
	return "subset"
}

// ParseOverlapMode maps config strings to modes; unknown strings are subset.
func ParseOverlapMode(s string) OverlapMode {
	if s == "intersect" {
		return OverlapIntersect
	}
	return OverlapSubset
}

type Options struct {
	Overlap OverlapMode
	// Types resolves key names for diagnostics. Optional.
	Types *ecs.Types
}

// Pair is an unordered pair of systems.
type Pair struct {
	A, B string
}

// Report summarises a successful check.
type Report struct {
	Ordering *system.Ordering
	// Ordered pairs have a transitive ordering edge.
	Ordered []Pair
	// Parallel pairs have no edge and were proven conflict-free.
	Parallel []Pair
}

// Check runs the pairwise analysis over snap.
func Check(snap system.Snapshot, opts Options) (*Report, error) {
	ordering, err := snap.Ordering()
	if err != nil {
		return nil, err
	}

	report := &Report{Ordering: ordering}
	systems := snap.Systems
	for i := 0; i < len(systems); i++ {
		for j := i + 1; j < len(systems); j++ {
			a, b := systems[i], systems[j]
			pair := Pair{A: a.Name, B: b.Name}
			if ordering.Ordered(a.Name, b.Name) {
				report.Ordered = append(report.Ordered, pair)
				continue
			}
			if err = checkPair(a, b, opts); err != nil {
				return nil, err
			}
			report.Parallel = append(report.Parallel, pair)
		}
	}
	return report, nil
}

func checkPair(a, b system.Entry, opts Options) error {
	if a.Opaque || b.Opaque {
		return &system.ConfigError{Kind: system.UnscopedAccess, Systems: []string{a.Name, b.Name}}
	}
	ax, bx := opts.access(a), opts.access(b)
	if !overlaps(ax.query, bx.query, opts.Overlap) {
		return nil
	}
	if key, ok := opts.conflict(ax, bx); ok {
		return &system.ConfigError{
			Kind:    system.UnsafeAccess,
			Systems: []string{a.Name, b.Name},
			Type:    typeName(opts.Types, key),
		}
	}
	return nil
}

// access holds the key sets a system is checked with. A polymorphic query
// also iterates every kind declaring a query key as an alternate, so its
// query is widened by those kinds. reach lists the keys the system touches
// through their subclasses: declared reads and writes, plus the query of a
// polymorphic system.
type access struct {
	query  []ecs.TypeKey
	reads  []ecs.TypeKey
	writes []ecs.TypeKey
	reach  []ecs.TypeKey
}

func (o Options) access(e system.Entry) access {
	q := e.QueryTypes()
	x := access{
		query:  q,
		reads:  e.ReadSet(),
		writes: e.Writes,
		reach:  slices.Concat(e.Reads, e.Writes),
	}
	if e.Polymorphic {
		x.query = o.widen(q)
		x.reach = append(x.reach, q...)
	}
	return x
}

func (o Options) widen(keys []ecs.TypeKey) []ecs.TypeKey {
	if o.Types == nil {
		return keys
	}
	out := slices.Clone(keys)
	for _, k := range keys {
		for _, sub := range o.Types.Subclasses(k) {
			if !slices.Contains(out, sub) {
				out = append(out, sub)
			}
		}
	}
	return out
}

// answers reports whether components of kind are indexed under tag.
func (o Options) answers(kind, tag ecs.TypeKey) bool {
	if o.Types == nil {
		return false
	}
	info, ok := o.Types.Info(kind)
	return ok && slices.Contains(info.Alternates, tag)
}

// touches reports whether key k of x and key j of y can name the same
// component: the same key, or a kind and one of its alternates that the
// other side reaches through subclasses.
func (o Options) touches(k ecs.TypeKey, x access, j ecs.TypeKey, y access) bool {
	if k == j {
		return true
	}
	if o.answers(k, j) && slices.Contains(y.reach, j) {
		return true
	}
	return o.answers(j, k) && slices.Contains(x.reach, k)
}

// conflict finds a key written by one system and read or written by the other.
func (o Options) conflict(a, b access) (ecs.TypeKey, bool) {
	if key, ok := o.writeHits(a, b); ok {
		return key, true
	}
	return o.writeHits(b, a)
}

func (o Options) writeHits(x, y access) (ecs.TypeKey, bool) {
	for _, w := range x.writes {
		for _, j := range slices.Concat(y.reads, y.writes) {
			if o.touches(w, x, j, y) {
				return w, true
			}
		}
	}
	return ecs.NoType, false
}

// overlaps is a static proxy for "could touch the same entities". An empty
// query ticks once per frame without an entity and is treated as reaching
// every entity.
func overlaps(qa, qb []ecs.TypeKey, mode OverlapMode) bool {
	if len(qa) == 0 || len(qb) == 0 {
		return true
	}
	if mode == OverlapIntersect {
		return slices.ContainsFunc(qa, func(k ecs.TypeKey) bool { return slices.Contains(qb, k) })
	}
	return subset(qa, qb) || subset(qb, qa)
}

func subset(small, big []ecs.TypeKey) bool {
	for _, k := range small {
		if !slices.Contains(big, k) {
			return false
		}
	}
	return true
}

func typeName(types *ecs.Types, key ecs.TypeKey) string {
	if types == nil {
		return fmt.Sprintf("type#%d", key)
	}
	return types.Name(key)
}
