// Package graph turns a validated registry snapshot into an executable DAG
// and runs it on a bounded worker pool.
package graph

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/simcore/internal/core/system"
)

// NodeKind distinguishes the nodes generated per system and per sync point.
type NodeKind uint8

const (
	RangeUpdate NodeKind = iota
	DoTick
	Sync
)

func (k NodeKind) String() string {
	switch k {
	case RangeUpdate:
		return "range update"
	case DoTick:
		return "tick"
	case Sync:
		return "sync"
	default:
		return "unknown"
	}
}

// Task is the body of a node.
type Task func(ctx context.Context) error

// Binder supplies node bodies. The builder only knows topology; the world
// decides what a range update or a tick actually does.
type Binder interface {
	RangeUpdate(e system.Entry) Task
	DoTick(e system.Entry) Task
	Sync(sp system.SyncPoint) Task
}

type Node struct {
	ID    int
	Kind  NodeKind
	Owner string
	Name  string
	Timed bool
	run   Task
	succ  []int
	preds int
}

// Successors returns the ids of the nodes that wait on n.
func (n *Node) Successors() []int { return n.succ }

// Predecessors returns how many nodes n waits on.
func (n *Node) Predecessors() int { return n.preds }

// Graph is immutable once built and may be executed any number of times,
// but never concurrently with itself.
type Graph struct {
	nodes       []*Node
	ordering    *system.Ordering
	fingerprint uint64
	generation  uint64
}

// Build creates a (range update -> tick) pair per system and one node per
// sync point, then wires explicit ordering: the tick node of a predecessor
// precedes the range update node of its successor. ordering may be nil, in
// which case it is derived from snap.
func Build(snap system.Snapshot, ordering *system.Ordering, binder Binder) (*Graph, error) {
	if ordering == nil {
		var err error
		if ordering, err = snap.Ordering(); err != nil {
			return nil, err
		}
	}

	g := &Graph{ordering: ordering, generation: snap.Generation}
	entry := make(map[string]int, len(snap.Systems)+len(snap.SyncPoints))
	exit := make(map[string]int, len(snap.Systems)+len(snap.SyncPoints))

	for _, e := range snap.Systems {
		r := g.add(&Node{Kind: RangeUpdate, Owner: e.Name, Name: e.Name + " range update", Timed: e.Timed, run: binder.RangeUpdate(e)})
		t := g.add(&Node{Kind: DoTick, Owner: e.Name, Name: e.Name, Timed: e.Timed, run: binder.DoTick(e)})
		g.link(r, t)
		entry[e.Name], exit[e.Name] = r, t
	}
	for _, sp := range snap.SyncPoints {
		s := g.add(&Node{Kind: Sync, Owner: sp.Name, Name: sp.Name, run: binder.Sync(sp)})
		entry[sp.Name], exit[sp.Name] = s, s
	}

	for _, name := range ordering.Topological() {
		from, ok := exit[name]
		if !ok {
			return nil, fmt.Errorf("build: %q: %w", name, system.ErrUnknownSystem)
		}
		for _, next := range ordering.Successors(name) {
			to, ok := entry[next]
			if !ok {
				return nil, fmt.Errorf("build: %q: %w", next, system.ErrUnknownSystem)
			}
			g.link(from, to)
		}
	}

	if err := g.verifyAcyclic(); err != nil {
		return nil, err
	}
	g.fingerprint = g.digest()
	return g, nil
}

func (g *Graph) add(n *Node) int {
	n.ID = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return n.ID
}

func (g *Graph) link(from, to int) {
	for _, s := range g.nodes[from].succ {
		if s == to {
			return
		}
	}
	g.nodes[from].succ = append(g.nodes[from].succ, to)
	g.nodes[to].preds++
}

func (g *Graph) verifyAcyclic() error {
	indeg := make([]int, len(g.nodes))
	queue := make([]int, 0, len(g.nodes))
	for i, n := range g.nodes {
		indeg[i] = n.preds
		if n.preds == 0 {
			queue = append(queue, i)
		}
	}
	seen := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		seen++
		for _, s := range g.nodes[n].succ {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if seen == len(g.nodes) {
		return nil
	}
	stuck := make([]string, 0)
	for i, d := range indeg {
		if d > 0 {
			stuck = append(stuck, g.nodes[i].Name)
		}
	}
	return &system.ConfigError{Kind: system.Cycle, Systems: stuck}
}

// digest hashes node identities and edges in id order.
func (g *Graph) digest() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, n := range g.nodes {
		_, _ = h.WriteString(n.Name)
		buf[0] = byte(n.Kind)
		_, _ = h.Write(buf[:1])
		for _, s := range n.succ {
			binary.LittleEndian.PutUint64(buf[:], uint64(s))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

func (g *Graph) Len() int                   { return len(g.nodes) }
func (g *Graph) Node(id int) *Node          { return g.nodes[id] }
func (g *Graph) Ordering() *system.Ordering { return g.ordering }
func (g *Graph) Generation() uint64         { return g.generation }

// Fingerprint identifies the topology; equal registries give equal values.
func (g *Graph) Fingerprint() uint64 { return g.fingerprint }

// Roots returns the nodes without predecessors.
func (g *Graph) Roots() []int {
	out := make([]int, 0)
	for _, n := range g.nodes {
		if n.preds == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Find returns the node named name.
func (g *Graph) Find(name string) (*Node, bool) {
	for _, n := range g.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Dump writes the graph in Graphviz dot format.
func (g *Graph) Dump(w io.Writer, title string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", title)
	for _, n := range g.nodes {
		shape := "box"
		if n.Kind == Sync {
			shape = "diamond"
		}
		fmt.Fprintf(&b, "  n%d [label=%q shape=%s];\n", n.ID, n.Name, shape)
	}
	for _, n := range g.nodes {
		for _, s := range n.succ {
			fmt.Fprintf(&b, "  n%d -> n%d;\n", n.ID, s)
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
