package system

// Ordering is the explicit ordering relation between graph nodes: systems
// first, in registration order, then sync points. It is built from
// CreateDependency edges, MustRunBefore/MustRunAfter declarations and sync
// point anchors, and is guaranteed acyclic.
type Ordering struct {
	names   []string
	index   map[string]int
	systems int
	succ    [][]int
	topo    []int
	reach   []bitset
}

// Ordering validates every reference in the snapshot and computes the
// transitive closure of the explicit edges.
func (s Snapshot) Ordering() (*Ordering, error) {
	o := &Ordering{index: make(map[string]int, len(s.Systems)+len(s.SyncPoints))}
	for _, e := range s.Systems {
		o.add(e.Name)
	}
	o.systems = len(o.names)
	for _, sp := range s.SyncPoints {
		o.add(sp.Name)
	}
	o.succ = make([][]int, len(o.names))

	link := func(owner, before, after string) error {
		b, ok := o.index[before]
		if !ok {
			return &ConfigError{Kind: UnknownReference, Systems: []string{owner, before}}
		}
		a, ok := o.index[after]
		if !ok {
			return &ConfigError{Kind: UnknownReference, Systems: []string{owner, after}}
		}
		o.link(b, a)
		return nil
	}

	for _, e := range s.Edges {
		if err := link(e.Before, e.Before, e.After); err != nil {
			return nil, err
		}
	}
	for _, e := range s.Systems {
		for _, next := range e.MustRunBefore() {
			if err := link(e.Name, e.Name, next); err != nil {
				return nil, err
			}
		}
		for _, prev := range e.MustRunAfter {
			if err := link(e.Name, prev, e.Name); err != nil {
				return nil, err
			}
		}
	}
	for _, sp := range s.SyncPoints {
		for _, prev := range sp.After {
			if err := link(sp.Name, prev, sp.Name); err != nil {
				return nil, err
			}
		}
		for _, next := range sp.Before {
			if err := link(sp.Name, sp.Name, next); err != nil {
				return nil, err
			}
		}
	}

	if err := o.sort(); err != nil {
		return nil, err
	}
	o.close()
	return o, nil
}

func (o *Ordering) add(name string) {
	o.index[name] = len(o.names)
	o.names = append(o.names, name)
}

func (o *Ordering) link(from, to int) {
	for _, s := range o.succ[from] {
		if s == to {
			return
		}
	}
	o.succ[from] = append(o.succ[from], to)
}

// sort computes a topological order (Kahn) and reports a cycle if one exists.
func (o *Ordering) sort() error {
	indeg := make([]int, len(o.names))
	for _, next := range o.succ {
		for _, n := range next {
			indeg[n]++
		}
	}
	queue := make([]int, 0, len(o.names))
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	o.topo = make([]int, 0, len(o.names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		o.topo = append(o.topo, n)
		for _, s := range o.succ[n] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(o.topo) == len(o.names) {
		return nil
	}
	return &ConfigError{Kind: Cycle, Systems: o.findCycle(indeg)}
}

// findCycle walks predecessors among the nodes Kahn could not release.
// Every such node has at least one unreleased predecessor, so the walk
// must revisit a node, and the revisited stretch is a cycle.
func (o *Ordering) findCycle(indeg []int) []string {
	pred := make([][]int, len(o.names))
	for from, next := range o.succ {
		if indeg[from] == 0 {
			continue
		}
		for _, to := range next {
			pred[to] = append(pred[to], from)
		}
	}
	n := -1
	for i, d := range indeg {
		if d > 0 {
			n = i
			break
		}
	}
	seen := make(map[int]int)
	path := make([]int, 0)
	for {
		if at, ok := seen[n]; ok {
			walk := path[at:]
			cycle := make([]string, 0, len(walk)+1)
			for i := len(walk) - 1; i >= 0; i-- {
				cycle = append(cycle, o.names[walk[i]])
			}
			return append(cycle, cycle[0])
		}
		seen[n] = len(path)
		path = append(path, n)
		n = pred[n][0]
	}
}

// close computes reachability in reverse topological order.
func (o *Ordering) close() {
	o.reach = make([]bitset, len(o.names))
	for i := len(o.topo) - 1; i >= 0; i-- {
		n := o.topo[i]
		r := newBitset(len(o.names))
		for _, s := range o.succ[n] {
			r.set(s)
			r.or(o.reach[s])
		}
		o.reach[n] = r
	}
}

// Before reports whether a transitive edge forces a to finish before b starts.
func (o *Ordering) Before(a, b string) bool {
	ai, ok := o.index[a]
	if !ok {
		return false
	}
	bi, ok := o.index[b]
	if !ok {
		return false
	}
	return o.reach[ai].has(bi)
}

// Ordered reports whether a and b are ordered in either direction.
func (o *Ordering) Ordered(a, b string) bool { return o.Before(a, b) || o.Before(b, a) }

// Successors returns the direct successors of name.
func (o *Ordering) Successors(name string) []string {
	i, ok := o.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(o.succ[i]))
	for j, s := range o.succ[i] {
		out[j] = o.names[s]
	}
	return out
}

// Topological returns every node name in a valid execution order.
func (o *Ordering) Topological() []string {
	out := make([]string, len(o.topo))
	for i, n := range o.topo {
		out[i] = o.names[n]
	}
	return out
}

// IsSyncPoint reports whether name is a sync point rather than a system.
func (o *Ordering) IsSyncPoint(name string) bool {
	i, ok := o.index[name]
	return ok && i >= o.systems
}

type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (b bitset) set(i int)      { b[i/64] |= 1 << (uint(i) % 64) }
func (b bitset) has(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }

func (b bitset) or(other bitset) {
	for i := range b {
		b[i] |= other[i]
	}
}
