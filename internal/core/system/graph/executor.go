package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ExecutionError wraps a failure raised by a node body.
type ExecutionError struct {
	System string
	Node   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("system %q (%s): %v", e.System, e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrPanic is wrapped by ExecutionErrors produced from a recovered panic.
var ErrPanic = errors.New("panic in node")

// Executor runs graphs on a fixed number of workers. Each Run is a barrier:
// it returns only after every node finished or after the first failure, in
// which case nodes that had not started yet are never run.
type Executor struct {
	workers int
}

// NewExecutor creates an executor; workers <= 0 means GOMAXPROCS.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Executor{workers: workers}
}

func (e *Executor) Workers() int { return e.workers }

// Run executes g. Cancelling ctx does not interrupt a running graph: a tick
// runs to completion or to its first failure.
func (e *Executor) Run(ctx context.Context, g *Graph) error {
	total := len(g.nodes)
	if total == 0 {
		return nil
	}

	pending := make([]atomic.Int32, total)
	ready := make(chan *Node, total)
	for _, n := range g.nodes {
		pending[n.ID].Store(int32(n.preds))
		if n.preds == 0 {
			ready <- n
		}
	}

	var remaining atomic.Int64
	remaining.Store(int64(total))
	done := make(chan struct{})

	group, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	workers := min(e.workers, total)
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-done:
					return nil
				case n := <-ready:
					if groupCtx.Err() != nil {
						return nil
					}
					if err := runNode(groupCtx, n); err != nil {
						return err
					}
					for _, s := range n.succ {
						if pending[s].Add(-1) == 0 {
							ready <- g.nodes[s]
						}
					}
					if remaining.Add(-1) == 0 {
						close(done)
					}
				}
			}
		})
	}
	return group.Wait()
}

func runNode(ctx context.Context, n *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{System: n.Owner, Node: n.Kind.String(), Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()
	if n.run == nil {
		return nil
	}
	if err = n.run(ctx); err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return err
		}
		return &ExecutionError{System: n.Owner, Node: n.Kind.String(), Err: err}
	}
	return nil
}
