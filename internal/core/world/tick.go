package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/system"
	"github.com/zeusync/simcore/internal/core/system/analyzer"
	"github.com/zeusync/simcore/internal/core/system/graph"
)

// Hook runs in a serial phase of the frame.
type Hook func(ctx context.Context, dt time.Duration) error

// FrameSink is called once per frame after the graph drained and PostTick
// ran. Sinks read the world; they must not mutate it.
type FrameSink interface {
	RenderSync(ctx context.Context, view system.View, dt time.Duration) error
}

type asyncCall struct {
	at  time.Duration
	seq uint64
	fn  func(system.Mutator) error
}

// Defer queues cmd for the next serial phase. Safe for concurrent use.
func (w *World) Defer(cmd func(system.Mutator) error) {
	if cmd == nil {
		return
	}
	w.mu.Lock()
	w.commands = append(w.commands, cmd)
	w.mu.Unlock()
}

// QueueDestroy schedules e for destruction in the next serial phase. Stale
// handles are ignored then.
func (w *World) QueueDestroy(e ecs.Entity) {
	w.mu.Lock()
	w.doomed = append(w.doomed, e)
	w.mu.Unlock()
}

// DispatchAsync runs fn during the PostTick of the first frame whose
// simulated time reaches now + delay. Calls due in the same frame run in
// due order, ties in dispatch order.
func (w *World) DispatchAsync(fn func(system.Mutator) error, delay time.Duration) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.asyncSeq++
	w.async = append(w.async, asyncCall{at: w.elapsed + max(delay, 0), seq: w.asyncSeq, fn: fn})
	w.mu.Unlock()
}

// OnPreTick hooks run after queued commands are applied and before the clock
// and timed gates advance.
func (w *World) OnPreTick(h Hook) {
	w.mu.Lock()
	w.preTick = append(w.preTick, h)
	w.mu.Unlock()
}

func (w *World) OnPostTick(h Hook) {
	w.mu.Lock()
	w.postTick = append(w.postTick, h)
	w.mu.Unlock()
}

func (w *World) AttachSink(s FrameSink) {
	w.mu.Lock()
	w.sinks = append(w.sinks, s)
	w.mu.Unlock()
}

// Tick advances the world by one frame:
// rebuild if needed, PreTick, execute the graph, PostTick, render sync.
// A configuration or execution error aborts the frame; later phases of that
// frame are skipped and queued commands stay queued.
func (w *World) Tick(ctx context.Context, dt time.Duration) error {
	if dt < 0 {
		return fmt.Errorf("tick %s: %w", dt, ErrNegativeDelta)
	}
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	if err := w.rebuildIfNeeded(); err != nil {
		return err
	}
	if err := w.runPreTick(ctx, dt); err != nil {
		return err
	}
	if err := w.execute(ctx); err != nil {
		return err
	}
	if err := w.runPostTick(ctx, dt); err != nil {
		return err
	}
	if err := w.renderSync(ctx, dt); err != nil {
		return err
	}
	w.mu.Lock()
	w.frame++
	w.mu.Unlock()
	return nil
}

// Rebuild forces the analyzer and graph builder to run now.
func (w *World) Rebuild() error {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	return w.rebuildIfNeeded()
}

// Graph returns the current task graph, nil before the first build.
func (w *World) Graph() *graph.Graph {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	return w.graph
}

// DumpGraph writes the current task graph in dot format, building it first
// if the registry changed.
func (w *World) DumpGraph(out io.Writer) error {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()
	if err := w.rebuildIfNeeded(); err != nil {
		return err
	}
	return w.graph.Dump(out, w.name)
}

func (w *World) rebuildIfNeeded() error {
	if w.graph != nil && !w.registry.NeedsRebuild() {
		return nil
	}
	start := time.Now()
	snap := w.registry.Snapshot()
	report, err := analyzer.Check(snap, analyzer.Options{Overlap: w.overlap, Types: w.types})
	if err != nil {
		w.log.Error("schedule rejected", log.Uint64("generation", snap.Generation), log.Error(err))
		return err
	}
	g, err := graph.Build(snap, report.Ordering, newBinder(w, snap))
	if err != nil {
		w.log.Error("graph build failed", log.Uint64("generation", snap.Generation), log.Error(err))
		return err
	}
	w.graph = g
	w.registry.MarkBuilt(snap.Generation)
	w.log.Info("task graph rebuilt",
		log.Uint64("generation", snap.Generation),
		log.Int("systems", len(snap.Systems)),
		log.Int("sync_points", len(snap.SyncPoints)),
		log.Int("nodes", g.Len()),
		log.Int("parallel_pairs", len(report.Parallel)),
		log.String("fingerprint", fmt.Sprintf("%016x", g.Fingerprint())),
		log.Duration("took", time.Since(start)))
	return nil
}

// runPreTick advances the clock and timed gates only once the hooks
// succeeded, so an aborted PreTick consumes no simulated time.
func (w *World) runPreTick(ctx context.Context, dt time.Duration) error {
	w.applyQueued()
	if err := w.runHooks(ctx, dt, w.hooks(&w.preTick)); err != nil {
		return err
	}
	w.mu.Lock()
	w.delta = dt
	w.elapsed += dt
	w.mu.Unlock()
	w.registry.Advance(dt)
	return nil
}

func (w *World) execute(ctx context.Context) error {
	w.executing.Store(true)
	defer w.executing.Store(false)
	if err := w.executor.Run(ctx, w.graph); err != nil {
		w.log.Warn("frame aborted", log.Uint64("frame", w.frame), log.Error(err))
		return err
	}
	return nil
}

func (w *World) runPostTick(ctx context.Context, dt time.Duration) error {
	w.applyQueued()
	w.fireAsync()
	return w.runHooks(ctx, dt, w.hooks(&w.postTick))
}

func (w *World) renderSync(ctx context.Context, dt time.Duration) error {
	w.mu.Lock()
	sinks := slices.Clone(w.sinks)
	w.mu.Unlock()
	for _, s := range sinks {
		if err := s.RenderSync(ctx, w, dt); err != nil {
			return fmt.Errorf("render sync: %w", err)
		}
	}
	return nil
}

func (w *World) hooks(list *[]Hook) []Hook {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(*list)
}

func (w *World) runHooks(ctx context.Context, dt time.Duration, hooks []Hook) error {
	var errs error
	for _, h := range hooks {
		if err := h(ctx, dt); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// applyQueued runs deferred commands, then destroys queued entities.
// Commands queued by commands run in the same pass.
func (w *World) applyQueued() {
	for {
		w.mu.Lock()
		commands, doomed := w.commands, w.doomed
		w.commands, w.doomed = nil, nil
		w.mu.Unlock()
		if len(commands) == 0 && len(doomed) == 0 {
			return
		}
		for _, cmd := range commands {
			if err := cmd(w); err != nil {
				w.log.Warn("deferred command failed", log.Error(err))
			}
		}
		for _, e := range doomed {
			if !w.entities.IsValid(e) {
				continue
			}
			if err := w.DestroyEntity(e); err != nil {
				w.log.Warn("queued destroy failed", log.String("entity", e.String()), log.Error(err))
			}
		}
	}
}

func (w *World) fireAsync() {
	w.mu.Lock()
	var due []asyncCall
	kept := w.async[:0]
	for _, call := range w.async {
		if call.at <= w.elapsed {
			due = append(due, call)
		} else {
			kept = append(kept, call)
		}
	}
	clear(w.async[len(kept):])
	w.async = kept
	w.mu.Unlock()

	slices.SortFunc(due, func(a, b asyncCall) int {
		if c := cmp.Compare(a.at, b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	for _, call := range due {
		if err := call.fn(w); err != nil {
			w.log.Warn("async callback failed", log.Error(err))
		}
	}
	w.applyQueued()
}
