package pregel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/internal/infrastructure/tracing"
)

// run is the state of one Invoke or Resume.
type run struct {
	e      *Executor
	chans  *channel.Set
	signal *InterruptSignal
	log    *zap.Logger

	cfg      checkpoint.Config // latest persisted checkpoint
	step     int               // number of the next superstep
	lastStep int               // step of the latest checkpoint
	next     []int
	pending  recovered // completed nodes of the first superstep
	resumed  bool
	executed int
}

// outcome summarizes a finished superstep.
type outcome struct {
	ran         []int
	interrupted []int
	terminate   bool
	stop        *stop // set when the run ends after this superstep
}

// stop is a decision to end the run.
type stop struct {
	status Status
	reason InterruptReason
	nodes  []int
}

func interruptFor(reason InterruptReason, nodes []int) *stop {
	return &stop{status: StatusInterrupted, reason: reason, nodes: nodes}
}

func (r *run) loop(ctx context.Context) (*Result, error) {
	if s := r.entry(ctx); s != nil {
		return r.finish(s), nil
	}
	for {
		out, err := r.superstep(ctx)
		if err != nil {
			return r.result(StatusFailed, nil), err
		}
		if out.stop == nil {
			continue
		}
		res := r.finish(out.stop)
		if res.Status == StatusFailed {
			return res, fmt.Errorf("%w: %d supersteps", ErrMaxIterations, r.executed)
		}
		return res, nil
	}
}

// entry checks the termination conditions that hold before any superstep.
func (r *run) entry(ctx context.Context) *stop {
	switch {
	case r.signal.consume():
		return interruptFor(ReasonSignal, r.next)
	case ctx.Err() != nil:
		return interruptFor(ReasonCancelled, r.next)
	case len(r.next) == 0:
		return &stop{status: StatusCompleted}
	case !r.resumed:
		if hit := r.matching(r.next, r.e.before); len(hit) > 0 {
			return interruptFor(ReasonBefore, hit)
		}
	}
	return nil
}

// terminal applies the end-of-superstep checks in priority order. It runs
// before the superstep's checkpoint is written, so a superstep that ends the
// run is always persisted.
func (r *run) terminal(ctx context.Context, out outcome) *stop {
	if len(out.interrupted) > 0 {
		return interruptFor(ReasonNode, out.interrupted)
	}
	if hit := r.matching(out.ran, r.e.after); len(hit) > 0 {
		return interruptFor(ReasonAfter, hit)
	}
	if r.signal.consume() {
		return interruptFor(ReasonSignal, r.next)
	}
	if ctx.Err() != nil {
		return interruptFor(ReasonCancelled, r.next)
	}
	if hit := r.matching(r.next, r.e.before); len(hit) > 0 {
		return interruptFor(ReasonBefore, hit)
	}
	if len(r.next) == 0 || out.terminate {
		return &stop{status: StatusCompleted}
	}
	if r.executed+1 >= r.e.maxIter {
		return &stop{status: StatusFailed}
	}
	return nil
}

func (r *run) finish(s *stop) *Result {
	if s.status == StatusInterrupted {
		return r.interrupt(s.reason, s.nodes)
	}
	return r.result(s.status, nil)
}

func (r *run) matching(nodes []int, set map[int]bool) []int {
	var hit []int
	for _, i := range nodes {
		if set[i] {
			hit = append(hit, i)
		}
	}
	return hit
}

func (r *run) interrupt(reason InterruptReason, nodes []int) *Result {
	return r.result(StatusInterrupted, &Interrupt{
		Reason:       reason,
		Nodes:        r.e.graph.IDs(nodes),
		Config:       r.cfg,
		CheckpointID: r.cfg.CheckpointID,
	})
}

func (r *run) result(status Status, intr *Interrupt) *Result {
	return &Result{
		Status:    status,
		Config:    r.cfg,
		Step:      r.lastStep,
		Values:    r.chans.Values(),
		Interrupt: intr,
	}
}

// superstep runs the active set once: execute, barrier, checkpoint, emit.
func (r *run) superstep(ctx context.Context) (outcome, error) {
	start := time.Now()
	step := r.step
	ids := r.e.graph.IDs(r.next)
	ctx, span := tracing.Start(ctx, r.e.tracer, tracing.SpanSuperstep,
		tracing.AttrStep.Int(step),
		tracing.AttrNodes.StringSlice(ids),
	)
	out, err := r.runStep(ctx, step)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	r.e.opts.metrics.ObserveSuperstep(r.e.graph.Name(), status, time.Since(start))
	tracing.End(span, err)
	return out, err
}

func (r *run) runStep(ctx context.Context, step int) (outcome, error) {
	g := r.e.graph
	// In-flight work always finishes; cancellation is observed between steps.
	work := context.WithoutCancel(ctx)

	snap := r.chans.Snapshot()
	versions := r.chans.Versions()
	r.chans.BeginStep()

	active := r.next
	outputs := make([]graph.Output, len(active))
	errs := make([]error, len(active))
	fresh := make([]bool, len(active))
	var tasks []task
	var slots []int
	for k, i := range active {
		if out, ok := r.pending[i]; ok {
			outputs[k] = out
			continue
		}
		fresh[k] = true
		tasks = append(tasks, func() error {
			out, err := r.runNode(work, step, i, snap)
			outputs[k] = out
			return err
		})
		slots = append(slots, k)
	}
	if len(r.pending) > 0 {
		r.log.Debug("recovered completed nodes", zap.Int(logging.FieldStep, step), zap.Int("count", len(active)-len(tasks)))
	}
	r.pending = nil

	for n, err := range r.e.sched.run(work, tasks) {
		errs[slots[n]] = err
	}

	// Barrier. Successful nodes are recorded first so that a resume after a
	// failure only re-runs the nodes that failed.
	var failed []*NodeError
	for k, i := range active {
		if errs[k] != nil {
			failed = append(failed, &NodeError{Node: g.NodeID(i), Step: step, Err: errs[k]})
			continue
		}
		if !fresh[k] {
			continue
		}
		if err := r.e.store.PutWrites(work, r.cfg, pendingWrites(outputs[k]), g.NodeID(i)); err != nil {
			return outcome{}, persistenceError("put writes", err)
		}
	}
	if len(failed) > 0 {
		for _, ne := range failed {
			r.log.Warn("node failed", zap.Int(logging.FieldStep, step), zap.String(logging.FieldNode, ne.Node), zap.Error(ne.Err))
		}
		if err := r.chans.Restore(snap.Values(), versions); err != nil {
			return outcome{}, err
		}
		return outcome{}, &StepError{Step: step, Errors: failed}
	}

	var out outcome
	updates := make(map[string][]any)
	for k, i := range active {
		for _, w := range outputs[k].Writes {
			updates[w.Channel] = append(updates[w.Channel], w.Value)
		}
		switch outputs[k].Control {
		case graph.ControlInterrupt:
			out.interrupted = append(out.interrupted, i)
		case graph.ControlTerminate:
			out.terminate = true
		}
	}
	out.ran = active
	changed, err := r.chans.Apply(updates)
	if err != nil {
		if rerr := r.chans.Restore(snap.Values(), versions); rerr != nil {
			return outcome{}, rerr
		}
		return outcome{}, fmt.Errorf("superstep %d merge: %w: %w", step, ErrInvalidWrite, err)
	}

	next, err := g.Next(work, active, r.chans.Snapshot(), changed)
	if err != nil {
		if rerr := r.chans.Restore(snap.Values(), versions); rerr != nil {
			return outcome{}, rerr
		}
		return outcome{}, fmt.Errorf("superstep %d: %w", step, err)
	}
	if out.terminate {
		next = nil
	}
	r.next = next
	out.stop = r.terminal(ctx, out)

	lastNode := ""
	if len(active) > 0 {
		lastNode = g.NodeID(active[len(active)-1])
	}
	cpID := ""
	if !r.e.opts.skipNoop || len(changed) > 0 || out.stop != nil {
		if err := r.checkpoint(work, checkpoint.SourceLoop, step, lastNode, changed); err != nil {
			return outcome{}, err
		}
		cpID = r.cfg.CheckpointID
	}
	r.lastStep = step
	r.step = step + 1
	r.executed++

	r.log.Debug("superstep finished",
		zap.Int(logging.FieldStep, step),
		zap.Strings("nodes", g.IDs(active)),
		zap.Strings("changed", changed),
		zap.Strings("next", g.IDs(next)),
		zap.String(logging.FieldCheckpointID, cpID),
	)
	r.emit(ctx, Event{
		ThreadID:        r.cfg.ThreadID,
		Step:            step,
		Nodes:           g.IDs(active),
		ChangedChannels: changed,
		CheckpointID:    cpID,
		Timestamp:       time.Now().UTC(),
	})
	return out, nil
}

// runNode executes one node and checks its output against the declarations.
func (r *run) runNode(ctx context.Context, step, i int, snap channel.Snapshot) (out graph.Output, err error) {
	g := r.e.graph
	id := g.NodeID(i)
	ctx, span := tracing.Start(ctx, r.e.tracer, tracing.SpanNode,
		tracing.AttrNode.String(id),
		tracing.AttrStep.Int(step),
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrNodePanic, p)
		}
		r.e.opts.metrics.NodeExecuted(g.Name(), id, err)
		tracing.End(span, err)
	}()

	out, err = g.Node(i).Runnable.Invoke(ctx, snap.Restrict(g.Reads(i)))
	if err != nil {
		return graph.Output{}, err
	}
	return normalizeOutput(g, i, out)
}

// normalizeOutput rejects undeclared writes and converts every value to the
// channel's canonical representation.
func normalizeOutput(g *graph.CompiledGraph, i int, out graph.Output) (graph.Output, error) {
	if !out.Control.Valid() {
		return graph.Output{}, fmt.Errorf("%w: %q", ErrInvalidControl, out.Control)
	}
	writes := make([]graph.Write, len(out.Writes))
	for k, w := range out.Writes {
		if !g.CanWrite(i, w.Channel) {
			return graph.Output{}, fmt.Errorf("%w: %q", ErrUndeclaredWrite, w.Channel)
		}
		spec, _ := g.ChannelSpec(w.Channel)
		v, err := spec.NormalizeUpdate(w.Value)
		if err != nil {
			return graph.Output{}, fmt.Errorf("%w: %w", ErrInvalidWrite, err)
		}
		writes[k] = graph.Set(w.Channel, v)
	}
	return graph.Output{Writes: writes, Control: out.Control}, nil
}

// checkpoint persists the current channel state as a child of r.cfg.
func (r *run) checkpoint(ctx context.Context, source checkpoint.Source, step int, node string, changed []string) error {
	cp := checkpoint.New(r.chans.Values(), r.chans.Versions())
	cp.UpdatedChannels = changed
	cp.NextNodes = r.e.graph.IDs(r.next)
	md := checkpoint.Metadata{Source: source, Step: step, Node: node}
	cfg, err := r.e.store.Put(ctx, r.cfg, cp, md)
	if err != nil {
		return persistenceError("put checkpoint", err)
	}
	r.cfg = cfg
	r.lastStep = step
	r.e.opts.metrics.CheckpointWritten(r.e.graph.Name(), string(source))
	return nil
}

func (r *run) emit(ctx context.Context, ev Event) {
	for _, s := range r.e.opts.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			r.log.Warn("sink failed", zap.Int(logging.FieldStep, ev.Step), zap.Error(err))
		}
	}
}
