package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"theological-agent/internal/logging"
)

// Phase is a step of the per-run state machine.
type Phase string

const (
	PhaseCreated     Phase = "created"
	PhaseFannedOut   Phase = "fanned_out"
	PhaseJoined      Phase = "joined"
	PhaseGated       Phase = "gated"
	PhasePaused      Phase = "paused"
	PhaseSynthesized Phase = "synthesized"
)

// Status is the terminal outcome of a successful execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
)

// Result is what an execution hands back to its caller. A paused result
// carries the frozen post-gate state for the pause controller.
type Result struct {
	State        WorkflowState
	Status       Status
	Phases       []Phase
	Participants []string
	Duration     time.Duration
}

// NodeError reports the node whose failure aborted a run.
type NodeError struct {
	RunID string
	Node  string
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("run %s: node %s: %v", e.RunID, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// NodeObserver is notified after every node execution.
type NodeObserver func(ctx context.Context, node string, role Role, elapsed time.Duration, err error)

// Executor runs compiled graphs.
type Executor struct {
	graph       *Graph
	logger      *logging.Logger
	tracer      trace.Tracer
	maxParallel int
	observer    NodeObserver
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMaxParallel caps the number of branches running at once. Zero or a
// negative value means no limit.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxParallel = n
	}
}

// WithNodeObserver registers a callback run after every node.
func WithNodeObserver(fn NodeObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = fn
	}
}

// NewExecutor creates an Executor for g.
func NewExecutor(g *Graph, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:  g,
		logger: logging.NewLogger(),
		tracer: otel.Tracer("theological-agent/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type branchFailure struct {
	node string
	err  error
}

// Run executes a full pass: router, concurrent branches, barrier, merge,
// join, gate and the conditional edge. The first node failure aborts the
// run; branches still in flight are abandoned and their results discarded.
func (e *Executor) Run(ctx context.Context, state WorkflowState) (*Result, error) {
	if state.RunID == "" {
		return nil, errors.New("workflow: run id is required")
	}
	start := time.Now()
	log := e.logger.With("run_id", state.RunID)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.String("run.book", state.Inputs.Book),
		attribute.Int("run.chapter", state.Inputs.Chapter),
	))
	defer span.End()

	fail := func(node string, err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run_failed", "node", node, "error", err)
		return nil, &NodeError{RunID: state.RunID, Node: node, Err: err}
	}

	res := &Result{Phases: []Phase{PhaseCreated}}

	participants, err := e.graph.router.Route(state.Inputs)
	if err != nil {
		return fail("router", err)
	}
	for _, name := range participants {
		n, ok := e.graph.nodes[name]
		if !ok || n.Role() != RoleGeneration {
			return fail("router", fmt.Errorf("routed to unknown branch %q", name))
		}
	}
	bar, err := newBarrier(participants)
	if err != nil {
		return fail("router", err)
	}
	res.Participants = participants
	span.SetAttributes(attribute.StringSlice("run.branches", participants))
	log.Info("router", "branches", participants)

	failures := make(chan branchFailure, len(participants))
	// aborted is closed by the first failing branch, before it releases its
	// semaphore slot, so queued branches never start after a failure.
	aborted := make(chan struct{})
	var abortOnce sync.Once
	abort := func() { abortOnce.Do(func() { close(aborted) }) }
	defer abort()

	var sem chan struct{}
	if e.maxParallel > 0 {
		sem = make(chan struct{}, e.maxParallel)
	}
	for _, name := range participants {
		node := e.graph.nodes[name]
		snapshot := state.Clone()
		go func() {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-aborted:
					return
				case <-ctx.Done():
					abort()
					failures <- branchFailure{node: node.Name(), err: ctx.Err()}
					return
				}
			}
			select {
			case <-aborted:
				return
			default:
			}
			u, err := e.runNode(ctx, node, snapshot)
			if err == nil {
				err = bar.arrive(node.Name(), u)
			}
			if err != nil {
				abort()
				failures <- branchFailure{node: node.Name(), err: err}
			}
		}()
	}
	res.Phases = append(res.Phases, PhaseFannedOut)

	select {
	case <-bar.wait():
	case f := <-failures:
		log.Warn("branches_abandoned", "remaining", bar.remaining())
		return fail(f.node, f.err)
	case <-ctx.Done():
		return fail("join", fmt.Errorf("waiting for %v: %w", bar.remaining(), ctx.Err()))
	}

	merged := state
	for _, a := range bar.arrivals() {
		if merged, err = Apply(merged, a.update); err != nil {
			return fail(a.node, err)
		}
	}
	res.Phases = append(res.Phases, PhaseJoined)
	log.Info("join", "arrived", bar.size())

	if merged, err = e.step(ctx, e.graph.join, merged); err != nil {
		return fail(e.graph.join, err)
	}
	if merged, err = e.step(ctx, e.graph.gate, merged); err != nil {
		return fail(e.graph.gate, err)
	}
	res.Phases = append(res.Phases, PhaseGated)

	target := e.graph.edge(merged)
	span.SetAttributes(attribute.String("run.next", target), attribute.String("run.risk_level", string(merged.RiskLevel)))
	log.Info("route_after_gate", "risk_level", merged.RiskLevel, "next", target)

	if target == e.graph.pause {
		res.State = merged
		res.Status = StatusPaused
		res.Phases = append(res.Phases, PhasePaused)
		res.Duration = time.Since(start)
		return res, nil
	}
	if n, ok := e.graph.nodes[target]; !ok || n.Role() != RoleTerminal {
		return fail(e.graph.gate, fmt.Errorf("edge returned unknown target %q", target))
	}
	if merged, err = e.step(ctx, target, merged); err != nil {
		return fail(target, err)
	}
	res.State = merged
	res.Status = StatusCompleted
	res.Phases = append(res.Phases, PhaseSynthesized)
	res.Duration = time.Since(start)
	log.Info("run_complete", "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Resume runs only the named terminal node over a previously persisted
// state, skipping router, branches, join and gate.
func (e *Executor) Resume(ctx context.Context, state WorkflowState, terminal string) (*Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.resume", trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.String("run.terminal", terminal),
	))
	defer span.End()

	n, ok := e.graph.nodes[terminal]
	if !ok || n.Role() != RoleTerminal {
		err := fmt.Errorf("%q is not a terminal node", terminal)
		span.RecordError(err)
		return nil, &NodeError{RunID: state.RunID, Node: terminal, Err: err}
	}
	next, err := e.step(ctx, terminal, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &NodeError{RunID: state.RunID, Node: terminal, Err: err}
	}
	return &Result{
		State:    next,
		Status:   StatusCompleted,
		Phases:   []Phase{PhaseSynthesized},
		Duration: time.Since(start),
	}, nil
}

// step runs a sequential node and applies its update.
func (e *Executor) step(ctx context.Context, name string, state WorkflowState) (WorkflowState, error) {
	u, err := e.runNode(ctx, e.graph.nodes[name], state.Clone())
	if err != nil {
		return state, err
	}
	return Apply(state, u)
}

func (e *Executor) runNode(ctx context.Context, n Node, state WorkflowState) (u Update, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node."+n.Name(), trace.WithAttributes(
		attribute.String("node.name", n.Name()),
		attribute.String("node.role", n.Role().String()),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		elapsed := time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if e.observer != nil {
			e.observer(ctx, n.Name(), n.Role(), elapsed, err)
		}
		if err == nil {
			e.logger.Debug("node_complete", "run_id", state.RunID, "node", n.Name(), "duration_ms", elapsed.Milliseconds())
		}
	}()
	return n.Run(ctx, state)
}
