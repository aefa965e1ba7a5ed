// Package sync orchestrates a full reconciliation run: encode the source
// hierarchy, validate it, converge the remote department tree and assign
// user memberships. Each phase consumes the previous phase's output; a
// fatal validation conflict stops the run before any write.
package sync

import (
	"context"
	"time"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/assign"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/reconcile"
)

// Status is the overall outcome of one run.
type Status string

const (
	// StatusSuccess means every phase completed with no failures.
	StatusSuccess Status = "success"
	// StatusPartial means the run completed but some independent
	// operations failed or whole subtrees were skipped.
	StatusPartial Status = "partial"
	// StatusFailed means the run stopped before convergence: source
	// unavailable, fatal validation conflict, or remote listing failure.
	StatusFailed Status = "failed"
)

// Pinger is implemented by collaborators that support a connection
// preflight. Both sides are probed before any phase runs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result aggregates every phase's outcome for reporting.
type Result struct {
	Status     Status
	Hierarchy  *hierarchy.Hierarchy
	Validation *hierarchy.Report
	Reconcile  *reconcile.Result
	Assign     *assign.Result

	Started  time.Time
	Finished time.Time
}

// Duration returns the wall-clock time of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Plan returns the structural change plan, or nil when the run stopped
// before convergence.
func (r *Result) Plan() *reconcile.Plan {
	if r.Reconcile == nil {
		return nil
	}
	return r.Reconcile.Plan
}

// Engine runs the reconciliation phases in order against a source
// hierarchy provider and a target directory service.
type Engine struct {
	source hierarchy.Source
	svc    directory.Service

	dryRun          bool
	retainUnmanaged bool
	dumpPath        string
	timeout         time.Duration
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDryRun computes every change without applying anything.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// WithRetainUnmanaged keeps remote departments without an external
// identifier instead of deleting them.
func WithRetainUnmanaged(retain bool) Option {
	return func(e *Engine) { e.retainUnmanaged = retain }
}

// WithDumpPath writes the encoded hierarchy to the given file after the
// encode phase, before validation.
func WithDumpPath(path string) Option {
	return func(e *Engine) { e.dumpPath = path }
}

// WithTimeout bounds the whole run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given collaborators.
func New(source hierarchy.Source, svc directory.Service, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		svc:    svc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one full reconciliation. The returned error is non-nil only
// when the run could not proceed at all; per-operation failures are
// reported through the Result and the partial status.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	result := &Result{Started: e.now()}
	defer func() { result.Finished = e.now() }()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logging.Info().Bool("dry_run", e.dryRun).Msg("Reconciliation run started")

	if err := e.preflight(ctx); err != nil {
		result.Status = StatusFailed
		return result, err
	}

	h, err := hierarchy.Encode(ctx, e.source)
	if err != nil {
		result.Status = StatusFailed
		return result, errors.NewSourceError("encode", "source hierarchy traversal failed", err)
	}
	result.Hierarchy = h
	logging.Info().
		Int("nodes", len(h.Nodes)).
		Int("memberships", len(h.Memberships)).
		Msg("Source hierarchy encoded")

	if e.dumpPath != "" {
		if err := hierarchy.WriteDump(e.dumpPath, h); err != nil {
			// The dump is an audit artifact, never a gate.
			logging.Error().Err(err).Str("path", e.dumpPath).Msg("Hierarchy dump failed")
		} else {
			logging.Info().Str("path", e.dumpPath).Msg("Hierarchy dumped")
		}
	}

	report := hierarchy.Validate(h)
	result.Validation = report
	report.Log()
	if err := report.Err(); err != nil {
		result.Status = StatusFailed
		return result, err
	}

	reconciler := reconcile.New(e.svc,
		reconcile.WithDryRun(e.dryRun),
		reconcile.WithRetainUnmanaged(e.retainUnmanaged),
	)
	rec, err := reconciler.Converge(ctx, h)
	result.Reconcile = rec
	if err != nil {
		result.Status = StatusFailed
		return result, err
	}

	assigner := assign.New(e.svc, assign.WithDryRun(e.dryRun))
	asg, err := assigner.Run(ctx, h, rec.Converged)
	if err != nil {
		result.Status = StatusFailed
		return result, err
	}
	result.Assign = asg

	result.Status = StatusSuccess
	if rec.Partial() || asg.Partial() {
		result.Status = StatusPartial
	}

	logging.Info().
		Str("status", string(result.Status)).
		Dur("duration", e.now().Sub(result.Started)).
		Msg("Reconciliation run finished")

	return result, nil
}

// preflight probes both collaborators before any phase runs, so a dead
// connection fails fast instead of mid-plan.
func (e *Engine) preflight(ctx context.Context) error {
	if p, ok := e.source.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return errors.NewSourceError("ping", "source directory is unreachable", err)
		}
	}
	if p, ok := e.svc.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return errors.WrapAPI("directory", 0, err)
		}
	}
	return nil
}
