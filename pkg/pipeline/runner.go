package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/observability"
	"github.com/matzehuels/depvet/pkg/retry"
)

// defaultWorkers is the number of concurrent (item, stage) executions per
// stage. This bounds in-flight work to avoid overwhelming registries and
// resolvers; the workload is I/O-bound, so workers mostly wait.
const defaultWorkers = 20

// Runner drives a pipeline definition over a stream of seed work items,
// applying the checkpoint store and retry policy uniformly per (item, stage).
//
// The Runner is stateless across runs except for the store, policy, and
// logger. Multiple goroutines can safely share one Runner.
type Runner struct {
	// Store persists per-(item, stage) progress. Defaults to a NullStore,
	// which disables resume.
	Store checkpoint.Store

	// Policy wraps impure stage invocations with retry/backoff/rate limiting.
	Policy *retry.Policy

	// Workers bounds concurrent executions per stage.
	Workers int

	// Force re-executes stages even when a succeeded checkpoint exists.
	// Used by replay to verify recorded outcomes against current logic.
	Force bool

	Logger *log.Logger

	def Definition
}

// NewRunner validates the definition and creates a runner.
// Nil store, policy, or logger fall back to NullStore, default policy, and a
// discarding logger respectively.
func NewRunner(def Definition, store checkpoint.Store, policy *retry.Policy, logger *log.Logger) (*Runner, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = checkpoint.NewNullStore()
	}
	if policy == nil {
		policy = retry.NewPolicy()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Runner{
		Store:   store,
		Policy:  policy,
		Workers: defaultWorkers,
		Logger:  logger,
		def:     def,
	}, nil
}

// Definition returns the pipeline definition the runner was built with.
func (r *Runner) Definition() Definition { return r.def }

// Run drives the seed items through every stage and blocks until the input
// is exhausted and all spawned items have reached a terminal state.
//
// Item-scoped failures never abort the run. Run returns an error only for
// run-scoped trouble: an unreachable checkpoint store or cancellation. In
// both cases all checkpoints written so far remain intact, so a later run
// resumes where this one stopped.
func (r *Runner) Run(ctx context.Context, seeds []Item) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := uuid.NewString()
	col := newCollector(runID, r.def.StageIDs())
	observability.Pipeline().OnRunStart(ctx, runID, len(seeds))
	r.Logger.Info("run started", "run_id", runID, "seeds", len(seeds), "stages", len(r.def.Stages))

	// Run-scoped abort: first storage failure wins, cancels everything.
	var abortOnce sync.Once
	var abortErr error
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancel()
		})
	}

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	// Chain the stages with channels: each stage runs a worker pool that
	// drains its input completely (even when cancelled, so accounting stays
	// exact) and closes its output when done.
	in := make(chan Item)
	go func() {
		defer close(in)
		for _, seed := range seeds {
			in <- seed
		}
	}()

	ch := in
	for i, stage := range r.def.Stages {
		out := make(chan Item, workers)
		go r.runStage(ctx, stage, i == len(r.def.Stages)-1, workers, ch, out, col, abort)
		ch = out
	}

	// Drain the final stage's output; runStage already recorded these items
	// as succeeded dispositions.
	for item := range ch {
		col.emit(item)
	}

	res := col.result()
	observability.Pipeline().OnRunComplete(ctx, runID, res.Summary.Succeeded, res.Summary.Failed, res.Summary.Skipped, res.Summary.Duration)
	r.Logger.Info("run complete",
		"run_id", runID,
		"total", res.Summary.Total,
		"succeeded", res.Summary.Succeeded,
		"failed", res.Summary.Failed,
		"pending", res.Summary.Pending,
		"skipped_via_checkpoint", res.Summary.Skipped,
		"executed", res.Summary.Executed,
		"duration", res.Summary.Duration)

	if abortErr != nil {
		return res, abortErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// runStage processes every item arriving on in through one stage, forwarding
// outputs to out. The input channel is always drained to completion so
// upstream senders never block; items seen after cancellation are counted as
// pending, never silently lost.
func (r *Runner) runStage(ctx context.Context, stage Stage, last bool, workers int, in <-chan Item, out chan<- Item, col *collector, abort func(error)) {
	defer close(out)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range in {
				if ctx.Err() != nil {
					col.pending(stage.ID, item.Identity())
					continue
				}
				r.processItem(ctx, stage, last, item, out, col, abort)
			}
		}()
	}
	wg.Wait()
}

// processItem applies checkpoint-aware execution to one (item, stage) pair.
func (r *Runner) processItem(ctx context.Context, stage Stage, last bool, item Item, out chan<- Item, col *collector, abort func(error)) {
	identity := item.Identity()
	key := checkpoint.Fingerprint(r.def.Version, stage.ID, identity, stage.Config)

	rec, err := r.Store.Get(ctx, key)
	if err != nil {
		r.Logger.Error("checkpoint store unreachable", "stage", stage.ID, "item", identity, "err", err)
		col.pending(stage.ID, identity)
		abort(err)
		return
	}

	// Resume semantics: a succeeded record is fed forward as if freshly
	// produced, with no analyzer invocation.
	if rec != nil && rec.Status == checkpoint.StatusSucceeded && !r.Force {
		observability.Checkpoint().OnHit(ctx, stage.ID)
		var outputs []Item
		if err := json.Unmarshal(rec.Payload, &outputs); err != nil {
			// Unreadable payload: fall through and re-execute rather than
			// feeding garbage forward.
			r.Logger.Warn("unreadable checkpoint payload, re-executing", "stage", stage.ID, "item", identity)
		} else {
			col.skipped(stage.ID)
			r.forward(ctx, stage, last, item, outputs, rec.Attempts, true, out, col)
			return
		}
	}
	observability.Checkpoint().OnMiss(ctx, stage.ID)

	attempts := 0
	if rec != nil {
		attempts = rec.Attempts
	}

	// Persist a pending record before the first attempt so a crash mid-stage
	// is visible and safely resumable.
	pending := &checkpoint.Record{
		Key:         key,
		Status:      checkpoint.StatusPending,
		Attempts:    attempts,
		LastAttempt: time.Now().UTC(),
	}
	if err := r.Store.Put(ctx, pending); err != nil {
		col.pending(stage.ID, identity)
		abort(err)
		return
	}

	outputs, finalStatus, attempts, err := r.invoke(ctx, stage, item, key, attempts, abort)

	switch finalStatus {
	case checkpoint.StatusSucceeded:
		col.executed(stage.ID)
		observability.Pipeline().OnItemOutcome(ctx, stage.ID, identity, string(finalStatus), attempts, false, nil)
		r.forward(ctx, stage, last, item, outputs, attempts, false, out, col)

	case checkpoint.StatusFailedTerminal:
		col.executed(stage.ID)
		observability.Pipeline().OnItemOutcome(ctx, stage.ID, identity, string(finalStatus), attempts, false, err)
		col.failed(Outcome{
			Identity: identity,
			StageID:  stage.ID,
			Status:   checkpoint.StatusFailedTerminal,
			Attempts: attempts,
			Reason:   err.Error(),
		})
		r.Logger.Debug("item failed terminally", "stage", stage.ID, "item", identity, "attempts", attempts, "err", err)

	case checkpoint.StatusPending:
		// Cancelled mid-attempt: the record stays pending and resumable.
		col.pending(stage.ID, identity)
	}
}

// invoke runs the stage's analyzer, wrapped in the retry policy when the
// stage is impure, updating the checkpoint record after every attempt.
// Returns the final status: succeeded, failed-terminal, or pending when the
// run was cancelled before a conclusive outcome.
func (r *Runner) invoke(ctx context.Context, stage Stage, item Item, key checkpoint.Key, priorAttempts int, abort func(error)) ([]Item, checkpoint.Status, int, error) {
	identity := item.Identity()
	attempts := priorAttempts
	maxAttempts := 1
	if stage.Impure {
		maxAttempts = max(r.Policy.MaxAttempts, 1)
	}

	var outputs []Item
	run := func(ctx context.Context) error {
		actx := ctx
		if stage.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, stage.Timeout)
			defer cancel()
		}
		o, err := stage.Analyzer.Analyze(actx, item)
		if err != nil {
			return err
		}
		outputs = o
		return nil
	}

	// observe persists the record after each attempt. A cancelled attempt is
	// never recorded: the pending record stays as-is, safely resumable.
	observe := func(attempt int, err error) {
		if ctx.Err() != nil && err != nil {
			return
		}
		attempts++
		observability.Retry().OnAttempt(ctx, stage.ID, identity, attempts, err)

		rec := &checkpoint.Record{
			Key:         key,
			Attempts:    attempts,
			LastAttempt: time.Now().UTC(),
		}
		switch {
		case err == nil:
			payload, perr := json.Marshal(outputs)
			if perr != nil {
				rec.Status = checkpoint.StatusFailedTerminal
				rec.Error = perr.Error()
			} else {
				rec.Status = checkpoint.StatusSucceeded
				rec.Payload = payload
			}
		case retry.IsRetryable(err) && attempt < maxAttempts:
			rec.Status = checkpoint.StatusFailedRetryable
			rec.Error = err.Error()
		default:
			// Terminal failure, or retryable with attempts exhausted: the
			// engine records failed-terminal either way.
			rec.Status = checkpoint.StatusFailedTerminal
			rec.Error = err.Error()
		}
		observability.Checkpoint().OnWrite(ctx, stage.ID, string(rec.Status))
		if perr := r.Store.Put(ctx, rec); perr != nil {
			abort(perr)
		}
	}

	var err error
	if stage.Impure {
		err = r.Policy.DoWithObserver(ctx, run, observe)
	} else {
		err = run(ctx)
		observe(1, err)
	}

	if err == nil {
		return outputs, checkpoint.StatusSucceeded, attempts, nil
	}
	if stderrors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil, checkpoint.StatusPending, attempts, err
	}
	return nil, checkpoint.StatusFailedTerminal, attempts, err
}

// forward feeds a stage's outputs into the next stage (or records them as
// terminal successes at the final stage).
func (r *Runner) forward(ctx context.Context, stage Stage, last bool, input Item, outputs []Item, attempts int, fromCheckpoint bool, out chan<- Item, col *collector) {
	identity := input.Identity()
	now := time.Now().UTC()

	if fromCheckpoint {
		observability.Pipeline().OnItemOutcome(ctx, stage.ID, identity, string(checkpoint.StatusSucceeded), attempts, true, nil)
	}

	if len(outputs) == 0 {
		if last {
			// Final-stage success with nothing emitted still counts: the
			// item made it through the whole pipeline.
			col.succeeded(Outcome{
				Identity:       identity,
				StageID:        stage.ID,
				Status:         checkpoint.StatusSucceeded,
				Attempts:       attempts,
				FromCheckpoint: fromCheckpoint,
			})
			return
		}
		col.filtered()
		return
	}

	if last {
		col.succeeded(Outcome{
			Identity:       identity,
			StageID:        stage.ID,
			Status:         checkpoint.StatusSucceeded,
			Attempts:       attempts,
			FromCheckpoint: fromCheckpoint,
		})
	} else {
		col.stageSucceeded(stage.ID)
	}

	for _, o := range outputs {
		out <- o.WithOutcome(stage.ID, checkpoint.StatusSucceeded, now)
	}
}
