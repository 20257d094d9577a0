package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/retry"
)

func fastRetry() *retry.Policy {
	return &retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func seed(org, repo string) Item {
	return Item{
		Scope: Scope{Org: org, Repo: repo, Ref: "HEAD", DepFile: "package-lock.json"},
		Env:   "prod-only",
	}
}

// countingAnalyzer counts invocations and delegates to fn.
type countingAnalyzer struct {
	calls atomic.Int64
	fn    func(ctx context.Context, item Item) ([]Item, error)
}

func (a *countingAnalyzer) Analyze(ctx context.Context, item Item) ([]Item, error) {
	a.calls.Add(1)
	return a.fn(ctx, item)
}

// fanOut emits n child items per input, one per resolved package.
func fanOut(n int) func(ctx context.Context, item Item) ([]Item, error) {
	return func(ctx context.Context, item Item) ([]Item, error) {
		out := make([]Item, n)
		for i := range n {
			child := item
			child.Scope.DepPath = "pkg-" + string(rune('a'+i)) + "@1.0.0"
			out[i] = child
		}
		return out, nil
	}
}

// The concrete scenario from the design discussion: a seed passes through
// discovery unchanged, resolution fans out 3 packages, and the metadata
// stage rejects one of them terminally. Expected: 2 succeeded, 1 failed,
// 0 pending, siblings unaffected.
func TestRunScenario(t *testing.T) {
	discover := &countingAnalyzer{fn: func(ctx context.Context, item Item) ([]Item, error) {
		return []Item{item}, nil
	}}
	resolve := &countingAnalyzer{fn: fanOut(3)}
	metadata := &countingAnalyzer{fn: func(ctx context.Context, item Item) ([]Item, error) {
		if strings.HasPrefix(item.Scope.DepPath, "pkg-b") {
			return nil, errors.New(errors.ErrCodeNotFound, "package not found: %s", item.Scope.DepPath)
		}
		return []Item{item}, nil
	}}

	def := Definition{Version: "v1", Stages: []Stage{
		{ID: "discover", Analyzer: discover},
		{ID: "resolve", Analyzer: resolve, Impure: true},
		{ID: "metadata", Analyzer: metadata, Impure: true},
	}}

	runner, err := NewRunner(def, checkpoint.NewMemStore(), fastRetry(), nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := res.Summary
	if s.Total != 3 || s.Succeeded != 2 || s.Failed != 1 || s.Pending != 0 {
		t.Errorf("summary = total %d, succeeded %d, failed %d, pending %d; want 3/2/1/0",
			s.Total, s.Succeeded, s.Failed, s.Pending)
	}
	if len(res.Items) != 2 {
		t.Errorf("final items = %d, want 2", len(res.Items))
	}

	// The terminal failure must be attributed to the metadata stage.
	var failed *Outcome
	for i := range res.Outcomes {
		if res.Outcomes[i].Status == checkpoint.StatusFailedTerminal {
			failed = &res.Outcomes[i]
		}
	}
	if failed == nil {
		t.Fatal("expected a failed-terminal outcome")
	}
	if failed.StageID != "metadata" || !strings.Contains(failed.Reason, "not found") {
		t.Errorf("failure misattributed: %+v", failed)
	}

	// Not-found is terminal: exactly one attempt, no retries.
	if metadata.calls.Load() != 3 {
		t.Errorf("metadata invoked %d times, want 3 (one per child, no retries)", metadata.calls.Load())
	}
}

// Idempotent resume: a second run over the same store performs zero impure
// analyzer invocations and produces identical final outputs.
func TestIdempotentResume(t *testing.T) {
	store := checkpoint.NewMemStore()
	newDef := func() (Definition, *countingAnalyzer, *countingAnalyzer) {
		resolve := &countingAnalyzer{fn: fanOut(2)}
		metadata := &countingAnalyzer{fn: func(ctx context.Context, item Item) ([]Item, error) {
			out, err := item.SetPayload(map[string]string{"name": item.Scope.DepPath})
			if err != nil {
				return nil, err
			}
			return []Item{out}, nil
		}}
		def := Definition{Version: "v1", Stages: []Stage{
			{ID: "resolve", Analyzer: resolve, Impure: true},
			{ID: "metadata", Analyzer: metadata, Impure: true},
		}}
		return def, resolve, metadata
	}

	def1, resolve1, metadata1 := newDef()
	runner1, _ := NewRunner(def1, store, fastRetry(), nil)
	res1, err := runner1.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if resolve1.calls.Load() != 1 || metadata1.calls.Load() != 2 {
		t.Fatalf("first run invocations: resolve=%d metadata=%d", resolve1.calls.Load(), metadata1.calls.Load())
	}

	def2, resolve2, metadata2 := newDef()
	runner2, _ := NewRunner(def2, store, fastRetry(), nil)
	res2, err := runner2.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if resolve2.calls.Load() != 0 || metadata2.calls.Load() != 0 {
		t.Errorf("resumed run invoked analyzers: resolve=%d metadata=%d; want 0/0",
			resolve2.calls.Load(), metadata2.calls.Load())
	}
	if res2.Summary.Skipped == 0 || res2.Summary.Executed != 0 {
		t.Errorf("resumed run: skipped=%d executed=%d; want all skipped",
			res2.Summary.Skipped, res2.Summary.Executed)
	}

	if len(res1.Items) != len(res2.Items) {
		t.Fatalf("output count differs: %d vs %d", len(res1.Items), len(res2.Items))
	}
	for i := range res1.Items {
		if res1.Items[i].Identity() != res2.Items[i].Identity() {
			t.Errorf("item %d identity differs: %s vs %s", i, res1.Items[i].Identity(), res2.Items[i].Identity())
		}
		if string(res1.Items[i].Payload) != string(res2.Items[i].Payload) {
			t.Errorf("item %d payload differs", i)
		}
	}
}

// Failure isolation: one item engineered to fail terminally at a stage must
// not affect its siblings.
func TestFailureIsolation(t *testing.T) {
	analyze := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		if item.Scope.Repo == "cursed" {
			return nil, errors.New(errors.ErrCodeMalformedManifest, "unparseable lockfile")
		}
		return []Item{item}, nil
	})
	def := Definition{Version: "v1", Stages: []Stage{
		{ID: "parse", Analyzer: analyze},
		{ID: "emit", Analyzer: passThrough()},
	}}

	runner, _ := NewRunner(def, checkpoint.NewMemStore(), fastRetry(), nil)
	seeds := []Item{
		seed("acme", "widgets"),
		seed("acme", "cursed"),
		seed("acme", "gadgets"),
		seed("acme", "sprockets"),
	}
	res, err := runner.Run(context.Background(), seeds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Summary.Succeeded != 3 || res.Summary.Failed != 1 {
		t.Errorf("summary: succeeded=%d failed=%d; want 3/1", res.Summary.Succeeded, res.Summary.Failed)
	}
	for _, item := range res.Items {
		if item.Scope.Repo == "cursed" {
			t.Error("failed item leaked into final outputs")
		}
	}
}

// Transient failures are retried up to the policy bound, and attempts are
// persisted in the checkpoint record.
func TestTransientRetryWithinRun(t *testing.T) {
	store := checkpoint.NewMemStore()
	var calls atomic.Int64
	flaky := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New(errors.ErrCodeNetwork, "connection reset")
		}
		return []Item{item}, nil
	})
	def := Definition{Version: "v1", Stages: []Stage{{ID: "fetch", Analyzer: flaky, Impure: true}}}

	runner, _ := NewRunner(def, store, fastRetry(), nil)
	res, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("analyzer invoked %d times, want 3", calls.Load())
	}
	if res.Summary.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", res.Summary.Succeeded)
	}

	key := checkpoint.Fingerprint("v1", "fetch", seed("acme", "widgets").Identity(), nil)
	rec, _ := store.Get(context.Background(), key)
	if rec == nil || rec.Status != checkpoint.StatusSucceeded || rec.Attempts != 3 {
		t.Errorf("checkpoint record = %+v; want succeeded after 3 attempts", rec)
	}
}

// Exhausted retries are recorded failed-terminal, per the engine contract.
func TestExhaustedRetriesRecordedTerminal(t *testing.T) {
	store := checkpoint.NewMemStore()
	alwaysFlaky := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		return nil, errors.New(errors.ErrCodeNetwork, "connection reset")
	})
	def := Definition{Version: "v1", Stages: []Stage{{ID: "fetch", Analyzer: alwaysFlaky, Impure: true}}}

	runner, _ := NewRunner(def, store, fastRetry(), nil)
	res, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Summary.Failed)
	}

	key := checkpoint.Fingerprint("v1", "fetch", seed("acme", "widgets").Identity(), nil)
	rec, _ := store.Get(context.Background(), key)
	if rec == nil || rec.Status != checkpoint.StatusFailedTerminal {
		t.Errorf("record = %+v; want failed-terminal after exhausting attempts", rec)
	}
	if rec != nil && rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
}

// Pure stages run exactly once even when they fail with a transient-looking
// error: re-running pure logic cannot change the result.
func TestPureStageNotRetried(t *testing.T) {
	var calls atomic.Int64
	pure := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		calls.Add(1)
		return nil, errors.New(errors.ErrCodeNetwork, "looks transient but pure")
	})
	def := Definition{Version: "v1", Stages: []Stage{{ID: "filter", Analyzer: pure}}}

	runner, _ := NewRunner(def, checkpoint.NewMemStore(), fastRetry(), nil)
	if _, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("pure stage invoked %d times, want 1", calls.Load())
	}
}

// Cancellation leaves in-flight records pending, never falsely succeeded,
// and the run reports the unprocessed items.
func TestCancellationLeavesPendingRecords(t *testing.T) {
	store := checkpoint.NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 8)
	slow := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	def := Definition{Version: "v1", Stages: []Stage{{ID: "slow", Analyzer: slow, Impure: true}}}

	runner, _ := NewRunner(def, store, fastRetry(), nil)
	done := make(chan *Result, 1)
	go func() {
		res, _ := runner.Run(ctx, []Item{seed("acme", "widgets"), seed("acme", "gadgets")})
		done <- res
	}()

	<-started
	cancel()
	res := <-done

	if res.Summary.Succeeded != 0 {
		t.Errorf("cancelled run reported %d successes", res.Summary.Succeeded)
	}
	if res.Summary.Pending == 0 {
		t.Error("cancelled run should report pending items")
	}

	// No record may claim success.
	it, _ := store.Scan(context.Background(), "slow")
	for {
		rec, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if rec == nil {
			break
		}
		if rec.Status == checkpoint.StatusSucceeded {
			t.Errorf("cancelled attempt recorded as succeeded: %+v", rec)
		}
	}
}

// A storage failure aborts the run but is surfaced as a run-scoped error.
func TestStorageFailureAbortsRun(t *testing.T) {
	def := Definition{Version: "v1", Stages: []Stage{{ID: "a", Analyzer: passThrough()}}}
	runner, _ := NewRunner(def, &failingStore{}, fastRetry(), nil)

	_, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")})
	if !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("expected STORAGE_ERROR, got %v", err)
	}
}

// failingStore errors on every operation.
type failingStore struct{}

func (s *failingStore) Get(ctx context.Context, key checkpoint.Key) (*checkpoint.Record, error) {
	return nil, errors.New(errors.ErrCodeStorage, "store unreachable")
}
func (s *failingStore) Put(ctx context.Context, record *checkpoint.Record) error {
	return errors.New(errors.ErrCodeStorage, "store unreachable")
}
func (s *failingStore) Scan(ctx context.Context, stageID string) (checkpoint.Iterator, error) {
	return nil, errors.New(errors.ErrCodeStorage, "store unreachable")
}
func (s *failingStore) Close() error { return nil }

// Force re-executes succeeded stages; used by replay verification.
func TestForceRerun(t *testing.T) {
	store := checkpoint.NewMemStore()
	counter := &countingAnalyzer{fn: func(ctx context.Context, item Item) ([]Item, error) {
		return []Item{item}, nil
	}}
	def := Definition{Version: "v1", Stages: []Stage{{ID: "a", Analyzer: counter, Impure: true}}}

	runner, _ := NewRunner(def, store, fastRetry(), nil)
	if _, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	runner.Force = true
	if _, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")}); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if counter.calls.Load() != 2 {
		t.Errorf("forced run should re-execute; calls = %d, want 2", counter.calls.Load())
	}
}

// A stage config change invalidates prior checkpoints by construction.
func TestConfigChangeInvalidatesCheckpoints(t *testing.T) {
	type cfg struct {
		MaxDepth int `json:"max_depth"`
	}
	store := checkpoint.NewMemStore()
	counter := &countingAnalyzer{fn: func(ctx context.Context, item Item) ([]Item, error) {
		return []Item{item}, nil
	}}

	run := func(c cfg) {
		def := Definition{Version: "v1", Stages: []Stage{{ID: "a", Analyzer: counter, Impure: true, Config: c}}}
		runner, _ := NewRunner(def, store, fastRetry(), nil)
		if _, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	run(cfg{MaxDepth: 5})
	run(cfg{MaxDepth: 5}) // same config: resumed
	if counter.calls.Load() != 1 {
		t.Fatalf("same config should resume; calls = %d", counter.calls.Load())
	}
	run(cfg{MaxDepth: 9}) // changed config: re-executed
	if counter.calls.Load() != 2 {
		t.Errorf("changed config should invalidate; calls = %d, want 2", counter.calls.Load())
	}
}

// Per-attempt stage timeouts are classified retryable.
func TestStageTimeoutRetried(t *testing.T) {
	var calls atomic.Int64
	hang := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done() // first attempt times out
			return nil, ctx.Err()
		}
		return []Item{item}, nil
	})
	def := Definition{Version: "v1", Stages: []Stage{
		{ID: "slow", Analyzer: hang, Impure: true, Timeout: 10 * time.Millisecond},
	}}

	runner, _ := NewRunner(def, checkpoint.NewMemStore(), fastRetry(), nil)
	res, err := runner.Run(context.Background(), []Item{seed("acme", "widgets")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("timed-out attempt should be retried; calls = %d", calls.Load())
	}
	if res.Summary.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", res.Summary.Succeeded)
	}
}

// Zero-output intermediate stages filter items without counting them as
// failures.
func TestZeroOutputFilters(t *testing.T) {
	drop := AnalyzerFunc(func(ctx context.Context, item Item) ([]Item, error) {
		if item.Scope.Repo == "boring" {
			return nil, nil
		}
		return []Item{item}, nil
	})
	def := Definition{Version: "v1", Stages: []Stage{
		{ID: "filter", Analyzer: drop},
		{ID: "emit", Analyzer: passThrough()},
	}}

	runner, _ := NewRunner(def, checkpoint.NewMemStore(), fastRetry(), nil)
	res, err := runner.Run(context.Background(), []Item{seed("acme", "widgets"), seed("acme", "boring")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Succeeded != 1 || res.Summary.Failed != 0 || res.Summary.Filtered != 1 {
		t.Errorf("summary: succeeded=%d failed=%d filtered=%d; want 1/0/1",
			res.Summary.Succeeded, res.Summary.Failed, res.Summary.Filtered)
	}
}
