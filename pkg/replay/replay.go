// Package replay re-executes pipeline definitions against recorded
// checkpoints, with all external I/O forbidden.
//
// A replay run serves every impure stage from the checkpoint store of a
// previous run: pure stages re-execute their (deterministic) logic, impure
// stages are fed their recorded outputs, and any impure (item, stage) pair
// without a recorded success fails with ErrLiveCallInReplay instead of
// reaching out to a registry or resolver. This makes incidents and scoring
// changes reproducible offline: replaying the same seeds over the same
// recorded store must yield byte-identical output item sequences.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/pipeline"
)

// ErrLiveCallInReplay is returned when an impure stage would have to perform
// live I/O because no recorded checkpoint covers the (item, stage) pair.
var ErrLiveCallInReplay = stderrors.New("impure stage invoked without a recorded checkpoint")

// Driver replays a pipeline definition against a recorded checkpoint store.
//
// The recorded store is never written to: checkpoint writes produced during
// the replay (pending markers, pure stage results) land in an in-memory
// scratch layer that shadows the recording for the lifetime of the driver.
type Driver struct {
	runner *pipeline.Runner
	misses atomic.Int64
}

// NewDriver builds a replay driver for def over the recorded store.
// Impure stage analyzers are replaced with guards that refuse to run, so the
// only way an impure stage produces output is through a recorded checkpoint.
func NewDriver(def pipeline.Definition, recorded checkpoint.Store, logger *log.Logger) (*Driver, error) {
	d := &Driver{}

	guarded := def
	guarded.Stages = make([]pipeline.Stage, len(def.Stages))
	copy(guarded.Stages, def.Stages)
	for i := range guarded.Stages {
		if guarded.Stages[i].Impure {
			guarded.Stages[i].Analyzer = guard{stageID: guarded.Stages[i].ID, misses: &d.misses}
		}
	}

	runner, err := pipeline.NewRunner(guarded, newOverlay(recorded), nil, logger)
	if err != nil {
		return nil, err
	}
	d.runner = runner
	return d, nil
}

// Run replays the seeds through the definition. The result carries the same
// accounting a live run would produce; the error wraps ErrLiveCallInReplay
// when any impure invocation found no recorded checkpoint.
func (d *Driver) Run(ctx context.Context, seeds []pipeline.Item) (*pipeline.Result, error) {
	before := d.misses.Load()
	res, err := d.runner.Run(ctx, seeds)
	if err != nil {
		return res, err
	}
	if n := d.misses.Load() - before; n > 0 {
		return res, fmt.Errorf("%d impure invocation(s) not covered by the recording: %w", n, ErrLiveCallInReplay)
	}
	return res, nil
}

// VerifyDeterminism replays the seeds rounds times concurrently and fails
// unless every round produced a byte-identical canonical output sequence.
func (d *Driver) VerifyDeterminism(ctx context.Context, seeds []pipeline.Item, rounds int) error {
	if rounds < 2 {
		rounds = 2
	}

	outputs := make([][]byte, rounds)
	g, gctx := errgroup.WithContext(ctx)
	for i := range rounds {
		g.Go(func() error {
			res, err := d.Run(gctx, seeds)
			if err != nil {
				return fmt.Errorf("replay round %d: %w", i, err)
			}
			canon, err := Canonical(res.Items)
			if err != nil {
				return fmt.Errorf("replay round %d: %w", i, err)
			}
			outputs[i] = canon
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := 1; i < rounds; i++ {
		if !bytes.Equal(outputs[0], outputs[i]) {
			return fmt.Errorf("replay round %d diverged from round 0:\n%s", i, diffLines(outputs[0], outputs[i]))
		}
	}
	return nil
}

// guard stands in for an impure analyzer during replay. Reaching it means
// the checkpoint lookup missed, which replay treats as a terminal failure.
type guard struct {
	stageID string
	misses  *atomic.Int64
}

func (g guard) Analyze(_ context.Context, item pipeline.Item) ([]pipeline.Item, error) {
	g.misses.Add(1)
	return nil, fmt.Errorf("stage %q, item %q: %w", g.stageID, item.Identity(), ErrLiveCallInReplay)
}

// Canonical renders items as a newline-delimited JSON sequence with history
// timestamps zeroed, so output comparisons ignore wall-clock noise while
// still covering scope, environment, stage transitions, and payloads.
func Canonical(items []pipeline.Item) ([]byte, error) {
	var buf bytes.Buffer
	for _, item := range items {
		c := item
		if len(item.History) > 0 {
			h := make([]pipeline.StageOutcome, len(item.History))
			copy(h, item.History)
			for i := range h {
				h[i].At = time.Time{}
			}
			c.History = h
		}
		line, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Diff compares two output item sequences and describes each position where
// the canonical forms differ. An empty slice means the sequences match.
func Diff(a, b []pipeline.Item) ([]string, error) {
	ca, err := Canonical(a)
	if err != nil {
		return nil, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return nil, err
	}

	la := splitLines(ca)
	lb := splitLines(cb)

	var out []string
	n := max(len(la), len(lb))
	for i := range n {
		switch {
		case i >= len(la):
			out = append(out, fmt.Sprintf("item %d: only in second: %s", i, lb[i]))
		case i >= len(lb):
			out = append(out, fmt.Sprintf("item %d: only in first: %s", i, la[i]))
		case la[i] != lb[i]:
			out = append(out, fmt.Sprintf("item %d:\n  first:  %s\n  second: %s", i, la[i], lb[i]))
		}
	}
	return out, nil
}

func splitLines(b []byte) []string {
	var lines []string
	for _, l := range bytes.Split(bytes.TrimRight(b, "\n"), []byte{'\n'}) {
		if len(l) > 0 {
			lines = append(lines, string(l))
		}
	}
	return lines
}

func diffLines(a, b []byte) string {
	la := splitLines(a)
	lb := splitLines(b)
	var buf bytes.Buffer
	n := max(len(la), len(lb))
	for i := range n {
		var left, right string
		if i < len(la) {
			left = la[i]
		}
		if i < len(lb) {
			right = lb[i]
		}
		if left != right {
			fmt.Fprintf(&buf, "item %d:\n  - %s\n  + %s\n", i, left, right)
		}
	}
	return buf.String()
}

// overlay is a read-through checkpoint store: reads consult the scratch
// layer first and fall back to the recording, writes only ever touch the
// scratch layer. The recording stays byte-for-byte intact across replays.
type overlay struct {
	recorded checkpoint.Store
	scratch  *checkpoint.MemStore
}

var _ checkpoint.Store = (*overlay)(nil)

func newOverlay(recorded checkpoint.Store) *overlay {
	return &overlay{recorded: recorded, scratch: checkpoint.NewMemStore()}
}

func (o *overlay) Get(ctx context.Context, key checkpoint.Key) (*checkpoint.Record, error) {
	rec, err := o.scratch.Get(ctx, key)
	if err != nil || rec != nil {
		return rec, err
	}
	return o.recorded.Get(ctx, key)
}

func (o *overlay) Put(ctx context.Context, rec *checkpoint.Record) error {
	return o.scratch.Put(ctx, rec)
}

func (o *overlay) Scan(ctx context.Context, stageID string) (checkpoint.Iterator, error) {
	return o.recorded.Scan(ctx, stageID)
}

// Close releases the scratch layer only; the recording is owned by the
// caller and stays open for further replays.
func (o *overlay) Close() error {
	return o.scratch.Close()
}
