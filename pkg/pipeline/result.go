package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/matzehuels/depvet/pkg/checkpoint"
)

// Outcome is the per-item disposition event emitted for observability:
// where the item's journey ended and how it got there.
type Outcome struct {
	Identity       string            `json:"identity"`
	StageID        string            `json:"stage_id"`
	Status         checkpoint.Status `json:"status"`
	Attempts       int               `json:"attempts"`
	FromCheckpoint bool              `json:"from_checkpoint"` // resumed via a succeeded record
	Reason         string            `json:"reason,omitempty"`
}

// StageStats aggregates execution counts for a single stage.
type StageStats struct {
	Executed  int `json:"executed"` // fresh analyzer invocations
	Skipped   int `json:"skipped"`  // checkpoint hits fed forward without running
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summary aggregates a run's per-item dispositions.
//
// Total counts items that reached a terminal disposition: succeeded through
// the final stage, or failed terminally at some stage. Items consumed by
// fan-out (a lockfile item replaced by its per-package children) are not
// dispositions and are not counted. Filtered counts items dropped by a
// stage returning zero outputs.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`  // left unprocessed by cancellation or abort
	Filtered  int `json:"filtered"` // dropped by zero-output stages
	Skipped   int `json:"skipped"`  // (item, stage) pairs resumed from checkpoint
	Executed  int `json:"executed"` // (item, stage) pairs freshly executed

	PerStage map[string]*StageStats `json:"per_stage"`
	Duration time.Duration          `json:"duration"`
}

// Result holds the outputs of a pipeline run.
type Result struct {
	// RunID uniquely identifies this run in logs and events.
	RunID string

	// Items are the final-stage outputs, sorted by identity so two runs over
	// the same inputs produce byte-identical sequences.
	Items []Item

	// Outcomes lists every per-item disposition in completion order.
	Outcomes []Outcome

	// Summary aggregates the dispositions.
	Summary Summary
}

// collector accumulates results from concurrent stage workers.
type collector struct {
	mu       sync.Mutex
	runID    string
	start    time.Time
	items    []Item
	outcomes []Outcome
	perStage map[string]*StageStats
	summary  Summary
}

func newCollector(runID string, stageIDs []string) *collector {
	perStage := make(map[string]*StageStats, len(stageIDs))
	for _, id := range stageIDs {
		perStage[id] = &StageStats{}
	}
	return &collector{
		runID:    runID,
		start:    time.Now(),
		perStage: perStage,
	}
}

func (c *collector) stage(id string) *StageStats {
	if s, ok := c.perStage[id]; ok {
		return s
	}
	s := &StageStats{}
	c.perStage[id] = s
	return s
}

// executed records a fresh (item, stage) execution.
func (c *collector) executed(stageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Executed++
	c.stage(stageID).Executed++
}

// skipped records a checkpoint hit for an (item, stage) pair.
func (c *collector) skipped(stageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Skipped++
	c.stage(stageID).Skipped++
}

// succeeded records a terminal success disposition (final stage reached).
func (c *collector) succeeded(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Succeeded++
	c.stage(o.StageID).Succeeded++
	c.outcomes = append(c.outcomes, o)
}

// stageSucceeded records a non-terminal stage success (item continues).
func (c *collector) stageSucceeded(stageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage(stageID).Succeeded++
}

// failed records a failed-terminal disposition.
func (c *collector) failed(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Failed++
	c.stage(o.StageID).Failed++
	c.outcomes = append(c.outcomes, o)
}

// pending records an item left unprocessed (cancellation, storage abort).
func (c *collector) pending(stageID, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Pending++
	c.outcomes = append(c.outcomes, Outcome{
		Identity: identity,
		StageID:  stageID,
		Status:   checkpoint.StatusPending,
	})
}

// filtered records an item dropped by a zero-output stage.
func (c *collector) filtered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Filtered++
}

// emit collects a final-stage output item.
func (c *collector) emit(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
}

// result finalizes and returns the run result.
func (c *collector) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Total = c.summary.Succeeded + c.summary.Failed + c.summary.Pending
	c.summary.PerStage = c.perStage
	c.summary.Duration = time.Since(c.start)

	items := c.items
	sort.Slice(items, func(i, j int) bool {
		if items[i].Identity() != items[j].Identity() {
			return items[i].Identity() < items[j].Identity()
		}
		return string(items[i].Payload) < string(items[j].Payload)
	})

	return &Result{
		RunID:    c.runID,
		Items:    items,
		Outcomes: c.outcomes,
		Summary:  c.summary,
	}
}
