// Package pipeline implements the checkpointed analysis pipeline for depvet.
//
// A pipeline is an ordered list of analyzer stages driven over a stream of
// work items. Each item is scoped to an (org, repo, ref, dependency file,
// dependency path, environment) tuple; stages transform items, fan them out
// (one manifest becoming one item per resolved package), or drop them.
//
// The runner applies a checkpoint store and retry policy uniformly: every
// (item, stage) execution is fingerprinted and persisted, so a crashed or
// interrupted run resumes by consulting the store instead of re-running
// succeeded work, and a failed item never aborts its siblings.
//
// # Usage
//
//	def := pipeline.Definition{
//	    Version: "v1",
//	    Stages: []pipeline.Stage{
//	        {ID: "discover", Analyzer: discovery},
//	        {ID: "resolve", Analyzer: resolver, Impure: true},
//	        {ID: "metadata", Analyzer: fetcher, Impure: true},
//	    },
//	}
//	runner, err := pipeline.NewRunner(def, store, policy)
//	result, err := runner.Run(ctx, seeds)
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/matzehuels/depvet/pkg/checkpoint"
)

// Scope identifies what a work item is about: a dependency (or dependency
// file, or whole repository) at a specific point in a source tree or image.
// Fields are filled in progressively as items move through stages: seeds
// carry only Org/Repo/Ref, discovery adds DepFile, resolution adds DepPath.
type Scope struct {
	Org     string `json:"org"`
	Repo    string `json:"repo"`
	Ref     string `json:"ref,omitempty"`      // commit SHA, branch, tag, or image ref
	DepFile string `json:"dep_file,omitempty"` // manifest/lockfile path within the checkout
	DepPath string `json:"dep_path,omitempty"` // package name@version within the resolved graph
}

// StageOutcome records one stage transition in an item's history.
type StageOutcome struct {
	StageID string            `json:"stage_id"`
	Status  checkpoint.Status `json:"status"`
	At      time.Time         `json:"at"`
}

// Item is the unit flowing through the pipeline: a scope plus the install
// environment it was derived under, an append-only stage history, and a
// stage-specific payload (resolved graph, package metadata, score).
//
// Two items with the same Identity are the same logical item for
// checkpointing purposes, no matter when or by which run they were produced.
type Item struct {
	Scope   Scope           `json:"scope"`
	Env     string          `json:"env,omitempty"` // install configuration (e.g. "prod-only", "no-scripts")
	History []StageOutcome  `json:"history,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Identity returns the stable identity of the item: the scope plus the
// environment, excluding history and payload. It is the fingerprint input
// for checkpointing, so it must stay invariant across retries and replays.
func (it Item) Identity() string {
	return it.Scope.Org + "/" + it.Scope.Repo +
		"@" + it.Scope.Ref +
		":" + it.Scope.DepFile +
		":" + it.Scope.DepPath +
		"#" + it.Env
}

// WithOutcome returns a copy of the item with the outcome appended to its
// history. The original item's history is never mutated in place: slices are
// copied so retries and fan-out items do not share backing arrays.
func (it Item) WithOutcome(stageID string, status checkpoint.Status, at time.Time) Item {
	history := make([]StageOutcome, len(it.History), len(it.History)+1)
	copy(history, it.History)
	it.History = append(history, StageOutcome{StageID: stageID, Status: status, At: at})
	return it
}

// SetPayload returns a copy of the item carrying data as its payload.
// The value must be JSON-marshalable.
func (it Item) SetPayload(data any) (Item, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return it, err
	}
	it.Payload = raw
	return it, nil
}

// DecodePayload unmarshals the item's payload into v.
func (it Item) DecodePayload(v any) error {
	return json.Unmarshal(it.Payload, v)
}
