// Package checkpoint provides durable persistence of pipeline progress.
//
// Every (work item, stage) execution is recorded as a [Record] keyed by a
// deterministic [Key]. The record is the sole source of truth for "has this
// item already run through this stage, and with what result": the pipeline
// engine consults the store before doing work and skips stages whose records
// are already succeeded.
//
// Backends:
//   - file: JSON files on disk for CLI usage (default)
//   - redis: Redis-backed store for multi-instance deployments
//   - mongo: MongoDB-backed store when records should live next to results
//   - mem: in-memory store for tests and replay
//   - null: no-op store that disables checkpointing
//
// All backends guarantee atomic upsert per key; there is no cross-key
// ordering. Storage failures are reported as STORAGE_ERROR and are distinct
// from a missing record, which is a valid, successful result (nil record).
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
)

// Status is the lifecycle state of a (item, stage) execution.
type Status string

const (
	// StatusPending marks a record created before the first attempt, or left
	// behind by a cancelled attempt. Pending records are safe to re-run.
	StatusPending Status = "pending"

	// StatusSucceeded marks a completed execution whose payload can be fed
	// forward on resume without re-running the stage.
	StatusSucceeded Status = "succeeded"

	// StatusFailedRetryable marks an attempt that failed transiently and may
	// be retried on a later run.
	StatusFailedRetryable Status = "failed-retryable"

	// StatusFailedTerminal marks an execution that will never succeed. The
	// item is dropped from this stage's downstream.
	StatusFailedTerminal Status = "failed-terminal"
)

// Terminal reports whether the status is an end state for the (item, stage).
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// Record is the persisted outcome of running one work item through one stage.
type Record struct {
	Key         Key             `json:"key"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"` // output items on success
	Error       string          `json:"error,omitempty"`   // failure reason, if any
	Attempts    int             `json:"attempts"`
	LastAttempt time.Time       `json:"last_attempt"`
}

// Clone returns a deep copy of the record. Stores return clones so callers
// can mutate results without corrupting shared state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &cp
}

// Store persists checkpoint records keyed by fingerprint.
//
// Get returns (nil, nil) when no record exists; absence is not an error.
// Put upserts atomically per key: concurrent writers for the same key never
// interleave partial records. Scan yields all records for a stage across
// pipeline versions, in no particular order, for replay and audit.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Scan(ctx context.Context, stageID string) (Iterator, error)
	Close() error
}

// Iterator is a restartable, finite cursor over scanned records.
//
// Next returns (nil, nil) when the sequence is exhausted. Callers must Close
// the iterator to release backend resources (cursors, file handles).
type Iterator interface {
	Next(ctx context.Context) (*Record, error)
	Close() error
}

// sliceIterator serves pre-collected records; used by the mem and null
// backends and as a building block for backends that snapshot keys up front.
type sliceIterator struct {
	records []*Record
	pos     int
}

func (it *sliceIterator) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "scan cancelled")
	}
	if it.pos >= len(it.records) {
		return nil, nil
	}
	r := it.records[it.pos]
	it.pos++
	return r.Clone(), nil
}

func (it *sliceIterator) Close() error { return nil }

// storageErr wraps backend failures with the STORAGE_ERROR code so the engine
// can tell run-scoped storage trouble apart from item-scoped failures.
func storageErr(cause error, format string, args ...any) error {
	return errors.Wrap(errors.ErrCodeStorage, cause, format, args...)
}
