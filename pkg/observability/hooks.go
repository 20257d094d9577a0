// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Consumers can register
// hooks at startup to receive events about pipeline execution, checkpoint
// store activity, retry attempts, and HTTP calls.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// This approach:
//   - Avoids import cycles (hooks are registered by main, not by libraries)
//   - Keeps the core library dependency-free from observability frameworks
//   - Allows different backends (OpenTelemetry, Prometheus, DataDog, etc.)
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetPipelineHooks(&myPipelineHooks{})
//	    observability.SetCheckpointHooks(&myCheckpointHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnRunStart(ctx, runID, seeds)
//	// ... drive the pipeline ...
//	observability.Pipeline().OnRunComplete(ctx, runID, ok, failed, skipped, duration)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives per-run and per-item events from the pipeline runner.
type PipelineHooks interface {
	// OnRunStart records the start of a pipeline run.
	OnRunStart(ctx context.Context, runID string, seeds int)

	// OnItemOutcome records the outcome of one (item, stage) execution.
	// fromCheckpoint is true when the result was resumed from a succeeded
	// record instead of running the analyzer.
	OnItemOutcome(ctx context.Context, stageID, identity, status string, attempts int, fromCheckpoint bool, err error)

	// OnRunComplete records the end of a run with aggregate counts.
	OnRunComplete(ctx context.Context, runID string, succeeded, failed, skipped int, duration time.Duration)
}

// =============================================================================
// Checkpoint Hooks
// =============================================================================

// CheckpointHooks receives events from checkpoint store consultation.
type CheckpointHooks interface {
	// OnHit records a succeeded checkpoint fed forward without execution.
	OnHit(ctx context.Context, stageID string)

	// OnMiss records an (item, stage) pair with no usable checkpoint.
	OnMiss(ctx context.Context, stageID string)

	// OnWrite records a checkpoint record upsert with its new status.
	OnWrite(ctx context.Context, stageID, status string)
}

// =============================================================================
// Retry Hooks
// =============================================================================

// RetryHooks receives per-attempt events from retried stage invocations.
type RetryHooks interface {
	// OnAttempt records one attempt of an (item, stage) execution.
	// err is nil when the attempt succeeded.
	OnAttempt(ctx context.Context, stageID, identity string, attempt int, err error)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnRunStart(context.Context, string, int) {}
func (NoopPipelineHooks) OnItemOutcome(context.Context, string, string, string, int, bool, error) {
}
func (NoopPipelineHooks) OnRunComplete(context.Context, string, int, int, int, time.Duration) {}

// NoopCheckpointHooks is a no-op implementation of CheckpointHooks.
type NoopCheckpointHooks struct{}

func (NoopCheckpointHooks) OnHit(context.Context, string)           {}
func (NoopCheckpointHooks) OnMiss(context.Context, string)          {}
func (NoopCheckpointHooks) OnWrite(context.Context, string, string) {}

// NoopRetryHooks is a no-op implementation of RetryHooks.
type NoopRetryHooks struct{}

func (NoopRetryHooks) OnAttempt(context.Context, string, string, int, error) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks   PipelineHooks   = NoopPipelineHooks{}
	checkpointHooks CheckpointHooks = NoopCheckpointHooks{}
	retryHooks      RetryHooks      = NoopRetryHooks{}
	httpHooks       HTTPHooks       = NoopHTTPHooks{}
	hooksMu         sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any runs.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetCheckpointHooks registers custom checkpoint hooks.
// This should be called once at application startup before any runs.
func SetCheckpointHooks(h CheckpointHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		checkpointHooks = h
	}
}

// SetRetryHooks registers custom retry hooks.
// This should be called once at application startup before any runs.
func SetRetryHooks(h RetryHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		retryHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before any HTTP operations.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Checkpoint returns the registered checkpoint hooks.
func Checkpoint() CheckpointHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return checkpointHooks
}

// Retry returns the registered retry hooks.
func Retry() RetryHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return retryHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	checkpointHooks = NoopCheckpointHooks{}
	retryHooks = NoopRetryHooks{}
	httpHooks = NoopHTTPHooks{}
}
