// Package cli implements the depvet command-line interface.
//
// This package provides commands for scanning repositories through the
// checkpointed triage pipeline, replaying recorded runs offline, managing
// the checkpoint store, exporting resolved dependency graphs, and serving
// a small audit HTTP API. The CLI is built using cobra and supports verbose
// logging via the charmbracelet/log library.
//
// # Commands
//
// The main commands are:
//   - scan: Run the discover/resolve/metadata/score pipeline over seed repos
//   - replay: Re-execute a pipeline against recorded checkpoints, no live I/O
//   - checkpoint: Inspect and manage the checkpoint store
//   - export: Export a resolved dependency graph as JSON, DOT, SVG, or PNG
//   - serve: Expose checkpoint records and stage summaries over HTTP
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers are
// shared through the CLI struct so library packages log consistently.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/buildinfo"
	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/pipeline"
)

// appName is the application name used for directories and display.
const appName = "depvet"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Depvet triages software supply-chain dependencies",
		Long:         `Depvet scans repositories for dependency files, resolves their full package trees, enriches each package with registry and forge metadata, and scores the results for triage. Every (item, stage) outcome is checkpointed so interrupted scans resume instead of restarting.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	// Register all subcommands
	root.AddCommand(c.scanCommand())
	root.AddCommand(c.replayCommand())
	root.AddCommand(c.checkpointCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Store Selection
// =============================================================================

// storeFlags holds the checkpoint backend selection shared by the commands
// that open a store.
type storeFlags struct {
	backend   string
	path      string
	redisAddr string
	mongoURI  string
}

// register attaches the store selection flags to cmd.
func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "store", "file", "checkpoint backend: file, redis, mongo, or mem")
	cmd.Flags().StringVar(&f.path, "store-path", "", "directory for the file backend (default ~/.cache/depvet/checkpoints)")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "localhost:6379", "address for the redis backend")
	cmd.Flags().StringVar(&f.mongoURI, "mongo-uri", "mongodb://localhost:27017", "connection string for the mongo backend")
}

// open creates the selected checkpoint store. Callers own Close.
func (f *storeFlags) open(ctx context.Context) (checkpoint.Store, error) {
	switch f.backend {
	case "file":
		dir := f.path
		if dir == "" {
			var err error
			if dir, err = checkpointDir(); err != nil {
				return nil, errors.Wrap(errors.ErrCodeConfiguration, err, "locate checkpoint directory")
			}
		}
		return checkpoint.NewFileStore(dir)
	case "redis":
		return checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{Addr: f.redisAddr})
	case "mongo":
		return checkpoint.NewMongoStore(ctx, checkpoint.MongoConfig{URI: f.mongoURI})
	case "mem":
		return checkpoint.NewMemStore(), nil
	}
	return nil, errors.New(errors.ErrCodeConfiguration, "unknown checkpoint backend %q", f.backend)
}

// checkpointDir returns the default checkpoint directory using the XDG
// standard (~/.cache/depvet/checkpoints).
func checkpointDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName, "checkpoints"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName, "checkpoints"), nil
}

// =============================================================================
// Seed Parsing
// =============================================================================

// parseSeed converts an "org/repo[@ref]" argument into a seed work item.
// The ref defaults to HEAD so identities stay stable across invocations.
func parseSeed(arg, env string) (pipeline.Item, error) {
	spec, ref := arg, "HEAD"
	if at := strings.LastIndex(arg, "@"); at > 0 {
		spec, ref = arg[:at], arg[at+1:]
	}
	org, repo, ok := strings.Cut(spec, "/")
	if !ok || ref == "" {
		return pipeline.Item{}, errors.New(errors.ErrCodeInvalidScope, "seed %q is not org/repo[@ref]", arg)
	}
	if err := errors.ValidateScopePart(org); err != nil {
		return pipeline.Item{}, err
	}
	if err := errors.ValidateScopePart(repo); err != nil {
		return pipeline.Item{}, err
	}
	return pipeline.Item{
		Scope: pipeline.Scope{Org: org, Repo: repo, Ref: ref},
		Env:   env,
	}, nil
}

// parseSeeds converts all arguments, failing on the first malformed one.
func parseSeeds(args []string, env string) ([]pipeline.Item, error) {
	seeds := make([]pipeline.Item, 0, len(args))
	for _, arg := range args {
		item, err := parseSeed(arg, env)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, item)
	}
	return seeds, nil
}

// printSummary renders a run summary to stdout.
func printSummary(res *pipeline.Result) {
	s := res.Summary
	printNewline()
	printKeyValue("run", res.RunID)
	printKeyValue("duration", s.Duration.Round(time.Millisecond).String())
	printRunStats(s.Succeeded, s.Failed, s.Pending, s.Skipped)
	for _, id := range stageOrder(s) {
		st := s.PerStage[id]
		printDetail("%-10s executed %d, resumed %d, failed %d", id, st.Executed, st.Skipped, st.Failed)
	}
}

// stageOrder returns per-stage keys in a stable order.
func stageOrder(s pipeline.Summary) []string {
	ids := make([]string, 0, len(s.PerStage))
	for id := range s.PerStage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fmtCount pluralizes a simple noun for status lines.
func fmtCount(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
