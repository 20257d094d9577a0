// Package resolver turns dependency files into fully resolved package sets
// by shelling out to the ecosystem's own package manager, the only tool
// that can answer authoritatively which versions an install would select.
package resolver

import (
	"context"
	"os/exec"
	"path"

	"github.com/matzehuels/depvet/pkg/errors"
)

// Install environments supported by resolution. The environment is part of
// a work item's identity: the same lockfile resolved prod-only and with dev
// dependencies is two different analysis subjects.
const (
	EnvDefault   = ""
	EnvProdOnly  = "prod-only"
	EnvNoScripts = "no-scripts"
)

// Package is one resolved package in a dependency graph.
type Package struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Direct  bool     `json:"direct"`         // declared by the project itself
	Deps    []string `json:"deps,omitempty"` // child refs as name@version
}

// Ref returns the package's name@version reference.
func (p Package) Ref() string { return p.Name + "@" + p.Version }

// Runner abstracts command execution so resolution logic is testable
// without npm or cargo installed.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, capturing stdout.
type ExecRunner struct{}

// Run executes the command in dir and returns its stdout. Some package
// managers exit non-zero while still producing usable output (npm ls with
// peer dependency trouble), so output is returned alongside the error.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return out, err
}

// Resolver resolves dependency files via package manager invocations.
type Resolver struct {
	Runner Runner
}

// New creates a resolver that executes real package manager commands.
func New() *Resolver {
	return &Resolver{Runner: ExecRunner{}}
}

// Resolve produces the resolved package set for one dependency file inside
// a checkout. The env string selects the install configuration. Files whose
// ecosystem has no resolution support fail with an unsupported error so the
// pipeline records them terminally instead of guessing.
func (r *Resolver) Resolve(ctx context.Context, checkout, depFile, env string) ([]Package, error) {
	switch path.Base(depFile) {
	case "package.json", "package-lock.json", "npm-shrinkwrap.json":
		return r.resolveNPM(ctx, checkout, depFile, env)
	case "Cargo.toml", "Cargo.lock":
		return r.resolveCargo(ctx, checkout, depFile)
	default:
		return nil, errors.New(errors.ErrCodeUnsupported, "no resolver for %s", depFile)
	}
}
