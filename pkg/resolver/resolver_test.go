package resolver

import (
	"context"
	"slices"
	"testing"

	"github.com/matzehuels/depvet/pkg/errors"
)

type fakeRunner struct {
	out     []byte
	err     error
	gotDir  string
	gotName string
	gotArgs []string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.gotDir = dir
	f.gotName = name
	f.gotArgs = args
	return f.out, f.err
}

const npmTree = `{
	"name": "app",
	"version": "1.0.0",
	"dependencies": {
		"leftpad": {
			"version": "1.2.0",
			"dependencies": {
				"is-even": {"version": "0.1.3"}
			}
		},
		"is-even": {"version": "0.1.3"},
		"linked-thing": {}
	}
}`

func TestResolveNPM(t *testing.T) {
	runner := &fakeRunner{out: []byte(npmTree)}
	r := &Resolver{Runner: runner}

	pkgs, err := r.Resolve(context.Background(), "/src/app", "package-lock.json", EnvDefault)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if runner.gotName != "npm" || !slices.Equal(runner.gotArgs, []string{"ls", "--all", "--json"}) {
		t.Errorf("command = %s %v", runner.gotName, runner.gotArgs)
	}

	if len(pkgs) != 2 {
		t.Fatalf("packages = %v, want 2 (versionless entries dropped, duplicates merged)", pkgs)
	}
	if pkgs[0].Ref() != "is-even@0.1.3" || !pkgs[0].Direct {
		t.Errorf("pkgs[0] = %+v, reached directly so must stay direct", pkgs[0])
	}
	if pkgs[1].Ref() != "leftpad@1.2.0" || !slices.Equal(pkgs[1].Deps, []string{"is-even@0.1.3"}) {
		t.Errorf("pkgs[1] = %+v", pkgs[1])
	}
}

func TestResolveNPMProdOnly(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"dependencies":{}}`)}
	r := &Resolver{Runner: runner}

	if _, err := r.Resolve(context.Background(), "/src", "package.json", EnvProdOnly); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Contains(runner.gotArgs, "--omit=dev") {
		t.Errorf("args = %v, want --omit=dev", runner.gotArgs)
	}
}

func TestResolveNPMToleratesExitError(t *testing.T) {
	// npm ls exits non-zero on peer dep problems but still prints the tree.
	runner := &fakeRunner{out: []byte(npmTree), err: context.DeadlineExceeded}
	r := &Resolver{Runner: runner}

	pkgs, err := r.Resolve(context.Background(), "/src", "package.json", EnvDefault)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(pkgs) == 0 {
		t.Error("usable output should be parsed despite exit error")
	}
}

func TestResolveNPMGarbageOutput(t *testing.T) {
	r := &Resolver{Runner: &fakeRunner{out: []byte("not json")}}
	_, err := r.Resolve(context.Background(), "/src", "package.json", EnvDefault)
	if !errors.Is(err, errors.ErrCodeMalformedManifest) {
		t.Errorf("error = %v, want MALFORMED_MANIFEST", err)
	}
}

const cargoMeta = `{
	"packages": [
		{"id": "app 0.1.0 (path+file:///src)", "name": "app", "version": "0.1.0"},
		{"id": "serde 1.0.193", "name": "serde", "version": "1.0.193"},
		{"id": "serde_core 1.0.193", "name": "serde_core", "version": "1.0.193"}
	],
	"workspace_members": ["app 0.1.0 (path+file:///src)"],
	"resolve": {
		"nodes": [
			{"id": "app 0.1.0 (path+file:///src)", "dependencies": ["serde 1.0.193"]},
			{"id": "serde 1.0.193", "dependencies": ["serde_core 1.0.193"]},
			{"id": "serde_core 1.0.193", "dependencies": []}
		]
	}
}`

func TestResolveCargo(t *testing.T) {
	runner := &fakeRunner{out: []byte(cargoMeta)}
	r := &Resolver{Runner: runner}

	pkgs, err := r.Resolve(context.Background(), "/src", "Cargo.lock", EnvDefault)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if runner.gotName != "cargo" || !slices.Equal(runner.gotArgs, []string{"metadata", "--format-version", "1", "--locked"}) {
		t.Errorf("command = %s %v", runner.gotName, runner.gotArgs)
	}

	if len(pkgs) != 2 {
		t.Fatalf("packages = %v, workspace members must be excluded", pkgs)
	}
	if pkgs[0].Ref() != "serde@1.0.193" || !pkgs[0].Direct {
		t.Errorf("pkgs[0] = %+v", pkgs[0])
	}
	if pkgs[1].Ref() != "serde_core@1.0.193" || pkgs[1].Direct {
		t.Errorf("pkgs[1] = %+v, transitive must not be direct", pkgs[1])
	}
	if !slices.Equal(pkgs[0].Deps, []string{"serde_core@1.0.193"}) {
		t.Errorf("serde deps = %v", pkgs[0].Deps)
	}
}

func TestResolveCargoCommandFailure(t *testing.T) {
	r := &Resolver{Runner: &fakeRunner{err: context.DeadlineExceeded}}
	_, err := r.Resolve(context.Background(), "/src", "Cargo.toml", EnvDefault)
	if !errors.Is(err, errors.ErrCodeTerminalCollaborator) {
		t.Errorf("error = %v, want TERMINAL_COLLABORATOR", err)
	}
}

func TestResolveUnsupported(t *testing.T) {
	r := &Resolver{Runner: &fakeRunner{}}
	_, err := r.Resolve(context.Background(), "/src", "Gemfile.lock", EnvDefault)
	if !errors.Is(err, errors.ErrCodeUnsupported) {
		t.Errorf("error = %v, want UNSUPPORTED", err)
	}
}

func TestResolverRunsInDepFileDirectory(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"dependencies":{}}`)}
	r := &Resolver{Runner: runner}

	if _, err := r.Resolve(context.Background(), "/src/app", "services/web/package.json", EnvDefault); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "/src/app/services/web"
	if runner.gotDir != want {
		t.Errorf("dir = %q, want %q", runner.gotDir, want)
	}
}
