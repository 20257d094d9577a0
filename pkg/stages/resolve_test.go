package stages

import (
	"context"
	"testing"

	"github.com/matzehuels/depvet/pkg/resolver"
)

type fakeRunner struct {
	out    []byte
	gotDir string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.gotDir = dir
	return f.out, nil
}

func TestResolveFansOutPerPackage(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{
		"dependencies": {
			"leftpad": {"version": "1.2.0"},
			"is-even": {"version": "0.1.3"}
		}
	}`)}
	res := &resolver.Resolver{Runner: runner}

	item := seedItem()
	item.Scope.DepFile = "package-lock.json"

	out, err := Resolve(res, ResolveConfig{CheckoutRoot: "/checkouts"}).Analyze(context.Background(), item)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if runner.gotDir != "/checkouts/acme/widgets" {
		t.Errorf("resolver dir = %q", runner.gotDir)
	}

	if len(out) != 2 {
		t.Fatalf("outputs = %d, want 2", len(out))
	}
	if out[0].Scope.DepPath != "is-even@0.1.3" || out[1].Scope.DepPath != "leftpad@1.2.0" {
		t.Errorf("dep paths = %q, %q", out[0].Scope.DepPath, out[1].Scope.DepPath)
	}

	var pkg resolver.Package
	if err := out[1].DecodePayload(&pkg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if pkg.Name != "leftpad" || !pkg.Direct {
		t.Errorf("package = %+v", pkg)
	}

	// Fan-out children are distinct logical items.
	if out[0].Identity() == out[1].Identity() {
		t.Error("children must have distinct identities")
	}
}

func TestResolveEmptyTreeFilters(t *testing.T) {
	res := &resolver.Resolver{Runner: &fakeRunner{out: []byte(`{"dependencies":{}}`)}}

	item := seedItem()
	item.Scope.DepFile = "package.json"

	out, err := Resolve(res, ResolveConfig{}).Analyze(context.Background(), item)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("outputs = %v, want none", out)
	}
}
