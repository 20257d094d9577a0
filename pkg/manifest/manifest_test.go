package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name":"app"}`)
	writeFile(t, root, "package-lock.json", `{}`)
	writeFile(t, root, "services/api/go.mod", "module example.com/api\n")
	writeFile(t, root, "services/api/go.sum", "")
	writeFile(t, root, "tools/requirements.txt", "requests==2.0\n")
	writeFile(t, root, "README.md", "docs")

	files, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []File{
		{Path: "package-lock.json", Ecosystem: EcosystemNPM, Kind: KindLockfile},
		{Path: "package.json", Ecosystem: EcosystemNPM, Kind: KindManifest},
		{Path: "services/api/go.mod", Ecosystem: EcosystemGo, Kind: KindManifest},
		{Path: "services/api/go.sum", Ecosystem: EcosystemGo, Kind: KindLockfile},
		{Path: "tools/requirements.txt", Ecosystem: EcosystemPyPI, Kind: KindManifest},
	}
	if len(files) != len(want) {
		t.Fatalf("Discover = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %v, want %v", i, files[i], want[i])
		}
	}
}

func TestDiscoverSkipsVendoredTrees(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name":"app"}`)
	writeFile(t, root, "node_modules/leftpad/package.json", `{"name":"leftpad"}`)
	writeFile(t, root, "vendor/dep/go.mod", "module dep\n")
	writeFile(t, root, ".git/go.mod", "module junk\n")

	files, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 1 || files[0].Path != "package.json" {
		t.Errorf("Discover = %v, want only the top-level package.json", files)
	}
}

func TestDiscoverCargoWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Cargo.toml", "[workspace]\nmembers = [\"crates/core\"]\n")
	writeFile(t, root, "Cargo.lock", "")
	writeFile(t, root, "crates/core/Cargo.toml", "[package]\nname = \"core\"\nversion = \"0.1.0\"\n")

	files, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	paths := make(map[string]bool, len(files))
	for _, f := range files {
		paths[f.Path] = true
	}
	if paths["Cargo.toml"] {
		t.Error("workspace-only Cargo.toml should be excluded")
	}
	if !paths["crates/core/Cargo.toml"] || !paths["Cargo.lock"] {
		t.Errorf("Discover = %v", files)
	}
}

func TestDiscoverBadRoot(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing root should fail")
	}

	file := filepath.Join(t.TempDir(), "plain")
	os.WriteFile(file, nil, 0o644)
	if _, err := Discover(file); err == nil {
		t.Error("non-directory root should fail")
	}
}

func TestClassify(t *testing.T) {
	f, ok := Classify("services/web/package-lock.json")
	if !ok || f.Ecosystem != EcosystemNPM || f.Kind != KindLockfile {
		t.Errorf("Classify = %+v ok=%v", f, ok)
	}
	if f.Path != "services/web/package-lock.json" {
		t.Errorf("path = %q", f.Path)
	}
	if _, ok := Classify("README.md"); ok {
		t.Error("README.md should not classify")
	}
}

func TestLockfiles(t *testing.T) {
	files := []File{
		{Path: "package.json", Ecosystem: EcosystemNPM, Kind: KindManifest},
		{Path: "package-lock.json", Ecosystem: EcosystemNPM, Kind: KindLockfile},
	}
	locks := Lockfiles(files)
	if len(locks) != 1 || locks[0].Path != "package-lock.json" {
		t.Errorf("Lockfiles = %v", locks)
	}
}
