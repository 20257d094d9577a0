// Package manifest discovers dependency files in a source checkout.
//
// Discovery walks the tree looking for the manifest and lockfile names each
// supported ecosystem uses, skipping vendored and generated directories.
// The result is the seed material for per-file pipeline work items.
package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/depvet/pkg/errors"
)

// Ecosystem identifies the package ecosystem a dependency file belongs to.
type Ecosystem string

const (
	EcosystemNPM   Ecosystem = "npm"
	EcosystemCargo Ecosystem = "cargo"
	EcosystemGo    Ecosystem = "gomod"
	EcosystemPyPI  Ecosystem = "pypi"
)

// Kind distinguishes manifests (declared dependencies, version ranges) from
// lockfiles (fully resolved dependency sets).
type Kind string

const (
	KindManifest Kind = "manifest"
	KindLockfile Kind = "lockfile"
)

// File is one discovered dependency file.
type File struct {
	// Path is relative to the checkout root, with forward slashes.
	Path      string    `json:"path"`
	Ecosystem Ecosystem `json:"ecosystem"`
	Kind      Kind      `json:"kind"`
}

// known maps dependency file base names to their classification.
var known = map[string]File{
	"package.json":        {Ecosystem: EcosystemNPM, Kind: KindManifest},
	"package-lock.json":   {Ecosystem: EcosystemNPM, Kind: KindLockfile},
	"npm-shrinkwrap.json": {Ecosystem: EcosystemNPM, Kind: KindLockfile},
	"yarn.lock":           {Ecosystem: EcosystemNPM, Kind: KindLockfile},
	"Cargo.toml":          {Ecosystem: EcosystemCargo, Kind: KindManifest},
	"Cargo.lock":          {Ecosystem: EcosystemCargo, Kind: KindLockfile},
	"go.mod":              {Ecosystem: EcosystemGo, Kind: KindManifest},
	"go.sum":              {Ecosystem: EcosystemGo, Kind: KindLockfile},
	"requirements.txt":    {Ecosystem: EcosystemPyPI, Kind: KindManifest},
	"pyproject.toml":      {Ecosystem: EcosystemPyPI, Kind: KindManifest},
	"setup.py":            {Ecosystem: EcosystemPyPI, Kind: KindManifest},
	"Pipfile.lock":        {Ecosystem: EcosystemPyPI, Kind: KindLockfile},
	"poetry.lock":         {Ecosystem: EcosystemPyPI, Kind: KindLockfile},
}

// skipDirs are directories that hold vendored or generated code whose
// dependency files describe someone else's project.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	".git":         true,
	".hg":          true,
	".venv":        true,
	"__pycache__":  true,
}

// Discover walks root and returns every recognized dependency file, sorted
// by path. Cargo.toml files that declare only a workspace (no package) are
// excluded: their members carry the actual dependencies.
func Discover(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "checkout root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidInput, "checkout root %s is not a directory", root)
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		match, ok := known[d.Name()]
		if !ok {
			return nil
		}
		if d.Name() == "Cargo.toml" && !cargoHasPackage(path) {
			return nil
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		match.Path = filepath.ToSlash(rel)
		files = append(files, match)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "walking %s", root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// cargoHasPackage reports whether a Cargo.toml declares a [package] section.
// Unreadable or unparsable files count as packages so they surface as work
// items and fail visibly downstream instead of being silently dropped.
func cargoHasPackage(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var doc struct {
		Package   map[string]any `toml:"package"`
		Workspace map[string]any `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return true
	}
	return doc.Package != nil || doc.Workspace == nil
}

// Classify identifies the ecosystem and kind of a dependency file path.
// Returns ok=false for unrecognized file names.
func Classify(p string) (File, bool) {
	f, ok := known[filepath.Base(filepath.FromSlash(p))]
	if !ok {
		return File{}, false
	}
	f.Path = p
	return f, true
}

// Lockfiles filters the discovery result down to lockfiles, which resolve
// without running a package manager.
func Lockfiles(files []File) []File {
	var out []File
	for _, f := range files {
		if f.Kind == KindLockfile {
			out = append(out, f)
		}
	}
	return out
}
