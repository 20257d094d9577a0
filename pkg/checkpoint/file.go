package checkpoint

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore implements a file-based checkpoint store for CLI usage.
// Each record is stored as a JSON file under
// {dir}/{version}/{stage-id}/{digest-prefix}/{digest}.json.
//
// Upserts write to a temp file in the same directory and rename it into
// place, which is atomic on POSIX filesystems, so concurrent writers for the
// same key never produce a torn record. Multiple processes can safely share
// one directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based store rooted at dir.
// If dir is empty, it defaults to ~/.cache/depvet/checkpoints.
// The directory is created if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, storageErr(err, "resolve home directory")
		}
		dir = filepath.Join(home, ".cache", "depvet", "checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr(err, "create checkpoint directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the absolute path to the checkpoint directory.
func (s *FileStore) Dir() string { return s.dir }

// Get retrieves a record by key. Absent records return (nil, nil).
func (s *FileStore) Get(ctx context.Context, key Key) (*Record, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "read checkpoint %s", key)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, storageErr(err, "decode checkpoint %s", key)
	}
	return &rec, nil
}

// Put upserts a record. The write is atomic per key (temp file + rename).
func (s *FileStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return storageErr(err, "encode checkpoint %s", record.Key)
	}

	path := s.path(record.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storageErr(err, "create checkpoint subdirectory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return storageErr(err, "create temp file for %s", record.Key)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storageErr(err, "write checkpoint %s", record.Key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storageErr(err, "close temp file for %s", record.Key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return storageErr(err, "rename checkpoint %s into place", record.Key)
	}
	return nil
}

// Scan returns an iterator over all records for a stage, across pipeline
// versions. The file list is snapshotted up front; records are read lazily.
func (s *FileStore) Scan(ctx context.Context, stageID string) (Iterator, error) {
	versions, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &sliceIterator{}, nil
		}
		return nil, storageErr(err, "list checkpoint directory")
	}

	var paths []string
	for _, v := range versions {
		if !v.IsDir() {
			continue
		}
		stageDir := filepath.Join(s.dir, v.Name(), stageID)
		walkErr := filepath.WalkDir(stageDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return fs.SkipAll
				}
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".json") {
				paths = append(paths, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, storageErr(walkErr, "walk stage directory %s", stageDir)
		}
	}

	return &fileIterator{paths: paths}, nil
}

// Clear removes every record under the store directory.
// Returns the number of records removed.
func (s *FileStore) Clear() (int, error) {
	count := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == s.dir {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			if os.Remove(path) == nil {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return count, storageErr(err, "clear checkpoint directory")
	}
	return count, nil
}

// Close does nothing for the file store.
func (s *FileStore) Close() error { return nil }

// path converts a key to a file path. The digest prefix spreads records
// across subdirectories to avoid too many files in one dir.
func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, key.Version, key.StageID, key.Digest[:2], key.Digest[2:]+".json")
}

type fileIterator struct {
	paths []string
	pos   int
}

func (it *fileIterator) Next(ctx context.Context) (*Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, storageErr(err, "scan cancelled")
		}
		if it.pos >= len(it.paths) {
			return nil, nil
		}
		path := it.paths[it.pos]
		it.pos++

		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue // removed since the snapshot; skip
		}
		if err != nil {
			return nil, storageErr(err, "read checkpoint %s", path)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // torn or foreign file; skip
		}
		return &rec, nil
	}
}

func (it *fileIterator) Close() error { return nil }

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
