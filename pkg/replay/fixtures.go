package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/matzehuels/depvet/pkg/errors"
)

// Fixtures is a keyed store of recorded collaborator responses, persisted as
// JSON Lines: one {"key": ..., "value": ...} object per line. Integration
// clients record live responses into it and serve from it during replay, so
// a scan can be reproduced on a machine with no network access at all.
type Fixtures struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

type fixtureLine struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// NewFixtures returns an empty fixture set.
func NewFixtures() *Fixtures {
	return &Fixtures{entries: make(map[string]json.RawMessage)}
}

// LoadFixtures reads a JSONL fixture file. A missing file yields an empty
// set, so record mode can start from nothing.
func LoadFixtures(path string) (*Fixtures, error) {
	f := NewFixtures()

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "opening fixture file %s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line fixtureLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStorage, err, "fixture file %s line %d", path, lineNo)
		}
		if line.Key == "" {
			return nil, errors.New(errors.ErrCodeStorage, "fixture file %s line %d has an empty key", path, lineNo)
		}
		f.entries[line.Key] = line.Value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "reading fixture file %s", path)
	}
	return f, nil
}

// Save writes the fixtures as JSONL, sorted by key so the file diffs cleanly
// under version control. The write is atomic via a temp file rename.
func (f *Fixtures) Save(path string) error {
	f.mu.RLock()
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fixtures-*")
	if err != nil {
		f.mu.RUnlock()
		return errors.Wrap(errors.ErrCodeStorage, err, "creating fixture temp file")
	}

	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		line, merr := json.Marshal(fixtureLine{Key: k, Value: f.entries[k]})
		if merr != nil {
			err = merr
			break
		}
		if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
			err = werr
			break
		}
	}
	f.mu.RUnlock()

	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(errors.ErrCodeStorage, err, "writing fixture file %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(errors.ErrCodeStorage, err, "replacing fixture file %s", path)
	}
	return nil
}

// Get unmarshals the recorded value for key into v. The boolean reports
// whether the key was present.
func (f *Fixtures) Get(key string, v any) (bool, error) {
	f.mu.RLock()
	raw, ok := f.entries[key]
	f.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, errors.Wrap(errors.ErrCodeStorage, err, "decoding fixture %q", key)
	}
	return true, nil
}

// Put records a value under key, replacing any previous recording.
func (f *Fixtures) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorage, err, "encoding fixture %q", key)
	}
	f.mu.Lock()
	f.entries[key] = raw
	f.mu.Unlock()
	return nil
}

// Len reports the number of recorded entries.
func (f *Fixtures) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Keys returns the recorded keys in sorted order.
func (f *Fixtures) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
