package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a checkpoint record: pipeline version, stage, and a digest
// of the work item identity plus the stage configuration. Records are
// namespaced as {version}/{stage-id}/{digest}, so bumping the pipeline
// version or changing a stage's configuration invalidates prior checkpoints
// by construction rather than silently reinterpreting them.
type Key struct {
	Version string `json:"version"`
	StageID string `json:"stage_id"`
	Digest  string `json:"digest"`
}

// String renders the key in its canonical {version}/{stage-id}/{digest} form.
func (k Key) String() string {
	return k.Version + "/" + k.StageID + "/" + k.Digest
}

// ParseKey parses the canonical {version}/{stage-id}/{digest} form.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("malformed checkpoint key: %q", s)
	}
	return Key{Version: parts[0], StageID: parts[1], Digest: parts[2]}, nil
}

// Fingerprint computes the checkpoint key for an (item, stage, config)
// combination.
//
// The digest is a SHA-256 over the JSON encoding of the inputs, so it is
// stable across process restarts and machines: it depends only on the item
// identity string, the stage id, and the stage configuration value, never on
// memory addresses, timestamps, or map iteration order. Configs that must
// participate in invalidation should be JSON-marshalable with deterministic
// field order (structs, not maps).
func Fingerprint(version, stageID, identity string, config any) Key {
	return Key{
		Version: version,
		StageID: stageID,
		Digest:  digest(stageID, identity, config),
	}
}

// digest hashes the components into a 64-char hex string.
// Full SHA-256 (256 bits) to prevent collisions.
func digest(parts ...any) string {
	data, _ := json.Marshal(parts)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
