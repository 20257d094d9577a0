package stages

import (
	"context"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/pipeline"
)

// Triage flags attached to findings. Stable strings: they appear in
// exports and audit output.
const (
	FlagDeprecated       = "deprecated"
	FlagArchivedRepo     = "archived-repo"
	FlagNoLicense        = "no-license"
	FlagSingleMaintainer = "single-maintainer"
	FlagLowRegistryScore = "low-registry-score"
	FlagRecentPublish    = "recently-published"
	FlagNoRepo           = "no-repo"
)

// ScoreConfig configures triage scoring. The whole struct participates in
// the checkpoint fingerprint, so tuning any weight re-scores on next run.
type ScoreConfig struct {
	// DropBelow filters findings scoring under the threshold out of the
	// pipeline entirely. Zero keeps everything.
	DropBelow float64 `json:"drop_below"`

	// RecentPublishDays flags versions published within this many days of
	// AsOf. Zero defaults to 30.
	RecentPublishDays int `json:"recent_publish_days"`

	// AsOf anchors time-based signals. Stored at day granularity so scans
	// on the same day share checkpoints; replays reuse the recorded value.
	AsOf time.Time `json:"as_of"`
}

// NewScoreConfig returns a config anchored to today.
func NewScoreConfig(dropBelow float64) ScoreConfig {
	return ScoreConfig{
		DropBelow:         dropBelow,
		RecentPublishDays: 30,
		AsOf:              time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// Finding is the scored triage result for one package: the final pipeline
// payload of a scan.
type Finding struct {
	Meta  Meta     `json:"meta"`
	Score float64  `json:"score"` // 0 (benign) to 1 (investigate now)
	Flags []string `json:"flags,omitempty"`
}

// Score returns the scoring analyzer. It is pure: the same metadata and
// config always produce the same finding, so it runs once per item and
// re-executes live during replay.
func Score(cfg ScoreConfig) pipeline.Analyzer {
	recentDays := cfg.RecentPublishDays
	if recentDays <= 0 {
		recentDays = 30
	}

	return pipeline.AnalyzerFunc(func(_ context.Context, item pipeline.Item) ([]pipeline.Item, error) {
		var meta Meta
		if err := item.DecodePayload(&meta); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "item %s has no metadata payload", item.Identity())
		}

		finding := score(meta, cfg.AsOf, recentDays)
		if cfg.DropBelow > 0 && finding.Score < cfg.DropBelow {
			return nil, nil
		}

		out, err := item.SetPayload(finding)
		if err != nil {
			return nil, err
		}
		return []pipeline.Item{out}, nil
	})
}

// score applies the triage heuristics in a fixed order so flag lists and
// totals are deterministic.
func score(meta Meta, asOf time.Time, recentDays int) Finding {
	f := Finding{Meta: meta}
	add := func(weight float64, flag string) {
		f.Score += weight
		f.Flags = append(f.Flags, flag)
	}

	if meta.Deprecated != "" {
		add(0.30, FlagDeprecated)
	}
	if meta.Repo != nil && meta.Repo.Archived {
		add(0.20, FlagArchivedRepo)
	}
	if meta.License == "" && (meta.Repo == nil || meta.Repo.License == "") {
		add(0.10, FlagNoLicense)
	}
	if meta.Maintainers == 1 {
		add(0.10, FlagSingleMaintainer)
	}
	if meta.RegistryScore != nil && meta.RegistryScore.Final < 0.30 {
		add(0.20, FlagLowRegistryScore)
	}
	if meta.PublishedAt != nil && !asOf.IsZero() {
		if age := asOf.Sub(*meta.PublishedAt); age >= 0 && age < time.Duration(recentDays)*24*time.Hour {
			add(0.20, FlagRecentPublish)
		}
	}
	if meta.Repository == "" {
		add(0.10, FlagNoRepo)
	}

	if f.Score > 1 {
		f.Score = 1
	}
	return f
}
