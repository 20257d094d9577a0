package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/integrations"
	"github.com/matzehuels/depvet/pkg/integrations/crates"
	"github.com/matzehuels/depvet/pkg/integrations/github"
	"github.com/matzehuels/depvet/pkg/integrations/npm"
	"github.com/matzehuels/depvet/pkg/integrations/npmsio"
	"github.com/matzehuels/depvet/pkg/pipeline"
	"github.com/matzehuels/depvet/pkg/replay"
	"github.com/matzehuels/depvet/pkg/resolver"
	"github.com/matzehuels/depvet/pkg/retry"
	"github.com/matzehuels/depvet/pkg/stages"
)

// scanOptions collects the scan command's flags.
type scanOptions struct {
	store storeFlags

	version       string
	checkoutRoot  string
	env           string
	lockfilesOnly bool
	dropBelow     float64
	workers       int
	force         bool
	retries       int
	rate          int
	stageTimeout  time.Duration
	container     string
	githubToken   string
	recordPath    string
	output        string
}

// scanCommand creates the scan command.
func (c *CLI) scanCommand() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <org/repo[@ref]>...",
		Short: "Run the triage pipeline over seed repositories",
		Long: `Scan runs every seed repository through the four-stage pipeline:
discover dependency files, resolve the full package tree, enrich each
package with registry and repository metadata, and score the results.

Each (item, stage) outcome is checkpointed, so an interrupted or partially
failed scan resumes from where it left off when re-run with the same store.
Working copies are expected under <checkout-root>/<org>/<repo>.`,
		Example: `  depvet scan acme/widgets
  depvet scan acme/widgets@deadbeef --env prod-only --drop-below 0.4
  depvet scan acme/widgets --store redis --redis-addr cache:6379
  depvet scan acme/widgets --record fixtures.jsonl -o findings.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScan(cmd, args, opts)
		},
	}

	opts.store.register(cmd)
	cmd.Flags().StringVar(&opts.version, "pipeline-version", "v1", "pipeline version folded into checkpoint keys")
	cmd.Flags().StringVar(&opts.checkoutRoot, "checkout-root", ".", "directory holding working copies as <root>/<org>/<repo>")
	cmd.Flags().StringVar(&opts.env, "env", resolver.EnvDefault, "install environment: prod-only, no-scripts, or empty for default")
	cmd.Flags().BoolVar(&opts.lockfilesOnly, "lockfiles-only", false, "restrict discovery to lockfiles")
	cmd.Flags().Float64Var(&opts.dropBelow, "drop-below", 0, "drop findings scoring under this threshold (0 keeps everything)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent items per stage (0 uses the engine default)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "re-execute stages even when a succeeded checkpoint exists")
	cmd.Flags().IntVar(&opts.retries, "retries", 3, "attempts per impure stage invocation, including the first")
	cmd.Flags().IntVar(&opts.rate, "rate", 0, "cap on collaborator requests per second (0 disables)")
	cmd.Flags().DurationVar(&opts.stageTimeout, "stage-timeout", 2*time.Minute, "per-attempt deadline for impure stages")
	cmd.Flags().StringVar(&opts.container, "container", "", "resolve inside this container image instead of on the host")
	cmd.Flags().StringVar(&opts.githubToken, "github-token", "", "GitHub token for repository enrichment (default $GITHUB_PAT)")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "record collaborator responses to this fixture file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write findings as JSON to this file")

	return cmd
}

func (c *CLI) runScan(cmd *cobra.Command, args []string, opts *scanOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seeds, err := parseSeeds(args, opts.env)
	if err != nil {
		return err
	}

	store, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	policy := retry.NewPolicy()
	policy.MaxAttempts = opts.retries
	if opts.rate > 0 {
		policy.WithRateLimit(opts.rate, time.Second)
	}

	clients, fixtures := c.newMetadataClients(opts)

	rslv := resolver.New()
	if opts.container != "" {
		rslv.Runner = resolver.NewDockerRunner(opts.container)
	}

	def := stages.NewDefinition(stages.PipelineConfig{
		Version:       opts.version,
		CheckoutRoot:  opts.checkoutRoot,
		LockfilesOnly: opts.lockfilesOnly,
		Score:         stages.NewScoreConfig(opts.dropBelow),
		StageTimeout:  opts.stageTimeout,
	}, rslv, clients)

	runner, err := pipeline.NewRunner(def, store, policy, c.Logger)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		runner.Workers = opts.workers
	}
	runner.Force = opts.force

	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Scanning %s...", fmtCount(len(seeds), "repository")))
	spinner.Start()

	start := time.Now()
	res, err := runner.Run(ctx, seeds)
	if err != nil {
		spinner.StopWithError(fmt.Sprintf("Scan aborted: %v", err))
		return err
	}
	if spinner.Cancelled() {
		spinner.Stop()
		printWarning("Scan interrupted; %d items left pending, re-run to resume", res.Summary.Pending)
	} else {
		spinner.StopWithSuccess(fmt.Sprintf("Scanned %s in %s",
			fmtCount(len(seeds), "repository"), time.Since(start).Round(time.Millisecond)))
	}

	if fixtures != nil {
		if err := fixtures.Save(opts.recordPath); err != nil {
			return err
		}
		printDetail("recorded %s to %s", fmtCount(fixtures.Len(), "fixture"), opts.recordPath)
	}

	printSummary(res)
	printFindings(res)

	if opts.output != "" {
		if err := writeFindings(res, opts.output); err != nil {
			return err
		}
		printFile(opts.output)
	}
	if res.Summary.Failed > 0 {
		printNextStep("Inspect failures", "depvet checkpoint ls --status failed-terminal")
	}
	return nil
}

// newMetadataClients builds the registry and forge clients, optionally in
// record mode so every response lands in a fixture file for offline replay.
func (c *CLI) newMetadataClients(opts *scanOptions) (stages.MetadataClients, *replay.Fixtures) {
	token := opts.githubToken
	if token == "" {
		token = os.Getenv("GITHUB_PAT")
	}

	shared := integrations.NewClient(nil)
	gh := github.NewClient(token)
	cr := crates.NewClient()

	var fixtures *replay.Fixtures
	if opts.recordPath != "" {
		fixtures = replay.NewFixtures()
		shared.WithFixtures(fixtures, integrations.ModeRecord)
		gh.WithFixtures(fixtures, integrations.ModeRecord)
		cr.WithFixtures(fixtures, integrations.ModeRecord)
	}

	return stages.MetadataClients{
		NPM:    npm.NewClient(shared),
		NPMSIO: npmsio.NewClient(shared),
		Crates: cr,
		GitHub: gh,
	}, fixtures
}

// printFindings lists scored findings, worst first.
func printFindings(res *pipeline.Result) {
	findings := collectFindings(res)
	if len(findings) == 0 {
		return
	}

	printNewline()
	fmt.Println(StyleTitle.Render("Findings"))
	for _, f := range findings {
		style := StyleDim
		switch {
		case f.Score >= 0.5:
			style = StyleDanger
		case f.Score >= 0.2:
			style = StyleWarning
		}
		line := style.Render(fmt.Sprintf("  %.2f  %-40s", f.Score, f.Meta.Package.Ref()))
		if len(f.Flags) > 0 {
			line += "  " + StyleDim.Render(strings.Join(f.Flags, ", "))
		}
		fmt.Println(line)
	}
}

// collectFindings decodes the final-stage payloads, sorted by descending
// score then by package reference.
func collectFindings(res *pipeline.Result) []stages.Finding {
	findings := make([]stages.Finding, 0, len(res.Items))
	for _, item := range res.Items {
		if len(item.History) == 0 || item.History[len(item.History)-1].Status != checkpoint.StatusSucceeded {
			continue
		}
		var f stages.Finding
		if err := item.DecodePayload(&f); err != nil {
			continue
		}
		findings = append(findings, f)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Score != findings[j].Score {
			return findings[i].Score > findings[j].Score
		}
		return findings[i].Meta.Package.Ref() < findings[j].Meta.Package.Ref()
	})
	return findings
}

// writeFindings exports the run's findings as indented JSON.
func writeFindings(res *pipeline.Result, path string) error {
	doc := struct {
		RunID    string           `json:"run_id"`
		Summary  pipeline.Summary `json:"summary"`
		Findings []stages.Finding `json:"findings"`
	}{
		RunID:    res.RunID,
		Summary:  res.Summary,
		Findings: collectFindings(res),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
