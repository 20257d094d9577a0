package cli

import (
	stderrors "errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/replay"
	"github.com/matzehuels/depvet/pkg/resolver"
	"github.com/matzehuels/depvet/pkg/stages"
)

// replayOptions collects the replay command's flags.
type replayOptions struct {
	store storeFlags

	version       string
	checkoutRoot  string
	env           string
	lockfilesOnly bool
	dropBelow     float64
	rounds        int
}

// replayCommand creates the replay command.
func (c *CLI) replayCommand() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <org/repo[@ref]>...",
		Short: "Re-execute a recorded scan without live collaborators",
		Long: `Replay re-runs the pipeline against a previously populated checkpoint
store. Impure stages (resolve, metadata) are served exclusively from
recorded checkpoints; any miss fails the replay instead of reaching the
network. Pure stages re-execute, so replays double as regression checks
for discovery and scoring logic.

With --rounds above 1, the replay runs repeatedly and asserts that every
round produces byte-identical outputs.`,
		Example: `  depvet replay acme/widgets --store-path ./checkpoints
  depvet replay acme/widgets --rounds 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReplay(cmd, args, opts)
		},
	}

	opts.store.register(cmd)
	cmd.Flags().StringVar(&opts.version, "pipeline-version", "v1", "pipeline version the recording was made with")
	cmd.Flags().StringVar(&opts.checkoutRoot, "checkout-root", ".", "directory holding working copies as <root>/<org>/<repo>")
	cmd.Flags().StringVar(&opts.env, "env", resolver.EnvDefault, "install environment the recording was made with")
	cmd.Flags().BoolVar(&opts.lockfilesOnly, "lockfiles-only", false, "restrict discovery to lockfiles")
	cmd.Flags().Float64Var(&opts.dropBelow, "drop-below", 0, "drop findings scoring under this threshold")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 1, "replay this many times and verify identical outputs")

	return cmd
}

func (c *CLI) runReplay(cmd *cobra.Command, args []string, opts *replayOptions) error {
	ctx := cmd.Context()

	seeds, err := parseSeeds(args, opts.env)
	if err != nil {
		return err
	}

	store, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	def := stages.NewDefinition(stages.PipelineConfig{
		Version:       opts.version,
		CheckoutRoot:  opts.checkoutRoot,
		LockfilesOnly: opts.lockfilesOnly,
		Score:         stages.NewScoreConfig(opts.dropBelow),
	}, resolver.New(), stages.MetadataClients{})

	driver, err := replay.NewDriver(def, store, c.Logger)
	if err != nil {
		return err
	}

	if opts.rounds > 1 {
		spinner := newSpinnerWithContext(ctx, "Verifying replay determinism...")
		spinner.Start()
		if err := driver.VerifyDeterminism(ctx, seeds, opts.rounds); err != nil {
			spinner.StopWithError("Replay outputs diverged")
			return err
		}
		spinner.StopWithSuccess("Replayed deterministically")
		printDetail("%d rounds, byte-identical outputs", opts.rounds)
		return nil
	}

	start := time.Now()
	res, err := driver.Run(ctx, seeds)
	if err != nil {
		if stderrors.Is(err, replay.ErrLiveCallInReplay) {
			printError("Replay is incomplete: an impure stage has no recorded checkpoint")
			printNextStep("Record a full scan first", "depvet scan "+args[0])
		}
		return err
	}

	printSuccess("Replayed %s in %s", fmtCount(len(seeds), "repository"), time.Since(start).Round(time.Millisecond))
	printSummary(res)
	printFindings(res)
	return nil
}
