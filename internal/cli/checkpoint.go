package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/stages"
)

// checkpointCommand creates the checkpoint store management command.
func (c *CLI) checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and manage the checkpoint store",
	}

	cmd.AddCommand(c.checkpointPathCommand())
	cmd.AddCommand(c.checkpointLsCommand())
	cmd.AddCommand(c.checkpointClearCommand())

	return cmd
}

// checkpointPathCommand creates the "checkpoint path" subcommand.
func (c *CLI) checkpointPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default checkpoint directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := checkpointDir()
			if err != nil {
				return fmt.Errorf("get checkpoint dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// checkpointLsCommand creates the "checkpoint ls" subcommand.
func (c *CLI) checkpointLsCommand() *cobra.Command {
	var (
		store       storeFlags
		stage       string
		status      string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List checkpoint records",
		Long: `List the records in the checkpoint store, optionally filtered by stage
and status. With --interactive, records open in a browsable table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := scanRecords(ctx, s, stage, status)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				printInfo("No matching checkpoint records")
				return nil
			}

			if interactive {
				model := newRecordListModel(records)
				_, err := tea.NewProgram(model).Run()
				return err
			}

			for _, rec := range records {
				line := fmt.Sprintf("%-10s %-9s %d  %s",
					rec.Key.StageID, rec.Status, rec.Attempts, rec.Key.String())
				switch rec.Status {
				case checkpoint.StatusSucceeded:
					fmt.Println(StyleSuccess.Render(iconSuccess) + " " + line)
				case checkpoint.StatusFailedTerminal:
					fmt.Println(StyleDanger.Render(iconError) + " " + line)
				default:
					fmt.Println(StyleDim.Render(iconInfo + " " + line))
				}
			}
			printDetail("%s", fmtCount(len(records), "record"))
			return nil
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&stage, "stage", "", "only records for this stage")
	cmd.Flags().StringVar(&status, "status", "", "only records with this status (pending, succeeded, failed-retryable, failed-terminal)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse records in an interactive table")

	return cmd
}

// checkpointClearCommand creates the "checkpoint clear" subcommand.
func (c *CLI) checkpointClearCommand() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all records from a file-backed checkpoint store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			fs, ok := s.(*checkpoint.FileStore)
			if !ok {
				return errors.New(errors.ErrCodeUnsupported, "clear supports only the file backend; drop keys on %s directly", store.backend)
			}
			count, err := fs.Clear()
			if err != nil {
				return err
			}
			printSuccess("Cleared %s", fmtCount(count, "checkpoint record"))
			printDetail("Directory: %s", fs.Dir())
			return nil
		},
	}

	store.register(cmd)
	return cmd
}

// scanRecords collects records for the requested stages, newest last.
func scanRecords(ctx context.Context, s checkpoint.Store, stage, status string) ([]*checkpoint.Record, error) {
	stageIDs := []string{stages.StageDiscover, stages.StageResolve, stages.StageMetadata, stages.StageScore}
	if stage != "" {
		stageIDs = []string{stage}
	}

	var records []*checkpoint.Record
	for _, id := range stageIDs {
		iter, err := s.Scan(ctx, id)
		if err != nil {
			return nil, err
		}
		for {
			rec, err := iter.Next(ctx)
			if err != nil {
				iter.Close()
				return nil, err
			}
			if rec == nil {
				break
			}
			if status != "" && string(rec.Status) != status {
				continue
			}
			records = append(records, rec)
		}
		iter.Close()
	}
	return records, nil
}
