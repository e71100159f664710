package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robert-malhotra/reservoir-area/internal/journal"
)

func journalCmd(a *app) *cobra.Command {
	var fileNumbers int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded partitions and the ones still pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JournalPath == "" {
				return fmt.Errorf("JOURNAL_PATH is not set")
			}
			j, err := journal.Open(a.cfg.JournalPath, a.cfg.Run.OutputFolder, a.cfg.Run.OutputLabel)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx := cmd.Context()
			entries, err := j.Latest(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tTABLE\tSUCCEEDED\tFAILED\tEXPORTED\tRUN\tRECORDED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%t\t%s\t%s\n",
					e.Index, e.Table, e.Succeeded, e.Failed, e.Exported, e.RunID, e.RecordedAt.Format("2006-01-02 15:04:05"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			next, err := j.ResumeOffset(ctx)
			if errors.Is(err, journal.ErrNoRuns) {
				fmt.Fprintf(out, "\nno partitions recorded for %s\n", a.cfg.Run.OutputFolder)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nnext offset: %d\n", next)

			if fileNumbers > 0 {
				pending, err := j.Pending(ctx, fileNumbers)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pending: %v\n", pending)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&fileNumbers, "file-numbers", 0, "plan file count; lists pending partitions when set")
	return cmd
}
