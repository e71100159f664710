package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

func planCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the partition plan without processing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			feats, err := loadFeatures(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			plan, err := a.cfg.Run.Plan(len(feats))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "size of the collection: %d\n", plan.Size)
			fmt.Fprintf(out, "size of partition: %d\n", plan.PartitionSize)
			fmt.Fprintf(out, "number of files: %d\n", plan.FileNumbers)
			fmt.Fprintf(out, "folder: %s\n\n", a.cfg.Run.OutputFolder)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tTABLE\tFEATURES\tIDS")
			for i := 0; i < plan.FileNumbers; i++ {
				lo, hi := plan.Partition(i)
				ids := "-"
				if hi > lo {
					ids = fmt.Sprintf("%d..%d", feats[lo].ID, feats[hi-1].ID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, pipeline.TableName(i, a.cfg.Run.OutputLabel), hi-lo, ids)
			}
			return tw.Flush()
		},
	}
}
