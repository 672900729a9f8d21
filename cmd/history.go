package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/x402labs/paywall-verify/internal/observability"
	"github.com/x402labs/paywall-verify/internal/service"
)

func newHistoryCmd(factory service.ComponentFactory) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent verification runs from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			components, err := factory.CreateHistory(ctx, cfg, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer components.Shutdown()

			runs, err := components.History.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tDRIVER\tSTATUS\tCLASS\tSTEPS\tDURATION\tTARGET")
			for _, r := range runs {
				class := string(r.FailureClass)
				if class == "" {
					class = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Driver,
					r.Status,
					class,
					r.StepsPassed, r.StepsTotal,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
					r.TargetURL,
				)
			}
			return tw.Flush()
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return historyCmd
}
