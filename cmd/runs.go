package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		rs, err := store.OpenRunStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer rs.Close() //nolint:errcheck

		muni, _ := cmd.Flags().GetString("municipality")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := rs.ListRuns(ctx, store.RunFilter{
			MunicipalityID: muni,
			Status:         model.PipelineStatus(status),
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			logLine(cmd.ErrOrStderr(), colorDim, "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its step log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		rs, err := store.OpenRunStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer rs.Close() //nolint:errcheck

		run, err := rs.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run == nil {
			return eris.Errorf("run %s not found", args[0])
		}
		return writeJSON(cmd.OutOrStdout(), run)
	},
}

func init() {
	runsListCmd.Flags().String("municipality", "", "filter by municipality id")
	runsListCmd.Flags().String("status", "", "filter by status (completed, failed, paused, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runDuration(r model.PipelineResult) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.PipelineResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMUNICIPALITY\tSTATUS\tFETCHED\tAPPLIED\tERRORS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------------\t------\t-------\t-------\t------\t-------\t--------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Config.MunicipalityID,
			r.Status,
			r.Summary.FetchedVariables, r.Summary.TotalVariables,
			r.Summary.AppliedVariables,
			r.Summary.Errors,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			runDuration(r),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
