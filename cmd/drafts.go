package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/validate"
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Review, approve and publish fetched drafts",
}

func loadDraft(se *storeEnv, muni, service string) (*model.Draft, error) {
	d, err := se.Drafts.Get(muni, service)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, eris.Errorf("draft %s not found", drafts.ID(muni, service))
	}
	return d, nil
}

// -- drafts list --

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		muni, _ := cmd.Flags().GetString("municipality")
		status, _ := cmd.Flags().GetString("status")

		list, err := se.Drafts.List(drafts.Filter{MunicipalityID: muni, Status: model.DraftStatus(status)})
		if err != nil {
			return eris.Wrap(err, "drafts list")
		}
		if len(list) == 0 {
			logLine(cmd.ErrOrStderr(), colorDim, "No drafts found.")
			return nil
		}
		formatDraftList(cmd.OutOrStdout(), list)
		return nil
	},
}

func formatDraftList(out io.Writer, list []model.DraftSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tFILLED\tMISSING\tERRORS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t------\t-------")
	for _, s := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			s.ID, s.Status, s.FilledVariables, s.TotalVariables, s.MissingCount, s.ErrorCount,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// -- drafts show --

var draftsShowCmd = &cobra.Command{
	Use:   "show <municipality> <service>",
	Short: "Print a draft as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		d, err := loadDraft(se, args[0], args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), d)
	},
}

// -- drafts diff --

var draftsDiffCmd = &cobra.Command{
	Use:   "diff <municipality> <service>",
	Short: "Compare a draft with the published variables",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		d, err := loadDraft(se, args[0], args[1])
		if err != nil {
			return err
		}
		vs, err := se.Files.LoadVariables(args[0])
		if err != nil {
			return err
		}
		cmp := drafts.Compare(d, vs)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), cmp)
		}
		formatComparison(cmd.OutOrStdout(), cmp, cfg.Pipeline.SignificantChange)
		return nil
	},
}

func strOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	if *s == "" {
		return `""`
	}
	return *s
}

var diffMarks = map[model.DiffType]string{
	model.DiffAdded:     colorGreen + "+",
	model.DiffModified:  colorYellow + "~",
	model.DiffRemoved:   colorRed + "-",
	model.DiffUnchanged: colorDim + "=",
}

func formatComparison(out io.Writer, cmp model.DraftComparison, significance float64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range cmp.Entries {
		_, _ = fmt.Fprintf(w, "%s %s%s\t%s\t→ %s\t%.2f\n",
			diffMarks[e.Type], e.VariableName, colorReset, strOrDash(e.OldValue), strOrDash(e.NewValue), e.Confidence)
	}
	_ = w.Flush()
	logDetail(out, "差分", drafts.DiffSummary(cmp))
	if drafts.HasSignificantChanges(cmp, significance) {
		logLine(out, colorYellow, "   大幅な変更があります。確認してから適用してください。")
	}
}

// -- drafts approve / reject --

var draftsApproveCmd = &cobra.Command{
	Use:   "approve <municipality> <service>",
	Short: "Approve a draft",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		return setDraftStatus(cmd, args, model.DraftStatusApproved, by, "")
	},
}

var draftsRejectCmd = &cobra.Command{
	Use:   "reject <municipality> <service>",
	Short: "Reject a draft",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")
		return setDraftStatus(cmd, args, model.DraftStatusRejected, by, reason)
	},
}

func setDraftStatus(cmd *cobra.Command, args []string, status model.DraftStatus, by, reason string) error {
	se, err := initStoreEnv()
	if err != nil {
		return err
	}
	d, err := se.Drafts.UpdateStatus(args[0], args[1], status, by, reason)
	if err != nil {
		return err
	}
	if d == nil {
		return eris.Errorf("draft %s not found", drafts.ID(args[0], args[1]))
	}
	logDetail(cmd.OutOrStdout(), d.ID, string(d.Status))
	return nil
}

// -- drafts apply --

var draftsApplyCmd = &cobra.Command{
	Use:   "apply <municipality> <service>",
	Short: "Publish an approved draft into the variable store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")

		d, err := loadDraft(se, args[0], args[1])
		if err != nil {
			return err
		}
		if d.Status != model.DraftStatusApproved && !force {
			return eris.Errorf("draft %s is %s; approve it first or pass --force", d.ID, d.Status)
		}
		applied, err := publishDraft(se, d, minConf, time.Now().UTC())
		if err != nil {
			return err
		}
		logLine(cmd.OutOrStdout(), colorGreen, fmt.Sprintf("✅ %d個の変数を適用", applied))
		return nil
	},
}

// publishDraft merges d into the published store and marks the municipality
// published when anything was written.
func publishDraft(se *storeEnv, d *model.Draft, minConf float64, now time.Time) (int, error) {
	vs, err := se.Files.LoadVariables(d.MunicipalityID)
	if err != nil {
		return 0, err
	}
	applied := 0
	keep := func(_ string, e model.DraftVariableEntry) bool {
		if e.Confidence < minConf {
			return false
		}
		applied++
		return true
	}
	out := drafts.ApplyFiltered(d, vs, now, keep)
	if applied == 0 {
		return 0, nil
	}
	if err := se.Files.SaveVariables(d.MunicipalityID, out); err != nil {
		return 0, err
	}
	meta, err := se.Files.LoadMeta(d.MunicipalityID)
	if err != nil {
		return applied, err
	}
	if meta != nil {
		meta.Status = model.MunicipalityPublished
		meta.UpdatedAt = now
		if err := se.Files.SaveMeta(meta); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// -- drafts accept-suggestion --

var draftsAcceptCmd = &cobra.Command{
	Use:   "accept-suggestion <municipality> <service> <variable>",
	Short: "Promote a missing-variable suggestion into the draft",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		value, _ := cmd.Flags().GetString("value")
		d, err := se.Drafts.ApplySuggestion(args[0], args[1], args[2], value)
		if err != nil {
			return err
		}
		if d == nil {
			return eris.Errorf("draft %s not found", drafts.ID(args[0], args[1]))
		}
		logDetail(cmd.OutOrStdout(), args[2], d.Variables[args[2]].Value)
		return nil
	},
}

// -- drafts refetch --

var draftsRefetchCmd = &cobra.Command{
	Use:   "refetch <municipality> <service>",
	Short: "Re-run acquisition for specific variables and merge the results into the draft",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initFetchEnv(ctx, cfg.FreeTier, false)
		if err != nil {
			return err
		}
		defer env.Close()

		meta, err := env.Files.LoadMeta(args[0])
		if err != nil {
			return err
		}
		if meta == nil {
			return eris.Errorf("municipality %q not found", args[0])
		}
		d, err := loadDraft(env.storeEnv, args[0], args[1])
		if err != nil {
			return err
		}

		names, _ := cmd.Flags().GetStringSlice("variables")
		if len(names) == 0 {
			names = d.MissingVariables
		}
		if len(names) == 0 {
			logLine(cmd.OutOrStdout(), colorDim, "   再取得する変数がありません")
			return nil
		}

		res := env.Fetcher.FetchSpecificVariables(ctx, *meta, args[1], names)
		edits := concreteEdits(res.Variables)
		if len(edits) > 0 {
			if _, err := env.Drafts.UpdateVariables(args[0], args[1], edits); err != nil {
				return err
			}
		}
		for _, msg := range res.ErrorMessages() {
			logLine(cmd.OutOrStdout(), colorRed, "   ❌ "+msg)
		}
		logLine(cmd.OutOrStdout(), colorGreen, fmt.Sprintf("✅ %d/%d個の変数を再取得", len(edits), len(names)))
		return nil
	},
}

// concreteEdits turns concrete extraction results into draft edits.
func concreteEdits(vars []model.ExtractedVariable) map[string]drafts.Edit {
	edits := make(map[string]drafts.Edit)
	for _, v := range vars {
		if !v.HasValue() || !validate.IsConcrete(v.VariableName, v.Value) {
			continue
		}
		src, conf := v.SourceURL, v.Confidence
		valid := v.ValidationError == ""
		edits[v.VariableName] = drafts.Edit{Value: *v.Value, SourceURL: &src, Confidence: &conf, Validated: &valid}
	}
	return edits
}

// -- drafts stats --

var draftsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show draft counts by status and municipality",
	RunE: func(cmd *cobra.Command, _ []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		st, err := se.Drafts.Statistics()
		if err != nil {
			return err
		}
		formatDraftStats(cmd.OutOrStdout(), st)
		return nil
	},
}

func formatDraftStats(out io.Writer, st model.DraftStatistics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total drafts:\t%d\n", st.Total)
	for _, s := range []model.DraftStatus{
		model.DraftStatusDraft, model.DraftStatusPendingReview, model.DraftStatusApproved, model.DraftStatusRejected,
	} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", s, st.ByStatus[s])
	}
	_ = w.Flush()
}

func init() {
	draftsListCmd.Flags().String("municipality", "", "filter by municipality id")
	draftsListCmd.Flags().String("status", "", "filter by status (draft, pending_review, approved, rejected)")
	draftsDiffCmd.Flags().Bool("json", false, "print the comparison as JSON")
	draftsApproveCmd.Flags().String("by", "operator", "approver recorded on the draft")
	draftsRejectCmd.Flags().String("by", "operator", "reviewer recorded on the draft")
	draftsRejectCmd.Flags().String("reason", "", "rejection reason")
	draftsApplyCmd.Flags().Bool("force", false, "apply even when the draft is not approved")
	draftsApplyCmd.Flags().Float64("min-confidence", 0, "skip values below this confidence")
	draftsAcceptCmd.Flags().String("value", "", "override the suggested value")
	draftsRefetchCmd.Flags().StringSlice("variables", nil, "variables to refetch (default: the draft's missing variables)")

	draftsCmd.AddCommand(draftsListCmd, draftsShowCmd, draftsDiffCmd, draftsApproveCmd, draftsRejectCmd,
		draftsApplyCmd, draftsAcceptCmd, draftsRefetchCmd, draftsStatsCmd)
	rootCmd.AddCommand(draftsCmd)
}
