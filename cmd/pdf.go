package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/scrape"
)

var pdfCmd = &cobra.Command{
	Use:   "pdf <municipality> <service> <pdf-url>",
	Short: "Extract variables from one PDF lead and merge them into the draft",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		muni, service, url := args[0], args[1], args[2]
		if !scrape.IsPDFURL(url) {
			return eris.Errorf("%s does not look like a PDF", url)
		}

		env, err := initFetchEnv(ctx, cfg.FreeTier, false)
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := loadDraft(env.storeEnv, muni, service)
		if err != nil {
			return err
		}

		names, _ := cmd.Flags().GetStringSlice("variables")
		if len(names) == 0 {
			names = d.MissingVariables
		}
		defs := make([]model.VariableDefinition, 0, len(names))
		for _, n := range names {
			defs = append(defs, env.Catalog.Definition(n))
		}
		if len(defs) == 0 {
			logLine(cmd.OutOrStdout(), colorDim, "   抽出する変数がありません")
			return nil
		}

		page, err := env.Pages.Fetch(ctx, url)
		if err != nil {
			return eris.Wrapf(err, "fetch %s", url)
		}
		vars, err := env.Engine.FromPage(ctx, *page, defs)
		if err != nil {
			return eris.Wrap(err, "extract from pdf")
		}

		edits := concreteEdits(vars)
		if len(edits) > 0 {
			if _, err := env.Drafts.UpdateVariables(muni, service, edits); err != nil {
				return err
			}
		}
		for name, e := range edits {
			logDetail(cmd.OutOrStdout(), name, e.Value)
		}
		logLine(cmd.OutOrStdout(), colorGreen, fmt.Sprintf("✅ PDFから%d/%d個の変数を取得", len(edits), len(defs)))
		return nil
	},
}

func init() {
	pdfCmd.Flags().StringSlice("variables", nil, "variables to extract (default: the draft's missing variables)")
	rootCmd.AddCommand(pdfCmd)
}
