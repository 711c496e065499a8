package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/registry"
	"github.com/sells-group/munivars/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered municipalities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		logStep(out, "📋", "登録済み自治体一覧")

		munis, err := se.Files.ListMunicipalities()
		if err != nil {
			return eris.Wrap(err, "list municipalities")
		}
		if len(munis) == 0 {
			logLine(out, colorDim, "  自治体が登録されていません")
			return nil
		}

		total := se.Catalog.TotalVariables()
		counts := make(map[string]store.VariableCount, len(munis))
		for _, m := range munis {
			c, err := se.Files.Counts(m.ID)
			if err != nil {
				return eris.Wrapf(err, "count variables for %s", m.ID)
			}
			if c.Total < total {
				c.Total = total
			}
			counts[m.ID] = c
		}
		formatMunicipalities(out, munis, counts)
		return nil
	},
}

func statusLabel(s model.MunicipalityStatus) string {
	switch s {
	case model.MunicipalityPublished:
		return "公開"
	case model.MunicipalityPendingReview:
		return "確認待ち"
	case model.MunicipalityFetching:
		return "取得中"
	case model.MunicipalityError:
		return "エラー"
	default:
		return "下書き"
	}
}

func formatMunicipalities(out io.Writer, munis []model.MunicipalityMeta, counts map[string]store.VariableCount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\t名前\t都道府県\tステータス\t変数")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t----------\t----")
	for _, m := range munis {
		c := counts[m.ID]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n", m.ID, m.Name, m.Prefecture, statusLabel(m.Status), c.Filled, c.Total)
	}
	_ = w.Flush()
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the services and how many variables each owns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := registry.Default()
		if err != nil {
			return eris.Wrap(err, "load service registry")
		}
		out := cmd.OutOrStdout()
		logStep(out, "🔧", "利用可能なサービス一覧")
		formatServices(out, cat.Services())
		return nil
	},
}

func formatServices(out io.Writer, services []model.ServiceDefinition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\t名前\t変数数")
	_, _ = fmt.Fprintln(w, "--\t----\t------")
	for _, s := range services {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.ID, s.Name, len(s.Variables))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(listCmd, servicesCmd)
}
