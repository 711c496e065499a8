package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/pipeline"
)

var errPipelineFailed = errors.New("pipeline failed")

// pipelineFlags are shared by run and fetch.
type pipelineFlags struct {
	ID          string
	Name        string
	Prefecture  string
	URL         string
	Services    string
	AutoApprove bool
	Threshold   float64
	DryRun      bool
	FreeTier    bool
	SearchLimit int
	GeminiLimit int
	JSON        bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.ID, "id", "", "municipality id (required)")
	fl.StringVar(&f.Name, "name", "", "municipality name (required for a new municipality)")
	fl.StringVar(&f.Prefecture, "prefecture", "", "prefecture (required for a new municipality)")
	fl.StringVar(&f.URL, "url", "", "official website URL")
	fl.StringVar(&f.Services, "services", "", "comma-separated service ids (default: all)")
	fl.BoolVar(&f.AutoApprove, "auto-approve", false, "approve drafts with confident values and publish them")
	fl.Float64Var(&f.Threshold, "threshold", pipeline.DefaultThreshold, "auto-approve confidence threshold")
	fl.BoolVar(&f.DryRun, "dry-run", false, "fetch without writing anything")
	fl.BoolVar(&f.FreeTier, "free-tier", false, "limit API usage to free-tier quotas")
	fl.IntVar(&f.SearchLimit, "search-limit", config.ConservativeFreeTier.SearchQueries, "search calls allowed in free-tier mode")
	fl.IntVar(&f.GeminiLimit, "gemini-limit", config.ConservativeFreeTier.LLMPerDay, "LLM calls allowed in free-tier mode")
	fl.BoolVar(&f.JSON, "json", false, "print the run result as JSON")
	_ = cmd.MarkFlagRequired("id")
}

// limits returns the quotas for this run. Outside free-tier mode they are
// informational only.
func (f *pipelineFlags) limits() model.FreeTierLimits {
	if !f.FreeTier {
		return cfg.FreeTier
	}
	l := config.ConservativeFreeTier
	if f.SearchLimit > 0 {
		l.SearchQueries = f.SearchLimit
	}
	if f.GeminiLimit > 0 {
		l.LLMPerDay = f.GeminiLimit
	}
	return l
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pipelineConfig merges flags, configuration defaults and an existing
// municipality record.
func (f *pipelineFlags) pipelineConfig(cmd *cobra.Command, existing *model.MunicipalityMeta) (model.PipelineConfig, error) {
	if f.ID == "" {
		return model.PipelineConfig{}, eris.New("--id is required")
	}
	if existing == nil && (f.Name == "" || f.Prefecture == "") {
		return model.PipelineConfig{}, eris.New("--name and --prefecture are required for a new municipality")
	}

	pc := model.PipelineConfig{
		MunicipalityID: f.ID,
		Name:           f.Name,
		Prefecture:     f.Prefecture,
		OfficialURL:    f.URL,
		Services:       splitList(f.Services),
		AutoApprove:    f.AutoApprove || cfg.Pipeline.AutoApprove,
		Threshold:      f.Threshold,
		DryRun:         f.DryRun,
		FreeTier:       f.FreeTier,
	}
	if !cmd.Flags().Changed("threshold") && cfg.Pipeline.Threshold > 0 {
		pc.Threshold = cfg.Pipeline.Threshold
	}
	if pc.Threshold < 0 || pc.Threshold > 1 {
		return model.PipelineConfig{}, eris.Errorf("--threshold must be within [0,1], got %v", pc.Threshold)
	}
	if existing != nil {
		if pc.Name == "" {
			pc.Name = existing.Name
		}
		if pc.Prefecture == "" {
			pc.Prefecture = existing.Prefecture
		}
		if pc.OfficialURL == "" {
			pc.OfficialURL = existing.OfficialURL
		}
	}
	if f.FreeTier {
		l := f.limits()
		pc.Limits = &l
	}
	return pc, nil
}

var runFlags pipelineFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline (create, fetch, review, apply, validate)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return executePipeline(cmd, &runFlags, false)
	},
}

var fetchFlags pipelineFlags

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch variables for an existing municipality",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return executePipeline(cmd, &fetchFlags, true)
	},
}

func executePipeline(cmd *cobra.Command, f *pipelineFlags, requireExisting bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := initFetchEnv(ctx, f.limits(), f.FreeTier)
	if err != nil {
		return err
	}
	defer env.Close()

	existing, err := env.Files.LoadMeta(f.ID)
	if err != nil {
		return eris.Wrap(err, "load municipality")
	}
	if requireExisting && existing == nil {
		return eris.Errorf("municipality %q not found; run create first", f.ID)
	}
	pc, err := f.pipelineConfig(cmd, existing)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	p := env.newPipeline(pc)
	if !f.JSON {
		printBanner(out, pc)
		p.OnEvent(consoleListener(out))
	}

	res := p.Run(ctx)
	zap.L().Info("pipeline run finished",
		zap.String("run_id", res.ID),
		zap.String("status", string(res.Status)),
		zap.Any("usage", env.Budget.Usage()),
	)

	if f.JSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		printSummary(out, res)
	}
	if res.Status == model.PipelineFailed {
		return errPipelineFailed
	}
	return nil
}

var createFlags struct {
	ID         string
	Name       string
	Prefecture string
	URL        string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a municipality without fetching",
	RunE: func(cmd *cobra.Command, _ []string) error {
		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		existing, err := se.Files.LoadMeta(createFlags.ID)
		if err != nil {
			return eris.Wrap(err, "load municipality")
		}
		if existing != nil {
			logDetail(out, "自治体", "既存の自治体を使用: "+existing.Name)
			return nil
		}
		if createFlags.Name == "" || createFlags.Prefecture == "" {
			return eris.New("--name and --prefecture are required for a new municipality")
		}

		now := time.Now().UTC()
		meta := &model.MunicipalityMeta{
			ID:          createFlags.ID,
			Name:        createFlags.Name,
			Prefecture:  createFlags.Prefecture,
			OfficialURL: createFlags.URL,
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      model.MunicipalityDraft,
		}
		if err := se.Files.SaveMeta(meta); err != nil {
			return err
		}
		if err := se.Files.SaveVariables(meta.ID, model.VariableStore{}); err != nil {
			return err
		}
		logLine(out, colorGreen, fmt.Sprintf("✅ 自治体を作成: %s (%s)", meta.Name, meta.ID))
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runFlags.register(runCmd)
	fetchFlags.register(fetchCmd)

	createCmd.Flags().StringVar(&createFlags.ID, "id", "", "municipality id (required)")
	createCmd.Flags().StringVar(&createFlags.Name, "name", "", "municipality name")
	createCmd.Flags().StringVar(&createFlags.Prefecture, "prefecture", "", "prefecture")
	createCmd.Flags().StringVar(&createFlags.URL, "url", "", "official website URL")
	_ = createCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(runCmd, fetchCmd, createCmd)
}
