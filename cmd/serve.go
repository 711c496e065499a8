package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve municipalities, variables, drafts and runs as read-only JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		se, err := initStoreEnv()
		if err != nil {
			return err
		}
		rs, err := store.OpenRunStore(ctx, cfg.Store)
		if err != nil {
			zap.L().Warn("run history unavailable", zap.Error(err))
		} else {
			defer rs.Close() //nolint:errcheck
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(se, rs, reg, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// api serves the read endpoints. runs may be nil.
type api struct {
	se   *storeEnv
	runs store.RunStore
}

func newRouter(se *storeEnv, runs store.RunStore, reg *prometheus.Registry, origins []string) http.Handler {
	a := &api{se: se, runs: runs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/services", a.listServices)
		r.Get("/municipalities", a.listMunicipalities)
		r.Get("/municipalities/{id}", a.getMunicipality)
		r.Get("/municipalities/{id}/variables", a.getVariables)
		r.Get("/drafts", a.listDrafts)
		r.Get("/drafts/stats", a.draftStats)
		r.Get("/drafts/{muni}/{service}", a.getDraft)
		r.Get("/drafts/{muni}/{service}/diff", a.diffDraft)
		r.Get("/runs", a.listRuns)
		r.Get("/runs/{id}", a.getRun)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (a *api) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("http handler failed", zap.String("path", r.URL.Path), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

type municipalityView struct {
	model.MunicipalityMeta
	Variables store.VariableCount `json:"variableStats"`
}

func (a *api) listServices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.se.Catalog.Services())
}

func (a *api) listMunicipalities(w http.ResponseWriter, r *http.Request) {
	munis, err := a.se.Files.ListMunicipalities()
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	total := a.se.Catalog.TotalVariables()
	out := make([]municipalityView, 0, len(munis))
	for _, m := range munis {
		c, err := a.se.Files.Counts(m.ID)
		if err != nil {
			a.internalError(w, r, err)
			return
		}
		if c.Total < total {
			c.Total = total
		}
		out = append(out, municipalityView{MunicipalityMeta: m, Variables: c})
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) getMunicipality(w http.ResponseWriter, r *http.Request) {
	meta, err := a.se.Files.LoadMeta(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if meta == nil {
		respondError(w, http.StatusNotFound, "municipality not found")
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

func (a *api) getVariables(w http.ResponseWriter, r *http.Request) {
	vs, err := a.se.Files.LoadVariables(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, vs)
}

func (a *api) listDrafts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.se.Drafts.List(drafts.Filter{
		MunicipalityID: q.Get("municipality"),
		Status:         model.DraftStatus(q.Get("status")),
	})
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if list == nil {
		list = []model.DraftSummary{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *api) draftStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.se.Drafts.Statistics()
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (a *api) draft(w http.ResponseWriter, r *http.Request) *model.Draft {
	d, err := a.se.Drafts.Get(chi.URLParam(r, "muni"), chi.URLParam(r, "service"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "draft not found")
	}
	return d
}

func (a *api) getDraft(w http.ResponseWriter, r *http.Request) {
	if d := a.draft(w, r); d != nil {
		respondJSON(w, http.StatusOK, d)
	}
}

func (a *api) diffDraft(w http.ResponseWriter, r *http.Request) {
	d := a.draft(w, r)
	if d == nil {
		return
	}
	vs, err := a.se.Files.LoadVariables(d.MunicipalityID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	cmp := drafts.Compare(d, vs)
	respondJSON(w, http.StatusOK, map[string]any{
		"comparison":  cmp,
		"summary":     drafts.DiffSummary(cmp),
		"significant": drafts.HasSignificantChanges(cmp, cfg.Pipeline.SignificantChange),
	})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	runs, err := a.runs.ListRuns(r.Context(), store.RunFilter{
		MunicipalityID: q.Get("municipality"),
		Status:         model.PipelineStatus(q.Get("status")),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.PipelineResult{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	if a.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	run, err := a.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
