package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/munivars/internal/budget"
	"github.com/sells-group/munivars/internal/config"
	"github.com/sells-group/munivars/internal/crawl"
	"github.com/sells-group/munivars/internal/drafts"
	"github.com/sells-group/munivars/internal/extract"
	"github.com/sells-group/munivars/internal/fetch"
	"github.com/sells-group/munivars/internal/llm"
	"github.com/sells-group/munivars/internal/model"
	"github.com/sells-group/munivars/internal/pipeline"
	"github.com/sells-group/munivars/internal/registry"
	"github.com/sells-group/munivars/internal/scrape"
	"github.com/sells-group/munivars/internal/search"
	"github.com/sells-group/munivars/internal/store"
)

// storeEnv holds what every command that reads or writes documents needs.
type storeEnv struct {
	Catalog *registry.Registry
	Files   *store.FileStore
	Drafts  *drafts.Store
}

func initStoreEnv() (*storeEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	cat, err := registry.Default()
	if err != nil {
		return nil, eris.Wrap(err, "load service registry")
	}
	counts := store.NewCountCache(config.Seconds(cfg.Store.CountCacheTTLSecs, 5*time.Minute))
	files := store.NewFileStore(cfg.Store.DataDir, counts)
	return &storeEnv{Catalog: cat, Files: files, Drafts: drafts.New(files)}, nil
}

// fetchEnv adds the search, scrape and LLM clients, the budget tracker and
// the optional run history, metrics endpoint and event broker.
type fetchEnv struct {
	*storeEnv
	Budget   *budget.Tracker
	Pages    *scrape.Fetcher
	Engine   *extract.Engine
	Fetcher  *fetch.Fetcher
	Runs     store.RunStore // may be nil
	Metrics  *pipeline.Metrics
	Registry *prometheus.Registry
	NATS     *nats.Conn // may be nil

	metricsSrv *http.Server
}

// Close releases resources held by the environment.
func (e *fetchEnv) Close() {
	if e.NATS != nil {
		if err := e.NATS.Drain(); err != nil {
			e.NATS.Close()
		}
	}
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.metricsSrv.Shutdown(ctx)
	}
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
}

// initFetchEnv wires the acquisition stack. When freeTier is set, limits
// are enforced by the budget tracker.
func initFetchEnv(ctx context.Context, limits model.FreeTierLimits, freeTier bool) (*fetchEnv, error) {
	if err := cfg.Validate("fetch"); err != nil {
		return nil, err
	}
	se, err := initStoreEnv()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	tracker := budget.New(limits, freeTier, budget.WithMetrics(budget.NewMetrics(reg)))

	searcher, err := search.NewFromConfig(cfg.Search, search.WithBudget(tracker))
	if err != nil {
		return nil, eris.Wrap(err, "init search")
	}
	client, err := llm.NewFromConfig(cfg.LLM, llm.WithBudget(tracker))
	if err != nil {
		return nil, eris.Wrap(err, "init llm")
	}

	pages := scrape.NewFromConfig(cfg)
	engine := extract.New(client, extract.WithMaxPageRunes(cfg.Fetch.MaxPageChars))
	crawler := crawl.New(crawl.NewNavigator(pages), engine, client, searcher,
		crawl.WithPageTimeout(config.Seconds(cfg.Crawl.TimeoutSecs, 30*time.Second)))
	fetcher := fetch.New(se.Catalog, searcher, pages, client,
		fetch.WithCrawler(crawler),
		fetch.WithBudget(tracker),
		fetch.WithEngine(engine),
		fetch.WithOptions(fetch.OptionsFromConfig(cfg)),
	)

	env := &fetchEnv{
		storeEnv: se,
		Budget:   tracker,
		Pages:    pages,
		Engine:   engine,
		Fetcher:  fetcher,
		Metrics:  pipeline.NewMetrics(reg),
		Registry: reg,
	}

	runs, err := store.OpenRunStore(ctx, cfg.Store)
	if err != nil {
		zap.L().Warn("run history unavailable", zap.Error(err))
	} else {
		env.Runs = runs
	}

	if cfg.Events.NatsURL != "" {
		conn, err := pipeline.ConnectNATS(cfg.Events.NatsURL)
		if err != nil {
			zap.L().Warn("event broker unavailable", zap.Error(err))
		} else {
			env.NATS = conn
		}
	}

	if cfg.Metrics.Addr != "" {
		env.metricsSrv = startMetricsServer(cfg.Metrics.Addr, reg)
	}
	return env, nil
}

// newPipeline builds a pipeline for pc with the environment's options.
func (e *fetchEnv) newPipeline(pc model.PipelineConfig) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithBudget(e.Budget),
		pipeline.WithMetrics(e.Metrics),
		pipeline.WithDelays(config.Millis(cfg.Pipeline.ServiceDelayMS), config.Millis(cfg.Pipeline.FreeTierDelayMS)),
	}
	if e.Runs != nil {
		opts = append(opts, pipeline.WithRunStore(e.Runs))
	}
	p := pipeline.New(pc, e.Catalog, e.Fetcher, e.Files, e.Drafts, opts...)
	if e.NATS != nil {
		p.OnEvent(pipeline.PublishListener(e.NATS, cfg.Events.NatsSubject))
	}
	return p
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zap.L().Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}
