package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"BiblioScanner/internal/acquisition"
	"BiblioScanner/internal/budget"
	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/infrastructure/feeds"
	"BiblioScanner/internal/infrastructure/llm"
	"BiblioScanner/internal/infrastructure/openalex"
	"BiblioScanner/internal/infrastructure/scheduler"
	"BiblioScanner/internal/infrastructure/storage"
	"BiblioScanner/internal/infrastructure/telegram"
	"BiblioScanner/internal/logging"
	"BiblioScanner/internal/metrics"
	"BiblioScanner/internal/ports"
	"BiblioScanner/internal/relevance"
	"BiblioScanner/internal/scanner"
	"BiblioScanner/internal/synthesis"
	"BiblioScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    *storage.Ledger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
}

// New builds the application. Only a ledger that cannot be opened is fatal.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	component := func(name string) *slog.Logger { return baseLogger.With("component", name) }

	ledger, err := storage.Open(ctx, cfg.Database.Path, storage.Options{
		BusyRetries: cfg.Database.BusyRetries,
		BusyBackoff: cfg.Database.BusyBackoff,
		Logger:      component("ledger"),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	m := metrics.New()
	usage := m.UsageRecorder(ledger)
	pricing := llm.Pricing(cfg.Budget.Pricing)
	generators := buildGenerators(ctx, cfg, component("llm"))

	tasks := tasksFromConfig(cfg.Tasks)
	oa := openalex.NewScanner(
		openalex.NewClient(cfg.Discovery.BaseURL, cfg.Discovery.Email, &http.Client{Timeout: 30 * time.Second}, component("openalex")),
		openalex.Options{CitationBatch: cfg.Discovery.CitationBatch, CitationDelay: cfg.Discovery.CitationDelay},
		component("scanner.openalex"),
	)
	registry := scanner.NewRegistry()
	registry.Register(oa)
	registry.Register(feeds.NewScanner(nil, component("scanner.rss")))
	source := scanner.NewStrategySource(registry, tasks, ledger, oa, component("source"))

	filterBackend := availableBackend(generators, backendName(cfg.Filter.Engine), "relevance", component("llm"))
	synthBackend := availableBackend(generators, backendName(cfg.Synthesis.Engine), "synthesis", component("llm"))
	filterModel := cfg.Gemini.Model
	if filterBackend == config.BackendOllama {
		filterModel = cfg.Ollama.FilterModel
	}
	filter := relevance.NewFilter(relevance.Options{
		Criteria:         cfg.Filter.Criteria,
		JournalBlacklist: cfg.Filter.JournalBlacklist,
		TopicWhitelist:   cfg.Filter.TopicWhitelist,
		TopicBlacklist:   cfg.Filter.TopicBlacklist,
		Backend:          filterBackend,
		Model:            filterModel,
		Timeout:          cfg.Ollama.Timeout,
	}, generators, pricing, relevanceRecorder{EventRecorder: ledger, UsageRecorder: usage}, component("relevance"))

	var renderer acquisition.PageRenderer
	if cfg.Acquisition.RenderEnabled {
		ua := ""
		if len(cfg.Acquisition.UserAgents) > 0 {
			ua = cfg.Acquisition.UserAgents[0]
		}
		renderer = acquisition.NewChromeRenderer(ua, cfg.Acquisition.RenderSettle, cfg.Acquisition.RenderTimeout, component("render"))
	}
	acquirer := acquisition.NewAcquirer(
		acquisition.OptionsFromConfig(cfg.Acquisition, cfg.Paths.Papers),
		cfg.Acquisition.UserAgents,
		cfg.Acquisition.InsecureHosts,
		renderer,
		component("acquisition"),
	)

	synth := synthesis.NewService(synthesis.Options{
		SummariesDir: cfg.Paths.Summaries,
		Prompt:       cfg.Synthesis.Prompt,
		Models: map[string]string{
			config.BackendGemini: cfg.Gemini.Model,
			config.BackendOllama: cfg.Ollama.Model,
		},
	}, generators, pricing, usage, component("synthesis"))

	governor := budget.NewGovernor(ledger, cfg.Budget.MaxMonthlyCost, synthBackend, config.BackendOllama, component("budget"))

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram, ""); tg.Configured() {
		notifier = tg
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:      source,
		Ledger:      ledger,
		Filter:      filter,
		Acquirer:    acquirer,
		Synthesizer: synth,
		Governor:    governor,
		Notifier:    notifier,
		Observer:    &runObserver{metrics: m, textfile: cfg.Metrics.TextfilePath, logger: component("metrics")},
		Logger:      component("pipeline"),
	}, usecase.PipelineOptions{
		Window: scanner.WindowPolicy{
			Lookback:     cfg.Discovery.FallbackLookback,
			SafetyMargin: cfg.Discovery.SafetyMargin,
		},
		Tasks:            tasks,
		JournalThreshold: cfg.Promotion.JournalThreshold,
		AuthorThreshold:  cfg.Promotion.AuthorThreshold,
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		ledger:    ledger,
		pipeline:  pipeline,
		scheduler: usecase.NewScheduler(driver, pipeline, component("scheduler")),
	}, nil
}

// Close releases the ledger.
func (a *Application) Close() error {
	return a.ledger.Close()
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context, req usecase.RunRequest) (usecase.Report, error) {
	return a.pipeline.Run(ctx, req)
}

// Backfill runs one step of the rolling backward walk.
func (a *Application) Backfill(ctx context.Context) (usecase.Report, bool, error) {
	return a.pipeline.Backfill(ctx, usecase.BackfillOptions{
		StepDays: a.cfg.Backfill.Step,
		Floor:    a.cfg.Backfill.FloorDate(),
	})
}

// Watch runs the pipeline on the configured interval until ctx is cancelled.
func (a *Application) Watch(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching", "interval", a.cfg.Scheduler.Interval.String(), "timezone", a.cfg.Scheduler.Location().String())
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Events returns the most recent operational events.
func (a *Application) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	return a.ledger.RecentEvents(ctx, limit)
}

func buildGenerators(ctx context.Context, cfg config.Config, log *slog.Logger) *llm.Registry {
	gens := []llm.Generator{llm.NewOllamaClient(cfg.Ollama)}
	if cfg.Gemini.APIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Gemini, "", nil)
		if err != nil {
			log.Warn("gemini backend disabled", "error", err)
		} else {
			gens = append(gens, gemini)
		}
	} else {
		log.Info("no gemini api key, paid backend disabled")
	}
	reg := llm.NewRegistry(gens...)
	log.Debug("llm backends", "available", reg.Backends())
	return reg
}

// availableBackend falls back to the local backend when the configured one
// was not registered, e.g. gemini without an API key.
func availableBackend(reg *llm.Registry, want, role string, log *slog.Logger) string {
	if _, err := reg.Resolve(want); err == nil {
		return want
	}
	log.Warn("configured backend unavailable, using local model", "role", role, "backend", want, "fallback", config.BackendOllama)
	return config.BackendOllama
}

// backendName maps engine settings such as "gemini" onto registry names.
func backendName(engine string) string {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "ollama", "local":
		return config.BackendOllama
	default:
		return config.BackendGemini
	}
}

func tasksFromConfig(in []config.TaskConfig) []domain.Task {
	out := make([]domain.Task, 0, len(in))
	for _, t := range in {
		out = append(out, domain.Task{
			Name:    t.Name,
			Type:    domain.TaskType(strings.ToLower(strings.TrimSpace(t.Type))),
			ID:      t.ID,
			Query:   t.Query,
			ISSN:    t.ISSN,
			DOI:     t.DOI,
			FeedURL: t.FeedURL,
		})
	}
	return out
}

type relevanceRecorder struct {
	ports.EventRecorder
	ports.UsageRecorder
}

// runObserver feeds run results into Prometheus and writes the textfile.
type runObserver struct {
	metrics  *metrics.Metrics
	textfile string
	logger   *slog.Logger
}

func (o *runObserver) Discovered(n int) { o.metrics.Discovered(n) }

func (o *runObserver) RecordOutcome(out domain.Outcome) { o.metrics.RecordOutcome(out) }

func (o *runObserver) Finished(report usecase.Report) {
	o.metrics.SetMonthlyCost(report.MonthlyCost)
	o.metrics.RunFinished(report.Started, report.Finished)
	if err := o.metrics.WriteTextfile(o.textfile); err != nil {
		o.logger.Warn("metrics not written", "path", o.textfile, "error", err)
	}
}
