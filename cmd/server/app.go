package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/honeypot/internal/callback"
	"github.com/ashureev/honeypot/internal/classify"
	"github.com/ashureev/honeypot/internal/config"
	"github.com/ashureev/honeypot/internal/extract"
	"github.com/ashureev/honeypot/internal/honeypot"
	"github.com/ashureev/honeypot/internal/llm"
	"github.com/ashureev/honeypot/internal/monitor"
	"github.com/ashureev/honeypot/internal/store"
	"github.com/ashureev/honeypot/internal/strategy"
	"github.com/ashureev/honeypot/internal/transcript"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	repo       store.Repository
	store      *store.Store
	orch       *honeypot.Orchestrator
	lifecycle  *honeypot.LifecycleWorker
	hub        *monitor.Hub
	transcript *transcript.Logger
	reporter   honeypot.Reporter
	logger     *slog.Logger
}

func openRepository(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		return store.NewSQLite(cfg.DBPath)
	case config.StorePostgres:
		return store.NewPostgres(ctx, cfg.PostgresDSN)
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newGenerator(cfg config.LLMConfig, logger *slog.Logger) *llm.Backend {
	pool := llm.NewPool(cfg.APIKeys, cfg.Cooldown)
	if pool.Len() == 0 {
		logger.Warn("No LLM credentials configured, running on keyword and canned fallbacks")
	}
	transport := llm.NewOpenAITransport(cfg.BaseURL, cfg.Model, pool.Credentials())
	return llm.NewBackend(pool, transport, llm.Options{
		Model:       cfg.Model,
		CallTimeout: cfg.CallTimeout,
		Cache:       llm.NewCache(cfg.CacheTTL, cfg.CacheSize),
		Logger:      logger,
	})
}

func newReporter(cfg config.CallbackConfig, logger *slog.Logger) honeypot.Reporter {
	if cfg.URL == "" {
		logger.Info("No callback URL configured, summaries are not reported")
		return callback.NoopReporter{}
	}
	return callback.NewHTTPReporter(cfg.URL, callback.Options{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		QueueSize:  cfg.QueueSize,
	}, logger)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	repo, err := openRepository(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	st := store.New(repo, cfg.Store.Timeout, logger)

	gen := newGenerator(cfg.LLM, logger)

	classifier := classify.NewChain(logger,
		classify.NewModelClassifier(gen),
		classify.KeywordClassifier{},
	)
	extractor := extract.NewEngine(extract.NewModelExtractor(gen), logger)

	seed := uint64(time.Now().UnixNano())
	imperfector := strategy.NewImperfector(cfg.Session.ImperfectionRate, rand.New(rand.NewPCG(seed, seed>>1)))
	replier := strategy.NewEngine(logger, imperfector, strategy.NewModelResponder(gen))

	reporter := newReporter(cfg.Callback, logger)

	orch := honeypot.New(st, classifier, extractor, replier, reporter, honeypot.Options{
		AutoFinalize: honeypot.FinalizePolicy{
			MaxTurns:          cfg.Session.MaxTurns,
			MinTurnsWithIntel: cfg.Session.IntelTurns,
			MinActionable:     cfg.Session.IntelItems,
		},
		ContextTurns: cfg.Session.ContextTurns,
		LockTimeout:  cfg.Session.LockTimeout,
	}, logger)

	a := &app{
		cfg:      cfg,
		repo:     repo,
		store:    st,
		orch:     orch,
		reporter: reporter,
		logger:   logger,
	}

	a.hub = monitor.NewHub(0, logger)
	orch.AddSink(a.hub)

	if cfg.ConversationLog.Enabled || cfg.ConversationLog.GlobalEnabled {
		tl, err := transcript.NewLogger(transcript.Config{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("init transcript logger: %w", err)
		}
		a.transcript = tl
		orch.AddSink(tl)
		logger.Info("Conversation transcripts enabled",
			"dir", cfg.ConversationLog.Dir,
			"global", cfg.ConversationLog.GlobalEnabled)
	}

	a.lifecycle = honeypot.NewLifecycleWorker(orch, st, honeypot.LifecycleOptions{
		Schedule:  cfg.Session.LifecycleSchedule,
		IdleAfter: cfg.Session.IdleFinalizeAfter,
		TTL:       cfg.Session.TTL,
	}, logger)

	return a, nil
}

// Close flushes pending callbacks and transcripts and closes the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	a.lifecycle.Stop()
	if err := a.orch.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	if r, ok := a.reporter.(*callback.HTTPReporter); ok {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close callback reporter: %w", err))
		}
	}
	if a.transcript != nil {
		if err := a.transcript.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcript logger: %w", err))
		}
	}
	a.hub.Close()
	if err := a.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close repository: %w", err))
	}
	return errors.Join(errs...)
}
