package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"kairos-intake/internal/catalog"
	"kairos-intake/internal/config"
	"kairos-intake/internal/consultation"
	"kairos-intake/internal/intent"
	"kairos-intake/internal/knowledge"
	"kairos-intake/internal/learning"
	"kairos-intake/internal/oracle"
	"kairos-intake/internal/platform/database"
	"kairos-intake/internal/platform/httpx"
	"kairos-intake/internal/platform/logger"
	"kairos-intake/internal/platform/metrics"
	"kairos-intake/internal/platform/middleware"
	"kairos-intake/internal/platform/telegram"
	"kairos-intake/internal/platform/workerpool"
	"kairos-intake/internal/quota"
	"kairos-intake/internal/report"
	"kairos-intake/internal/resolver"
)

// app holds every long-lived component of one process.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	db       *database.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	classifier *intent.Classifier
	seedTexts  []string
	seedLabels []string

	pool      *workerpool.Pool
	redis     *quota.RedisCounter
	guard     *quota.Guard
	callLog   *oracle.CallLog
	consult   *consultation.Service
	learnRepo learning.Store
	loop      *learning.Loop
	scheduler *learning.Scheduler
}

// bootstrap loads config, opens the database and applies migrations.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := database.Open(ctx, cfg.Dialect(), cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("driver", string(cfg.Dialect())).Msg("database ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

// loadClassifier restores the persisted model, training one from the seed
// corpus when none is stored yet. Without either, intents come from rules.
func (a *app) loadClassifier() {
	a.classifier = intent.NewClassifier(intent.NewFileStore(a.cfg.ClassifierModelPath), intent.TrainOptions{}, a.logger)

	texts, labels, err := intent.LoadCorpus(a.cfg.SeedCorpusPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.SeedCorpusPath).Msg("seed corpus unavailable")
	} else {
		a.seedTexts, a.seedLabels = texts, labels
	}

	if err := a.classifier.Load(); err == nil {
		return
	}
	if len(a.seedTexts) == 0 {
		a.logger.Warn().Msg("no classifier model, falling back to rule-based intents")
		return
	}
	if _, err := a.classifier.Train(a.seedTexts, a.seedLabels); err != nil {
		a.logger.Error().Err(err).Msg("initial classifier training failed")
	}
}

func (a *app) quotaCounter(ctx context.Context) quota.Counter {
	if a.cfg.RedisURL == "" {
		return quota.NewMemoryCounter()
	}
	rc, err := quota.NewRedisCounterFromURL(a.cfg.RedisURL)
	if err == nil {
		err = rc.Ping(ctx)
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("redis unavailable, oracle quota kept in memory")
		if rc != nil {
			_ = rc.Close()
		}
		return quota.NewMemoryCounter()
	}
	a.redis = rc
	return rc
}

func (a *app) build(ctx context.Context) error {
	a.loadClassifier()

	pool, err := workerpool.New(workerpool.Config{
		Capacity:         a.cfg.WorkerPoolSize,
		ExpiryDuration:   time.Minute,
		MaxBlockingTasks: 64,
	}, a.logger)
	if err != nil {
		return err
	}
	a.pool = pool

	cat, err := catalog.LoadFile(a.cfg.CatalogPath)
	if err != nil {
		a.logger.Warn().Err(err).Msg("catalog file unavailable, using built-in catalog")
		cat = catalog.Default()
	}

	a.guard = quota.NewGuard(a.cfg.OracleDailyLimit, a.cfg.OracleMonthlyBudget, a.quotaCounter(ctx))
	a.callLog = oracle.NewCallLog(a.db)
	oc := oracle.NewOpenAIClient(oracle.Config{
		Enabled:     a.cfg.OracleEnabled,
		APIKey:      a.cfg.OracleAPIKey,
		BaseURL:     a.cfg.OracleBaseURL,
		Model:       a.cfg.OracleModel,
		Timeout:     a.cfg.OracleTimeout,
		Temperature: a.cfg.OracleTemperature,
		MaxTokens:   a.cfg.OracleMaxTokens,
		RPS:         a.cfg.OracleRPS,
	}, a.guard, a.callLog, a.metrics, a.logger)

	kb := knowledge.NewRepository(a.db)
	res := resolver.New(kb, oc, cat,
		resolver.Options{CacheMinConfidence: a.cfg.ResolverCacheMinConfidence}, a.metrics, a.logger)

	var sender report.Sender
	if tg := telegram.NewClient(a.cfg.TelegramBotToken); tg.Configured() {
		sender = tg
	}
	reports := report.NewService(sender, report.Config{DoctorChatID: a.cfg.DoctorChatID, FontPath: a.cfg.ReportFontPath}, a.logger)
	if !reports.Enabled() {
		a.logger.Warn().Msg("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID missing, doctor reports disabled")
	}

	repo := consultation.NewRepository(a.db)
	a.consult = consultation.NewService(consultation.Options{
		Event:            a.cfg.EventName,
		Location:         a.cfg.EventLocation,
		Policy:           a.cfg.Policy(),
		Strategy:         a.cfg.Strategy(),
		MinConfidence:    a.cfg.ClassifierMinConfidence,
		NationalIDLength: a.cfg.NationalIDLength,
	}, consultation.Deps{
		Repo:       repo,
		Registry:   consultation.NewRegistry(a.metrics),
		Classifier: a.classifier,
		Resolver:   res,
		Reporter:   reports,
		Pool:       a.pool,
		Metrics:    a.metrics,
		Logger:     a.logger,
	})

	a.learnRepo = learning.NewRepository(a.db)
	a.loop = learning.NewLoop(learning.Config{
		Window:           a.cfg.LearningWindow,
		MinRepeats:       a.cfg.LearningMinRepeats,
		RetrainThreshold: a.cfg.LearningRetrainThreshold,
		MinExamples:      a.cfg.LearningMinExamples,
		MaxDuplicates:    a.cfg.LearningMaxDuplicates,
	}, learning.Deps{
		Turns:      repo,
		Store:      a.learnRepo,
		Trainer:    a.classifier,
		Pool:       a.pool,
		Metrics:    a.metrics,
		Knowledge:  kb,
		SeedTexts:  a.seedTexts,
		SeedLabels: a.seedLabels,
		Logger:     a.logger,
	})
	a.scheduler = learning.NewScheduler(a.loop, a.cfg.LearningInterval, a.logger)
	return nil
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(a.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(a.cfg.CORSOrigins))

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultation.NewHandler(a.consult, a.logger))
		oracle.RegisterRoutes(r, oracle.NewHandler(a.guard, a.callLog, a.logger))
		learning.RegisterRoutes(r, learning.NewHandler(a.scheduler, a.learnRepo, a.logger))
	})
	return r
}

type healthReport struct {
	Status          string `json:"status"`
	Database        string `json:"database"`
	ClassifierReady bool   `json:"classifier_ready"`
	ActiveSessions  int    `json:"active_sessions"`
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	rep := healthReport{
		Status:          "ok",
		Database:        "ok",
		ClassifierReady: a.classifier.Ready(),
		ActiveSessions:  a.consult.Registry().Len(),
	}
	code := http.StatusOK
	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("health check: database unreachable")
		rep.Status, rep.Database, code = "degraded", "down", http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, rep)
}

// janitor abandons sessions that went quiet for longer than the idle timeout.
func (a *app) janitor(ctx context.Context) {
	every := min(a.cfg.SessionIdleTimeout/2, time.Minute)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.consult.AbandonIdle(ctx, a.cfg.SessionIdleTimeout); n > 0 {
				a.logger.Info().Int("sessions", n).Msg("idle sessions abandoned")
			}
		}
	}
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Release(30 * time.Second)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
