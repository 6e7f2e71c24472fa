package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/catalog"
	"github.com/atmx/trading-sim/internal/config"
	"github.com/atmx/trading-sim/internal/ingest"
	"github.com/atmx/trading-sim/internal/logger"
	"github.com/atmx/trading-sim/internal/market"
	"github.com/atmx/trading-sim/internal/metrics"
	"github.com/atmx/trading-sim/internal/notify"
	"github.com/atmx/trading-sim/internal/scheduler"
	"github.com/atmx/trading-sim/internal/store"
	"github.com/atmx/trading-sim/internal/stream"
	"github.com/atmx/trading-sim/internal/trade"
	"github.com/atmx/trading-sim/internal/valuation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache + bus) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, cfg.PriceHistoryLimit)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		st = pg
		log.Info().Msg("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore(cfg.PriceHistoryLimit)
	}

	// --- Event bus ---
	var eventBus bus.Bus
	if rdb != nil {
		eventBus = bus.NewRedisBus(rdb, log)
		log.Info().Msg("using Redis Streams event bus")
	} else {
		eventBus = bus.NewMemoryBus(cfg.BusQueueSize, log)
	}
	cleanup = append(cleanup, func() {
		if err := eventBus.Close(); err != nil {
			log.Error().Err(err).Msg("bus close failed")
		}
	})

	// --- Price source ---
	var source market.PriceSource
	if cfg.FinnhubAPIKey != "" {
		source = market.NewFinnhubClient(cfg.FinnhubAPIKey,
			market.WithBaseURL(cfg.FinnhubBaseURL),
			market.WithTimeout(cfg.QuoteTimeout),
			market.WithRateLimit(cfg.QuoteRateLimit),
			market.WithLogger(log),
		)
	} else {
		log.Warn().Msg("FINNHUB_API_KEY not set, using simulated prices")
		source = market.NewSimulatedSource(uint64(time.Now().UnixNano()), 0.02)
	}

	// --- Services ---
	catalogSvc := catalog.NewService(st, cfg.PriceHistoryLimit, log)
	if cfg.SeedAssets {
		n, err := catalogSvc.SeedDefaults(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("seeding asset catalog failed")
		}
		log.Info().Int("added", n).Msg("asset catalog seeded")
	}
	tradeSvc := trade.NewService(st, log)

	// --- Notifications ---
	feed := notify.NewFeed(0)
	if err := feed.Subscribe(eventBus); err != nil {
		log.Fatal().Err(err).Msg("feed subscribe failed")
	}
	if err := notify.NewAlertEvaluator(notify.DefaultRules(), eventBus, log).Subscribe(); err != nil {
		log.Fatal().Err(err).Msg("alert evaluator subscribe failed")
	}

	// --- WebSocket hub ---
	wsHub := stream.NewWSHub(log)
	if err := wsHub.Subscribe(eventBus); err != nil {
		log.Fatal().Err(err).Msg("ws hub subscribe failed")
	}
	go wsHub.Run(ctx)

	// --- Price ingestion ---
	job := ingest.NewJob(st, source, eventBus, valuation.NewRecalculator(st, log), ingest.Config{
		QuoteTimeout: cfg.QuoteTimeout,
		Concurrency:  cfg.IngestConcurrency,
	}, log)
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.IngestSchedule, job); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.IngestSchedule).Msg("invalid ingest schedule")
	}
	sched.Start()
	sched.RunNow(job)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-sim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for price updates and alerts.
		r.Get("/ws", wsHub.HandleWS)

		// Handlers that do not upgrade get a deadline.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			trade.NewHandler(tradeSvc, log).Routes(r)
			catalog.NewHandler(catalogSvc, log).Routes(r)
			notify.NewHandler(feed, eventBus, log).Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("trading-sim listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down trading-sim...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	cancel()
	log.Info().Msg("trading-sim stopped")
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
