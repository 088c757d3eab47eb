package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "time/tzdata"

	"github.com/example/taxiroutes/internal/booking/claim"
	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/booking/handler"
	"github.com/example/taxiroutes/internal/booking/repository"
	"github.com/example/taxiroutes/internal/booking/service"
	"github.com/example/taxiroutes/internal/catalog"
	"github.com/example/taxiroutes/internal/config"
	"github.com/example/taxiroutes/internal/http/middleware"
	"github.com/example/taxiroutes/internal/notify"
	outboxrelay "github.com/example/taxiroutes/internal/outbox"
	"github.com/example/taxiroutes/internal/retry"
	"github.com/example/taxiroutes/internal/telegram"
	"github.com/example/taxiroutes/internal/throttle"
	"github.com/example/taxiroutes/internal/webhook"
	"github.com/example/taxiroutes/pkg/observability"
	outboxpkg "github.com/example/taxiroutes/pkg/outbox"
)

const serviceName = "booking-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger(serviceName)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, serviceName)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	cfg := config.FromEnv()
	cfgErr := cfg.Validate()
	if cfgErr != nil {
		// keep serving so every request gets an explicit "not configured" answer
		logger.Error("configuration invalid, API disabled", zap.Error(cfgErr))
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = otelsql.Open("pgx", cfg.PostgresDSN, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName)); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	reads := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
	tg := telegram.New(cfg.BotToken,
		telegram.WithBaseURL(cfg.TelegramAPIURL),
		telegram.WithHTTPClient(&http.Client{Timeout: cfg.NotifyTimeout}),
	)

	repo, checks := buildRepository(db, natsConn, logger)
	th := buildThrottle(redisClient, cfg.SubmitCooldown)
	if redisClient != nil {
		checks = append(checks, observability.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	dispatcher := notify.New(tg, notify.Config{
		OwnerChatID:  cfg.OwnerChatID,
		DriverChatID: cfg.DriverGroupID,
		Timeout:      cfg.NotifyTimeout,
		Location:     cfg.Location,
	}, logger)
	svc := service.New(repo, th, dispatcher, reads, logger).WithIdempotency(buildIdempotency(redisClient))
	coordinator := claim.New(repo, tg, claim.Config{
		Retry:     reads,
		Formatter: dispatcher.Formatter(),
		Timeout:   cfg.NotifyTimeout,
	}, logger)
	hook := webhook.NewHandler(cfg.WebhookSecret, coordinator, webhook.NewGreeter(tg, cfg.MiniAppURL), logger, 0)

	routes, err := catalog.NewCached(buildCatalogSource(db), cfg.CatalogTTL, reads)
	if err != nil {
		logger.Fatal("catalog cache", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(redisClientOrNil(redisClient),
		middleware.RateConfig{Rate: cfg.RateReadRPS, Burst: cfg.RateReadBurst},
		middleware.RateConfig{Rate: cfg.RateWriteRPS, Burst: cfg.RateWriteBurst},
		logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID, middleware.ClientIP(cfg.TrustedProxies), chimw.Recoverer)
	r.Mount("/observability", observability.MetricsRouter(checks...))

	r.Group(func(api chi.Router) {
		api.Use(chimw.Logger)
		api.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, serviceName+".http",
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}))
		})
		api.Use(middleware.RequireConfigured(cfgErr, logger))

		api.Method(http.MethodPost, "/telegram/webhook", hook)

		api.Group(func(public chi.Router) {
			public.Use(cors.Handler(corsOptions(cfg.CORSAllowedOrigins, cfg.MiniAppURL)))
			public.Use(limiter.Middleware)
			public.Mount("/v1/bookings", handler.NewHTTP(svc, cfg.JWTSecret, logger).Router())
			public.Mount("/v1/routes", catalog.NewHTTP(routes, logger).Router())
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if db != nil && natsConn != nil {
		relay := outboxrelay.NewRelay(db, natsConn, logger, outboxrelay.RelayConfig{
			PollInterval:    cfg.OutboxPoll,
			BatchSize:       cfg.OutboxBatch,
			PublishAttempts: cfg.OutboxRetry,
		})
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox relay stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("outbox relay disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildRepository(db *sql.DB, natsConn *nats.Conn, logger *zap.Logger) (domain.Repository, []observability.Check) {
	if db != nil {
		repo := repository.NewPostgresRepository(db, domain.SystemClock{}, repository.DefaultOutboxTopic)
		return repo, []observability.Check{{Name: "postgres", Fn: repo.Ping}}
	}
	logger.Warn("POSTGRES_DSN not set, bookings are kept in memory")
	repo := repository.NewMemoryRepository(domain.SystemClock{})
	if natsConn != nil {
		repo = repo.WithPublisher(outboxpkg.NewPublisher(natsConn, repository.DefaultOutboxTopic))
	}
	return repo, nil
}

func buildThrottle(client *redis.Client, cooldown time.Duration) throttle.Throttle {
	if client == nil {
		return throttle.NewMemoryThrottle(cooldown, nil)
	}
	return throttle.NewRedisThrottle(client, "", cooldown)
}

func buildIdempotency(client *redis.Client) domain.IdempotencyStore {
	if client == nil {
		return repository.NewMemoryIdempotency(domain.SystemClock{}, repository.DefaultIdempotencyTTL)
	}
	return repository.NewRedisIdempotency(client, repository.DefaultIdempotencyTTL)
}

func buildCatalogSource(db *sql.DB) catalog.Source {
	if db == nil {
		return catalog.NewMemorySource(catalog.DefaultRoutes(), nil)
	}
	return catalog.NewBunSource(db)
}

// redisClientOrNil keeps a nil *redis.Client from becoming a non-nil interface.
func redisClientOrNil(c *redis.Client) redis.Scripter {
	if c == nil {
		return nil
	}
	return c
}

// corsOptions allows the configured origins, else the mini app's own origin.
// With neither, every cross-origin request is refused; cors treats an empty
// list as "*", hence the explicit deny func.
func corsOptions(origins []string, miniAppURL string) cors.Options {
	if len(origins) == 0 {
		if origin := originOf(miniAppURL); origin != "" {
			origins = []string{origin}
		}
	}
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}
	if len(origins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return opts
}

// originOf reduces a URL to scheme://host[:port].
func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
