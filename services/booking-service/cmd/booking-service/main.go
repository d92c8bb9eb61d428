package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotchat/libs/auth"
	"github.com/md-rashed-zaman/slotchat/libs/config"
	"github.com/md-rashed-zaman/slotchat/libs/db"
	"github.com/md-rashed-zaman/slotchat/libs/grpcx"
	"github.com/md-rashed-zaman/slotchat/libs/httpx"
	"github.com/md-rashed-zaman/slotchat/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotchat/libs/otel"
	"github.com/md-rashed-zaman/slotchat/libs/runtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/messages"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/realtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage/memstore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}
	metrics.Register()

	brokers := config.String("KAFKA_BROKERS", "")
	store, dbCheck, closeStore := openStore(ctx, logger, brokers)
	defer closeStore()

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0, 0),
		})
		defer rdb.Close()
	}

	hub := realtime.NewHub(logger, config.Int("REALTIME_BUFFER", 32, 1))
	var publisher realtime.Publisher = hub
	if rdb != nil {
		broker := realtime.NewRedisBroker(rdb, hub, logger)
		publisher = broker
		go func() {
			if err := broker.Run(ctx); err != nil {
				logger.Error("realtime redis bridge stopped", "err", err)
			}
		}()
	}

	outboxPublisher := outbox.NewPublisher(store, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_MS", 2*time.Second, time.Millisecond),
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	sweeper := outbox.NewSweeper(store, logger,
		config.String("OUTBOX_SWEEP_CRON", "@hourly"),
		config.Duration("OUTBOX_RETENTION_HOURS", 72*time.Hour, time.Hour),
	)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("outbox sweeper stopped", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, store); err != nil {
		logger.Error("grpc server init failed", "err", err)
		panic(err)
	}

	registry := slots.NewRegistry(store, logger)
	apptService := appointments.NewService(store, registry, logger)
	msgService := messages.NewService(store, publisher, logger)

	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_SECONDS", 5*time.Minute, time.Second))
	}
	jwtSecret := config.String("JWT_SECRET", "")
	if jwtSecret == "" && jwks == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL set; every API request will be rejected")
	}

	allowedOrigins := config.List("CORS_ALLOWED_ORIGINS", "")
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1)
	var rateLimit httpx.Middleware
	if rdb != nil {
		rateLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "slotchat:rl").Middleware(logger, true)
	} else {
		rateLimit = httpx.NewRateLimiter(limit, time.Minute).Middleware()
	}

	router := handlers.NewRouter(handlers.Deps{
		Slots:          registry,
		Appointments:   apptService,
		Messages:       msgService,
		Hub:            hub,
		Verifier:       auth.NewVerifier(jwtSecret, jwks),
		Logger:         logger,
		RequestTimeout: config.Duration("REQUEST_TIMEOUT_SECONDS", 15*time.Second, time.Second),
		AllowedOrigins: allowedOrigins,
		RateLimit:      rateLimit,
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: dbCheck},
		runtime.ReadyCheck{Name: "redis", Check: redisCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkaCheck(brokers)},
	)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/", router)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecovery(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 64<<10, 1024))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", config.String("STORAGE", "postgres"))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// openStore picks the backend from STORAGE. The memory backend is for local
// runs and tests; it loses everything on restart. Without brokers nothing
// drains its outbox, so rows are discarded instead of accumulating.
func openStore(ctx context.Context, logger *slog.Logger, brokers string) (storage.Store, func(context.Context) error, func()) {
	if config.String("STORAGE", "postgres") == "memory" {
		logger.Warn("using in-memory storage; data is not durable")
		if len(kafkax.SplitBrokers(brokers)) == 0 {
			return memstore.New(memstore.DiscardOutbox()), nil, func() {}
		}
		return memstore.New(memstore.WithOutboxLimit(config.Int("OUTBOX_MEMORY_LIMIT", 10000, 1))), nil, func() {}
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	if config.Bool("DB_AUTO_MIGRATE", false) {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
		logger.Info("db schema applied")
	}
	return storage.NewPostgresStore(pool), db.ReadyCheck(pool), pool.Close
}

func redisCheck(rdb *redis.Client) func(context.Context) error {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// kafkaCheck is skipped when no brokers are configured; the outbox then stays unpublished.
func kafkaCheck(brokers string) func(context.Context) error {
	if len(kafkax.SplitBrokers(brokers)) == 0 {
		return nil
	}
	return kafkax.ReadyCheck(brokers)
}

func startGrpcServer(ctx context.Context, logger *slog.Logger, store storage.Store) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer()
	health := grpcserver.Register(srv, store.Ping, logger, 10*time.Second)
	go health.Run(ctx)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
