package main

import (
	"context"
	"net/http"
	"time"

	"github.com/mvasconcelos/agendai/libs/config"
	"github.com/mvasconcelos/agendai/libs/db"
	"github.com/mvasconcelos/agendai/libs/httpx"
	"github.com/mvasconcelos/agendai/libs/kafkax"
	otelx "github.com/mvasconcelos/agendai/libs/otel"
	"github.com/mvasconcelos/agendai/libs/ptbr"
	"github.com/mvasconcelos/agendai/libs/runtime"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/handlers"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/notify"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/outbox"
	"github.com/mvasconcelos/agendai/services/appointment-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
	port, err := config.Port("PORT", "8080")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	appointmentsRepo := storage.NewAppointmentRepository(pool)
	usersRepo := storage.NewUserRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	notifications := notify.NewStore(rdb, int64(config.Int("NOTIFICATIONS_MAX_PER_USER", 100)))

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	handler := handlers.NewAppointmentHandler(
		appointmentsRepo,
		usersRepo,
		outboxRepo,
		notifications,
		ptbr.Formatter{},
		logger,
	)

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	requireUser := handlers.RequireUser(jwtSecret)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: notify.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.Handle("/api/v1/appointments", requireUser(http.HandlerFunc(handler.Appointments)))
	mux.Handle("/api/v1/appointments/", requireUser(http.HandlerFunc(handler.CancelByID)))

	rl := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		rl.Middleware(logger, true),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointment")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
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
