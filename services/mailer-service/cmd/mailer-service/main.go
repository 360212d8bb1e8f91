package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mvasconcelos/agendai/libs/config"
	"github.com/mvasconcelos/agendai/libs/db"
	"github.com/mvasconcelos/agendai/libs/httpx"
	"github.com/mvasconcelos/agendai/libs/kafkax"
	otelx "github.com/mvasconcelos/agendai/libs/otel"
	"github.com/mvasconcelos/agendai/libs/runtime"
	"github.com/mvasconcelos/agendai/services/mailer-service/internal/cancelmail"
	"github.com/mvasconcelos/agendai/services/mailer-service/internal/consumer"
	"github.com/mvasconcelos/agendai/services/mailer-service/internal/email"
	"github.com/mvasconcelos/agendai/services/mailer-service/internal/inbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "mailer-service")
	port, err := config.Port("PORT", "8081")
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
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 5))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@agendai.local"),
	)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	inboxRepo := inbox.NewRepository(pool)
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: kafkaBrokers,
		GroupID: config.String("KAFKA_GROUP_ID", "mailer-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "appointment.cancelled.v1"),
	}, func(ctx context.Context, msg kafka.Message) error {
		var payload cancelmail.Payload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid cancellation payload", "err", err)
			return nil
		}
		if err := payload.Validate(); err != nil {
			logger.Error("incomplete cancellation payload", "err", err)
			return nil
		}

		subject, body := cancelmail.Compose(payload)
		if err := sender.Send(payload.Provider.Email, subject, body); err != nil {
			logger.Error("cancellation mail failed", "err", err, "appointment_id", payload.AppointmentID)
			return err
		}

		logger.Info("cancellation mail sent",
			"appointment_id", payload.AppointmentID,
			"provider_id", payload.ProviderID,
		)
		return nil
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "mailer")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
