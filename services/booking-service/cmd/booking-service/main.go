package main

import (
	"context"
	"net/http"
	"time"
	_ "time/tzdata"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northpeak/studio/libs/config"
	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/libs/kafkax"
	"github.com/northpeak/studio/libs/mail"
	otelx "github.com/northpeak/studio/libs/otel"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/libs/runtime"
	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/handlers"
	"github.com/northpeak/studio/services/booking-service/internal/invite"
	"github.com/northpeak/studio/services/booking-service/internal/metrics"
	"github.com/northpeak/studio/services/booking-service/internal/notify"
	"github.com/northpeak/studio/services/booking-service/internal/storage"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	loc, err := config.Location("ORG_TIMEZONE", "UTC")
	if err != nil {
		logger.Error("invalid ORG_TIMEZONE", "err", err)
		panic(err)
	}

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

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	sender, err := mail.FromEnv(logger)
	if err != nil {
		logger.Error("mail provider init failed", "err", err)
		panic(err)
	}

	tmpl := availability.DefaultTemplate()
	if err := tmpl.Validate(); err != nil {
		panic(err)
	}

	bookingMetrics := metrics.New(nil)
	repo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	notificationLog := storage.NewNotificationLog(pool)
	finder := availability.NewFinder(repo, tmpl, loc, logger, availability.WithObserver(bookingMetrics))

	operator := invite.Party{
		Name:  config.String("OPERATOR_NAME", "Studio"),
		Email: config.String("OPERATOR_EMAIL", config.String("EMAIL_FROM", "hello@studio.local")),
	}
	invites := invite.NewBuilder(config.String("INVITE_DOMAIN", "studio.local"), operator, config.String("MEETING_LOCATION", ""))
	notifier := notify.New(sender, invites, notificationLog, bookingMetrics, notify.Config{
		Operator: operator,
		SiteURL:  config.String("PUBLIC_SITE_URL", ""),
		Timezone: loc.String(),
	}, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(repo, outboxRepo, notificationLog, finder, notifier, bookingMetrics, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	bookingHandler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.NewHTTPMetrics(nil, service).Middleware(handlers.RouteLabel),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", loc.String())
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
