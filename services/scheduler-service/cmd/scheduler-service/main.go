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
	"github.com/northpeak/studio/services/scheduler-service/internal/jobs"
	"github.com/northpeak/studio/services/scheduler-service/internal/metrics"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8085")
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

	loc, err := config.Location("ORG_TIMEZONE", "UTC")
	if err != nil {
		panic(err)
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

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	retentionDays, err := config.Int("OUTBOX_RETENTION_DAYS", 14)
	if err != nil {
		panic(err)
	}
	lookahead, err := config.Duration("REMINDER_LOOKAHEAD", 24*time.Hour)
	if err != nil {
		panic(err)
	}
	worker := jobs.NewWorker(jobs.NewRepository(pool), outboxRepo, sender, metrics.New(nil), logger, jobs.WorkerConfig{
		Location:  loc,
		BatchSize: 100,
		Retention: time.Duration(retentionDays) * 24 * time.Hour,
		Lookahead: lookahead,
	})

	schedule := jobs.DefaultSchedule()
	schedule.CompletionSweep = config.String("CRON_COMPLETION_SWEEP", schedule.CompletionSweep)
	schedule.OutboxRetention = config.String("CRON_OUTBOX_RETENTION", schedule.OutboxRetention)
	schedule.Reminder = config.String("CRON_REMINDER", schedule.Reminder)

	runner := jobs.NewCron(worker)
	if err := jobs.Register(ctx, runner, worker, schedule); err != nil {
		logger.Error("cron setup failed", "err", err)
		panic(err)
	}
	runner.Start()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "tz", loc.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	<-runner.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
