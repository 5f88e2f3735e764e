package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northpeak/studio/libs/config"
	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/libs/kafkax"
	"github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/libs/objectstore"
	otelx "github.com/northpeak/studio/libs/otel"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/libs/runtime"
	"github.com/northpeak/studio/services/content-service/internal/cms"
	"github.com/northpeak/studio/services/content-service/internal/handlers"
	"github.com/northpeak/studio/services/content-service/internal/storage"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "content-service")
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
	store, err := objectstore.Open(ctx, objectstore.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("object storage init failed", "err", err)
		panic(err)
	}
	cmsTimeout, err := config.Duration("SANITY_TIMEOUT", 5*time.Second)
	if err != nil {
		panic(err)
	}
	cmsClient := cms.New(cms.Config{
		ProjectID:  config.String("SANITY_PROJECT_ID", ""),
		Dataset:    config.String("SANITY_DATASET", "production"),
		APIVersion: config.String("SANITY_API_VERSION", "2023-10-01"),
		Token:      config.String("SANITY_TOKEN", ""),
		BaseURL:    config.String("SANITY_BASE_URL", ""),
		Timeout:    cmsTimeout,
	})
	if !cmsClient.Enabled() {
		logger.Warn("SANITY_PROJECT_ID not set; cms endpoints will return 502")
	}

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	httpHandler := handlers.New(handlers.Deps{
		Repo:          storage.NewRepository(pool),
		Outbox:        outboxRepo,
		CMS:           cmsClient,
		Store:         store,
		Sender:        sender,
		OperatorEmail: config.String("OPERATOR_EMAIL", ""),
		Logger:        logger,
	})

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if store.Enabled() {
		checks = append(checks, runtime.ReadyCheck{Name: "objectstore", Check: store.ReadyCheck()})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	httpHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.NewHTTPMetrics(nil, service).Middleware(handlers.RouteLabel),
	)
	handler = otelhttp.NewHandler(handler, "content")
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
