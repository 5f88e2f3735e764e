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
	otelx "github.com/northpeak/studio/libs/otel"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/libs/runtime"
	"github.com/northpeak/studio/services/auth-service/internal/audit"
	"github.com/northpeak/studio/services/auth-service/internal/bootstrap"
	"github.com/northpeak/studio/services/auth-service/internal/handlers"
	"github.com/northpeak/studio/services/auth-service/internal/sessions"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	secret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	accessTTL, err := config.Duration("ACCESS_TTL", 15*time.Minute)
	if err != nil {
		panic(err)
	}
	refreshTTL, err := config.Duration("REFRESH_TTL", 30*24*time.Hour)
	if err != nil || refreshTTL <= 0 {
		logger.Error("invalid REFRESH_TTL", "value", refreshTTL, "err", err)
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

	userRepo := storage.NewUserRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	auditRepo := audit.NewRepository(pool, outboxRepo)
	refreshRepo := sessions.NewRefreshRepository(pool)

	if _, err := bootstrap.EnsureAdmin(ctx, userRepo, auditRepo, bootstrap.AdminConfig{
		Email:       config.String("BOOTSTRAP_ADMIN_EMAIL", ""),
		Password:    config.String("BOOTSTRAP_ADMIN_PASSWORD", ""),
		DisplayName: config.String("BOOTSTRAP_ADMIN_NAME", "Owner"),
	}, logger); err != nil {
		logger.Error("bootstrap admin failed", "err", err)
		panic(err)
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	authHandler := handlers.NewAuthHandler(handlers.NewTokenIssuer(secret, accessTTL), userRepo, auditRepo, refreshRepo, refreshTTL, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	authHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.NewHTTPMetrics(nil, service).Middleware(handlers.RouteLabel),
	)
	handler = otelhttp.NewHandler(handler, "auth")
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
