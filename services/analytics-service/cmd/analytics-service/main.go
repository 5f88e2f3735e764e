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
	"github.com/northpeak/studio/libs/inbox"
	"github.com/northpeak/studio/libs/kafkax"
	otelx "github.com/northpeak/studio/libs/otel"
	"github.com/northpeak/studio/libs/runtime"
	"github.com/northpeak/studio/services/analytics-service/internal/events"
	"github.com/northpeak/studio/services/analytics-service/internal/handlers"
	"github.com/northpeak/studio/services/analytics-service/internal/stats"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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

	statsRepo := stats.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		reader := inbox.NewKafkaReader(inbox.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  events.TopicNames(),
		})
		go inbox.NewConsumer(events.Name, reader, pool, logger, events.Handler(statsRepo, loc, logger)).Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; daily metrics will not be updated")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(statsRepo, loc, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.NewHTTPMetrics(nil, service).Middleware(httpx.RouteLabels("/api/v1/admin/stats")),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
