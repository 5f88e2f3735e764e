package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/northpeak/studio/libs/config"
	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/libs/inbox"
	"github.com/northpeak/studio/libs/kafkax"
	"github.com/northpeak/studio/libs/objectstore"
	otelx "github.com/northpeak/studio/libs/otel"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/libs/runtime"
	"github.com/northpeak/studio/services/careers-service/internal/consumer"
	"github.com/northpeak/studio/services/careers-service/internal/drafter"
	"github.com/northpeak/studio/services/careers-service/internal/handlers"
	"github.com/northpeak/studio/services/careers-service/internal/metrics"
	"github.com/northpeak/studio/services/careers-service/internal/pipeline"
	"github.com/northpeak/studio/services/careers-service/internal/profile"
	"github.com/northpeak/studio/services/careers-service/internal/storage"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "careers-service")
	port, err := config.Port("PORT", "8084")
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

	candidate, err := profile.Load(config.String("PROFILE_PATH", ""))
	if err != nil {
		logger.Error("profile load failed", "err", err)
		panic(err)
	}
	store, err := objectstore.Open(ctx, objectstore.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("object storage init failed", "err", err)
		panic(err)
	}
	if !store.Enabled() {
		logger.Warn("S3_BUCKET not set; document generation is disabled")
	}
	ai, err := aiDrafter(ctx, logger)
	if err != nil {
		logger.Error("drafter init failed", "err", err)
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	apps := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Apps:    apps,
		Store:   store,
		Profile: candidate,
		AI:      ai,
		Metrics: metrics.New(nil),
		Logger:  logger,
	})
	viaBus := brokers != ""
	if viaBus {
		reader := inbox.NewKafkaReader(inbox.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  []string{pipeline.EventDocumentsRequested},
		})
		go inbox.NewConsumer(consumer.Name, reader, pool, logger, consumer.Handler(runner, logger)).Run(ctx)
	}
	requester := pipeline.NewRequester(apps, outboxRepo, runner, viaBus, logger)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if viaBus {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if store.Enabled() {
		checks = append(checks, runtime.ReadyCheck{Name: "objectstore", Check: store.ReadyCheck()})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(apps, requester, store, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.NewHTTPMetrics(nil, service).Middleware(handlers.RouteLabel),
	)
	handler = otelhttp.NewHandler(handler, "careers")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "via_bus", viaBus)
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

// aiDrafter picks the AI provider from DRAFTER. It returns nil when only the
// template drafter should be used.
func aiDrafter(ctx context.Context, logger *slog.Logger) (drafter.Drafter, error) {
	provider := strings.ToLower(config.String("DRAFTER", ""))
	if provider == "" && config.String("OPENAI_API_KEY", "") != "" {
		provider = "openai"
	}
	switch provider {
	case "", "template":
		logger.Info("ai drafting disabled; using template letters")
		return nil, nil
	case "openai":
		key, err := config.RequiredString("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		cfg := openai.DefaultConfig(key)
		if base := config.String("OPENAI_BASE_URL", ""); base != "" {
			cfg.BaseURL = base
		}
		return drafter.NewOpenAI(openai.NewClientWithConfig(cfg), config.String("OPENAI_MODEL", openai.GPT4oMini)), nil
	case "bedrock":
		model, err := config.RequiredString("BEDROCK_MODEL_ID")
		if err != nil {
			return nil, err
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.String("BEDROCK_REGION", "us-east-1")))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return drafter.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), model), nil
	default:
		return nil, fmt.Errorf("unknown DRAFTER %q", provider)
	}
}
