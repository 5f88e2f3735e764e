package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/kafkax"
	otelx "github.com/northpeak/studio/libs/otel"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays committed outbox rows to Kafka, one topic per event type.
// Delivery is at-least-once: a crash between write and commit republishes the
// batch, and consumers dedupe through the inbox.
type Publisher struct {
	db      db.DBTX
	repo    *Repository
	logger  *slog.Logger
	brokers []string
	cfg     PublisherConfig
}

func NewPublisher(conn db.DBTX, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{db: conn, repo: repo, logger: logger, brokers: kafkax.SplitBrokers(cfg.Brokers), cfg: cfg}
}

// Enabled reports whether brokers are configured.
func (p *Publisher) Enabled() bool {
	return len(p.brokers) > 0
}

// Run polls until ctx is cancelled. Without brokers events accumulate in the
// table and are relayed once a publisher with brokers starts.
func (p *Publisher) Run(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Warn("outbox publisher disabled, no kafka brokers configured")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer func() {
		if err := writer.Close(); err != nil {
			p.logger.Warn("close kafka writer", "err", err)
		}
	}()

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, writer)
		}
	}
}

// drain publishes full batches back to back so a backlog does not wait a
// poll interval per batch.
func (p *Publisher) drain(ctx context.Context, writer MessageWriter) {
	for ctx.Err() == nil {
		n, err := p.PublishBatch(ctx, writer)
		if err != nil {
			p.logger.Error("outbox publish failed", "err", err)
			return
		}
		if n > 0 {
			p.logger.Debug("outbox batch published", "events", n)
		}
		if n < p.cfg.BatchSize {
			return
		}
	}
}

// PublishBatch claims up to BatchSize pending rows, writes them and marks
// them published in the same transaction.
func (p *Publisher) PublishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.cfg.BatchSize)
	if err != nil || len(records) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(records))
	ids := make([]int64, len(records))
	for i, rec := range records {
		msgs[i] = toMessage(ctx, rec)
		ids[i] = rec.ID
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// toMessage keys by aggregate id so events of one aggregate keep their order
// within a partition.
func toMessage(ctx context.Context, rec Record) kafka.Message {
	meta := kafkax.EventMeta{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		AggregateType: rec.AggregateType,
		CreatedAt:     rec.CreatedAt,
	}
	origin := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	return kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Headers: kafkax.InjectTraceHeaders(origin, meta.Headers()),
	}
}
