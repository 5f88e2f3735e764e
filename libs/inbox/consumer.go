package inbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one message inside the transaction that records it in the inbox.
type Handler func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	name    string
	reader  MessageReader
	db      db.DBTX
	inbox   *Repository
	logger  *slog.Logger
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
}

func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkax.SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

func NewConsumer(name string, reader MessageReader, conn db.DBTX, logger *slog.Logger, handler Handler) *Consumer {
	return &Consumer{
		name:    name,
		reader:  reader,
		db:      conn,
		inbox:   NewRepository(),
		logger:  logger,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		if err := c.Process(ctx, msg); err != nil {
			c.logger.Error("message processing failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
			// Leave the offset uncommitted so the group redelivers after a rebalance.
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err)
		}
	}
}

// Process records msg in the inbox and runs the handler in one transaction.
// Duplicates are skipped without error.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.consumer", c.name),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" {
		err := errors.New("message has no event id")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	tx, err := c.db.Begin(ctxSpan)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() { _ = tx.Rollback(ctxSpan) }()

	fresh, err := c.inbox.Record(ctxSpan, tx, c.name, meta.EventID, meta.EventType)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return tx.Commit(ctxSpan)
	}

	if err := c.handler(ctxSpan, tx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return tx.Commit(ctxSpan)
}
