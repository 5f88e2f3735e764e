// Package events folds booking and contact events into daily counters.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/northpeak/studio/libs/inbox"
	"github.com/northpeak/studio/libs/kafkax"
	"github.com/northpeak/studio/services/analytics-service/internal/stats"
)

const Name = "analytics-daily"

// Topics maps every consumed event type to the counter it bumps.
var Topics = map[string]stats.Counter{
	"booking.appointment.booked.v1":      stats.Booked,
	"booking.appointment.rescheduled.v1": stats.Rescheduled,
	"booking.appointment.cancelled.v1":   stats.Cancelled,
	"booking.appointment.completed.v1":   stats.Completed,
	"content.contact.received.v1":        stats.Contact,
}

func TopicNames() []string {
	names := make([]string, 0, len(Topics))
	for t := range Topics {
		names = append(names, t)
	}
	return names
}

// Handler counts each event on the organization-local day it occurred. Malformed
// events are logged and skipped so they do not block the partition.
func Handler(repo *stats.Repository, loc *time.Location, logger *slog.Logger) inbox.Handler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		counter, ok := Topics[meta.EventType]
		if !ok {
			counter, ok = Topics[msg.Topic]
		}
		if !ok {
			logger.WarnContext(ctx, "unexpected event type", "event_type", meta.EventType, "topic", msg.Topic)
			return nil
		}

		var payload struct {
			OccurredAt string `json:"occurred_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.ErrorContext(ctx, "invalid event payload", "event_id", meta.EventID, "err", err)
			return nil
		}
		occurredAt, err := time.Parse(time.RFC3339, payload.OccurredAt)
		if err != nil {
			logger.ErrorContext(ctx, "invalid occurred_at", "event_id", meta.EventID, "err", err)
			return nil
		}

		day := occurredAt.In(loc).Format(time.DateOnly)
		if err := repo.IncrementTx(ctx, tx, day, counter); err != nil {
			return err
		}
		logger.InfoContext(ctx, "daily metric recorded", "event_type", meta.EventType, "day", day)
		return nil
	}
}
