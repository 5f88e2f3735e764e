// Package consumer runs document pipelines requested through the event bus.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/northpeak/studio/libs/inbox"
	"github.com/northpeak/studio/services/careers-service/internal/pipeline"
)

const Name = "careers-documents"

type Runner interface {
	Run(ctx context.Context, applicationID string, useAI bool) error
}

// Handler decodes a documents request and runs the pipeline. A failed run has
// already been written to the application row, so it is not redelivered.
func Handler(runner Runner, logger *slog.Logger) inbox.Handler {
	return func(ctx context.Context, _ pgx.Tx, msg kafka.Message) error {
		var p pipeline.RequestedPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		if p.ApplicationID == "" {
			return fmt.Errorf("%s without application_id", msg.Topic)
		}
		if err := runner.Run(ctx, p.ApplicationID, p.UseAI); err != nil {
			logger.WarnContext(ctx, "document run failed", "application_id", p.ApplicationID, "err", err)
		}
		return nil
	}
}
