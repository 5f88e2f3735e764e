package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedule holds the cron specs, evaluated in the organization time zone.
type Schedule struct {
	CompletionSweep string
	OutboxRetention string
	Reminder        string
}

func DefaultSchedule() Schedule {
	return Schedule{
		CompletionSweep: "*/15 * * * *",
		OutboxRetention: "30 3 * * *",
		Reminder:        "0 * * * *",
	}
}

// NewCron builds a runner that never overlaps runs of the same job.
func NewCron(w *Worker) *cron.Cron {
	logger := cronLogger{w.logger}
	return cron.New(
		cron.WithLocation(w.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Register adds every job to c. Jobs run with ctx so shutdown cancels in-flight queries.
func Register(ctx context.Context, c *cron.Cron, w *Worker, s Schedule) error {
	entries := []struct {
		name string
		expr string
		fn   func(context.Context) (int, error)
	}{
		{JobCompletionSweep, s.CompletionSweep, w.CompleteEnded},
		{JobOutboxRetention, s.OutboxRetention, w.PruneOutbox},
		{JobReminder, s.Reminder, w.SendReminders},
	}
	for _, e := range entries {
		run := w.Job(e.name, e.fn)
		if _, err := c.AddFunc(e.expr, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", e.name, e.expr, err)
		}
		w.logger.Info("job scheduled", "job", e.name, "expr", e.expr, "tz", w.timezone)
	}
	return nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
