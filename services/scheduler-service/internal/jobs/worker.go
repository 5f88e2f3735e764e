package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/libs/outbox"
)

const (
	EventCompleted = "booking.appointment.completed.v1"

	JobCompletionSweep = "completion-sweep"
	JobOutboxRetention = "outbox-retention"
	JobReminder        = "reminder"

	KindReminder = "reminder"
)

type Observer interface {
	ObserveRun(job string, affected int, err error)
}

type Worker struct {
	repo      *Repository
	outbox    *outbox.Repository
	sender    mail.Sender
	observer  Observer
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
	batchSize int
	retention time.Duration
	lookahead time.Duration
	timezone  string
}

type WorkerConfig struct {
	Location  *time.Location
	BatchSize int
	// Retention is how long published outbox rows are kept.
	Retention time.Duration
	// Lookahead is how far ahead reminders are sent.
	Lookahead time.Duration
}

func NewWorker(repo *Repository, outboxRepo *outbox.Repository, sender mail.Sender, observer Observer, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 14 * 24 * time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	return &Worker{
		repo:      repo,
		outbox:    outboxRepo,
		sender:    sender,
		observer:  observer,
		logger:    logger,
		loc:       cfg.Location,
		now:       time.Now,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
		lookahead: cfg.Lookahead,
		timezone:  cfg.Location.String(),
	}
}

// Job wraps fn for the cron runner: it logs the outcome and feeds the observer.
func (w *Worker) Job(name string, fn func(context.Context) (int, error)) func(context.Context) {
	return func(ctx context.Context) {
		start := w.now()
		n, err := fn(ctx)
		if w.observer != nil {
			w.observer.ObserveRun(name, n, err)
		}
		if err != nil {
			w.logger.ErrorContext(ctx, "scheduled job failed", "job", name, "err", err)
			return
		}
		w.logger.InfoContext(ctx, "scheduled job finished", "job", name, "affected", n, "took", w.now().Sub(start).String())
	}
}

// CompleteEnded marks ended appointments completed and stages one event per appointment.
func (w *Worker) CompleteEnded(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.In(w.loc).Format(wallClock)

	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	done, err := w.repo.CompleteEndedTx(ctx, tx, cutoff, w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, c := range done {
		evt, err := outbox.NewEvent("appointment", c.ID, EventCompleted, map[string]any{
			"appointment_id":    c.ID,
			"date":              c.Date,
			"time":              c.Time,
			"status":            "completed",
			"preferred_contact": c.PreferredContact,
			"sequence":          c.Sequence,
			"occurred_at":       now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return 0, err
		}
		if err := w.outbox.Insert(ctx, tx, evt); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(done), nil
}

func (w *Worker) PruneOutbox(ctx context.Context) (int, error) {
	n, err := w.outbox.DeletePublishedBefore(ctx, w.now().Add(-w.retention))
	return int(n), err
}

// SendReminders emails every appointment starting within the lookahead once.
// Delivery failures are logged to notification_log and do not fail the run.
func (w *Worker) SendReminders(ctx context.Context) (int, error) {
	now := w.now().In(w.loc)
	due, err := w.repo.ClaimReminders(ctx, now.Format(wallClock), now.Add(w.lookahead).Format(wallClock), w.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rm := range due {
		msg, err := reminderMessage(rm, w.timezone)
		if err == nil {
			err = w.sender.Send(ctx, msg)
		}
		status, errMsg := "sent", ""
		if err != nil {
			status, errMsg = "failed", err.Error()
			w.logger.WarnContext(ctx, "reminder send failed", "appointment_id", rm.ID, "err", err)
		} else {
			sent++
		}
		if err := w.repo.RecordNotification(ctx, rm.ID, KindReminder, rm.Email, status, errMsg); err != nil {
			w.logger.WarnContext(ctx, "notification log write failed", "appointment_id", rm.ID, "err", err)
		}
	}
	if sent < len(due) {
		return sent, fmt.Errorf("%d of %d reminders failed", len(due)-sent, len(due))
	}
	return sent, nil
}
