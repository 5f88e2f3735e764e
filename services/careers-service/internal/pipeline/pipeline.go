// Package pipeline drafts, renders and stores the documents for a job application.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/careers-service/internal/documents"
	"github.com/northpeak/studio/services/careers-service/internal/drafter"
	"github.com/northpeak/studio/services/careers-service/internal/metrics"
	"github.com/northpeak/studio/services/careers-service/internal/profile"
	"github.com/northpeak/studio/services/careers-service/internal/storage"
)

const EventDocumentsRequested = "careers.documents.requested.v1"

// ErrAlreadyPending is returned when a run for the application has not finished yet.
var ErrAlreadyPending = errors.New("pipeline: documents already pending")

// RequestedPayload is the body of EventDocumentsRequested.
type RequestedPayload struct {
	ApplicationID string    `json:"application_id"`
	UseAI         bool      `json:"use_ai"`
	RequestedAt   time.Time `json:"requested_at"`
}

type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

func CVKey(applicationID string) string {
	return "applications/" + applicationID + "/cv.pdf"
}

func CoverLetterKey(applicationID string) string {
	return "applications/" + applicationID + "/cover-letter.pdf"
}

type Runner struct {
	apps     *storage.Repository
	store    ObjectStore
	profile  profile.Profile
	ai       drafter.Drafter
	template drafter.Drafter
	metrics  *metrics.Documents
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
}

type RunnerConfig struct {
	Apps    *storage.Repository
	Store   ObjectStore
	Profile profile.Profile
	// AI is optional. Without it every run uses the template drafter.
	AI      drafter.Drafter
	Metrics *metrics.Documents
	Logger  *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		apps:     cfg.Apps,
		store:    cfg.Store,
		profile:  cfg.Profile,
		ai:       cfg.AI,
		template: drafter.Template{},
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
		timeout:  2 * time.Minute,
	}
}

func (r *Runner) drafterFor(useAI bool) drafter.Drafter {
	if !useAI || r.ai == nil {
		return r.template
	}
	return drafter.NewFallback(r.ai, r.template, r.logger, r.metrics.ObserveFallback)
}

// Run generates both documents for the application. Every failure is written
// back as documents_status failed so the application can be requested again.
func (r *Runner) Run(ctx context.Context, applicationID string, useAI bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	d := r.drafterFor(useAI)

	app, err := r.apps.Get(ctx, applicationID)
	if err != nil {
		return r.fail(ctx, applicationID, d, start, fmt.Errorf("pipeline: load application %s: %w", applicationID, err))
	}
	cvKey, coverKey, text, err := r.generate(ctx, app, d)
	if err != nil {
		return r.fail(ctx, applicationID, d, start, err)
	}
	if err := r.apps.MarkReady(ctx, applicationID, cvKey, coverKey, text); err != nil {
		return r.fail(ctx, applicationID, d, start, fmt.Errorf("pipeline: mark ready: %w", err))
	}
	r.metrics.ObserveRun(metrics.OutcomeReady, d.Name(), r.now().Sub(start))
	r.logger.InfoContext(ctx, "documents ready", "application_id", applicationID, "drafter", d.Name())
	return nil
}

// fail records err on the row. The write ignores ctx cancellation so a timed
// out run does not stay pending.
func (r *Runner) fail(ctx context.Context, applicationID string, d drafter.Drafter, start time.Time, err error) error {
	r.metrics.ObserveRun(metrics.OutcomeFailed, d.Name(), r.now().Sub(start))
	r.logger.ErrorContext(ctx, "document generation failed", "application_id", applicationID, "err", err)
	if markErr := r.apps.MarkFailed(context.WithoutCancel(ctx), applicationID, err.Error()); markErr != nil {
		return errors.Join(err, fmt.Errorf("pipeline: mark failed: %w", markErr))
	}
	return err
}

func (r *Runner) generate(ctx context.Context, app storage.Application, d drafter.Drafter) (string, string, string, error) {
	text, err := d.Draft(ctx, drafter.Input{
		Profile:        r.profile,
		Company:        app.Company,
		RoleTitle:      app.RoleTitle,
		JobDescription: app.JobDescription,
		ContactName:    app.ContactName,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("draft cover letter: %w", err)
	}

	cv, err := documents.CV(r.profile)
	if err != nil {
		return "", "", "", err
	}
	letter, err := documents.CoverLetter(r.profile, documents.Letter{
		Company:   app.Company,
		RoleTitle: app.RoleTitle,
		Body:      text,
		Date:      r.now(),
	})
	if err != nil {
		return "", "", "", err
	}

	cvKey, coverKey := CVKey(app.ID), CoverLetterKey(app.ID)
	if err := r.store.Put(ctx, cvKey, "application/pdf", cv); err != nil {
		return "", "", "", err
	}
	if err := r.store.Put(ctx, coverKey, "application/pdf", letter); err != nil {
		return "", "", "", err
	}
	return cvKey, coverKey, text, nil
}

// Requester marks an application pending and hands the run off. With an event
// bus the run travels through the outbox; otherwise it starts in the background.
type Requester struct {
	apps   *storage.Repository
	outbox *outbox.Repository
	runner *Runner
	viaBus bool
	logger *slog.Logger
	now    func() time.Time
	inline func(applicationID string, useAI bool)
}

func NewRequester(apps *storage.Repository, outboxRepo *outbox.Repository, runner *Runner, viaBus bool, logger *slog.Logger) *Requester {
	q := &Requester{
		apps:   apps,
		outbox: outboxRepo,
		runner: runner,
		viaBus: viaBus,
		logger: logger,
		now:    time.Now,
	}
	q.inline = func(applicationID string, useAI bool) {
		go func() {
			if err := runner.Run(context.Background(), applicationID, useAI); err != nil {
				logger.Warn("inline document run failed", "application_id", applicationID, "err", err)
			}
		}()
	}
	return q
}

func (q *Requester) Request(ctx context.Context, applicationID string, useAI bool) error {
	if _, err := q.apps.Get(ctx, applicationID); err != nil {
		return err
	}

	tx, err := q.apps.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	marked, err := q.apps.MarkPendingTx(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if !marked {
		return ErrAlreadyPending
	}
	if q.viaBus {
		evt, err := outbox.NewEvent("job_application", applicationID, EventDocumentsRequested, RequestedPayload{
			ApplicationID: applicationID,
			UseAI:         useAI,
			RequestedAt:   q.now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := q.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if !q.viaBus {
		q.inline(applicationID, useAI)
	}
	q.logger.InfoContext(ctx, "documents requested", "application_id", applicationID, "use_ai", useAI, "via_bus", q.viaBus)
	return nil
}
