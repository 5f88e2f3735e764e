package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/invite"
	"github.com/northpeak/studio/services/booking-service/internal/model"
	"github.com/northpeak/studio/services/booking-service/internal/storage"
)

const (
	KindConfirmation        = "confirmation"
	KindOperatorBooked      = "operator_booked"
	KindRescheduled         = "rescheduled"
	KindOperatorRescheduled = "operator_rescheduled"
	KindCancelled           = "cancelled"
	KindOperatorCancelled   = "operator_cancelled"

	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Recorder interface {
	Record(ctx context.Context, entry storage.NotificationEntry) error
}

type Observer interface {
	ObserveEmail(kind, status string)
}

type Config struct {
	Operator invite.Party
	// SiteURL is the public site origin used to build manage links.
	SiteURL  string
	Timezone string
}

// Notifier sends booking emails after the appointment change is committed.
// Failures are logged, counted and recorded but never returned.
type Notifier struct {
	sender   mail.Sender
	invites  *invite.Builder
	recorder Recorder
	observer Observer
	cfg      Config
	logger   *slog.Logger
}

func New(sender mail.Sender, invites *invite.Builder, recorder Recorder, observer Observer, cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		invites:  invites,
		recorder: recorder,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
	}
}

func (n *Notifier) Booked(ctx context.Context, appt model.Appointment, slot availability.Slot, manageToken string) {
	inv := n.invites.Request(appt, slot)
	v := n.view(appt)
	v.ManageURL = n.manageURL(appt.ID, manageToken)
	n.send(ctx, appt.ID, KindConfirmation, "confirmation", "Your consultation is confirmed",
		"Your appointment is confirmed.", appt.Email, appt.Name, "", v, inv)

	op := n.view(appt)
	op.Event = "New booking"
	n.send(ctx, appt.ID, KindOperatorBooked, "operator", "New booking: "+appt.Name+" on "+appt.Date+" "+appt.Time,
		"A consultation was booked.", n.cfg.Operator.Email, n.cfg.Operator.Name, appt.Email, op, inv)
}

func (n *Notifier) Rescheduled(ctx context.Context, appt model.Appointment, slot availability.Slot, previous availability.BookedSlotKey) {
	inv := n.invites.Request(appt, slot)
	v := n.view(appt)
	v.PreviousDate, v.PreviousTime = previous.Date, previous.Time
	n.send(ctx, appt.ID, KindRescheduled, "rescheduled", "Your consultation has been rescheduled",
		"Your appointment has been moved.", appt.Email, appt.Name, "", v, inv)

	op := v
	op.Event = "Rescheduled"
	n.send(ctx, appt.ID, KindOperatorRescheduled, "operator", "Rescheduled: "+appt.Name+" to "+appt.Date+" "+appt.Time,
		"A consultation was rescheduled.", n.cfg.Operator.Email, n.cfg.Operator.Name, appt.Email, op, inv)
}

func (n *Notifier) Cancelled(ctx context.Context, appt model.Appointment, slot availability.Slot) {
	inv := n.invites.Cancel(appt, slot)
	v := n.view(appt)
	v.Reason = appt.CancelReason
	n.send(ctx, appt.ID, KindCancelled, "cancelled", "Your consultation has been cancelled",
		"Your appointment has been cancelled.", appt.Email, appt.Name, "", v, inv)

	op := v
	op.Event = "Cancelled"
	n.send(ctx, appt.ID, KindOperatorCancelled, "operator", "Cancelled: "+appt.Name+" on "+appt.Date+" "+appt.Time,
		"A consultation was cancelled.", n.cfg.Operator.Email, n.cfg.Operator.Name, appt.Email, op, inv)
}

func (n *Notifier) view(appt model.Appointment) view {
	return view{
		Name:          appt.Name,
		Email:         appt.Email,
		Mobile:        appt.Mobile,
		Company:       appt.Company,
		Date:          appt.Date,
		Time:          appt.Time,
		Duration:      fmt.Sprintf("%d minutes", int(availability.SlotDuration.Minutes())),
		Timezone:      n.cfg.Timezone,
		ContactMethod: appt.PreferredContact.Label(),
		Message:       appt.Message,
	}
}

func (n *Notifier) manageURL(id, token string) string {
	if n.cfg.SiteURL == "" || token == "" {
		return ""
	}
	q := url.Values{"token": {token}}
	return strings.TrimRight(n.cfg.SiteURL, "/") + "/appointments/" + url.PathEscape(id) + "?" + q.Encode()
}

func (n *Notifier) send(ctx context.Context, apptID, kind, page, subject, intro, to, toName, replyTo string, v view, inv invite.Invite) {
	if strings.TrimSpace(to) == "" {
		n.logger.WarnContext(ctx, "email skipped; no recipient", "kind", kind, "appointment_id", apptID)
		return
	}

	status, errText := StatusSent, ""
	html, err := render(page, v)
	if err == nil {
		err = n.sender.Send(ctx, mail.Message{
			To:      to,
			ToName:  toName,
			ReplyTo: replyTo,
			Subject: subject,
			Text:    plainText(intro, v),
			HTML:    html,
			Attachments: []mail.Attachment{{
				Filename:    invite.Filename,
				ContentType: inv.ContentType(),
				Content:     inv.Content,
			}},
		})
	}
	if err != nil {
		status, errText = StatusFailed, err.Error()
		n.logger.ErrorContext(ctx, "email send failed", "kind", kind, "appointment_id", apptID, "err", err)
	} else {
		n.logger.InfoContext(ctx, "email sent", "kind", kind, "appointment_id", apptID)
	}

	if n.observer != nil {
		n.observer.ObserveEmail(kind, status)
	}
	if n.recorder != nil {
		// The request context may already be cancelled once the response is written.
		if err := n.recorder.Record(context.WithoutCancel(ctx), storage.NotificationEntry{
			AppointmentID: apptID,
			Kind:          kind,
			Recipient:     to,
			Status:        status,
			Error:         errText,
		}); err != nil {
			n.logger.ErrorContext(ctx, "notification log write failed", "kind", kind, "err", err)
		}
	}
}
