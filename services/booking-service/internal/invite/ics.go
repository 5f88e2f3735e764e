package invite

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/model"
)

const (
	Filename    = "invite.ics"
	ContentType = "text/calendar; charset=utf-8; method=%s"
)

type Party struct {
	Name  string
	Email string
}

type Builder struct {
	Domain    string
	Organizer Party
	ProductID string
	Location  string
	now       func() time.Time
}

func NewBuilder(domain string, organizer Party, location string) *Builder {
	if domain == "" {
		domain = "studio.local"
	}
	return &Builder{
		Domain:    domain,
		Organizer: organizer,
		ProductID: "-//Northpeak Studio//Booking//EN",
		Location:  location,
		now:       time.Now,
	}
}

// Invite is a serialized calendar object plus the method it was built with.
type Invite struct {
	Method  string
	Content []byte
}

func (i Invite) ContentType() string {
	return fmt.Sprintf(ContentType, i.Method)
}

func (b *Builder) UID(appointmentID string) string {
	return appointmentID + "@" + b.Domain
}

// Request builds a METHOD:REQUEST invite for a live appointment.
func (b *Builder) Request(appt model.Appointment, slot availability.Slot) Invite {
	return b.build(ics.MethodRequest, ics.ObjectStatusConfirmed, appt, slot)
}

// Cancel builds a METHOD:CANCEL invite. The sequence must be higher than the
// last request the attendee received.
func (b *Builder) Cancel(appt model.Appointment, slot availability.Slot) Invite {
	return b.build(ics.MethodCancel, ics.ObjectStatusCancelled, appt, slot)
}

func (b *Builder) build(method ics.Method, status ics.ObjectStatus, appt model.Appointment, slot availability.Slot) Invite {
	cal := ics.NewCalendar()
	cal.SetMethod(method)
	cal.SetProductId(b.ProductID)

	event := cal.AddEvent(b.UID(appt.ID))
	event.SetDtStampTime(b.now().UTC())
	event.SetStartAt(slot.DateTime.UTC())
	event.SetEndAt(slot.End().UTC())
	event.SetSummary(summary(appt))
	event.SetDescription(description(appt))
	if b.Location != "" {
		event.SetLocation(b.Location)
	}
	event.SetStatus(status)
	event.SetSequence(appt.Sequence)
	event.SetOrganizer(b.Organizer.Email, ics.WithCN(b.Organizer.Name))
	event.AddAttendee(appt.Email,
		ics.WithCN(appt.Name),
		ics.CalendarUserTypeIndividual,
		ics.ParticipationStatusNeedsAction,
		ics.ParticipationRoleReqParticipant,
		ics.WithRSVP(true),
	)

	return Invite{Method: string(method), Content: []byte(cal.Serialize())}
}

func summary(appt model.Appointment) string {
	if appt.Company != "" {
		return fmt.Sprintf("Consultation with %s (%s)", appt.Name, appt.Company)
	}
	return "Consultation with " + appt.Name
}

func description(appt model.Appointment) string {
	var sb strings.Builder
	sb.WriteString("Contact method: " + appt.PreferredContact.Label())
	if appt.Company != "" {
		sb.WriteString("\nCompany: " + appt.Company)
	}
	if appt.Mobile != "" {
		sb.WriteString("\nMobile: " + appt.Mobile)
	}
	if msg := strings.TrimSpace(appt.Message); msg != "" {
		sb.WriteString("\n\n" + msg)
	}
	return sb.String()
}
