package invite

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/model"
)

func testBuilder() *Builder {
	b := NewBuilder("studio.example", Party{Name: "Studio", Email: "hello@studio.example"}, "Online")
	b.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return b
}

func testAppointment() (model.Appointment, availability.Slot) {
	start := time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)
	appt := model.Appointment{
		ID:               "a1b2",
		Name:             "Jane Doe",
		Email:            "jane@example.com",
		Company:          "Acme",
		Date:             "2024-01-02",
		Time:             "10:30",
		PreferredContact: model.ContactPhone,
		Message:          "Website rebuild",
		Sequence:         2,
	}
	slot := availability.Slot{ID: "2024-01-02-1030", Date: "2024-01-02", Time: "10:30", DateTime: start}
	return appt, slot
}

func TestRequestInvite(t *testing.T) {
	appt, slot := testAppointment()
	inv := testBuilder().Request(appt, slot)

	assert.Equal(t, "REQUEST", inv.Method)
	assert.Equal(t, "text/calendar; charset=utf-8; method=REQUEST", inv.ContentType())

	cal, err := ics.ParseCalendar(strings.NewReader(string(inv.Content)))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, "a1b2@studio.example", ev.Id())
	start, err := ev.GetStartAt()
	require.NoError(t, err)
	end, err := ev.GetEndAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(slot.DateTime))
	assert.Equal(t, 30*time.Minute, end.Sub(start))

	assert.Contains(t, string(inv.Content), "METHOD:REQUEST")
	assert.Equal(t, "CONFIRMED", ev.GetProperty(ics.ComponentPropertyStatus).Value)
	assert.Equal(t, "2", ev.GetProperty(ics.ComponentPropertySequence).Value)
	assert.Equal(t, "Consultation with Jane Doe (Acme)", ev.GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "mailto:hello@studio.example", ev.GetProperty(ics.ComponentPropertyOrganizer).Value)

	attendees := ev.Attendees()
	require.Len(t, attendees, 1)
	assert.Equal(t, "jane@example.com", attendees[0].Email())
}

func TestCancelInvite(t *testing.T) {
	appt, slot := testAppointment()
	appt.Sequence = 3
	inv := testBuilder().Cancel(appt, slot)

	body := string(inv.Content)
	assert.Equal(t, "CANCEL", inv.Method)
	assert.Contains(t, body, "METHOD:CANCEL")
	assert.Contains(t, body, "STATUS:CANCELLED")
	assert.Contains(t, body, "SEQUENCE:3")
}

func TestDescriptionSkipsEmptyFields(t *testing.T) {
	appt := model.Appointment{PreferredContact: model.ContactVideo}
	assert.Equal(t, "Contact method: Video call", description(appt))
	assert.Equal(t, "Consultation with ", summary(appt))
}
