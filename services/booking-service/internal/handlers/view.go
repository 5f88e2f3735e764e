package handlers

import (
	"time"

	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/model"
)

type appointmentView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Mobile           string `json:"mobile,omitempty"`
	Company          string `json:"company,omitempty"`
	SlotID           string `json:"slot_id"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	DateTime         string `json:"datetime"`
	EndTime          string `json:"end_datetime"`
	Status           string `json:"status"`
	PreferredContact string `json:"preferred_contact"`
	Message          string `json:"message,omitempty"`
	Sequence         int    `json:"sequence"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CancelReason     string `json:"cancellation_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func newAppointmentView(appt model.Appointment, slot availability.Slot) appointmentView {
	v := appointmentView{
		ID:               appt.ID,
		Name:             appt.Name,
		Email:            appt.Email,
		Mobile:           appt.Mobile,
		Company:          appt.Company,
		SlotID:           slot.ID,
		Date:             appt.Date,
		Time:             appt.Time,
		DateTime:         slot.DateTime.Format(time.RFC3339),
		EndTime:          slot.End().Format(time.RFC3339),
		Status:           string(appt.Status),
		PreferredContact: string(appt.PreferredContact),
		Message:          appt.Message,
		Sequence:         appt.Sequence,
		CancelReason:     appt.CancelReason,
		CreatedAt:        appt.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        appt.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		v.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return v
}
