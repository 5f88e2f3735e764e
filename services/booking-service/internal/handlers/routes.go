package handlers

import (
	"net/http"

	"github.com/northpeak/studio/libs/httpx"
)

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/appointments", h.Create)
	mux.HandleFunc("/api/v1/public/appointments/{id}", h.Appointment)
	mux.HandleFunc("/api/v1/public/appointments/{id}/{action}", h.Appointment)
	mux.HandleFunc("/api/v1/admin/appointments", h.AdminList)
	mux.HandleFunc("/api/v1/admin/appointments/{id}", h.AdminAppointment)
}

// RouteLabel collapses appointment ids for metric labels.
var RouteLabel = httpx.RouteLabels(
	"/api/v1/public/slots",
	"/api/v1/public/appointments",
	"/api/v1/public/appointments/{id}",
	"/api/v1/public/appointments/{id}/reschedule",
	"/api/v1/public/appointments/{id}/cancel",
	"/api/v1/admin/appointments",
	"/api/v1/admin/appointments/{id}",
)
