package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisched/hospital-booking/internal/booking"
)

type ReserveRequest struct {
	DoctorID     string `json:"doctor_id"`
	PatientID    string `json:"patient_id"`
	SessionToken string `json:"session_token"`
	SlotAt       string `json:"slot_at"` // RFC 3339
}

type SessionRequest struct {
	PatientID    string `json:"patient_id"`
	SessionToken string `json:"session_token"`
}

type ReservationResponse struct {
	ID               uuid.UUID `json:"id"`
	DoctorID         uuid.UUID `json:"doctor_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	SlotAt           time.Time `json:"slot_at"`
	Status           string    `json:"status"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type HoldStatusResponse struct {
	Valid            bool `json:"valid"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID           `json:"doctor_id"`
	Date     string              `json:"date"`
	Slots    []booking.TimeOfDay `json:"slots"`
}

type BookRequest struct {
	DoctorID     string  `json:"doctor_id"`
	PatientID    string  `json:"patient_id"`
	ScheduledAt  string  `json:"scheduled_at"` // RFC 3339
	Purpose      *string `json:"purpose,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	SessionToken string  `json:"session_token,omitempty"`
}

type RescheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"` // RFC 3339
}

type CompleteRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorName  string    `json:"doctor_name"`
	PatientName string    `json:"patient_name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	Purpose     *string   `json:"purpose,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		PatientID:   a.PatientID,
		DoctorName:  a.DoctorName,
		PatientName: a.PatientName,
		ScheduledAt: a.ScheduledAt,
		Status:      string(a.Status),
		Purpose:     a.Purpose,
		Notes:       a.Notes,
	}
}
