package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrSlotTaken is the translation of the partial unique index on
	// scheduled appointments firing for a (doctor, time) pair.
	ErrSlotTaken = errors.New("slot already has a scheduled appointment")

	// ErrSlotHeld is the translation of the partial unique index on
	// active reservations firing for a (doctor, time) pair.
	ErrSlotHeld = errors.New("slot is held by another patient")
)

// Repository contains all DB interactions needed by the services.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	// ListScheduledAppointments returns status=scheduled appointments for a
	// doctor with scheduled_at in [from, to).
	ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	// CountScheduledInWindow is the cheap conflict probe used at commit time.
	CountScheduledInWindow(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error)
	// CreateAppointment persists a new scheduled appointment. A uniqueness
	// conflict on (doctor, scheduled_at) surfaces as ErrSlotTaken.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes *string) (*Appointment, error)
	// RescheduleAppointment moves a scheduled appointment to a new time.
	// ErrSlotTaken on uniqueness conflict, ErrAppointmentNotFound when the
	// appointment is missing or no longer scheduled.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newAt time.Time) (*Appointment, error)
	// AppendAppointmentRef appends the appointment id to the doctor's and
	// patient's denormalized appointment lists.
	AppendAppointmentRef(ctx context.Context, doctorID, patientID, appointmentID uuid.UUID) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// Reservations
	GetActiveReservationForSlot(ctx context.Context, doctorID uuid.UUID, slotAt time.Time) (*Reservation, error)
	GetActiveReservationBySession(ctx context.Context, patientID uuid.UUID, sessionToken string) (*Reservation, error)
	// GetLatestActiveReservation returns the most recently created active
	// reservation for the patient, any session.
	GetLatestActiveReservation(ctx context.Context, patientID uuid.UUID) (*Reservation, error)
	ListActiveReservations(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Reservation, error)
	ListActiveReservationsByPatient(ctx context.Context, patientID uuid.UUID) ([]Reservation, error)
	// CreateReservation persists a new active reservation. A uniqueness
	// conflict on (doctor, slot_at) surfaces as ErrSlotHeld.
	CreateReservation(ctx context.Context, res *Reservation) (*Reservation, error)
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error)
	// FindStaleActiveReservations returns active reservations created
	// strictly before cutoff, for the expiry sweeper.
	FindStaleActiveReservations(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
