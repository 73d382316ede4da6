package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type ReservationStatus string

const (
	HoldActive    ReservationStatus = "active"
	HoldConfirmed ReservationStatus = "confirmed"
	HoldCancelled ReservationStatus = "cancelled"
	HoldExpired   ReservationStatus = "expired"
)

type Hospital struct {
	ID        uuid.UUID
	Name      string
	City      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID             uuid.UUID
	HospitalID     uuid.UUID
	Name           string
	Specialty      *string
	AppointmentIDs []uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Patient struct {
	ID             uuid.UUID
	Name           string
	Email          *string
	AppointmentIDs []uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	DoctorName  string
	PatientName string
	ScheduledAt time.Time // minute precision
	Status      AppointmentStatus
	Purpose     *string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation is a short-lived hold on one slot for one patient. The
// session token distinguishes concurrent tabs/devices of the same patient.
type Reservation struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	PatientID    uuid.UUID
	SessionToken string
	SlotAt       time.Time // minute precision
	Status       ReservationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Doctor  *Doctor
	Patient *Patient
}

// TimeOfDay is the unit of the slot grid, a wall-clock minute of a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// At places the time-of-day onto a calendar day in the given location.
func (t TimeOfDay) At(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.minutes() < o.minutes()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}
