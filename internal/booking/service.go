package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/medisched/hospital-booking/internal/config"
	"github.com/medisched/hospital-booking/internal/metrics"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var (
	ErrPastDate                = errors.New("date is in the past")
	ErrSlotUnavailable         = errors.New("slot is no longer available")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrPastAppointment         = errors.New("appointment time has already passed")
)

// Service owns slot availability and the booking transaction. All
// coordination is pushed to the storage layer so correctness holds across
// processes, not just goroutines.
type Service struct {
	repo    Repository
	cfg     config.Config
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewService(repo Repository, cfg config.Config, m *metrics.BookingMetrics) *Service {
	return &Service{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// AvailableSlots computes the bookable grid for one doctor and one calendar
// day: the full grid minus scheduled appointments, minus active holds by
// other patients, minus same-day slots inside the lead-time window. Pass
// excludePatientID to let a patient see their own held slot as available;
// uuid.Nil excludes nothing. Read-only; the result is rebuilt on every call.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, excludePatientID uuid.UUID) ([]TimeOfDay, error) {
	loc := s.cfg.Location
	now := s.now().In(loc)

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return nil, ErrPastDate
	}
	dayEnd := day.AddDate(0, 0, 1)

	appts, err := s.repo.ListScheduledAppointments(ctx, doctorID, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	holds, err := s.repo.ListActiveReservations(ctx, doctorID, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}

	taken := make(map[TimeOfDay]bool)
	for _, a := range appts {
		taken[TimeOfDayOf(a.ScheduledAt.In(loc))] = true
	}
	for _, r := range holds {
		if excludePatientID != uuid.Nil && r.PatientID == excludePatientID {
			continue
		}
		taken[TimeOfDayOf(r.SlotAt.In(loc))] = true
	}

	earliest := now.Add(s.cfg.LeadTime)

	var out []TimeOfDay
	for _, slot := range SlotGrid(s.cfg.ClinicDay) {
		if taken[slot] {
			continue
		}
		if day.Equal(today) && slot.At(day, loc).Before(earliest) {
			continue
		}
		out = append(out, slot)
	}

	s.metrics.ObserveSlotsReturned(len(out))
	return out, nil
}

// Book re-validates availability and commits a new scheduled appointment.
// The conflict check runs again here even though the resolver and the
// reservation already filtered the slot, because views and holds can go
// stale between selection and confirmation. First writer wins; losers get
// ErrSlotTaken or ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, at time.Time, purpose, notes *string) (*Appointment, error) {
	at = at.In(s.cfg.Location).Truncate(time.Minute)

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	// Authoritative double-booking guard: a tight window probe around the
	// requested minute, not the whole day.
	n, err := s.repo.CountScheduledInWindow(ctx, doctorID, at, at.Add(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("conflict probe: %w", err)
	}
	if n > 0 {
		s.metrics.ObserveBooking("conflict")
		return nil, ErrSlotTaken
	}

	// Second line of defence: the slot must still be in the resolver's
	// output, which also covers the lead-time rule flipping and holds by
	// other patients. The caller's own hold does not block them.
	slots, err := s.AvailableSlots(ctx, doctorID, at, patientID)
	if err != nil {
		return nil, err
	}
	if !containsSlot(slots, TimeOfDayOf(at.In(s.cfg.Location))) {
		s.metrics.ObserveBooking("conflict")
		return nil, ErrSlotUnavailable
	}

	now := s.now()
	appt := &Appointment{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		PatientID:   patientID,
		DoctorName:  doctor.Name,
		PatientName: patient.Name,
		ScheduledAt: at,
		Status:      StatusScheduled,
		Purpose:     purpose,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			// Lost the race to a concurrent writer; the partial unique
			// index is the arbiter.
			s.metrics.ObserveBooking("conflict")
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	// Back-references are a materialized convenience; the appointment row
	// is authoritative, so a failed append must not fail the booking.
	if err := s.repo.AppendAppointmentRef(ctx, doctorID, patientID, created.ID); err != nil {
		log.Printf("failed to append appointment ref %s: %v", created.ID, err)
	}

	s.logEvent(ctx, &created.ID, nil, EventAppointmentBooked, map[string]any{
		"doctor_id":    doctorID.String(),
		"patient_id":   patientID.String(),
		"scheduled_at": at,
	})
	s.metrics.ObserveBooking("ok")

	return created, nil
}

// CancelAppointment cancels a scheduled future appointment.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}
	if appt.ScheduledAt.Before(s.now()) {
		return nil, ErrPastAppointment
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCancelled, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status changed between our read and the update.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, nil, EventAppointmentCancelled, map[string]any{})
	return updated, nil
}

// CompleteAppointment marks a scheduled appointment completed, optionally
// attaching visit notes.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, notes *string) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCompleted, notes)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.transitionError(ctx, id)
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, nil, EventAppointmentCompleted, map[string]any{})
	return updated, nil
}

// MarkNoShow marks a scheduled appointment as a no-show.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusNoShow, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.transitionError(ctx, id)
		}
		return nil, fmt.Errorf("mark no-show: %w", err)
	}

	s.logEvent(ctx, &updated.ID, nil, EventAppointmentNoShow, map[string]any{})
	return updated, nil
}

// RescheduleAppointment moves a scheduled appointment to a new time after
// re-running the availability check against the new date.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newAt time.Time) (*Appointment, error) {
	newAt = newAt.In(s.cfg.Location).Truncate(time.Minute)

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidStatusTransition
	}

	slots, err := s.AvailableSlots(ctx, appt.DoctorID, newAt, appt.PatientID)
	if err != nil {
		return nil, err
	}
	if !containsSlot(slots, TimeOfDayOf(newAt.In(s.cfg.Location))) {
		return nil, ErrSlotUnavailable
	}

	updated, err := s.repo.RescheduleAppointment(ctx, id, newAt)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, err
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, nil, EventAppointmentRescheduled, map[string]any{
		"from": appt.ScheduledAt,
		"to":   newAt,
	})
	return updated, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// transitionError distinguishes "gone" from "wrong status" after a
// conditional update matched nothing.
func (s *Service) transitionError(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetAppointmentByID(ctx, id); errors.Is(err, ErrAppointmentNotFound) {
		return ErrAppointmentNotFound
	}
	return ErrInvalidStatusTransition
}

func (s *Service) logEvent(ctx context.Context, appointmentID, reservationID *uuid.UUID, eventType string, payload map[string]any) {
	writeEvent(ctx, s.repo, appointmentID, reservationID, eventType, payload, s.now())
}

// writeEvent is the shared best-effort audit write; it never fails the
// calling operation.
func writeEvent(ctx context.Context, repo Repository, appointmentID, reservationID *uuid.UUID, eventType string, payload map[string]any, now time.Time) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		ReservationID: reservationID,
		Payload:       data,
		CreatedAt:     now,
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s: %v", eventType, err)
	}
}

func containsSlot(slots []TimeOfDay, want TimeOfDay) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}
