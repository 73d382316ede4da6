package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/medisched/hospital-booking/internal/config"
	"github.com/medisched/hospital-booking/internal/metrics"
	redisclient "github.com/medisched/hospital-booking/internal/redis"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationConfirmed = "RESERVATION_CONFIRMED"
	EventReservationCancelled = "RESERVATION_CANCELLED"
)

// ReservationManager owns the short-lived slot holds. A hold is an
// optimization for the checkout flow, never a precondition for booking: the
// booking transaction re-validates on its own.
type ReservationManager struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewReservationManager(repo Repository, locker redisclient.Locker, cfg config.Config, m *metrics.BookingMetrics) *ReservationManager {
	return &ReservationManager{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// Reserve places an active hold on (doctor, slot) for the patient. If
// another patient already holds the slot it fails with ErrSlotHeld. Any
// prior active hold of this patient is cancelled first, so a patient holds
// at most one slot system-wide. The existence check and the insert run
// under a per-slot distributed lock, and the partial unique index on
// active reservations remains the hard arbiter: losing the insert race
// also surfaces as ErrSlotHeld, never as a raw storage error.
func (m *ReservationManager) Reserve(ctx context.Context, doctorID uuid.UUID, slotAt time.Time, patientID uuid.UUID, sessionToken string) (*Reservation, error) {
	slotAt = slotAt.In(m.cfg.Location).Truncate(time.Minute)

	var created *Reservation

	err := m.withSlotLock(ctx, doctorID, slotAt, func(lockCtx context.Context) error {
		existing, err := m.repo.GetActiveReservationForSlot(lockCtx, doctorID, slotAt)
		if err != nil && !errors.Is(err, ErrReservationNotFound) {
			return fmt.Errorf("check active reservation: %w", err)
		}
		if existing != nil && existing.PatientID != patientID {
			return ErrSlotHeld
		}

		if err := m.CancelAllActive(lockCtx, patientID); err != nil {
			return fmt.Errorf("cancel prior holds: %w", err)
		}

		now := m.now()
		res := &Reservation{
			ID:           uuid.New(),
			DoctorID:     doctorID,
			PatientID:    patientID,
			SessionToken: sessionToken,
			SlotAt:       slotAt,
			Status:       HoldActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		created, err = m.repo.CreateReservation(lockCtx, res)
		if err != nil {
			if errors.Is(err, ErrSlotHeld) {
				return err
			}
			return fmt.Errorf("create reservation: %w", err)
		}

		m.logEvent(lockCtx, created.ID, EventReservationCreated, map[string]any{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"slot_at":    slotAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Someone else is mid-reserve on this slot; to the caller that
			// is the same as the slot being held.
			m.metrics.ObserveReserve("conflict")
			return nil, ErrSlotHeld
		}
		if errors.Is(err, ErrSlotHeld) {
			m.metrics.ObserveReserve("conflict")
			return nil, err
		}
		m.metrics.ObserveReserve("error")
		return nil, err
	}

	m.metrics.ObserveReserve("ok")
	return created, nil
}

// Confirm transitions the patient's active hold to confirmed, typically
// right after a successful booking. A missing hold is a warning, not an
// error: booking does not depend on one.
func (m *ReservationManager) Confirm(ctx context.Context, patientID uuid.UUID, sessionToken string) (*Reservation, error) {
	res, err := m.findActive(ctx, patientID, sessionToken)
	if err != nil {
		return nil, err
	}
	if res == nil {
		log.Printf("confirm: no active reservation for patient %s", patientID)
		return nil, nil
	}

	updated, err := m.repo.UpdateReservationStatus(ctx, res.ID, HoldActive, HoldConfirmed)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// The hold left the active state under us (expired or
			// cancelled); terminal states are never reopened.
			return nil, nil
		}
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}

	m.logEvent(ctx, updated.ID, EventReservationConfirmed, map[string]any{})
	return updated, nil
}

// Cancel transitions the session's active hold, if any, to cancelled.
func (m *ReservationManager) Cancel(ctx context.Context, patientID uuid.UUID, sessionToken string) error {
	res, err := m.repo.GetActiveReservationBySession(ctx, patientID, sessionToken)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		return fmt.Errorf("load reservation: %w", err)
	}

	if _, err := m.repo.UpdateReservationStatus(ctx, res.ID, HoldActive, HoldCancelled); err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		return fmt.Errorf("cancel reservation: %w", err)
	}

	m.logEvent(ctx, res.ID, EventReservationCancelled, map[string]any{})
	return nil
}

// CancelAllActive cancels every active hold of the patient. Used by Reserve
// to enforce the single-hold rule and exposed for "pick a different slot"
// flows.
func (m *ReservationManager) CancelAllActive(ctx context.Context, patientID uuid.UUID) error {
	active, err := m.repo.ListActiveReservationsByPatient(ctx, patientID)
	if err != nil {
		return fmt.Errorf("list active reservations: %w", err)
	}

	for _, res := range active {
		if _, err := m.repo.UpdateReservationStatus(ctx, res.ID, HoldActive, HoldCancelled); err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				continue
			}
			return fmt.Errorf("cancel reservation %s: %w", res.ID, err)
		}
		m.logEvent(ctx, res.ID, EventReservationCancelled, map[string]any{"reason": "superseded"})
	}

	return nil
}

// IsReserved reports whether the slot carries an active hold by someone
// other than excludePatientID.
func (m *ReservationManager) IsReserved(ctx context.Context, doctorID uuid.UUID, slotAt time.Time, excludePatientID uuid.UUID) (bool, error) {
	slotAt = slotAt.In(m.cfg.Location).Truncate(time.Minute)

	res, err := m.repo.GetActiveReservationForSlot(ctx, doctorID, slotAt)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load reservation: %w", err)
	}
	return res.PatientID != excludePatientID, nil
}

// IsValid reports whether the patient's hold is still inside its TTL.
// A hold past its TTL is invalid even before the sweeper has run.
func (m *ReservationManager) IsValid(ctx context.Context, patientID uuid.UUID, sessionToken string) (bool, error) {
	res, err := m.findActive(ctx, patientID, sessionToken)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	return m.now().Before(res.CreatedAt.Add(m.cfg.HoldTTL)), nil
}

// RemainingSeconds returns how many whole seconds the patient's hold has
// left, zero if there is none or it is past its TTL.
func (m *ReservationManager) RemainingSeconds(ctx context.Context, patientID uuid.UUID, sessionToken string) (int, error) {
	res, err := m.findActive(ctx, patientID, sessionToken)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}

	remaining := res.CreatedAt.Add(m.cfg.HoldTTL).Sub(m.now())
	if remaining < 0 {
		return 0, nil
	}
	return int(remaining.Seconds()), nil
}

// findActive looks up the active hold for (patient, session) and falls
// back to the patient's most recent active hold when the session lookup
// misses. The fallback tolerates session-token churn across page reloads;
// it deliberately loosens session scoping.
func (m *ReservationManager) findActive(ctx context.Context, patientID uuid.UUID, sessionToken string) (*Reservation, error) {
	res, err := m.repo.GetActiveReservationBySession(ctx, patientID, sessionToken)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("load reservation by session: %w", err)
	}

	res, err = m.repo.GetLatestActiveReservation(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest reservation: %w", err)
	}
	return res, nil
}

func (m *ReservationManager) withSlotLock(ctx context.Context, doctorID uuid.UUID, slotAt time.Time, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}
	return m.locker.WithSlotLock(ctx, doctorID, slotAt, fn)
}

func (m *ReservationManager) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	resID := reservationID
	writeEvent(ctx, m.repo, nil, &resID, eventType, payload, m.now())
}
