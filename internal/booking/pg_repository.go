package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxDB is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it too.
type pgxDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db pgxDB
}

func NewPgRepository(db pgxDB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.HospitalID,
		&d.Name,
		&specialty,
		&d.AppointmentIDs,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.AppointmentIDs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var purpose, notes *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.DoctorName,
		&a.PatientName,
		&a.ScheduledAt,
		&a.Status,
		&purpose,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Purpose = purpose
	a.Notes = notes
	return &a, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation

	err := row.Scan(
		&r.ID,
		&r.DoctorID,
		&r.PatientID,
		&r.SessionToken,
		&r.SlotAt,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	return &r, nil
}

const appointmentCols = `id, doctor_id, patient_id, doctor_name, patient_name, scheduled_at, status, purpose, notes, created_at, updated_at`

const reservationCols = `id, doctor_id, patient_id, session_token, slot_at, status, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, hospital_id, name, specialty, appointment_ids, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, appointment_ids, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doctor, err := r.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil && !errors.Is(err, ErrDoctorNotFound) {
		return nil, err
	}
	patient, err := r.GetPatientByID(ctx, appt.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}

	return &AppointmentDetail{
		Appointment: *appt,
		Doctor:      doctor,
		Patient:     patient,
	}, nil
}

func (r *PgRepository) ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountScheduledInWindow(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
	`, doctorID, from, to).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+appointmentCols+`
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.DoctorName, appt.PatientName,
		appt.ScheduledAt, appt.Status, appt.Purpose, appt.Notes, appt.CreatedAt, appt.UpdatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = COALESCE($3, notes),
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentCols+`
	`, id, to, notes, from)

	return scanAppointment(row)
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, newAt time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols+`
	`, id, newAt)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) AppendAppointmentRef(ctx context.Context, doctorID, patientID, appointmentID uuid.UUID) error {
	// Single-statement appends stay atomic under concurrent writers; no
	// read-modify-write on the owning rows.
	if _, err := r.db.Exec(ctx, `
		UPDATE doctors
		SET appointment_ids = array_append(appointment_ids, $2),
		    updated_at = now()
		WHERE id = $1
	`, doctorID, appointmentID); err != nil {
		return fmt.Errorf("append doctor ref: %w", err)
	}

	if _, err := r.db.Exec(ctx, `
		UPDATE patients
		SET appointment_ids = array_append(appointment_ids, $2),
		    updated_at = now()
		WHERE id = $1
	`, patientID, appointmentID); err != nil {
		return fmt.Errorf("append patient ref: %w", err)
	}

	return nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, AppointmentDetail{Appointment: *a})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetActiveReservationForSlot(ctx context.Context, doctorID uuid.UUID, slotAt time.Time) (*Reservation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE doctor_id = $1
		  AND slot_at = $2
		  AND status = 'active'
	`, doctorID, slotAt)
	return scanReservation(row)
}

func (r *PgRepository) GetActiveReservationBySession(ctx context.Context, patientID uuid.UUID, sessionToken string) (*Reservation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE patient_id = $1
		  AND session_token = $2
		  AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, sessionToken)
	return scanReservation(row)
}

func (r *PgRepository) GetLatestActiveReservation(ctx context.Context, patientID uuid.UUID) (*Reservation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE patient_id = $1
		  AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID)
	return scanReservation(row)
}

func (r *PgRepository) ListActiveReservations(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE doctor_id = $1
		  AND status = 'active'
		  AND slot_at >= $2
		  AND slot_at < $3
		ORDER BY slot_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (r *PgRepository) ListActiveReservationsByPatient(ctx context.Context, patientID uuid.UUID) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE patient_id = $1
		  AND status = 'active'
		ORDER BY created_at
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (r *PgRepository) CreateReservation(ctx context.Context, res *Reservation) (*Reservation, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO reservations (`+reservationCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+reservationCols+`
	`, res.ID, res.DoctorID, res.PatientID, res.SessionToken, res.SlotAt,
		res.Status, res.CreatedAt, res.UpdatedAt)

	created, err := scanReservation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotHeld
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationCols+`
	`, id, to, from)

	return scanReservation(row)
}

func (r *PgRepository) FindStaleActiveReservations(ctx context.Context, cutoff time.Time) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE status = 'active'
		  AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
