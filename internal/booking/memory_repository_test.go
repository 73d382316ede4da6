package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository for service-level tests. It enforces
// the same partial-uniqueness rules as the SQL schema under a mutex, so
// concurrent callers race exactly the way they would against Postgres.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	reservations map[uuid.UUID]*Reservation
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
		reservations: make(map[uuid.UUID]*Reservation),
	}
}

func (m *memRepo) addDoctor(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = &Doctor{ID: id, HospitalID: uuid.New(), Name: name}
	return id
}

func (m *memRepo) addPatient(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, Name: name}
	return id
}

func (m *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := m.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doctor, _ := m.GetDoctorByID(ctx, appt.DoctorID)
	patient, _ := m.GetPatientByID(ctx, appt.PatientID)
	return &AppointmentDetail{Appointment: *appt, Doctor: doctor, Patient: patient}, nil
}

func (m *memRepo) ListScheduledAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memRepo) CountScheduledInWindow(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	appts, err := m.ListScheduledAppointments(ctx, doctorID, from, to)
	if err != nil {
		return 0, err
	}
	return len(appts), nil
}

func (m *memRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appointments {
		if existing.DoctorID == appt.DoctorID && existing.Status == StatusScheduled &&
			existing.ScheduledAt.Equal(appt.ScheduledAt) {
			return nil, ErrSlotTaken
		}
	}
	cp := *appt
	m.appointments[appt.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, notes *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if notes != nil {
		a.Notes = notes
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, newAt time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	for _, existing := range m.appointments {
		if existing.ID != id && existing.DoctorID == a.DoctorID &&
			existing.Status == StatusScheduled && existing.ScheduledAt.Equal(newAt) {
			return nil, ErrSlotTaken
		}
	}
	a.ScheduledAt = newAt
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) AppendAppointmentRef(_ context.Context, doctorID, patientID, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.doctors[doctorID]; ok {
		d.AppointmentIDs = append(d.AppointmentIDs, appointmentID)
	}
	if p, ok := m.patients[patientID]; ok {
		p.AppointmentIDs = append(p.AppointmentIDs, appointmentID)
	}
	return nil
}

func (m *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, AppointmentDetail{Appointment: *a})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) GetActiveReservationForSlot(_ context.Context, doctorID uuid.UUID, slotAt time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.DoctorID == doctorID && r.Status == HoldActive && r.SlotAt.Equal(slotAt) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrReservationNotFound
}

func (m *memRepo) GetActiveReservationBySession(_ context.Context, patientID uuid.UUID, sessionToken string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Reservation
	for _, r := range m.reservations {
		if r.PatientID == patientID && r.SessionToken == sessionToken && r.Status == HoldActive {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil, ErrReservationNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memRepo) GetLatestActiveReservation(_ context.Context, patientID uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Reservation
	for _, r := range m.reservations {
		if r.PatientID == patientID && r.Status == HoldActive {
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
	}
	if latest == nil {
		return nil, ErrReservationNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memRepo) ListActiveReservations(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.DoctorID == doctorID && r.Status == HoldActive &&
			!r.SlotAt.Before(from) && r.SlotAt.Before(to) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotAt.Before(out[j].SlotAt) })
	return out, nil
}

func (m *memRepo) ListActiveReservationsByPatient(_ context.Context, patientID uuid.UUID) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.PatientID == patientID && r.Status == HoldActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) CreateReservation(_ context.Context, res *Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reservations {
		if existing.DoctorID == res.DoctorID && existing.Status == HoldActive &&
			existing.SlotAt.Equal(res.SlotAt) {
			return nil, ErrSlotHeld
		}
	}
	cp := *res
	m.reservations[res.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) UpdateReservationStatus(_ context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *memRepo) FindStaleActiveReservations(_ context.Context, cutoff time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.Status == HoldActive && r.CreatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) reservationByID(id uuid.UUID) *Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}
