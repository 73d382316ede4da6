package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medisched/hospital-booking/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func availableSlotsHandler(svc *booking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		excludePatient := uuid.Nil
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			excludePatient, err = uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date, excludePatient)
		if err != nil {
			if errors.Is(err, booking.ErrPastDate) {
				writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID: doctorID,
			Date:     date.Format("2006-01-02"),
			Slots:    slots,
		})
	}
}

func reserveHandler(rm *booking.ReservationManager, holdTTL time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReserveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		slotAt, err := time.Parse(time.RFC3339, req.SlotAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_at", "slot_at must be RFC 3339")
			return
		}

		res, err := rm.Reserve(r.Context(), doctorID, slotAt, patientID, req.SessionToken)
		if err != nil {
			if errors.Is(err, booking.ErrSlotHeld) {
				writeError(w, http.StatusConflict, "slot_held", "slot is held by another patient, please choose another")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, ReservationResponse{
			ID:               res.ID,
			DoctorID:         res.DoctorID,
			PatientID:        res.PatientID,
			SlotAt:           res.SlotAt,
			Status:           string(res.Status),
			RemainingSeconds: int(holdTTL.Seconds()),
		})
	}
}

func confirmReservationHandler(rm *booking.ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, token, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}

		res, err := rm.Confirm(r.Context(), patientID, token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeJSON(w, http.StatusOK, ReservationResponse{
			ID:        res.ID,
			DoctorID:  res.DoctorID,
			PatientID: res.PatientID,
			SlotAt:    res.SlotAt,
			Status:    string(res.Status),
		})
	}
}

func cancelReservationHandler(rm *booking.ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, token, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}

		if err := rm.Cancel(r.Context(), patientID, token); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func holdStatusHandler(rm *booking.ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		token := r.URL.Query().Get("session_token")

		valid, err := rm.IsValid(r.Context(), patientID, token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		remaining, err := rm.RemainingSeconds(r.Context(), patientID, token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, HoldStatusResponse{Valid: valid, RemainingSeconds: remaining})
	}
}

func bookHandler(svc *booking.Service, rm *booking.ReservationManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at must be RFC 3339")
			return
		}

		appt, err := svc.Book(r.Context(), patientID, doctorID, at, req.Purpose, req.Notes)
		if err != nil {
			handleBookError(w, err)
			return
		}

		// The hold did its job; mark it confirmed. Best-effort: the
		// booking is already committed.
		if _, err := rm.Confirm(r.Context(), patientID, req.SessionToken); err != nil {
			log.Printf("confirm hold after booking: %v", err)
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func appointmentActionHandler(action func(*http.Request, uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := action(r, id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		return svc.CancelAppointment(r.Context(), id)
	})
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		var req CompleteRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		return svc.CompleteAppointment(r.Context(), id, req.Notes)
	})
}

func noShowAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		return svc.MarkNoShow(r.Context(), id)
	})
}

func rescheduleAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, error) {
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errBadRescheduleBody
		}
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return nil, errBadRescheduleBody
		}
		return svc.RescheduleAppointment(r.Context(), id, at)
	})
}

var errBadRescheduleBody = errors.New("scheduled_at must be RFC 3339")

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(&detail.Appointment))
	}
}

func listPatientAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		details, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]AppointmentResponse, 0, len(details))
		for i := range details {
			out = append(out, toAppointmentResponse(&details[i].Appointment))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "this slot was just taken, please choose another")
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "this slot is no longer available, please choose another")
	case errors.Is(err, booking.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRescheduleBody):
		writeError(w, http.StatusBadRequest, "invalid_scheduled_at", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrSlotTaken), errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "the requested slot is not available")
	case errors.Is(err, booking.ErrPastDate), errors.Is(err, booking.ErrPastAppointment):
		writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return uuid.Nil, "", false
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return uuid.Nil, "", false
	}

	return patientID, req.SessionToken, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
