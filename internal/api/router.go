package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medisched/hospital-booking/internal/booking"
)

type RouterConfig struct {
	Service      *booking.Service
	Reservations *booking.ReservationManager
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
	HoldTTL      time.Duration
	Location     *time.Location
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Slot availability
	r.Get("/doctors/{id}/slots", availableSlotsHandler(cfg.Service, cfg.Location))

	// Reservations (soft holds)
	r.Post("/reservations", reserveHandler(cfg.Reservations, cfg.HoldTTL))
	r.Post("/reservations/confirm", confirmReservationHandler(cfg.Reservations))
	r.Post("/reservations/cancel", cancelReservationHandler(cfg.Reservations))
	r.Get("/reservations/status", holdStatusHandler(cfg.Reservations))

	// Appointments
	r.Post("/appointments", bookHandler(cfg.Service, cfg.Reservations))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))

	return r
}
