package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the slot-booking flows.
// All methods are safe on a nil receiver so wiring stays optional.
type BookingMetrics struct {
	reservesTotal *prometheus.CounterVec
	bookingsTotal *prometheus.CounterVec
	sweepExpired  prometheus.Counter
	sweepDuration prometheus.Histogram
	slotsReturned prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "reserves_total",
			Help:      "Total slot reservation attempts",
		}, []string{"result"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Total appointment booking attempts",
		}, []string{"result"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "sweep_expired_total",
			Help:      "Reservations transitioned to expired by the sweeper",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one expiry sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "available_slots_returned",
			Help:      "Number of slots returned by availability queries",
			Buckets:   []float64{0, 2, 4, 8, 12, 16},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservesTotal, m.bookingsTotal, m.sweepExpired, m.sweepDuration, m.slotsReturned)
	return m
}

func (m *BookingMetrics) ObserveReserve(result string) {
	if m == nil {
		return
	}
	m.reservesTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveSweep(expired int, seconds float64) {
	if m == nil {
		return
	}
	m.sweepExpired.Add(float64(expired))
	m.sweepDuration.Observe(seconds)
}

func (m *BookingMetrics) ObserveSlotsReturned(n int) {
	if m == nil {
		return
	}
	m.slotsReturned.Observe(float64(n))
}
