package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/medisched/hospital-booking/internal/metrics"
)

const EventReservationExpired = "RESERVATION_EXPIRED"

// Sweeper transitions stale active holds to expired. It is host-scheduled:
// the expiry worker calls Sweep on a fixed interval. Idempotent, and one
// bad record never halts a run.
type Sweeper struct {
	repo    Repository
	ttl     time.Duration
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewSweeper(repo Repository, ttl time.Duration, m *metrics.BookingMetrics) *Sweeper {
	return &Sweeper{
		repo:    repo,
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
	}
}

// Sweep runs one pass: every active reservation created before now-TTL is
// moved to expired. Returns the number of reservations expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := s.now()
	cutoff := start.Add(-s.ttl)

	stale, err := s.repo.FindStaleActiveReservations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale reservations: %w", err)
	}

	expired := 0
	for _, res := range stale {
		if _, err := s.repo.UpdateReservationStatus(ctx, res.ID, HoldActive, HoldExpired); err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				// Confirmed or cancelled since we read it.
				continue
			}
			log.Printf("failed to expire reservation %s: %v", res.ID, err)
			continue
		}
		expired++

		resID := res.ID
		writeEvent(ctx, s.repo, nil, &resID, EventReservationExpired, map[string]any{
			"reason": "ttl",
		}, s.now())
	}

	s.metrics.ObserveSweep(expired, s.now().Sub(start).Seconds())
	return expired, nil
}
