package booking

import (
	"github.com/medisched/hospital-booking/internal/config"
)

// SlotGrid generates the full candidate grid for one clinic day: every
// SlotMinutes-aligned start time from open to close, minus the lunch window.
// A start time is excluded when it falls at or after lunch start and
// strictly before lunch end. Pure and deterministic; the result is a fresh
// slice on every call.
func SlotGrid(day config.ClinicDay) []TimeOfDay {
	open := day.OpenHour * 60
	close := day.CloseHour * 60
	lunchStart := day.LunchStart * 60
	lunchEnd := day.LunchEnd * 60

	var grid []TimeOfDay
	for m := open; m < close; m += day.SlotMinutes {
		if m >= lunchStart && m < lunchEnd {
			continue
		}
		grid = append(grid, TimeOfDay{Hour: m / 60, Minute: m % 60})
	}
	return grid
}
