package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_Succeeds(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	assert.Equal(t, HoldActive, res.Status)
	assert.Equal(t, doctorID, res.DoctorID)
	assert.Equal(t, patientID, res.PatientID)
	assert.Equal(t, "tab-1", res.SessionToken)
	assert.Equal(t, slotOn(testDate, 10, 0), res.SlotAt)
}

func TestReserve_SlotHeldByOtherPatient(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	p1 := repo.addPatient("Maya Chen")
	p2 := repo.addPatient("Jonas Weber")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), p1, "tab-1")
	require.NoError(t, err)
	require.NotNil(t, res)

	got, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), p2, "tab-2")
	assert.ErrorIs(t, err, ErrSlotHeld)
	assert.Nil(t, got)
}

func TestReserve_ConcurrentExactlyOneWinner(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	slot := slotOn(testDate, 10, 0)

	const patients = 16
	var wg sync.WaitGroup
	results := make([]error, patients)

	for i := 0; i < patients; i++ {
		patientID := repo.addPatient("patient")
		wg.Add(1)
		go func(i int, pid uuid.UUID) {
			defer wg.Done()
			_, results[i] = rm.Reserve(context.Background(), doctorID, slot, pid, "tab")
		}(i, patientID)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrSlotHeld)
		}
	}
	assert.Equal(t, 1, winners, "exactly one reserve call may win the slot")
}

func TestReserve_SingleHoldPerPatient(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	first, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	second, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 11, 0), patientID, "tab-1")
	require.NoError(t, err)

	active, err := repo.ListActiveReservationsByPatient(context.Background(), patientID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, slotOn(testDate, 11, 0), active[0].SlotAt)

	// The superseded hold is cancelled, not expired.
	assert.Equal(t, HoldCancelled, repo.reservationByID(first.ID).Status)
}

func TestReserve_ReclaimOwnSlot(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	first, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	// Re-reserving the same slot from a new session supersedes the old
	// hold instead of failing.
	second, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, HoldActive, second.Status)
}

func TestConfirm(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	confirmed, err := rm.Confirm(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.Equal(t, res.ID, confirmed.ID)
	assert.Equal(t, HoldConfirmed, confirmed.Status)

	// Terminal: confirming again is a no-op.
	again, err := rm.Confirm(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestConfirm_SessionFallback(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	// Session token changed (page reload); the patient-scoped fallback
	// still finds the hold.
	confirmed, err := rm.Confirm(context.Background(), patientID, "tab-reloaded")
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.Equal(t, res.ID, confirmed.ID)
}

func TestConfirm_NoHoldIsNoop(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	patientID := repo.addPatient("Maya Chen")

	confirmed, err := rm.Confirm(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, confirmed)
}

func TestCancel(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	// Cancel is session-scoped; a different session does not touch it.
	require.NoError(t, rm.Cancel(context.Background(), patientID, "other-tab"))
	assert.Equal(t, HoldActive, repo.reservationByID(res.ID).Status)

	require.NoError(t, rm.Cancel(context.Background(), patientID, "tab-1"))
	assert.Equal(t, HoldCancelled, repo.reservationByID(res.ID).Status)

	// Cancelling with no hold left is a no-op.
	require.NoError(t, rm.Cancel(context.Background(), patientID, "tab-1"))
}

func TestIsReserved(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	p1 := repo.addPatient("Maya Chen")
	p2 := repo.addPatient("Jonas Weber")
	slot := slotOn(testDate, 10, 0)

	reserved, err := rm.IsReserved(context.Background(), doctorID, slot, p2)
	require.NoError(t, err)
	assert.False(t, reserved)

	_, err = rm.Reserve(context.Background(), doctorID, slot, p1, "tab-1")
	require.NoError(t, err)

	reserved, err = rm.IsReserved(context.Background(), doctorID, slot, p2)
	require.NoError(t, err)
	assert.True(t, reserved)

	// The holder is excluded from their own hold.
	reserved, err = rm.IsReserved(context.Background(), doctorID, slot, p1)
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestIsValidAndRemainingSeconds(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	_, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	valid, err := rm.IsValid(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.True(t, valid)

	remaining, err := rm.RemainingSeconds(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, 300, remaining)

	// Tick past the TTL: invalid and zero even though no sweep ran.
	rm.now = func() time.Time { return testNow.Add(5*time.Minute + time.Second) }

	valid, err = rm.IsValid(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.False(t, valid)

	remaining, err = rm.RemainingSeconds(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestIsValid_NoHold(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	patientID := repo.addPatient("Maya Chen")

	valid, err := rm.IsValid(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.False(t, valid)

	remaining, err := rm.RemainingSeconds(context.Background(), patientID, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestCancelAllActive(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	require.NoError(t, rm.CancelAllActive(context.Background(), patientID))
	assert.Equal(t, HoldCancelled, repo.reservationByID(res.ID).Status)

	active, err := repo.ListActiveReservationsByPatient(context.Background(), patientID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Idempotent with nothing active.
	require.NoError(t, rm.CancelAllActive(context.Background(), patientID))
}

func TestReservationTerminalStatesStayTerminal(t *testing.T) {
	repo := newMemRepo()
	rm := newTestManager(repo)
	doctorID := repo.addDoctor("Dr. Adeyemi")
	patientID := repo.addPatient("Maya Chen")

	res, err := rm.Reserve(context.Background(), doctorID, slotOn(testDate, 10, 0), patientID, "tab-1")
	require.NoError(t, err)

	require.NoError(t, rm.Cancel(context.Background(), patientID, "tab-1"))

	// No path out of cancelled: the compare-and-set misses.
	_, err = repo.UpdateReservationStatus(context.Background(), res.ID, HoldActive, HoldConfirmed)
	assert.ErrorIs(t, err, ErrReservationNotFound)
	assert.Equal(t, HoldCancelled, repo.reservationByID(res.ID).Status)
}
