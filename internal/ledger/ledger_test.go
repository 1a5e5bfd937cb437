package ledger

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kennelbook/internal/models"
	"kennelbook/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *store.DB) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"), store.Defaults{
		Daycare:       20,
		BoardingSmall: 2,
		BoardingLarge: 6,
		Trial:         3,
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	return New(db, 15*time.Minute, loc, &logger), db
}

func futureDate() string {
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func daycareInput(email, idemKey string) ReserveInput {
	return ReserveInput{
		Service:        models.ServiceDaycare,
		Date:           futureDate(),
		UserEmail:      email,
		IdempotencyKey: idemKey,
	}
}

func TestReserve_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ReserveInput
	}{
		{"unknown service", ReserveInput{Service: "grooming", Date: futureDate(), UserEmail: "a@b.c"}},
		{"boarding without slot", ReserveInput{Service: models.ServiceBoarding, Date: futureDate(), UserEmail: "a@b.c"}},
		{"daycare with slot", ReserveInput{Service: models.ServiceDaycare, Slot: models.SlotSmall, Date: futureDate(), UserEmail: "a@b.c"}},
		{"missing email", ReserveInput{Service: models.ServiceDaycare, Date: futureDate()}},
		{"bad date", ReserveInput{Service: models.ServiceDaycare, Date: "07-01-2025", UserEmail: "a@b.c"}},
		{"past date", ReserveInput{Service: models.ServiceDaycare, Date: "2020-01-01", UserEmail: "a@b.c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Reserve(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestReserve_CapacityExceededPropagates(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	date := futureDate()

	in := ReserveInput{
		Service:   models.ServiceBoarding,
		Slot:      models.SlotSmall,
		Date:      date,
		UserEmail: "owner@example.com",
	}

	for i := 0; i < 2; i++ {
		_, err := l.Reserve(ctx, in)
		require.NoError(t, err)
	}

	_, err := l.Reserve(ctx, in)
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)
}

func TestReserve_NoOverbookingUnderConcurrency(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	date := futureDate()

	const attempts = 12
	const capacity = 2 // boarding:small

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, ReserveInput{
				Service:   models.ServiceBoarding,
				Slot:      models.SlotSmall,
				Date:      date,
				UserEmail: "owner@example.com",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, exceeded int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case err == store.ErrCapacityExceeded:
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, ok)
	assert.Equal(t, attempts-capacity, exceeded)

	usage, err := db.GetUsage(ctx, models.ServiceBoarding, models.SlotSmall, date)
	require.NoError(t, err)
	assert.Equal(t, capacity, usage.Reserved)
}

func TestReserve_IdempotencyKeyDedup(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Reserve(ctx, daycareInput("owner@example.com", "retry-key"))
	require.NoError(t, err)

	second, err := l.Reserve(ctx, daycareInput("owner@example.com", "retry-key"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())

	// Only one unit of capacity consumed.
	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, first.Date)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Reserved)
}

func TestReserve_CommittedHoldStillDedups(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", "paid-key"))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, r.ID))

	again, err := l.Reserve(ctx, daycareInput("owner@example.com", "paid-key"))
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
}

func TestReserve_DeadKeyConflicts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", "stale-key"))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, r.ID))

	_, err = l.Reserve(ctx, daycareInput("owner@example.com", "stale-key"))
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)
}

func TestRelease_Idempotent(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, r.ID))
	require.NoError(t, l.Release(ctx, r.ID))

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, got.Status)

	// Reserved decremented exactly once.
	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Reserved)
}

func TestRelease_UnknownID(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.Release(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommit_Idempotent(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	require.NoError(t, l.Commit(ctx, r.ID))
	require.NoError(t, l.Commit(ctx, r.ID))

	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Reserved, "reserved decremented once")
	assert.Equal(t, 1, usage.Confirmed, "confirmed incremented once")
}

func TestCommit_AfterRelease(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, r.ID))

	err = l.Commit(ctx, r.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestCommit_UnknownID(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.Commit(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepExpired(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	second, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	count, err := l.SweepExpired(ctx, r.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "nothing expired yet")

	// Both holds' TTLs have lapsed by now.
	count, err = l.SweepExpired(ctx, second.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []string{r.ID, second.ID} {
		got, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, got.Status)
	}

	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Reserved)

	// Re-running converges: nothing left to expire, no double release.
	count, err = l.SweepExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepExpired_SkipsTerminal(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, r.ID))

	count, err := l.SweepExpired(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Committed capacity is untouched.
	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Confirmed)
}

// mockStore exercises paths that need controlled store failures.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) TryReserve(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error {
	return m.Called(ctx, service, slot, date, n).Error(0)
}
func (m *mockStore) Release(ctx context.Context, service models.Service, slot models.Slot, date string, n int) error {
	return m.Called(ctx, service, slot, date, n).Error(0)
}
func (m *mockStore) InsertReservation(ctx context.Context, r *models.Reservation) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}
func (m *mockStore) FindReservationByIdempotencyKey(ctx context.Context, key string) (*models.Reservation, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}
func (m *mockStore) ReleaseHold(ctx context.Context, id, newStatus string) (bool, error) {
	args := m.Called(ctx, id, newStatus)
	return args.Bool(0), args.Error(1)
}
func (m *mockStore) CommitHold(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockStore) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func TestReserve_InsertRaceReturnsWinner(t *testing.T) {
	st := new(mockStore)
	logger := zerolog.New(io.Discard)
	l := New(st, 15*time.Minute, time.UTC, &logger)
	ctx := context.Background()

	date := futureDate()
	winner := &models.Reservation{
		ID:             "winner-id",
		Service:        models.ServiceDaycare,
		Date:           date,
		Status:         models.StatusActive,
		IdempotencyKey: "race-key",
		ExpiresAt:      time.Now().Add(10 * time.Minute),
	}

	// Lookup misses, capacity is claimed, but the insert loses the
	// unique-key race; the extra unit must be released and the winner's
	// hold returned.
	st.On("FindReservationByIdempotencyKey", ctx, "race-key").Return(nil, nil).Once()
	st.On("TryReserve", ctx, models.ServiceDaycare, models.SlotNone, date, 1).Return(nil).Once()
	st.On("InsertReservation", ctx, mock.Anything).Return(store.ErrIdempotencyConflict).Once()
	st.On("Release", ctx, models.ServiceDaycare, models.SlotNone, date, 1).Return(nil).Once()
	st.On("FindReservationByIdempotencyKey", ctx, "race-key").Return(winner, nil).Once()

	got, err := l.Reserve(ctx, ReserveInput{
		Service:        models.ServiceDaycare,
		Date:           date,
		UserEmail:      "owner@example.com",
		IdempotencyKey: "race-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "winner-id", got.ID)
	st.AssertExpectations(t)
}

func TestReserve_InsertFailureReleasesCapacity(t *testing.T) {
	st := new(mockStore)
	logger := zerolog.New(io.Discard)
	l := New(st, 15*time.Minute, time.UTC, &logger)
	ctx := context.Background()

	date := futureDate()
	insertErr := errors.New("disk full")

	st.On("TryReserve", ctx, models.ServiceDaycare, models.SlotNone, date, 1).Return(nil).Once()
	st.On("InsertReservation", ctx, mock.Anything).Return(insertErr).Once()
	st.On("Release", ctx, models.ServiceDaycare, models.SlotNone, date, 1).Return(nil).Once()

	_, err := l.Reserve(ctx, ReserveInput{
		Service:   models.ServiceDaycare,
		Date:      date,
		UserEmail: "owner@example.com",
	})
	assert.ErrorIs(t, err, insertErr)
	st.AssertExpectations(t)
}

// flakyStore delegates to the real store but fails settle calls a set
// number of times, standing in for transient storage errors.
type flakyStore struct {
	*store.DB
	failReleases int
	failCommits  int
}

func (f *flakyStore) ReleaseHold(ctx context.Context, id, newStatus string) (bool, error) {
	if f.failReleases > 0 {
		f.failReleases--
		return false, errors.New("database is locked")
	}
	return f.DB.ReleaseHold(ctx, id, newStatus)
}

func (f *flakyStore) CommitHold(ctx context.Context, id string) (bool, error) {
	if f.failCommits > 0 {
		f.failCommits--
		return false, errors.New("database is locked")
	}
	return f.DB.CommitHold(ctx, id)
}

func TestRelease_RetryAfterTransientFailureSettlesCounter(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	logger := zerolog.New(io.Discard)
	flaky := &flakyStore{DB: db, failReleases: 1}
	retrying := New(flaky, 15*time.Minute, time.UTC, &logger)

	require.Error(t, retrying.Release(ctx, r.ID))

	// The failed settle left the hold active, so the retry completes
	// both the status transition and the counter move.
	require.NoError(t, retrying.Release(ctx, r.ID))

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, got.Status)

	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Reserved, "no reserved unit left behind")
}

func TestCommit_RetryAfterTransientFailureSettlesCounter(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	r, err := l.Reserve(ctx, daycareInput("owner@example.com", ""))
	require.NoError(t, err)

	logger := zerolog.New(io.Discard)
	flaky := &flakyStore{DB: db, failCommits: 1}
	retrying := New(flaky, 15*time.Minute, time.UTC, &logger)

	require.Error(t, retrying.Commit(ctx, r.ID))
	require.NoError(t, retrying.Commit(ctx, r.ID))

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, got.Status)

	usage, err := db.GetUsage(ctx, models.ServiceDaycare, models.SlotNone, r.Date)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Reserved)
	assert.Equal(t, 1, usage.Confirmed)
}
