package payment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"kennelbook/internal/ledger"
	"kennelbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Commit(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockLedger) Release(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error) {
	args := m.Called(ctx, ref)
	if b := args.Get(0); b != nil {
		return b.(*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBookings) SetBookingPaymentStatus(ctx context.Context, id, status string) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	args := m.Called(ctx, in)
	if i := args.Get(0); i != nil {
		return i.(*Intent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) VerifyStatus(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func testBooking() *models.Booking {
	return &models.Booking{
		ID:            "bk-1",
		ReservationID: "res-1",
		Service:       models.ServiceBoarding,
		Slot:          models.SlotSmall,
		Date:          "2026-10-01",
		UserEmail:     "ada@example.com",
		Total:         80,
		PaymentRef:    "pi_123",
		PaymentStatus: models.PaymentPending,
	}
}

func newTestReconciler(l *mockLedger, b *mockBookings, p *mockProvider, n *recordingNotifier) *Reconciler {
	logger := zerolog.New(io.Discard)
	if n == nil {
		return NewReconciler(l, b, p, nil, &logger)
	}
	return NewReconciler(l, b, p, n, &logger)
}

func TestHandleEvent_PaidCommitsHold(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPaid, nil)
	l.On("Commit", mock.Anything, "res-1").Return(nil)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(true, nil)

	rec := newTestReconciler(l, b, p, nil)
	err := rec.HandleEvent(context.Background(), Event{Ref: "pi_123", Status: StatusPaid})
	require.NoError(t, err)

	l.AssertExpectations(t)
	b.AssertExpectations(t)
	p.AssertExpectations(t)
}

func TestHandleEvent_FailedReleasesHold(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusFailed, nil)
	l.On("Release", mock.Anything, "res-1").Return(nil)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentFailed).Return(true, nil)

	rec := newTestReconciler(l, b, p, nil)
	err := rec.HandleEvent(context.Background(), Event{Ref: "pi_123", Status: StatusFailed})
	require.NoError(t, err)

	l.AssertExpectations(t)
}

func TestHandleEvent_EventStatusIsNotTrusted(t *testing.T) {
	// The event claims "paid" but the provider says failed; the provider
	// wins and the hold is released.
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusFailed, nil)
	l.On("Release", mock.Anything, "res-1").Return(nil)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentFailed).Return(true, nil)

	rec := newTestReconciler(l, b, p, nil)
	err := rec.HandleEvent(context.Background(), Event{Ref: "pi_123", Status: StatusPaid})
	require.NoError(t, err)

	l.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	l.AssertExpectations(t)
}

func TestHandleEvent_PaidAfterExpiryAlertsAndMarksPaid(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	n := &recordingNotifier{}
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPaid, nil)
	l.On("Commit", mock.Anything, "res-1").Return(ledger.ErrAlreadyTerminal)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(true, nil)

	rec := newTestReconciler(l, b, p, n)
	err := rec.HandleEvent(context.Background(), Event{Ref: "pi_123"})
	require.NoError(t, err)

	// The money arrived; the booking records that even though the hold
	// lapsed, and staff are told to sort it out.
	b.AssertCalled(t, "SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "bk-1")
	assert.Contains(t, n.messages[0], "res-1")
}

func TestHandleEvent_DuplicateDeliveryConverges(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPaid, nil)
	// Commit is idempotent in the ledger; the status guard reports the
	// second update as a no-op.
	l.On("Commit", mock.Anything, "res-1").Return(nil).Twice()
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(true, nil).Once()
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(false, nil).Once()

	rec := newTestReconciler(l, b, p, nil)
	require.NoError(t, rec.HandleEvent(context.Background(), Event{Ref: "pi_123"}))
	require.NoError(t, rec.HandleEvent(context.Background(), Event{Ref: "pi_123"}))

	b.AssertExpectations(t)
}

func TestHandleEvent_UnknownRef(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_missing").Return(nil, errors.New("not found"))

	rec := newTestReconciler(l, b, p, nil)
	err := rec.HandleEvent(context.Background(), Event{Ref: "pi_missing"})
	assert.ErrorIs(t, err, ErrUnknownRef)
	p.AssertNotCalled(t, "VerifyStatus", mock.Anything, mock.Anything)
}

func TestHandleEvent_PendingIsIgnored(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	booking := testBooking()

	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPending, nil)

	rec := newTestReconciler(l, b, p, nil)
	require.NoError(t, rec.HandleEvent(context.Background(), Event{Ref: "pi_123"}))

	l.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	l.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

type mockPending struct{ mock.Mock }

func (m *mockPending) ListPendingBookingsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	args := m.Called(ctx, cutoff, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestPoller_RunOnceReconcilesStaleBookings(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	pending := new(mockPending)
	booking := testBooking()
	logger := zerolog.New(io.Discard)

	pending.On("ListPendingBookingsOlderThan", mock.Anything, mock.Anything, 100).
		Return([]models.Booking{*booking}, nil)
	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(booking, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPaid, nil)
	l.On("Commit", mock.Anything, "res-1").Return(nil)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(true, nil)

	rec := newTestReconciler(l, b, p, nil)
	poller := NewPoller(rec, pending, time.Minute, 5*time.Minute, &logger)
	poller.RunOnce(context.Background())

	l.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestPoller_RunOnceSkipsFailingBooking(t *testing.T) {
	l := new(mockLedger)
	b := new(mockBookings)
	p := new(mockProvider)
	pending := new(mockPending)
	logger := zerolog.New(io.Discard)

	bad := *testBooking()
	bad.ID, bad.PaymentRef = "bk-bad", "pi_bad"
	good := *testBooking()

	pending.On("ListPendingBookingsOlderThan", mock.Anything, mock.Anything, 100).
		Return([]models.Booking{bad, good}, nil)
	b.On("GetBookingByPaymentRef", mock.Anything, "pi_bad").Return(nil, errors.New("not found"))
	b.On("GetBookingByPaymentRef", mock.Anything, "pi_123").Return(&good, nil)
	p.On("VerifyStatus", mock.Anything, "pi_123").Return(StatusPaid, nil)
	l.On("Commit", mock.Anything, "res-1").Return(nil)
	b.On("SetBookingPaymentStatus", mock.Anything, "bk-1", models.PaymentPaid).Return(true, nil)

	rec := newTestReconciler(l, b, p, nil)
	poller := NewPoller(rec, pending, time.Minute, 5*time.Minute, &logger)
	poller.RunOnce(context.Background())

	// The bad ref did not prevent the good booking from settling.
	l.AssertCalled(t, "Commit", mock.Anything, "res-1")
}
