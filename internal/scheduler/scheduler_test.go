package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	recheckdomain "github.com/sadaqahq/amanah/internal/recheck/domain"
	subscriptiondomain "github.com/sadaqahq/amanah/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockSubscriptionSvc struct {
	mock.Mock
	subscriptiondomain.Service
}

func (m *mockSubscriptionSvc) ExpireDue(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockDonationSvc struct {
	mock.Mock
	donationdomain.Service
}

func (m *mockDonationSvc) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]donationdomain.Donation, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]donationdomain.Donation), args.Error(1)
}

type mockRecheckSvc struct {
	mock.Mock
}

func (m *mockRecheckSvc) Recheck(ctx context.Context, donationID snowflake.ID) (*recheckdomain.Result, error) {
	args := m.Called(ctx, donationID)
	if result, ok := args.Get(0).(*recheckdomain.Result); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRecheckSvc) BulkRecheck(ctx context.Context, ids []snowflake.ID, emit func(recheckdomain.ProgressEvent)) (*recheckdomain.Summary, error) {
	args := m.Called(ctx, ids, emit)
	if summary, ok := args.Get(0).(*recheckdomain.Summary); ok {
		return summary, args.Error(1)
	}
	return nil, args.Error(1)
}

func newScheduler(t *testing.T, subs *mockSubscriptionSvc, donations *mockDonationSvc, rechecks *mockRecheckSvc, clk clock.Clock) *Scheduler {
	t.Helper()
	sched, err := New(Params{
		Log:             zap.NewNop(),
		Clock:           clk,
		AppConfig:       config.Config{Recheck: config.RecheckConfig{StalePending: 24 * time.Hour}},
		SubscriptionSvc: subs,
		DonationSvc:     donations,
		RecheckSvc:      rechecks,
	})
	assert.NoError(t, err)
	return sched
}

func TestRunOnceSweepsStalePending(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	subs := new(mockSubscriptionSvc)
	donations := new(mockDonationSvc)
	rechecks := new(mockRecheckSvc)

	stale := []donationdomain.Donation{
		{ID: snowflake.ID(101), Status: donationdomain.StatusPending},
		{ID: snowflake.ID(102), Status: donationdomain.StatusPending},
	}

	subs.On("ExpireDue", mock.Anything).Return(3, nil).Once()
	donations.On("FindStalePending", mock.Anything, clk.Now().Add(-24*time.Hour), 50).
		Return(stale, nil).Once()
	rechecks.On("BulkRecheck", mock.Anything, []snowflake.ID{101, 102}, mock.Anything).
		Return(&recheckdomain.Summary{Total: 2, Succeeded: 2}, nil).Once()

	sched := newScheduler(t, subs, donations, rechecks, clk)
	assert.NoError(t, sched.RunOnce(context.Background()))

	subs.AssertExpectations(t)
	donations.AssertExpectations(t)
	rechecks.AssertExpectations(t)
}

func TestRunOnceNothingStale(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	subs := new(mockSubscriptionSvc)
	donations := new(mockDonationSvc)
	rechecks := new(mockRecheckSvc)

	subs.On("ExpireDue", mock.Anything).Return(0, nil).Once()
	donations.On("FindStalePending", mock.Anything, mock.Anything, mock.Anything).
		Return([]donationdomain.Donation{}, nil).Once()

	sched := newScheduler(t, subs, donations, rechecks, clk)
	assert.NoError(t, sched.RunOnce(context.Background()))

	rechecks.AssertNotCalled(t, "BulkRecheck", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceToleratesBulkInProgress(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	subs := new(mockSubscriptionSvc)
	donations := new(mockDonationSvc)
	rechecks := new(mockRecheckSvc)

	stale := []donationdomain.Donation{{ID: snowflake.ID(7)}}

	subs.On("ExpireDue", mock.Anything).Return(0, nil).Once()
	donations.On("FindStalePending", mock.Anything, mock.Anything, mock.Anything).
		Return(stale, nil).Once()
	rechecks.On("BulkRecheck", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, recheckdomain.ErrBulkInProgress).Once()

	sched := newScheduler(t, subs, donations, rechecks, clk)
	assert.NoError(t, sched.RunOnce(context.Background()))
}
