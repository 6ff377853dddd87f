package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	donationrepo "github.com/sadaqahq/amanah/internal/donation/repository"
	donationservice "github.com/sadaqahq/amanah/internal/donation/service"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/providers/email"
	"github.com/sadaqahq/amanah/internal/recheck/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockAuditSvc struct {
	mock.Mock
}

func (m *mockAuditSvc) AuditLog(ctx context.Context, action string, targetType string, targetID *string, metadata map[string]any) error {
	args := m.Called(ctx, action, targetType, targetID, metadata)
	return args.Error(0)
}

func (m *mockAuditSvc) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(auditdomain.ListAuditLogResponse), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (*gatewaydomain.Order, error) {
	args := m.Called(ctx, req)
	if order, ok := args.Get(0).(*gatewaydomain.Order); ok {
		return order, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CreateSubscription(ctx context.Context, req gatewaydomain.CreateSubscriptionRequest) (*gatewaydomain.SubscriptionRef, error) {
	args := m.Called(ctx, req)
	if ref, ok := args.Get(0).(*gatewaydomain.SubscriptionRef); ok {
		return ref, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) FetchPayment(ctx context.Context, paymentID string) (*gatewaydomain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if payment, ok := args.Get(0).(*gatewaydomain.Payment); ok {
		return payment, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.Refund, error) {
	args := m.Called(ctx, req)
	if refund, ok := args.Get(0).(*gatewaydomain.Refund); ok {
		return refund, args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	db        *gorm.DB
	gateway   *mockGateway
	donations donationdomain.Service
	rechecks  domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)

	db.Exec(`CREATE TABLE IF NOT EXISTS donations (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT,
		kind TEXT NOT NULL,
		donor_name TEXT NOT NULL DEFAULT '',
		donor_email TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_verified BOOLEAN NOT NULL DEFAULT FALSE,
		audit_status TEXT NOT NULL DEFAULT 'unverified',
		gateway_order_id TEXT NOT NULL DEFAULT '',
		gateway_payment_id TEXT,
		receipt TEXT NOT NULL DEFAULT '',
		failure_reason TEXT,
		verified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)

	db.Exec(`CREATE TABLE IF NOT EXISTS donation_rechecks (
		id BIGINT PRIMARY KEY,
		donation_id BIGINT NOT NULL,
		previous_status TEXT NOT NULL,
		current_status TEXT NOT NULL,
		performed_at TIMESTAMP NOT NULL,
		raw_response TEXT
	)`)

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Gateway: config.GatewayConfig{Timeout: time.Second},
		Recheck: config.RecheckConfig{BatchSize: 2, BatchPause: time.Millisecond},
	}

	mockAudit := new(mockAuditSvc)
	mockAudit.On("AuditLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	gateway := new(mockGateway)

	donations := donationservice.NewService(donationservice.Params{
		Config:  cfg,
		DB:      db,
		Log:     logger,
		GenID:   node,
		Clock:   clk,
		Repo:    donationrepo.Provide(),
		Gateway: gateway,
		Audit:   mockAudit,
		Email:   &email.NoOpProvider{},
	})

	rechecks := NewService(Params{
		Config:    cfg,
		Log:       logger,
		Clock:     clk,
		Donations: donations,
		Gateway:   gateway,
	})

	return &fixture{db: db, gateway: gateway, donations: donations, rechecks: rechecks}
}

// seedDonation creates a pending donation carrying the given gateway
// payment id, as if a capture webhook had been lost.
func (f *fixture) seedDonation(t *testing.T, paymentID string) *donationdomain.Donation {
	t.Helper()
	f.gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_" + paymentID, Amount: 5000, Currency: "INR"}, nil)

	donation, err := f.donations.Create(context.Background(), donationdomain.CreateDonationRequest{
		DonorEmail: "donor@example.com",
		Amount:     5000,
	})
	assert.NoError(t, err)

	if paymentID != "" {
		f.db.Exec(`UPDATE donations SET gateway_payment_id = ? WHERE id = ?`, paymentID, donation.ID)
	}
	return donation
}

func TestRecheckMissingPaymentRef(t *testing.T) {
	f := newFixture(t)
	donation := f.seedDonation(t, "")

	_, err := f.rechecks.Recheck(context.Background(), donation.ID)
	assert.ErrorIs(t, err, domain.ErrMissingPaymentRef)
	f.gateway.AssertNotCalled(t, "FetchPayment", mock.Anything, mock.Anything)
}

func TestRecheckNoChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	donation := f.seedDonation(t, "pay_nc")

	f.gateway.On("FetchPayment", mock.Anything, "pay_nc").
		Return(&gatewaydomain.Payment{ID: "pay_nc", State: gatewaydomain.PaymentStatePending}, nil)

	result, err := f.rechecks.Recheck(ctx, donation.ID)
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Changed)
	assert.Equal(t, "confirmed, no change", result.Message)
	assert.Equal(t, donationdomain.StatusPending, result.CurrentStatus)

	history, err := f.donations.ListRechecks(ctx, donation.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, donationdomain.StatusPending, history[0].CurrentStatus)
}

func TestRecheckDiscoversCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	donation := f.seedDonation(t, "pay_cap")

	f.gateway.On("FetchPayment", mock.Anything, "pay_cap").
		Return(&gatewaydomain.Payment{
			ID:          "pay_cap",
			State:       gatewaydomain.PaymentStateCompleted,
			RawResponse: []byte(`{"id":"pay_cap","status":"captured"}`),
		}, nil)

	result, err := f.rechecks.Recheck(ctx, donation.ID)
	assert.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "updated from pending to completed", result.Message)

	updated, err := f.donations.Get(ctx, donation.ID)
	assert.NoError(t, err)
	assert.Equal(t, donationdomain.StatusCompleted, updated.Status)
	assert.True(t, updated.PaymentVerified)
}

func TestRecheckNeverDowngradesCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	donation := f.seedDonation(t, "pay_dg")

	_, err := f.donations.MarkCompleted(ctx, donationdomain.CompletionRef{
		DonationID:       donation.ID,
		GatewayPaymentID: "pay_dg",
	})
	assert.NoError(t, err)

	// Stale gateway read claims the payment failed.
	f.gateway.On("FetchPayment", mock.Anything, "pay_dg").
		Return(&gatewaydomain.Payment{ID: "pay_dg", State: gatewaydomain.PaymentStateFailed}, nil)

	result, err := f.rechecks.Recheck(ctx, donation.ID)
	assert.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, donationdomain.StatusCompleted, result.CurrentStatus)

	current, err := f.donations.Get(ctx, donation.ID)
	assert.NoError(t, err)
	assert.Equal(t, donationdomain.StatusCompleted, current.Status)
}

func TestRecheckGatewayFailureIsAnOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	donation := f.seedDonation(t, "pay_down")

	f.gateway.On("FetchPayment", mock.Anything, "pay_down").
		Return(nil, gatewaydomain.ErrGatewayTimeout)

	result, err := f.rechecks.Recheck(ctx, donation.ID)
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, donationdomain.StatusPending, result.PreviousStatus)
	assert.Equal(t, donationdomain.StatusPending, result.CurrentStatus)
	assert.NotEmpty(t, result.Error)

	// The attempt still lands in history even though nothing changed.
	history, err := f.donations.ListRechecks(ctx, donation.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, donationdomain.StatusPending, history[0].CurrentStatus)
}

func TestBulkRecheckContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]snowflake.ID, 0, 5)
	for i := 1; i <= 5; i++ {
		paymentID := fmt.Sprintf("pay_bulk_%d", i)
		donation := f.seedDonation(t, paymentID)
		ids = append(ids, donation.ID)

		// Items 2 and 5 hit a flapping gateway.
		if i == 2 || i == 5 {
			f.gateway.On("FetchPayment", mock.Anything, paymentID).
				Return(nil, gatewaydomain.ErrGatewayUnavailable)
		} else {
			f.gateway.On("FetchPayment", mock.Anything, paymentID).
				Return(&gatewaydomain.Payment{ID: paymentID, State: gatewaydomain.PaymentStateCompleted}, nil)
		}
	}

	var events []domain.ProgressEvent
	summary, err := f.rechecks.BulkRecheck(ctx, ids, func(event domain.ProgressEvent) {
		events = append(events, event)
	})
	assert.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, summary.Results, 5)

	failedByID := map[snowflake.ID]bool{}
	for _, result := range summary.Results {
		failedByID[result.DonationID] = !result.Success
	}
	assert.True(t, failedByID[ids[1]])
	assert.True(t, failedByID[ids[4]])
	assert.False(t, failedByID[ids[0]])

	// Batch size 2 over 5 items: three progress frames then complete.
	assert.Len(t, events, 4)
	assert.Equal(t, domain.EventProgress, events[0].Type)
	assert.Equal(t, 2, events[0].Processed)
	assert.Equal(t, 1, events[0].Batch)
	assert.Equal(t, 4, events[1].Processed)
	assert.Equal(t, 5, events[2].Processed)

	complete := events[3]
	assert.Equal(t, domain.EventComplete, complete.Type)
	assert.Equal(t, 3, complete.Succeeded)
	assert.Equal(t, 2, complete.Failed)
	assert.Len(t, complete.Results, 5)

	// Successful items were reconciled to completed.
	first, err := f.donations.Get(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, donationdomain.StatusCompleted, first.Status)

	second, err := f.donations.Get(ctx, ids[1])
	assert.NoError(t, err)
	assert.Equal(t, donationdomain.StatusPending, second.Status)
}
