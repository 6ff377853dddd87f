package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	"github.com/sadaqahq/amanah/internal/donation/domain"
	"github.com/sadaqahq/amanah/internal/donation/repository"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/providers/email"
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

func openTestDB(t *testing.T) *gorm.DB {
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

	return db
}

func newTestService(t *testing.T, db *gorm.DB, gateway *mockGateway) (domain.Service, *mockAuditSvc) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	mockAudit := new(mockAuditSvc)
	mockAudit.On("AuditLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(Params{
		Config:  config.Config{},
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		Gateway: gateway,
		Audit:   mockAudit,
		Email:   &email.NoOpProvider{},
	})
	return svc, mockAudit
}

func TestCreateDonation(t *testing.T) {
	db := openTestDB(t)
	gateway := new(mockGateway)
	svc, _ := newTestService(t, db, gateway)
	ctx := context.Background()

	gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_abc", Amount: 5000, Currency: "INR"}, nil)

	t.Run("creates pending record with gateway order", func(t *testing.T) {
		donation, err := svc.Create(ctx, domain.CreateDonationRequest{
			DonorName:  "Fatima",
			DonorEmail: "fatima@example.com",
			Amount:     5000,
			Currency:   "inr",
		})
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusPending, donation.Status)
		assert.Equal(t, "order_abc", donation.GatewayOrderID)
		assert.Equal(t, "INR", donation.Currency)
		assert.Equal(t, "don_"+donation.ID.String(), donation.Receipt)
		assert.False(t, donation.PaymentVerified)

		found, err := svc.FindByOrderID(ctx, "order_abc")
		assert.NoError(t, err)
		assert.Equal(t, donation.ID, found.ID)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := svc.Create(ctx, domain.CreateDonationRequest{
			DonorEmail: "fatima@example.com",
			Amount:     0,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("rejects missing donor email", func(t *testing.T) {
		_, err := svc.Create(ctx, domain.CreateDonationRequest{Amount: 100})
		assert.ErrorIs(t, err, domain.ErrInvalidDonor)
	})
}

func TestMarkCompleted(t *testing.T) {
	db := openTestDB(t)
	gateway := new(mockGateway)
	svc, _ := newTestService(t, db, gateway)
	ctx := context.Background()

	gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_mc", Amount: 7500, Currency: "INR"}, nil)

	donation, err := svc.Create(ctx, domain.CreateDonationRequest{
		DonorEmail: "donor@example.com",
		Amount:     7500,
	})
	assert.NoError(t, err)

	t.Run("pending becomes completed", func(t *testing.T) {
		updated, err := svc.MarkCompleted(ctx, domain.CompletionRef{
			DonationID:       donation.ID,
			GatewayPaymentID: "pay_123",
		})
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, updated.Status)
		assert.True(t, updated.PaymentVerified)
		assert.Equal(t, domain.AuditVerified, updated.AuditStatus)
		assert.NotNil(t, updated.GatewayPaymentID)
		assert.Equal(t, "pay_123", *updated.GatewayPaymentID)
		assert.NotNil(t, updated.VerifiedAt)
	})

	t.Run("second completion is a no-op", func(t *testing.T) {
		updated, err := svc.MarkCompleted(ctx, domain.CompletionRef{
			DonationID:       donation.ID,
			GatewayPaymentID: "pay_other",
		})
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, updated.Status)
		assert.Equal(t, "pay_123", *updated.GatewayPaymentID)
	})

	t.Run("completed never fails afterwards", func(t *testing.T) {
		_, err := svc.MarkFailed(ctx, donation.ID, "stale gateway data")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		current, err := svc.Get(ctx, donation.ID)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, current.Status)
	})

	t.Run("resolves by gateway order id", func(t *testing.T) {
		updated, err := svc.MarkCompleted(ctx, domain.CompletionRef{GatewayOrderID: "order_mc"})
		assert.NoError(t, err)
		assert.Equal(t, donation.ID, updated.ID)
	})
}

func TestMarkFailedThenRecovered(t *testing.T) {
	db := openTestDB(t)
	gateway := new(mockGateway)
	svc, _ := newTestService(t, db, gateway)
	ctx := context.Background()

	gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_fr", Amount: 1000, Currency: "INR"}, nil)

	donation, err := svc.Create(ctx, domain.CreateDonationRequest{
		DonorEmail: "donor@example.com",
		Amount:     1000,
	})
	assert.NoError(t, err)

	failed, err := svc.MarkFailed(ctx, donation.ID, "card declined")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "card declined", *failed.FailureReason)

	// A later recheck may discover the payment was actually captured.
	recovered, err := svc.MarkCompleted(ctx, domain.CompletionRef{
		DonationID:       donation.ID,
		GatewayPaymentID: "pay_late",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, recovered.Status)
}

func TestRefund(t *testing.T) {
	db := openTestDB(t)
	gateway := new(mockGateway)
	svc, _ := newTestService(t, db, gateway)
	ctx := context.Background()

	gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_rf", Amount: 2000, Currency: "INR"}, nil)

	donation, err := svc.Create(ctx, domain.CreateDonationRequest{
		DonorEmail: "donor@example.com",
		Amount:     2000,
	})
	assert.NoError(t, err)

	t.Run("refund requires completed", func(t *testing.T) {
		_, err := svc.Refund(ctx, donation.ID)
		assert.ErrorIs(t, err, domain.ErrRefundNotCompleted)
	})

	_, err = svc.MarkCompleted(ctx, domain.CompletionRef{
		DonationID:       donation.ID,
		GatewayPaymentID: "pay_rf",
	})
	assert.NoError(t, err)

	t.Run("refund from completed", func(t *testing.T) {
		gateway.On("Refund", mock.Anything, mock.MatchedBy(func(req gatewaydomain.RefundRequest) bool {
			return req.PaymentID == "pay_rf" && req.Amount == 2000
		})).Return(&gatewaydomain.Refund{ID: "rfnd_1", PaymentID: "pay_rf", Amount: 2000}, nil).Once()

		refunded, err := svc.Refund(ctx, donation.ID)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusRefunded, refunded.Status)
		gateway.AssertExpectations(t)
	})

	t.Run("refunded cannot complete again", func(t *testing.T) {
		_, err := svc.MarkCompleted(ctx, domain.CompletionRef{DonationID: donation.ID})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestRecheckHistory(t *testing.T) {
	db := openTestDB(t)
	gateway := new(mockGateway)
	svc, _ := newTestService(t, db, gateway)
	ctx := context.Background()

	gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(&gatewaydomain.Order{ID: "order_rh", Amount: 300, Currency: "INR"}, nil)

	donation, err := svc.Create(ctx, domain.CreateDonationRequest{
		DonorEmail: "donor@example.com",
		Amount:     300,
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.AppendRecheck(ctx, &domain.RecheckEntry{
		DonationID:     donation.ID,
		PreviousStatus: domain.StatusPending,
		CurrentStatus:  domain.StatusPending,
	}))
	assert.NoError(t, svc.AppendRecheck(ctx, &domain.RecheckEntry{
		DonationID:     donation.ID,
		PreviousStatus: domain.StatusPending,
		CurrentStatus:  domain.StatusCompleted,
	}))

	entries, err := svc.ListRechecks(ctx, donation.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, domain.StatusCompleted, entries[1].CurrentStatus)
}
