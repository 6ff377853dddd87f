package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/config"
	"github.com/sadaqahq/amanah/internal/donation/domain"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/providers/email"
	"github.com/sadaqahq/amanah/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Gateway gatewaydomain.Client
	Audit   auditdomain.Service
	Email   email.Provider
}

type Service struct {
	cfg     config.Config
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	gateway gatewaydomain.Client
	audit   auditdomain.Service
	email   email.Provider
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("donation.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		audit:   p.Audit,
		email:   p.Email,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateDonationRequest) (*domain.Donation, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	donorEmail := strings.TrimSpace(req.DonorEmail)
	if donorEmail == "" {
		return nil, domain.ErrInvalidDonor
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.KindDonation
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	id := s.genID.Generate()
	receipt := fmt.Sprintf("don_%s", id.String())

	order, err := s.gateway.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    map[string]string{"donation_id": id.String()},
	})
	if err != nil {
		s.log.Error("failed to create gateway order", zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	donation := &domain.Donation{
		ID:             id,
		Kind:           kind,
		DonorName:      strings.TrimSpace(req.DonorName),
		DonorEmail:     donorEmail,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         domain.StatusPending,
		AuditStatus:    domain.AuditUnverified,
		GatewayOrderID: order.ID,
		Receipt:        receipt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, donation); err != nil {
		return nil, err
	}

	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "donation.created", "donation", &targetID, map[string]any{
		"kind":             string(kind),
		"amount":           req.Amount,
		"currency":         currency,
		"gateway_order_id": order.ID,
	})

	return donation, nil
}

// CreateCycle records one captured charge of a recurring pledge. The
// row is born completed because the gateway already captured it.
func (s *Service) CreateCycle(ctx context.Context, subscriptionID snowflake.ID, donorName, donorEmail string, amount int64, currency, gatewayPaymentID string) (*domain.Donation, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	donation := &domain.Donation{
		ID:              id,
		SubscriptionID:  &subscriptionID,
		Kind:            domain.KindCycle,
		DonorName:       strings.TrimSpace(donorName),
		DonorEmail:      strings.TrimSpace(donorEmail),
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(currency)),
		Status:          domain.StatusCompleted,
		PaymentVerified: true,
		AuditStatus:     domain.AuditVerified,
		Receipt:         fmt.Sprintf("cyc_%s", id.String()),
		VerifiedAt:      &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if paymentID := strings.TrimSpace(gatewayPaymentID); paymentID != "" {
		donation.GatewayPaymentID = &paymentID
	}

	if err := s.repo.Insert(ctx, s.db, donation); err != nil {
		return nil, err
	}

	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "donation.cycle_recorded", "donation", &targetID, map[string]any{
		"subscription_id":    subscriptionID.String(),
		"amount":             amount,
		"gateway_payment_id": gatewayPaymentID,
	})

	s.sendReceipt(ctx, donation)
	return donation, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Donation, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) FindByOrderID(ctx context.Context, gatewayOrderID string) (*domain.Donation, error) {
	return s.repo.FindByOrderID(ctx, s.db, gatewayOrderID)
}

func (s *Service) MarkCompleted(ctx context.Context, ref domain.CompletionRef) (*domain.Donation, error) {
	donation, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if donation.Status == domain.StatusCompleted {
		s.log.Debug("donation already completed",
			zap.String("donation_id", donation.ID.String()),
		)
		return donation, nil
	}
	if donation.Status == domain.StatusRefunded {
		return nil, domain.ErrInvalidTransition
	}

	previous := donation.Status
	now := s.clock.Now()
	changed, err := s.repo.MarkCompleted(ctx, s.db, donation.ID, ref.GatewayPaymentID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost the race to a concurrent delivery. Re-read and treat
		// completed as success.
		current, err := s.repo.FindByID(ctx, s.db, donation.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == domain.StatusCompleted {
			return current, nil
		}
		return nil, domain.ErrInvalidTransition
	}

	targetID := donation.ID.String()
	_ = s.audit.AuditLog(ctx, "donation.completed", "donation", &targetID, map[string]any{
		"previous_values":    map[string]any{"status": string(previous)},
		"gateway_payment_id": ref.GatewayPaymentID,
	})

	updated, err := s.repo.FindByID(ctx, s.db, donation.ID)
	if err != nil {
		return nil, err
	}

	s.sendReceipt(ctx, updated)
	return updated, nil
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*domain.Donation, error) {
	donation, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	if donation.Status == domain.StatusFailed {
		return donation, nil
	}
	if donation.Status != domain.StatusPending {
		return nil, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	changed, err := s.repo.MarkFailed(ctx, s.db, id, reason, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if current.Status == domain.StatusFailed {
			return current, nil
		}
		return nil, domain.ErrInvalidTransition
	}

	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "donation.failed", "donation", &targetID, map[string]any{
		"previous_values": map[string]any{"status": string(domain.StatusPending)},
		"reason":          reason,
	})

	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Refund(ctx context.Context, id snowflake.ID) (*domain.Donation, error) {
	donation, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if donation.Status != domain.StatusCompleted {
		return nil, domain.ErrRefundNotCompleted
	}
	if donation.GatewayPaymentID == nil || strings.TrimSpace(*donation.GatewayPaymentID) == "" {
		return nil, domain.ErrRefundNotCompleted
	}

	refund, err := s.gateway.Refund(ctx, gatewaydomain.RefundRequest{
		PaymentID: *donation.GatewayPaymentID,
		Amount:    donation.Amount,
		Notes:     map[string]string{"donation_id": donation.ID.String()},
	})
	if err != nil {
		s.log.Error("gateway refund failed",
			zap.String("donation_id", donation.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return s.markRefunded(ctx, id, map[string]any{
		"gateway_refund_id": refund.ID,
		"amount":            refund.Amount,
	})
}

// MarkRefunded records a refund observed at the gateway, for instance
// during a recheck. No gateway call is made.
func (s *Service) MarkRefunded(ctx context.Context, id snowflake.ID) (*domain.Donation, error) {
	donation, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if donation.Status == domain.StatusRefunded {
		return donation, nil
	}
	if donation.Status != domain.StatusCompleted {
		return nil, domain.ErrRefundNotCompleted
	}
	return s.markRefunded(ctx, id, map[string]any{"source": "gateway_observed"})
}

func (s *Service) markRefunded(ctx context.Context, id snowflake.ID, metadata map[string]any) (*domain.Donation, error) {
	now := s.clock.Now()
	changed, err := s.repo.MarkRefunded(ctx, s.db, id, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domain.ErrInvalidTransition
	}

	payload := map[string]any{
		"previous_values": map[string]any{"status": string(domain.StatusCompleted)},
	}
	for key, value := range metadata {
		payload[key] = value
	}

	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "donation.refunded", "donation", &targetID, payload)

	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) AppendRecheck(ctx context.Context, entry *domain.RecheckEntry) error {
	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = s.clock.Now()
	}
	return s.repo.InsertRecheck(ctx, s.db, entry)
}

func (s *Service) ListRechecks(ctx context.Context, donationID snowflake.ID) ([]domain.RecheckEntry, error) {
	items, err := s.repo.ListRechecks(ctx, s.db, donationID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.RecheckEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}
	return entries, nil
}

func (s *Service) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Donation, error) {
	items, err := s.repo.FindStalePending(ctx, s.db, olderThan, limit)
	if err != nil {
		return nil, err
	}
	donations := make([]domain.Donation, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		donations = append(donations, *item)
	}
	return donations, nil
}

func (s *Service) List(ctx context.Context, req domain.ListDonationRequest) (domain.ListDonationResponse, error) {
	var cursor *domain.DonationCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListDonationResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return domain.ListDonationResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListDonationResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.DonationCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status:         req.Status,
		Kind:           req.Kind,
		SubscriptionID: req.SubscriptionID,
		DonorEmail:     req.DonorEmail,
		Cursor:         cursor,
		Limit:          int(pageSize),
	})
	if err != nil {
		return domain.ListDonationResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.Donation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	donations := make([]domain.Donation, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		donations = append(donations, *item)
	}

	resp := domain.ListDonationResponse{Donations: donations}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) resolve(ctx context.Context, ref domain.CompletionRef) (*domain.Donation, error) {
	if ref.DonationID != 0 {
		return s.repo.FindByID(ctx, s.db, ref.DonationID)
	}
	return s.repo.FindByOrderID(ctx, s.db, ref.GatewayOrderID)
}

// sendReceipt mails the donor asynchronously. Receipt delivery never
// blocks or fails a payment transition.
func (s *Service) sendReceipt(ctx context.Context, donation *domain.Donation) {
	if donation == nil || strings.TrimSpace(donation.DonorEmail) == "" {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		body := fmt.Sprintf(
			"<p>Assalamu alaikum %s,</p><p>Your donation of %d %s has been received. Receipt: %s.</p>",
			donation.DonorName, donation.Amount, donation.Currency, donation.Receipt,
		)
		if err := s.email.Send(detached, []string{donation.DonorEmail}, "Your donation receipt", body); err != nil {
			s.log.Warn("failed to send receipt email",
				zap.String("donation_id", donation.ID.String()),
				zap.Error(err),
			)
		}
	}()
}
