package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/identity"
	"github.com/sadaqahq/amanah/internal/observability/metrics"
	"github.com/sadaqahq/amanah/internal/subscription/domain"
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
	Metrics *metrics.Metrics
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
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	donorEmail := strings.TrimSpace(req.DonorEmail)
	if donorEmail == "" {
		return nil, domain.ErrInvalidDonor
	}
	cadence, ok := domain.ParseCadence(strings.TrimSpace(req.Cadence))
	if !ok {
		return nil, domain.ErrInvalidCadence
	}
	if req.TotalCycles <= 0 {
		return nil, domain.ErrInvalidCycles
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	id := s.genID.Generate()
	ref, err := s.gateway.CreateSubscription(ctx, gatewaydomain.CreateSubscriptionRequest{
		PlanID:     strings.TrimSpace(req.PlanID),
		CustomerID: strings.TrimSpace(req.CustomerID),
		TotalCount: req.TotalCycles,
		Notes:      map[string]string{"subscription_id": id.String()},
	})
	if err != nil {
		s.log.Error("failed to create gateway subscription", zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	subscription := &domain.Subscription{
		ID:         id,
		DonorName:  strings.TrimSpace(req.DonorName),
		DonorEmail: donorEmail,
		UserID:     req.UserID,
		Cadence:    cadence,
		Amount:     req.Amount,
		Currency:   currency,
		// The pledge stays pending until the gateway confirms the
		// mandate via webhook.
		Status:      domain.StatusPendingPayment,
		StartAt:     now,
		TotalCycles: req.TotalCycles,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref.ID != "" {
		gatewayID := ref.ID
		subscription.GatewaySubscriptionID = &gatewayID
	}
	if ref.CustomerID != "" {
		customerID := ref.CustomerID
		subscription.GatewayCustomerID = &customerID
	}

	if err := s.repo.Insert(ctx, s.db, subscription); err != nil {
		return nil, err
	}

	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "subscription.created", "subscription", &targetID, map[string]any{
		"cadence":      string(cadence),
		"amount":       req.Amount,
		"currency":     currency,
		"total_cycles": req.TotalCycles,
	})

	return subscription, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) FindByGatewaySubscriptionID(ctx context.Context, gatewayID string) (*domain.Subscription, error) {
	return s.repo.FindByGatewaySubscriptionID(ctx, s.db, gatewayID)
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID, gatewaySubscriptionID string) (*domain.Subscription, error) {
	req := domain.TransitionRequest{Reason: "gateway mandate confirmed"}
	return s.transition(ctx, id, domain.EventActivate, req, func(sub *domain.Subscription, now time.Time) {
		if gatewayID := strings.TrimSpace(gatewaySubscriptionID); gatewayID != "" {
			sub.GatewaySubscriptionID = &gatewayID
		}
		next := sub.Cadence.Next(now)
		sub.NextPaymentAt = &next
	})
}

func (s *Service) Pause(ctx context.Context, id snowflake.ID, req domain.TransitionRequest) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.EventPause, req, func(sub *domain.Subscription, now time.Time) {
		sub.NextPaymentAt = nil
	})
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID, req domain.TransitionRequest) (*domain.Subscription, error) {
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "resumed"
	}
	return s.transition(ctx, id, domain.EventResume, req, func(sub *domain.Subscription, now time.Time) {
		next := sub.Cadence.Next(now)
		sub.NextPaymentAt = &next
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, req domain.TransitionRequest) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.EventCancel, req, func(sub *domain.Subscription, now time.Time) {
		sub.NextPaymentAt = nil
		if sub.EndAt == nil || sub.EndAt.After(now) {
			sub.EndAt = &now
		}
	})
}

func (s *Service) MarkExpired(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	req := domain.TransitionRequest{Reason: "end date reached"}
	return s.transition(ctx, id, domain.EventExpire, req, func(sub *domain.Subscription, now time.Time) {
		sub.NextPaymentAt = nil
	})
}

// transition applies one lifecycle event inside a row-locked
// transaction. Cancel alone is idempotent; every other event outside
// the transition table is rejected so callers hear about it. Resume
// additionally requires cycles left to charge.
func (s *Service) transition(
	ctx context.Context,
	id snowflake.ID,
	event domain.Event,
	req domain.TransitionRequest,
	apply func(sub *domain.Subscription, now time.Time),
) (*domain.Subscription, error) {
	var result *domain.Subscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		next, terr := domain.Transition(subscription.Status, event)
		if terr != nil {
			if event == domain.EventCancel && subscription.Status == domain.StatusCancelled {
				result = subscription
				return nil
			}
			return terr
		}

		if event == domain.EventResume && subscription.RemainingCycles() <= 0 {
			return domain.ErrNothingToResume
		}

		previous := subscription.Status
		previousNext := formatTimePtr(subscription.NextPaymentAt)
		now := s.clock.Now()

		actor := identity.ActorFromContext(ctx)
		subscription.Status = next
		subscription.StatusReason = strings.TrimSpace(req.Reason)
		subscription.StatusActor = string(actor.Type)
		subscription.UpdatedAt = now
		if apply != nil {
			apply(subscription, now)
		}

		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		targetID := id.String()
		metadata := map[string]any{
			"previous_values": map[string]any{
				"status":          string(previous),
				"next_payment_at": previousNext,
			},
			"status": string(next),
			"reason": subscription.StatusReason,
		}
		// Operator notes only carry weight coming from an admin.
		if notes := strings.TrimSpace(req.AdminNotes); notes != "" && actor.IsAdmin() {
			metadata["admin_notes"] = notes
		}
		_ = s.audit.AuditLog(ctx, "subscription."+string(event), "subscription", &targetID, metadata)

		s.metrics.RecordTransition(ctx, string(previous), string(next))
		result = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) RecordCycleResult(ctx context.Context, id snowflake.ID, result domain.CycleResult) (*domain.Subscription, error) {
	var updated *domain.Subscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription.Status != domain.StatusActive {
			return &domain.InvalidTransitionError{From: subscription.Status, Event: domain.EventCharge}
		}

		now := s.clock.Now()
		previousStatus := subscription.Status

		if result.Success {
			subscription.PaymentCount++
			subscription.TotalPaid += result.Amount
			subscription.FailedPaymentCount = 0
			subscription.LastPaymentAt = &now

			if subscription.PaymentCount >= subscription.TotalCycles {
				subscription.Status = domain.StatusExpired
				subscription.StatusReason = "all cycles completed"
				subscription.NextPaymentAt = nil
			} else {
				next := subscription.Cadence.Next(now)
				subscription.NextPaymentAt = &next
			}
		} else {
			subscription.FailedPaymentCount++
			if subscription.FailedPaymentCount >= s.cfg.Policy.HaltThreshold {
				subscription.Status = domain.StatusPaused
				subscription.StatusReason = "halted after repeated payment failures"
				subscription.StatusActor = string(identity.ActorTypeSystem)
				subscription.NextPaymentAt = nil
			}
		}

		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		action := "subscription.cycle_succeeded"
		if !result.Success {
			action = "subscription.cycle_failed"
		}
		targetID := id.String()
		_ = s.audit.AuditLog(ctx, action, "subscription", &targetID, map[string]any{
			"previous_values": map[string]any{
				"status":               string(previousStatus),
				"payment_count":        subscriptionCount(subscription.PaymentCount, result.Success),
				"failed_payment_count": subscription.FailedPaymentCount,
			},
			"amount":             result.Amount,
			"gateway_payment_id": result.GatewayPaymentID,
			"failure_reason":     result.FailureReason,
		})

		if subscription.Status != previousStatus {
			s.metrics.RecordTransition(ctx, string(previousStatus), string(subscription.Status))
		}

		updated = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.FindEndedBefore(ctx, s.db, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, subscription := range due {
		if subscription == nil {
			continue
		}
		if _, err := s.MarkExpired(ctx, subscription.ID); err != nil {
			s.log.Warn("failed to expire subscription",
				zap.String("subscription_id", subscription.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSubscriptionRequest) (domain.ListSubscriptionResponse, error) {
	var cursor *domain.SubscriptionCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListSubscriptionResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return domain.ListSubscriptionResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListSubscriptionResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.SubscriptionCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status:     req.Status,
		DonorEmail: req.DonorEmail,
		Cursor:     cursor,
		Limit:      int(pageSize),
	})
	if err != nil {
		return domain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.Subscription) string {
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

	subscriptions := make([]domain.Subscription, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subscriptions = append(subscriptions, *item)
	}

	resp := domain.ListSubscriptionResponse{Subscriptions: subscriptions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// subscriptionCount reports the pre-update payment count for the audit
// trail; success already incremented the in-memory value.
func subscriptionCount(current int, success bool) int {
	if success {
		return current - 1
	}
	return current
}
