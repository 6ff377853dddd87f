package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	"github.com/sadaqahq/amanah/internal/observability/metrics"
	subscriptiondomain "github.com/sadaqahq/amanah/internal/subscription/domain"
	"github.com/sadaqahq/amanah/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	Donations     donationdomain.Service
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	donations     donationdomain.Service
	subscriptions subscriptiondomain.Service
	metrics       *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		donations:     p.Donations,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

func (s *Service) Process(ctx context.Context, envelope domain.Envelope) error {
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		return domain.ErrMissingEventID
	}
	if !json.Valid(envelope.Raw) {
		return domain.ErrInvalidPayload
	}

	now := s.clock.Now()
	record := domain.EventRecord{
		ID:             s.genID.Generate(),
		GatewayEventID: eventID,
		EventType:      strings.TrimSpace(envelope.EventType),
		Payload:        datatypes.JSON(envelope.Raw),
		ReceivedAt:     now,
	}

	claimed, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}

	// A lost claim means another delivery holds this event id, whether
	// it finished or is still mid flight. Either way the handlers must
	// not run twice; a record stuck pending is the reconciliation
	// sweep's problem, not the delivery path's.
	if !claimed {
		s.log.Debug("duplicate webhook delivery ignored",
			zap.String("gateway_event_id", eventID),
			zap.String("event_type", record.EventType),
		)
		s.metrics.RecordWebhookEvent(ctx, record.EventType, false)
		return domain.ErrEventAlreadyProcessed
	}

	if err := s.route(ctx, &record); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}

	s.metrics.RecordWebhookEvent(ctx, record.EventType, true)
	return nil
}

// eventPayload mirrors the gateway's nested envelope. Only the fields
// the handlers read are declared.
type eventPayload struct {
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
		Subscription struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type orderEntity struct {
	ID string `json:"id"`
}

type subscriptionEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Service) route(ctx context.Context, record *domain.EventRecord) error {
	var payload eventPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return domain.ErrInvalidPayload
	}

	switch record.EventType {
	case domain.EventPaymentCaptured, domain.EventOrderPaid:
		return s.handlePaymentCaptured(ctx, payload)
	case domain.EventSubscriptionActivated:
		return s.handleSubscriptionActivated(ctx, payload)
	case domain.EventSubscriptionCharged:
		return s.handleSubscriptionCharged(ctx, payload)
	case domain.EventSubscriptionHalted:
		return s.handleSubscriptionHalted(ctx, payload)
	case domain.EventSubscriptionCancelled:
		return s.handleSubscriptionCancelled(ctx, payload)
	default:
		// Unknown types are claimed so redeliveries stay cheap, then
		// dropped.
		s.log.Info("unhandled webhook event type",
			zap.String("event_type", record.EventType),
		)
		return nil
	}
}

func (s *Service) handlePaymentCaptured(ctx context.Context, payload eventPayload) error {
	payment := payload.Payload.Payment.Entity
	orderID := strings.TrimSpace(payment.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(payload.Payload.Order.Entity.ID)
	}
	if orderID == "" && strings.TrimSpace(payment.ID) == "" {
		return domain.ErrInvalidPayload
	}

	_, err := s.donations.MarkCompleted(ctx, donationdomain.CompletionRef{
		GatewayOrderID:   orderID,
		GatewayPaymentID: strings.TrimSpace(payment.ID),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, donationdomain.ErrDonationNotFound):
		// Capture for an order we never issued. Keep the claimed event
		// for forensics and move on.
		s.log.Warn("captured payment for unknown donation",
			zap.String("gateway_order_id", orderID),
			zap.String("gateway_payment_id", payment.ID),
		)
		return nil
	case errors.Is(err, donationdomain.ErrInvalidTransition):
		s.log.Warn("capture ignored for terminal donation",
			zap.String("gateway_order_id", orderID),
		)
		return nil
	default:
		return err
	}
}

func (s *Service) handleSubscriptionActivated(ctx context.Context, payload eventPayload) error {
	entity := payload.Payload.Subscription.Entity
	subscription, err := s.findSubscription(ctx, entity.ID)
	if err != nil || subscription == nil {
		return err
	}

	_, err = s.subscriptions.Activate(ctx, subscription.ID, entity.ID)
	if errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
		s.log.Warn("activation ignored for terminal pledge",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("status", string(subscription.Status)),
		)
		return nil
	}
	return err
}

func (s *Service) handleSubscriptionCharged(ctx context.Context, payload eventPayload) error {
	entity := payload.Payload.Subscription.Entity
	payment := payload.Payload.Payment.Entity

	subscription, err := s.findSubscription(ctx, entity.ID)
	if err != nil || subscription == nil {
		return err
	}

	amount := payment.Amount
	if amount <= 0 {
		amount = subscription.Amount
	}

	updated, err := s.subscriptions.RecordCycleResult(ctx, subscription.ID, subscriptiondomain.CycleResult{
		Success:          true,
		Amount:           amount,
		GatewayPaymentID: strings.TrimSpace(payment.ID),
	})
	if errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
		s.log.Warn("charge ignored for inactive pledge",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("status", string(subscription.Status)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	currency := payment.Currency
	if currency == "" {
		currency = updated.Currency
	}
	_, err = s.donations.CreateCycle(ctx, updated.ID, updated.DonorName, updated.DonorEmail, amount, currency, payment.ID)
	return err
}

func (s *Service) handleSubscriptionHalted(ctx context.Context, payload eventPayload) error {
	entity := payload.Payload.Subscription.Entity
	subscription, err := s.findSubscription(ctx, entity.ID)
	if err != nil || subscription == nil {
		return err
	}

	_, err = s.subscriptions.RecordCycleResult(ctx, subscription.ID, subscriptiondomain.CycleResult{
		FailureReason: "charge halted by gateway",
	})
	if errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
		// Already paused or otherwise not chargeable; the failure
		// streak stays where the halt left it.
		s.log.Debug("halt ignored for inactive pledge",
			zap.String("subscription_id", subscription.ID.String()),
		)
		return nil
	}
	return err
}

func (s *Service) handleSubscriptionCancelled(ctx context.Context, payload eventPayload) error {
	entity := payload.Payload.Subscription.Entity
	subscription, err := s.findSubscription(ctx, entity.ID)
	if err != nil || subscription == nil {
		return err
	}

	_, err = s.subscriptions.Cancel(ctx, subscription.ID, subscriptiondomain.TransitionRequest{Reason: "cancelled at gateway"})
	if errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
		s.log.Debug("cancellation ignored for terminal pledge",
			zap.String("subscription_id", subscription.ID.String()),
		)
		return nil
	}
	return err
}

// findSubscription resolves the gateway id to a local pledge. Unknown
// ids are logged and dropped rather than failing the delivery.
func (s *Service) findSubscription(ctx context.Context, gatewayID string) (*subscriptiondomain.Subscription, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	if gatewayID == "" {
		return nil, domain.ErrInvalidPayload
	}

	subscription, err := s.subscriptions.FindByGatewaySubscriptionID(ctx, gatewayID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		s.log.Warn("webhook for unknown subscription",
			zap.String("gateway_subscription_id", gatewayID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return subscription, nil
}
