// Package domain defines the webhook event ledger. Each delivery from
// the gateway lands here exactly once; the unique gateway event id is
// the idempotency gate for the whole ingestion path.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventPaymentCaptured       = "payment.captured"
	EventOrderPaid             = "order.paid"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionCancelled = "subscription.cancelled"
)

type EventRecord struct {
	ID             snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	GatewayEventID string         `gorm:"column:gateway_event_id" json:"gateway_event_id"`
	EventType      string         `gorm:"column:event_type" json:"event_type"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload"`
	ReceivedAt     time.Time      `gorm:"column:received_at" json:"received_at"`
	ProcessedAt    *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// Envelope is one parsed delivery: the gateway's event id from the
// request header plus the raw body.
type Envelope struct {
	EventID   string
	EventType string
	Raw       []byte
}

var (
	ErrMissingEventID        = errors.New("missing_gateway_event_id")
	ErrInvalidPayload        = errors.New("invalid_webhook_payload")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)

type Service interface {
	// Process claims and routes one delivery. Any delivery that loses
	// the claim returns ErrEventAlreadyProcessed, whether the holder
	// finished or is still mid flight.
	Process(ctx context.Context, envelope Envelope) error
}

type Repository interface {
	// InsertEvent claims the event id. Returns false when another
	// delivery already holds the claim.
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
