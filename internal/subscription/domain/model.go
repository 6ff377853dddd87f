// Package domain models a recurring pledge and its lifecycle. Every
// status change goes through the transition table; nothing else in the
// codebase mutates a pledge status.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusPaused         Status = "paused"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Event is a lifecycle trigger. Halt is the system pausing a pledge
// after repeated failed charges; Pause is a donor or admin request.
// Both land on paused, but they are audited differently.
type Event string

const (
	EventActivate Event = "activate"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventCancel   Event = "cancel"
	EventExpire   Event = "expire"
	EventHalt     Event = "halt"

	// EventCharge is not a status transition; it names a cycle charge
	// attempt in errors when the pledge is not active.
	EventCharge Event = "charge"
)

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceYearly  Cadence = "yearly"
)

func ParseCadence(value string) (Cadence, bool) {
	switch Cadence(value) {
	case CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceYearly:
		return Cadence(value), true
	default:
		return "", false
	}
}

// Next returns the following charge time after t for this cadence.
func (c Cadence) Next(t time.Time) time.Time {
	switch c {
	case CadenceDaily:
		return t.AddDate(0, 0, 1)
	case CadenceWeekly:
		return t.AddDate(0, 0, 7)
	case CadenceYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// transitions is the full lifecycle table. Terminal statuses have no
// outgoing edges.
var transitions = map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventActivate: StatusActive,
		EventCancel:   StatusCancelled,
		EventExpire:   StatusExpired,
	},
	StatusActive: {
		EventPause:  StatusPaused,
		EventHalt:   StatusPaused,
		EventCancel: StatusCancelled,
		EventExpire: StatusExpired,
	},
	StatusPaused: {
		EventResume: StatusActive,
		EventCancel: StatusCancelled,
		EventExpire: StatusExpired,
	},
	StatusCancelled: {},
	StatusExpired:   {},
}

// Transition resolves {from, event} against the table.
func Transition(from Status, event Event) (Status, error) {
	if next, ok := transitions[from][event]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{From: from, Event: event}
}

// ErrInvalidTransition is the sentinel every InvalidTransitionError
// unwraps to, so callers can match with errors.Is.
var ErrInvalidTransition = errors.New("invalid_transition")

type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q not allowed from status %q", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type Subscription struct {
	ID                    snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	DonorName             string       `gorm:"column:donor_name" json:"donor_name"`
	DonorEmail            string       `gorm:"column:donor_email" json:"donor_email"`
	UserID                *string      `gorm:"column:user_id" json:"user_id,omitempty"`
	Cadence               Cadence      `gorm:"column:cadence" json:"cadence"`
	Amount                int64        `gorm:"column:amount" json:"amount"`
	Currency              string       `gorm:"column:currency" json:"currency"`
	Status                Status       `gorm:"column:status" json:"status"`
	GatewaySubscriptionID *string      `gorm:"column:gateway_subscription_id" json:"gateway_subscription_id,omitempty"`
	GatewayCustomerID     *string      `gorm:"column:gateway_customer_id" json:"gateway_customer_id,omitempty"`
	StartAt               time.Time    `gorm:"column:start_at" json:"start_at"`
	NextPaymentAt         *time.Time   `gorm:"column:next_payment_at" json:"next_payment_at,omitempty"`
	EndAt                 *time.Time   `gorm:"column:end_at" json:"end_at,omitempty"`
	TotalCycles           int          `gorm:"column:total_cycles" json:"total_cycles"`
	TotalPaid             int64        `gorm:"column:total_paid" json:"total_paid"`
	PaymentCount          int          `gorm:"column:payment_count" json:"payment_count"`
	FailedPaymentCount    int          `gorm:"column:failed_payment_count" json:"failed_payment_count"`
	LastPaymentAt         *time.Time   `gorm:"column:last_payment_at" json:"last_payment_at,omitempty"`
	StatusReason          string       `gorm:"column:status_reason" json:"status_reason,omitempty"`
	StatusActor           string       `gorm:"column:status_actor" json:"status_actor,omitempty"`
	CreatedAt             time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// RemainingCycles is how many charges are still owed: total minus both
// successful and failed attempts. Failed cycles are spent, not retried.
func (s *Subscription) RemainingCycles() int {
	return s.TotalCycles - s.PaymentCount - s.FailedPaymentCount
}

type SubscriptionCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status     Status
	DonorEmail string
	Cursor     *SubscriptionCursor
	Limit      int
}
