// Package domain defines the contract this system expects from the
// payment gateway. The gateway's own API semantics live behind the
// Client interface; everything above it speaks the canonical
// vocabulary below.
package domain

import (
	"context"
	"errors"
	"time"
)

// PaymentState is the canonical payment vocabulary. Adapters translate
// the gateway's own status strings into these values.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateCompleted PaymentState = "completed"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateRefunded  PaymentState = "refunded"
)

// Order is a gateway-side order created ahead of a payment attempt.
type Order struct {
	ID        string
	Amount    int64
	Currency  string
	Receipt   string
	CreatedAt time.Time
}

// Payment is the gateway's view of one payment attempt.
type Payment struct {
	ID          string
	OrderID     string
	State       PaymentState
	Amount      int64
	Currency    string
	Method      string
	CapturedAt  *time.Time
	RawResponse []byte
}

// SubscriptionRef is the gateway's handle for a recurring mandate.
type SubscriptionRef struct {
	ID         string
	CustomerID string
	PlanID     string
	Status     string
}

type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type CreateSubscriptionRequest struct {
	PlanID     string
	CustomerID string
	TotalCount int
	Notes      map[string]string
}

type RefundRequest struct {
	PaymentID string
	Amount    int64
	Notes     map[string]string
}

type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	CreatedAt time.Time
}

// Client is the thin interface over the payment gateway. Every call
// must honor the context deadline; implementations wrap transport
// failures in ErrGatewayUnavailable or ErrGatewayTimeout.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionRef, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

var (
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrGatewayTimeout     = errors.New("gateway_timeout")
	ErrPaymentNotFound    = errors.New("gateway_payment_not_found")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidResponse    = errors.New("gateway_invalid_response")
)
