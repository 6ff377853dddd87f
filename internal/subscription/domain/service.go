package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/pkg/db/pagination"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNothingToResume      = errors.New("nothing_to_resume")
	ErrInvalidCadence       = errors.New("invalid_cadence")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidDonor         = errors.New("invalid_donor")
	ErrInvalidCycles        = errors.New("invalid_total_cycles")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)

type CreateSubscriptionRequest struct {
	DonorName   string  `json:"donor_name"`
	DonorEmail  string  `json:"donor_email"`
	UserID      *string `json:"user_id,omitempty"`
	Cadence     string  `json:"cadence"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	TotalCycles int     `json:"total_cycles"`
	PlanID      string  `json:"plan_id"`
	CustomerID  string  `json:"customer_id"`
}

// TransitionRequest carries the caller-supplied context for a
// lifecycle change. AdminNotes is only honored for admin callers.
type TransitionRequest struct {
	Reason     string `json:"reason"`
	AdminNotes string `json:"admin_notes,omitempty"`
}

// CycleResult reports the outcome of one gateway charge attempt
// against an active pledge.
type CycleResult struct {
	Success          bool
	Amount           int64
	GatewayPaymentID string
	FailureReason    string
}

type ListSubscriptionRequest struct {
	Status     Status
	DonorEmail string
	PageToken  string
	PageSize   int32
}

type ListSubscriptionResponse struct {
	Subscriptions []Subscription      `json:"subscriptions"`
	PageInfo      pagination.PageInfo `json:"page_info"`
}

// Service drives the pledge lifecycle. All transitions run inside a
// row-locked transaction and are validated against the transition
// table; each one writes an audit entry carrying the previous values.
type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	FindByGatewaySubscriptionID(ctx context.Context, gatewayID string) (*Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)

	// Activate moves a pledge out of pending_payment once the gateway
	// confirms the mandate. Re-activation is rejected with
	// ErrInvalidTransition; the webhook handlers absorb that on
	// redelivery.
	Activate(ctx context.Context, id snowflake.ID, gatewaySubscriptionID string) (*Subscription, error)
	Pause(ctx context.Context, id snowflake.ID, req TransitionRequest) (*Subscription, error)
	Resume(ctx context.Context, id snowflake.ID, req TransitionRequest) (*Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID, req TransitionRequest) (*Subscription, error)
	MarkExpired(ctx context.Context, id snowflake.ID) (*Subscription, error)

	// RecordCycleResult books one charge outcome: success advances the
	// schedule and resets the failure streak, failure counts toward
	// the halt threshold.
	RecordCycleResult(ctx context.Context, id snowflake.ID, result CycleResult) (*Subscription, error)

	// ExpireDue sweeps pledges whose end date has passed. Returns how
	// many were expired.
	ExpireDue(ctx context.Context) (int, error)
}
