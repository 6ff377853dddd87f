package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/pkg/db/pagination"
)

var (
	ErrDonationNotFound   = errors.New("donation_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidDonor       = errors.New("invalid_donor")
	ErrInvalidTransition  = errors.New("invalid_donation_transition")
	ErrRefundNotCompleted = errors.New("refund_requires_completed")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)

type CreateDonationRequest struct {
	Kind       Kind   `json:"kind"`
	DonorName  string `json:"donor_name"`
	DonorEmail string `json:"donor_email"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// CompletionRef carries whatever payment identifiers the caller has.
// Either the donation ID or the gateway order ID locates the record.
type CompletionRef struct {
	DonationID       snowflake.ID
	GatewayOrderID   string
	GatewayPaymentID string
}

type ListDonationRequest struct {
	Status         Status
	Kind           Kind
	SubscriptionID *snowflake.ID
	DonorEmail     string
	PageToken      string
	PageSize       int32
}

type ListDonationResponse struct {
	Donations []Donation          `json:"donations"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

// Service owns every status change of a donation record. Transitions
// are single-statement conditional updates so concurrent webhook and
// recheck deliveries cannot race a record backwards; completed is a
// terminal floor that only refund moves past.
type Service interface {
	Create(ctx context.Context, req CreateDonationRequest) (*Donation, error)
	CreateCycle(ctx context.Context, subscriptionID snowflake.ID, donorName, donorEmail string, amount int64, currency, gatewayPaymentID string) (*Donation, error)
	Get(ctx context.Context, id snowflake.ID) (*Donation, error)
	FindByOrderID(ctx context.Context, gatewayOrderID string) (*Donation, error)
	List(ctx context.Context, req ListDonationRequest) (ListDonationResponse, error)

	// MarkCompleted is idempotent: a donation already completed is a
	// successful no-op.
	MarkCompleted(ctx context.Context, ref CompletionRef) (*Donation, error)
	MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*Donation, error)

	// MarkRefunded records a refund the gateway already performed.
	// Refund issues the gateway refund first, then records it.
	MarkRefunded(ctx context.Context, id snowflake.ID) (*Donation, error)
	Refund(ctx context.Context, id snowflake.ID) (*Donation, error)

	AppendRecheck(ctx context.Context, entry *RecheckEntry) error
	ListRechecks(ctx context.Context, donationID snowflake.ID) ([]RecheckEntry, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Donation, error)
}
