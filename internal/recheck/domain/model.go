// Package domain defines the payment reconciliation types. A recheck
// asks the gateway for the authoritative state of one payment and
// folds the answer back into the local donation record.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
)

var (
	ErrMissingPaymentRef = errors.New("missing_payment_reference")
	ErrBulkInProgress    = errors.New("bulk_recheck_in_progress")
)

// Result is the outcome of one recheck.
type Result struct {
	DonationID     snowflake.ID          `json:"donation_id"`
	PreviousStatus donationdomain.Status `json:"previous_status"`
	CurrentStatus  donationdomain.Status `json:"current_status,omitempty"`
	Changed        bool                  `json:"changed"`
	Success        bool                  `json:"success"`
	Message        string                `json:"message"`
	Error          string                `json:"error,omitempty"`
}

// ProgressEvent is one frame of a bulk run's stream: a "progress"
// frame after each batch, then a single "complete" frame. An "error"
// frame replaces "complete" when the batch driver itself fails.
type ProgressEvent struct {
	Type      string   `json:"type"`
	Processed int      `json:"processed"`
	Total     int      `json:"total"`
	Batch     int      `json:"batch,omitempty"`
	Succeeded int      `json:"succeeded,omitempty"`
	Failed    int      `json:"failed,omitempty"`
	Results   []Result `json:"results,omitempty"`
	Error     string   `json:"error,omitempty"`
}

const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Summary totals a bulk run.
type Summary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

type Service interface {
	Recheck(ctx context.Context, donationID snowflake.ID) (*Result, error)

	// BulkRecheck processes ids in fixed-size concurrent batches,
	// calling emit after each batch and once more on completion. A
	// failing item never aborts the run.
	BulkRecheck(ctx context.Context, ids []snowflake.ID, emit func(ProgressEvent)) (*Summary, error)
}
