// Package domain holds the donation record model. A donation row is
// one payment attempt: a one-off gift, a purchase, or a single cycle
// of a recurring pledge.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindDonation Kind = "donation"
	KindPurchase Kind = "purchase"
	KindCycle    Kind = "cycle"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// StatusFromGateway maps the canonical gateway payment vocabulary onto
// a donation status. The second return is false for anything outside
// the known set.
func StatusFromGateway(state string) (Status, bool) {
	switch Status(state) {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return Status(state), true
	default:
		return "", false
	}
}

type AuditStatus string

const (
	AuditUnverified AuditStatus = "unverified"
	AuditVerified   AuditStatus = "verified"
	AuditRejected   AuditStatus = "rejected"
)

type Donation struct {
	ID               snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	SubscriptionID   *snowflake.ID `gorm:"column:subscription_id" json:"subscription_id,omitempty"`
	Kind             Kind          `gorm:"column:kind" json:"kind"`
	DonorName        string        `gorm:"column:donor_name" json:"donor_name"`
	DonorEmail       string        `gorm:"column:donor_email" json:"donor_email"`
	Amount           int64         `gorm:"column:amount" json:"amount"`
	Currency         string        `gorm:"column:currency" json:"currency"`
	Status           Status        `gorm:"column:status" json:"status"`
	PaymentVerified  bool          `gorm:"column:payment_verified" json:"payment_verified"`
	AuditStatus      AuditStatus   `gorm:"column:audit_status" json:"audit_status"`
	GatewayOrderID   string        `gorm:"column:gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID *string       `gorm:"column:gateway_payment_id" json:"gateway_payment_id,omitempty"`
	Receipt          string        `gorm:"column:receipt" json:"receipt"`
	FailureReason    *string       `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	VerifiedAt       *time.Time    `gorm:"column:verified_at" json:"verified_at,omitempty"`
	CreatedAt        time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Donation) TableName() string { return "donations" }

// RecheckEntry is one append-only row of recheck history for a
// donation.
type RecheckEntry struct {
	ID             snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	DonationID     snowflake.ID   `gorm:"column:donation_id" json:"donation_id"`
	PreviousStatus Status         `gorm:"column:previous_status" json:"previous_status"`
	CurrentStatus  Status         `gorm:"column:current_status" json:"current_status"`
	PerformedAt    time.Time      `gorm:"column:performed_at" json:"performed_at"`
	RawResponse    datatypes.JSON `gorm:"column:raw_response" json:"raw_response,omitempty"`
}

func (RecheckEntry) TableName() string { return "donation_rechecks" }

type DonationCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status         Status
	Kind           Kind
	SubscriptionID *snowflake.ID
	DonorEmail     string
	Cursor         *DonationCursor
	Limit          int
}
