package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, donation *Donation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Donation, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Donation, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Donation, error)
	FindStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*Donation, error)

	// MarkCompleted flips a pending or failed donation to completed in
	// one statement and reports whether any row changed.
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	SetGatewayOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayOrderID string) error

	InsertRecheck(ctx context.Context, db *gorm.DB, entry *RecheckEntry) error
	ListRechecks(ctx context.Context, db *gorm.DB, donationID snowflake.ID) ([]*RecheckEntry, error)
}
