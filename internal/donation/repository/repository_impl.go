package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/donation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, donation *domain.Donation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO donations (
			id, subscription_id, kind, donor_name, donor_email,
			amount, currency, status, payment_verified, audit_status,
			gateway_order_id, gateway_payment_id, receipt, failure_reason,
			verified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		donation.ID,
		donation.SubscriptionID,
		donation.Kind,
		donation.DonorName,
		donation.DonorEmail,
		donation.Amount,
		donation.Currency,
		donation.Status,
		donation.PaymentVerified,
		donation.AuditStatus,
		donation.GatewayOrderID,
		donation.GatewayPaymentID,
		donation.Receipt,
		donation.FailureReason,
		donation.VerifiedAt,
		donation.CreatedAt,
		donation.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Donation, error) {
	var donation domain.Donation
	err := db.WithContext(ctx).
		Table("donations").
		Where("id = ?", id).
		First(&donation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Donation, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, domain.ErrDonationNotFound
	}

	var donation domain.Donation
	err := db.WithContext(ctx).
		Table("donations").
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&donation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	return &donation, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Donation, error) {
	query := db.WithContext(ctx).Table("donations")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *filter.SubscriptionID)
	}
	if email := strings.TrimSpace(filter.DonorEmail); email != "" {
		query = query.Where("donor_email = ?", email)
	}
	if filter.Cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var items []*domain.Donation
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*domain.Donation, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []*domain.Donation
	err := db.WithContext(ctx).
		Table("donations").
		Where("status = ?", domain.StatusPending).
		Where("gateway_payment_id IS NOT NULL").
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkCompleted guards the transition in the WHERE clause so a stale
// or duplicate delivery cannot rewrite a terminal row. gateway_payment_id
// is only filled when the caller supplies one, never cleared.
func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE donations
		SET status = ?,
			payment_verified = ?,
			audit_status = ?,
			gateway_payment_id = COALESCE(NULLIF(?, ''), gateway_payment_id),
			verified_at = ?,
			updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		domain.StatusCompleted,
		true,
		domain.AuditVerified,
		strings.TrimSpace(paymentID),
		at,
		at,
		id,
		domain.StatusPending,
		domain.StatusFailed,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE donations
		SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		strings.TrimSpace(reason),
		at,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE donations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusRefunded,
		at,
		id,
		domain.StatusCompleted,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetGatewayOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayOrderID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE donations SET gateway_order_id = ? WHERE id = ?`,
		strings.TrimSpace(gatewayOrderID),
		id,
	).Error
}

func (r *repo) InsertRecheck(ctx context.Context, db *gorm.DB, entry *domain.RecheckEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO donation_rechecks (
			id, donation_id, previous_status, current_status, performed_at, raw_response
		) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DonationID,
		entry.PreviousStatus,
		entry.CurrentStatus,
		entry.PerformedAt,
		entry.RawResponse,
	).Error
}

func (r *repo) ListRechecks(ctx context.Context, db *gorm.DB, donationID snowflake.ID) ([]*domain.RecheckEntry, error) {
	var items []*domain.RecheckEntry
	err := db.WithContext(ctx).
		Table("donation_rechecks").
		Where("donation_id = ?", donationID).
		Order("performed_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
