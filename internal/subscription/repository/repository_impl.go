package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, donor_name, donor_email, user_id, cadence, amount, currency,
			status, gateway_subscription_id, gateway_customer_id,
			start_at, next_payment_at, end_at,
			total_cycles, total_paid, payment_count, failed_payment_count,
			last_payment_at, status_reason, status_actor, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.DonorName,
		subscription.DonorEmail,
		subscription.UserID,
		subscription.Cadence,
		subscription.Amount,
		subscription.Currency,
		subscription.Status,
		subscription.GatewaySubscriptionID,
		subscription.GatewayCustomerID,
		subscription.StartAt,
		subscription.NextPaymentAt,
		subscription.EndAt,
		subscription.TotalCycles,
		subscription.TotalPaid,
		subscription.PaymentCount,
		subscription.FailedPaymentCount,
		subscription.LastPaymentAt,
		subscription.StatusReason,
		subscription.StatusActor,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Table("subscriptions").
		Where("id = ?", id).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

// FindByIDForUpdate takes a row lock so a transition validates against
// the freshest status. SQLite has no row locks; its single writer
// serializes the transaction anyway.
func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	query := db.WithContext(ctx).Table("subscriptions")
	if db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var subscription domain.Subscription
	err := query.Where("id = ?", id).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByGatewaySubscriptionID(ctx context.Context, db *gorm.DB, gatewayID string) (*domain.Subscription, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	if gatewayID == "" {
		return nil, domain.ErrSubscriptionNotFound
	}

	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Table("subscriptions").
		Where("gateway_subscription_id = ?", gatewayID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			status = ?,
			gateway_subscription_id = ?,
			next_payment_at = ?,
			total_paid = ?,
			payment_count = ?,
			failed_payment_count = ?,
			last_payment_at = ?,
			status_reason = ?,
			status_actor = ?,
			updated_at = ?
		WHERE id = ?`,
		subscription.Status,
		subscription.GatewaySubscriptionID,
		subscription.NextPaymentAt,
		subscription.TotalPaid,
		subscription.PaymentCount,
		subscription.FailedPaymentCount,
		subscription.LastPaymentAt,
		subscription.StatusReason,
		subscription.StatusActor,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Subscription, error) {
	query := db.WithContext(ctx).Table("subscriptions")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
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

	var items []*domain.Subscription
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

func (r *repo) FindEndedBefore(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}

	var items []*domain.Subscription
	err := db.WithContext(ctx).
		Table("subscriptions").
		Where("status IN (?, ?, ?)", domain.StatusPendingPayment, domain.StatusActive, domain.StatusPaused).
		Where("end_at IS NOT NULL AND end_at < ?", now).
		Order("end_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
