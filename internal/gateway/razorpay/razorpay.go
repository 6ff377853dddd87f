// Package razorpay implements the gateway client against the Razorpay
// REST API. All amounts are minor units, matching the internal model.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sadaqahq/amanah/internal/config"
	"github.com/sadaqahq/amanah/internal/gateway/domain"
	"go.uber.org/zap"
)

type client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	log       *zap.Logger
}

// New builds a gateway client from the gateway section of the config.
// The HTTP timeout bounds every call so a wedged gateway cannot stall
// the recheck loop.
func New(cfg config.Config, log *zap.Logger) domain.Client {
	timeout := cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.Gateway.BaseURL), "/"),
		keyID:     strings.TrimSpace(cfg.Gateway.KeyID),
		keySecret: strings.TrimSpace(cfg.Gateway.KeySecret),
		http:      &http.Client{Timeout: timeout},
		log:       log.Named("gateway.razorpay"),
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	CreatedAt int64  `json:"created_at"`
}

func (c *client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	body := orderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, domain.ErrInvalidResponse
	}

	return &domain.Order{
		ID:        resp.ID,
		Amount:    resp.Amount,
		Currency:  resp.Currency,
		Receipt:   resp.Receipt,
		CreatedAt: time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

type subscriptionRequest struct {
	PlanID     string            `json:"plan_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	TotalCount int               `json:"total_count"`
	Notes      map[string]string `json:"notes,omitempty"`
}

type subscriptionResponse struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
}

func (c *client) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.SubscriptionRef, error) {
	body := subscriptionRequest{
		PlanID:     req.PlanID,
		CustomerID: req.CustomerID,
		TotalCount: req.TotalCount,
		Notes:      req.Notes,
	}

	var resp subscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, domain.ErrInvalidResponse
	}

	return &domain.SubscriptionRef{
		ID:         resp.ID,
		CustomerID: resp.CustomerID,
		PlanID:     resp.PlanID,
		Status:     resp.Status,
	}, nil
}

type paymentResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"created_at"`
}

func (c *client) FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, domain.ErrPaymentNotFound
	}

	raw, status, err := c.doRaw(ctx, http.MethodGet, "/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrPaymentNotFound
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, status)
	}

	var resp paymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ErrInvalidResponse
	}
	if resp.ID == "" {
		return nil, domain.ErrInvalidResponse
	}

	payment := &domain.Payment{
		ID:          resp.ID,
		OrderID:     resp.OrderID,
		State:       mapPaymentStatus(resp.Status),
		Amount:      resp.Amount,
		Currency:    resp.Currency,
		Method:      resp.Method,
		RawResponse: raw,
	}
	if payment.State == domain.PaymentStateCompleted && resp.CreatedAt > 0 {
		capturedAt := time.Unix(resp.CreatedAt, 0).UTC()
		payment.CapturedAt = &capturedAt
	}
	return payment, nil
}

type refundRequest struct {
	Amount int64             `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

func (c *client) Refund(ctx context.Context, req domain.RefundRequest) (*domain.Refund, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, domain.ErrPaymentNotFound
	}

	var resp refundResponse
	path := "/payments/" + paymentID + "/refund"
	if err := c.do(ctx, http.MethodPost, path, refundRequest{Amount: req.Amount, Notes: req.Notes}, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, domain.ErrInvalidResponse
	}

	return &domain.Refund{
		ID:        resp.ID,
		PaymentID: resp.PaymentID,
		Amount:    resp.Amount,
		CreatedAt: time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

// mapPaymentStatus translates Razorpay's payment states into the
// canonical vocabulary. "authorized" means funds are held but not yet
// captured, so it stays pending.
func mapPaymentStatus(status string) domain.PaymentState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured":
		return domain.PaymentStateCompleted
	case "refunded":
		return domain.PaymentStateRefunded
	case "failed":
		return domain.PaymentStateFailed
	default:
		return domain.PaymentStatePending
	}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	raw, status, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		c.log.Warn("gateway request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
		)
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.ErrInvalidResponse
	}
	return nil
}

func (c *client) doRaw(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, 0, domain.ErrGatewayTimeout
		}
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return raw, resp.StatusCode, nil
}
