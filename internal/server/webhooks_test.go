package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sadaqahq/amanah/internal/config"
	webhookdomain "github.com/sadaqahq/amanah/internal/webhook/domain"
)

type fakeWebhookService struct {
	err       error
	envelopes []webhookdomain.Envelope
}

func (f *fakeWebhookService) Process(ctx context.Context, envelope webhookdomain.Envelope) error {
	_ = ctx
	f.envelopes = append(f.envelopes, envelope)
	return f.err
}

type fakeSink struct {
	captures  int
	lastScope string
}

func (f *fakeSink) Capture(ctx context.Context, scope string, err error, fields map[string]any) {
	_ = ctx
	_ = err
	_ = fields
	f.captures++
	f.lastScope = scope
}

func newWebhookTestRouter(svc webhookdomain.Service, sink *fakeSink) *gin.Engine {
	gin.SetMode(gin.TestMode)

	srv := &Server{
		cfg: config.Config{
			Gateway: config.GatewayConfig{WebhookSecret: "whsec_test"},
		},
		webhookSvc: svc,
		alerts:     sink,
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/webhooks/razorpay", srv.HandleGatewayWebhook)
	return router
}

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{}
	router := newWebhookTestRouter(svc, &fakeSink{})

	body := `{"event":"payment.captured","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	req.Header.Set("X-Razorpay-Signature", "deadbeef")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if len(svc.envelopes) != 0 {
		t.Fatal("expected service not to be called for a bad signature")
	}
}

func TestWebhookAcknowledgesValidDelivery(t *testing.T) {
	svc := &fakeWebhookService{}
	router := newWebhookTestRouter(svc, &fakeSink{})

	body := `{"event":"payment.captured","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_2")
	req.Header.Set("X-Razorpay-Signature", signBody(body, "whsec_test"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(svc.envelopes) != 1 {
		t.Fatalf("expected one processed envelope, got %d", len(svc.envelopes))
	}
	envelope := svc.envelopes[0]
	if envelope.EventID != "evt_2" {
		t.Fatalf("expected event id evt_2, got %q", envelope.EventID)
	}
	if envelope.EventType != "payment.captured" {
		t.Fatalf("expected event type payment.captured, got %q", envelope.EventType)
	}
}

func TestWebhookDuplicateDeliveryStillAcknowledged(t *testing.T) {
	svc := &fakeWebhookService{err: webhookdomain.ErrEventAlreadyProcessed}
	sink := &fakeSink{}
	router := newWebhookTestRouter(svc, sink)

	body := `{"event":"order.paid","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_3")
	req.Header.Set("X-Razorpay-Signature", signBody(body, "whsec_test"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if sink.captures != 0 {
		t.Fatal("duplicates are routine, not alertable")
	}
}

func TestWebhookProcessingFailureAcknowledgedAndCaptured(t *testing.T) {
	svc := &fakeWebhookService{err: errors.New("db write failed")}
	sink := &fakeSink{}
	router := newWebhookTestRouter(svc, sink)

	body := `{"event":"subscription.charged","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_4")
	req.Header.Set("X-Razorpay-Signature", signBody(body, "whsec_test"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if sink.captures != 1 {
		t.Fatalf("expected one capture, got %d", sink.captures)
	}
	if sink.lastScope != "webhook.ingest" {
		t.Fatalf("unexpected capture scope %q", sink.lastScope)
	}
}
