package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/identity"
	webhookdomain "github.com/sadaqahq/amanah/internal/webhook/domain"
)

const (
	headerWebhookSignature = "X-Razorpay-Signature"
	headerWebhookEventID   = "X-Razorpay-Event-Id"
)

// HandleGatewayWebhook ingests one gateway delivery. A bad signature is
// the only rejection; everything past that gate is acknowledged with
// 200 so the gateway stops retrying, and processing failures are
// captured for operations instead.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if !gatewaydomain.VerifySignature(payload, c.GetHeader(headerWebhookSignature), s.cfg.Gateway.WebhookSecret) {
		AbortWithError(c, newValidationError("signature", "invalid_signature", "invalid signature"))
		return
	}

	var head struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(payload, &head)

	envelope := webhookdomain.Envelope{
		EventID:   strings.TrimSpace(c.GetHeader(headerWebhookEventID)),
		EventType: strings.TrimSpace(head.Event),
		Raw:       payload,
	}

	ctx := identity.WithActor(c.Request.Context(), identity.ActorTypeSystem, "gateway")
	err = s.webhookSvc.Process(ctx, envelope)
	if err != nil && !errors.Is(err, webhookdomain.ErrEventAlreadyProcessed) {
		s.alerts.Capture(ctx, "webhook.ingest", err, map[string]any{
			"gateway_event_id": envelope.EventID,
			"event_type":       envelope.EventType,
		})
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
