// Package alerting captures errors that are deliberately swallowed at
// a boundary, such as webhook processing failures acknowledged with
// 200. Captures are logged and, when configured, forwarded to an
// operations webhook.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sadaqahq/amanah/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Sink interface {
	Capture(ctx context.Context, scope string, err error, fields map[string]any)
}

type sink struct {
	log        *zap.Logger
	webhookURL string
	client     *http.Client
}

func New(cfg config.Config, log *zap.Logger) Sink {
	return &sink{
		log:        log.Named("alerting"),
		webhookURL: strings.TrimSpace(cfg.Alert.WebhookURL),
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *sink) Capture(ctx context.Context, scope string, err error, fields map[string]any) {
	if err == nil {
		return
	}

	zapFields := []zap.Field{
		zap.String("scope", scope),
		zap.Error(err),
	}
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	s.log.Error("captured swallowed error", zapFields...)

	if s.webhookURL == "" {
		return
	}

	payload := map[string]any{
		"scope":   scope,
		"error":   err.Error(),
		"details": fields,
	}
	body, merr := json.Marshal(payload)
	if merr != nil {
		return
	}

	// Fire and forget; alert delivery must never slow the caller.
	detached := context.WithoutCancel(ctx)
	go func() {
		req, rerr := http.NewRequestWithContext(detached, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if rerr != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, derr := s.client.Do(req)
		if derr != nil {
			s.log.Warn("failed to deliver alert", zap.Error(derr))
			return
		}
		_ = resp.Body.Close()
	}()
}

var Module = fx.Module("alerting",
	fx.Provide(New),
)
