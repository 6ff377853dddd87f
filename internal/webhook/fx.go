package webhook

import (
	"github.com/sadaqahq/amanah/internal/webhook/repository"
	"github.com/sadaqahq/amanah/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
