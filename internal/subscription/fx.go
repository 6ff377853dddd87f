package subscription

import (
	"github.com/sadaqahq/amanah/internal/subscription/repository"
	"github.com/sadaqahq/amanah/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
