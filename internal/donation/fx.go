package donation

import (
	"github.com/sadaqahq/amanah/internal/donation/repository"
	"github.com/sadaqahq/amanah/internal/donation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("donation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
