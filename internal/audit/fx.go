package audit

import (
	"github.com/sadaqahq/amanah/internal/audit/repository"
	"github.com/sadaqahq/amanah/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
