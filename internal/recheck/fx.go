package recheck

import (
	"github.com/sadaqahq/amanah/internal/recheck/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recheck.service",
	fx.Provide(service.NewService),
)
