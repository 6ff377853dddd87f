package gateway

import (
	"github.com/sadaqahq/amanah/internal/gateway/razorpay"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(razorpay.New),
)
