package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sadaqahq/amanah/internal/alerting"
	"github.com/sadaqahq/amanah/internal/audit"
	auditdomain "github.com/sadaqahq/amanah/internal/audit/domain"
	"github.com/sadaqahq/amanah/internal/config"
	"github.com/sadaqahq/amanah/internal/donation"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	"github.com/sadaqahq/amanah/internal/gateway"
	"github.com/sadaqahq/amanah/internal/observability"
	obsmiddleware "github.com/sadaqahq/amanah/internal/observability/logger"
	obsmetrics "github.com/sadaqahq/amanah/internal/observability/metrics"
	obstracing "github.com/sadaqahq/amanah/internal/observability/tracing"
	"github.com/sadaqahq/amanah/internal/providers/email"
	"github.com/sadaqahq/amanah/internal/recheck"
	recheckdomain "github.com/sadaqahq/amanah/internal/recheck/domain"
	"github.com/sadaqahq/amanah/internal/subscription"
	subscriptiondomain "github.com/sadaqahq/amanah/internal/subscription/domain"
	"github.com/sadaqahq/amanah/internal/webhook"
	webhookdomain "github.com/sadaqahq/amanah/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	gateway.Module,
	email.Module,
	alerting.Module,
	donation.Module,
	subscription.Module,
	webhook.Module,
	recheck.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	donationSvc     donationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	webhookSvc      webhookdomain.Service
	recheckSvc      recheckdomain.Service
	auditSvc        auditdomain.Service
	alerts          alerting.Sink
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	DonationSvc     donationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	WebhookSvc      webhookdomain.Service
	RecheckSvc      recheckdomain.Service
	AuditSvc        auditdomain.Service
	Alerts          alerting.Sink
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		donationSvc:     p.DonationSvc,
		subscriptionSvc: p.SubscriptionSvc,
		webhookSvc:      p.WebhookSvc,
		recheckSvc:      p.RecheckSvc,
		auditSvc:        p.AuditSvc,
		alerts:          p.Alerts,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.ActorContext())

	// -------- Donations --------
	api.POST("/donations", s.CreateDonation)
	api.GET("/donations", s.RequireAdmin(), s.ListDonations)
	api.GET("/donations/:id", s.GetDonationByID)
	api.GET("/donations/:id/rechecks", s.RequireAdmin(), s.ListDonationRechecks)
	api.POST("/donations/:id/refund", s.RequireAdmin(), s.RefundDonation)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions", s.RequireAdmin(), s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/pause", s.PauseSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	// -------- Reconciliation --------
	api.POST("/rechecks", s.RequireAdmin(), s.RecheckDonation)
	api.POST("/rechecks/bulk", s.RequireAdmin(), s.BulkRecheck)

	api.GET("/audit-logs", s.RequireAdmin(), s.ListAuditLogs)
}

func (s *Server) registerWebhookRoutes() {
	// No actor middleware; the signature is the authentication.
	s.engine.POST("/webhooks/razorpay", s.HandleGatewayWebhook)
}
