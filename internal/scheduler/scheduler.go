// Package scheduler runs the periodic maintenance jobs: expiring
// pledges past their end date and re-verifying donations stuck in
// pending.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	"github.com/sadaqahq/amanah/internal/identity"
	recheckdomain "github.com/sadaqahq/amanah/internal/recheck/domain"
	subscriptiondomain "github.com/sadaqahq/amanah/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	AppConfig       config.Config
	SubscriptionSvc subscriptiondomain.Service
	DonationSvc     donationdomain.Service
	RecheckSvc      recheckdomain.Service
	Config          Config `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	appCfg          config.Config
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	donationSvc     donationdomain.Service
	recheckSvc      recheckdomain.Service
}

var ErrInvalidConfig = errors.New("scheduler requires all dependencies")

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.DonationSvc == nil || p.RecheckSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		cfg:             p.Config.withDefaults(),
		appCfg:          p.AppConfig,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		donationSvc:     p.DonationSvc,
		recheckSvc:      p.RecheckSvc,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx = identity.WithActor(ctx, identity.ActorTypeSystem, "scheduler")

	var firstErr error
	if err := s.expirePledges(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.recheckStalePending(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Scheduler) expirePledges(ctx context.Context) error {
	expired, err := s.subscriptionSvc.ExpireDue(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired pledges past their end date", zap.Int("count", expired))
	}
	return nil
}

// recheckStalePending sweeps donations that have carried a payment
// reference in pending for too long, which usually means a capture
// webhook was lost.
func (s *Scheduler) recheckStalePending(ctx context.Context) error {
	threshold := s.appCfg.Recheck.StalePending
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	cutoff := s.clock.Now().Add(-threshold)

	stale, err := s.donationSvc.FindStalePending(ctx, cutoff, s.cfg.RecheckBatchLimit)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]snowflake.ID, 0, len(stale))
	for _, donation := range stale {
		ids = append(ids, donation.ID)
	}

	s.log.Info("re-verifying stale pending donations", zap.Int("count", len(ids)))

	summary, err := s.recheckSvc.BulkRecheck(ctx, ids, nil)
	if errors.Is(err, recheckdomain.ErrBulkInProgress) {
		s.log.Debug("bulk recheck already running, skipping sweep")
		return nil
	}
	if err != nil {
		return err
	}

	s.log.Info("stale pending sweep finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
