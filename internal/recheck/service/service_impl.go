package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sadaqahq/amanah/internal/clock"
	"github.com/sadaqahq/amanah/internal/config"
	donationdomain "github.com/sadaqahq/amanah/internal/donation/domain"
	gatewaydomain "github.com/sadaqahq/amanah/internal/gateway/domain"
	"github.com/sadaqahq/amanah/internal/locking"
	"github.com/sadaqahq/amanah/internal/observability/metrics"
	"github.com/sadaqahq/amanah/internal/recheck/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// bulkLockKey serializes bulk runs across replicas.
const bulkLockKey = "recheck:bulk:lock"

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Donations donationdomain.Service
	Gateway   gatewaydomain.Client
	Locker    *locking.Locker  `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg       config.Config
	log       *zap.Logger
	clock     clock.Clock
	donations donationdomain.Service
	gateway   gatewaydomain.Client
	locker    *locking.Locker
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:       p.Config,
		log:       p.Log.Named("recheck.service"),
		clock:     p.Clock,
		donations: p.Donations,
		gateway:   p.Gateway,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}
}

func (s *Service) Recheck(ctx context.Context, donationID snowflake.ID) (*domain.Result, error) {
	donation, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, err
	}

	// Without a gateway payment id there is nothing to ask the gateway
	// about. Fail fast, no network call.
	if donation.GatewayPaymentID == nil || *donation.GatewayPaymentID == "" {
		return nil, domain.ErrMissingPaymentRef
	}

	timeout := s.cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payment, err := s.gateway.FetchPayment(fetchCtx, *donation.GatewayPaymentID)
	if err != nil {
		s.metrics.RecordGatewayFailure(ctx, "fetch_payment")
		s.metrics.RecordRecheckItem(ctx, "gateway_error")
		s.log.Warn("recheck gateway fetch failed",
			zap.String("donation_id", donationID.String()),
			zap.Error(err),
		)
		// A gateway fault is a recheck outcome, not a caller error. The
		// local status stands and the attempt still lands in history, so
		// a later manual recheck can pick it up.
		s.appendHistory(ctx, &donationdomain.RecheckEntry{
			DonationID:     donationID,
			PreviousStatus: donation.Status,
			CurrentStatus:  donation.Status,
			PerformedAt:    s.clock.Now(),
		})
		return &domain.Result{
			DonationID:     donationID,
			PreviousStatus: donation.Status,
			CurrentStatus:  donation.Status,
			Success:        false,
			Message:        "gateway unreachable",
			Error:          err.Error(),
		}, nil
	}

	previous := donation.Status
	gatewayStatus, known := donationdomain.StatusFromGateway(string(payment.State))
	if !known {
		return nil, gatewaydomain.ErrInvalidResponse
	}

	current, err := s.apply(ctx, donation, gatewayStatus, payment)
	if err != nil {
		return nil, err
	}

	entry := &donationdomain.RecheckEntry{
		DonationID:     donationID,
		PreviousStatus: previous,
		CurrentStatus:  current,
		PerformedAt:    s.clock.Now(),
	}
	if len(payment.RawResponse) > 0 {
		entry.RawResponse = datatypes.JSON(payment.RawResponse)
	}
	s.appendHistory(ctx, entry)

	result := &domain.Result{
		DonationID:     donationID,
		PreviousStatus: previous,
		CurrentStatus:  current,
		Changed:        current != previous,
		Success:        true,
	}
	if result.Changed {
		result.Message = fmt.Sprintf("updated from %s to %s", previous, current)
		s.metrics.RecordRecheckItem(ctx, "updated")
	} else {
		result.Message = "confirmed, no change"
		s.metrics.RecordRecheckItem(ctx, "unchanged")
	}
	return result, nil
}

// apply folds the gateway's answer into the local record through the
// donation service, so the usual transition rules hold. A terminal
// local status beats stale gateway data.
func (s *Service) apply(
	ctx context.Context,
	donation *donationdomain.Donation,
	gatewayStatus donationdomain.Status,
	payment *gatewaydomain.Payment,
) (donationdomain.Status, error) {
	switch gatewayStatus {
	case donationdomain.StatusCompleted:
		updated, err := s.donations.MarkCompleted(ctx, donationdomain.CompletionRef{
			DonationID:       donation.ID,
			GatewayPaymentID: payment.ID,
		})
		if errors.Is(err, donationdomain.ErrInvalidTransition) {
			return s.currentStatus(ctx, donation)
		}
		if err != nil {
			return "", err
		}
		return updated.Status, nil

	case donationdomain.StatusFailed:
		updated, err := s.donations.MarkFailed(ctx, donation.ID, "reported failed by gateway")
		if errors.Is(err, donationdomain.ErrInvalidTransition) {
			return s.currentStatus(ctx, donation)
		}
		if err != nil {
			return "", err
		}
		return updated.Status, nil

	case donationdomain.StatusRefunded:
		updated, err := s.donations.MarkRefunded(ctx, donation.ID)
		if errors.Is(err, donationdomain.ErrRefundNotCompleted) || errors.Is(err, donationdomain.ErrInvalidTransition) {
			return s.currentStatus(ctx, donation)
		}
		if err != nil {
			return "", err
		}
		return updated.Status, nil

	default:
		return s.currentStatus(ctx, donation)
	}
}

func (s *Service) appendHistory(ctx context.Context, entry *donationdomain.RecheckEntry) {
	if err := s.donations.AppendRecheck(ctx, entry); err != nil {
		s.log.Warn("failed to append recheck history",
			zap.String("donation_id", entry.DonationID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) currentStatus(ctx context.Context, donation *donationdomain.Donation) (donationdomain.Status, error) {
	current, err := s.donations.Get(ctx, donation.ID)
	if err != nil {
		return "", err
	}
	return current.Status, nil
}

func (s *Service) BulkRecheck(ctx context.Context, ids []snowflake.ID, emit func(domain.ProgressEvent)) (*domain.Summary, error) {
	if emit == nil {
		emit = func(domain.ProgressEvent) {}
	}

	token, acquired, err := s.locker.TryLock(ctx, bulkLockKey, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrBulkInProgress
	}

	// The run must survive the caller walking away mid stream; a half
	// reconciled sweep is worse than a dropped connection.
	runCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := s.locker.Release(runCtx, bulkLockKey, token); err != nil {
			s.log.Warn("failed to release bulk recheck lock", zap.Error(err))
		}
	}()

	batchSize := s.cfg.Recheck.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	total := len(ids)
	summary := &domain.Summary{Total: total, Results: make([]domain.Result, 0, total)}

	var mu sync.Mutex
	processed := 0
	batchNumber := 0

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := ids[start:end]
		batchNumber++

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			go func(donationID snowflake.ID) {
				defer wg.Done()
				result := s.recheckItem(runCtx, donationID)

				mu.Lock()
				summary.Results = append(summary.Results, result)
				processed++
				mu.Unlock()
			}(id)
		}
		wg.Wait()

		emit(domain.ProgressEvent{
			Type:      domain.EventProgress,
			Processed: processed,
			Total:     total,
			Batch:     batchNumber,
		})

		if end < total {
			s.pause(runCtx)
		}
	}

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].DonationID < summary.Results[j].DonationID
	})
	for _, result := range summary.Results {
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	emit(domain.ProgressEvent{
		Type:      domain.EventComplete,
		Processed: processed,
		Total:     total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Results:   summary.Results,
	})

	return summary, nil
}

func (s *Service) recheckItem(ctx context.Context, donationID snowflake.ID) domain.Result {
	result, err := s.Recheck(ctx, donationID)
	if err != nil {
		s.log.Warn("bulk recheck item failed",
			zap.String("donation_id", donationID.String()),
			zap.Error(err),
		)
		return domain.Result{
			DonationID: donationID,
			Success:    false,
			Message:    "recheck failed",
			Error:      err.Error(),
		}
	}
	return *result
}

func (s *Service) pause(ctx context.Context) {
	pause := s.cfg.Recheck.BatchPause
	if pause <= 0 {
		pause = 500 * time.Millisecond
	}
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
