package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/internal/subscriptions"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/config"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/metrics"
)

const (
	defaultSweepInterval = time.Minute
	defaultBatchSize     = 100
	defaultLockTTL       = 5 * time.Minute

	sweepJob     = "collect_sweep"
	reconcileJob = "plan_reconcile"
)

type pinger interface {
	Ping(context.Context) error
}

type billingRail interface {
	ListDue(ctx context.Context, now int64, limit int) ([]models.Subscription, error)
	ProcessPayment(ctx context.Context, input subscriptions.CollectInput) (*models.Subscription, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, batchSize int) (*plans.ReconcileReport, error)
}

type lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            pinger
	Subscriptions billingRail
	Plans         reconciler
	Lock          lock
	Metrics       *metrics.JobMetrics
	Clock         clock.Clock
}

// Service periodically sweeps subscriptions whose due window has
// opened and collects their payments. The sweep runs under a shared
// lock so only one replica charges at a time; individual collection
// failures are logged and skipped so one bad row cannot stall the
// rest of the batch.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	db        pinger
	subs      billingRail
	plans     reconciler
	lock      lock
	metrics   *metrics.JobMetrics
	clock     clock.Clock
	batchSize int
	interval  time.Duration
	reconcile bool
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Subscriptions == nil {
		return nil, errors.New("subscriptions service is required")
	}
	if params.Lock == nil {
		return nil, errors.New("sweep lock is required")
	}
	if params.Clock == nil {
		params.Clock = clock.System{}
	}

	batch := params.Config.Collector.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := params.Config.Collector.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		db:        params.DB,
		subs:      params.Subscriptions,
		plans:     params.Plans,
		lock:      params.Lock,
		metrics:   params.Metrics,
		clock:     params.Clock,
		batchSize: batch,
		interval:  interval,
		reconcile: params.Config.Collector.Reconcile,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	for {
		if err := s.sweepOnce(ctx); err != nil {
			s.logg.Error(ctx, "collection sweep failed", err)
			s.metrics.IncFailure(sweepJob)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logg.Info(ctx, "collector context canceled")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// sweepOnce collects every due subscription it can and reports only
// infrastructure errors; per-subscription coded failures are logged
// and skipped.
func (s *Service) sweepOnce(ctx context.Context) error {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !acquired {
		s.logg.Info(ctx, "sweep lock held by another collector, skipping")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to release sweep lock")
		}
	}()

	started := s.clock.Now()
	defer func() {
		s.metrics.ObserveDuration(sweepJob, s.clock.Now().Sub(started))
	}()

	now := s.clock.Now().Unix()
	due, err := s.subs.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("listing due subscriptions: %w", err)
	}

	collected := 0
	skipped := 0
	for _, sub := range due {
		fields := map[string]any{
			"subscription_address": sub.Address,
			"plan_address":         sub.PlanAddress,
			"subscriber":           sub.Subscriber.String(),
		}
		// Collection is only valid under the subscriber's own identity,
		// so the sweep acts with the standing authorization each row's
		// subscriber granted at enrollment.
		_, err := s.subs.ProcessPayment(ctx, subscriptions.CollectInput{
			Caller:      sub.Subscriber,
			PlanAddress: sub.PlanAddress,
			Subscriber:  sub.Subscriber,
		})
		if err != nil {
			skipped++
			// A coded failure here usually means the row changed between
			// listing and collecting (already collected, plan paused,
			// window expired). Anything uncoded is a real problem.
			if coded := pkgerrors.As(err); coded != nil {
				fields["code"] = string(coded.Code())
				s.logg.Warn(s.logg.WithFields(ctx, fields), "skipping due subscription")
				continue
			}
			s.logg.Error(s.logg.WithFields(ctx, fields), "payment collection failed", err)
			continue
		}
		collected++
		s.logg.Info(s.logg.WithFields(ctx, fields), "payment collected")
	}

	s.metrics.IncSuccess(sweepJob)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"due":       len(due),
		"collected": collected,
		"skipped":   skipped,
	}), "collection sweep finished")

	if s.reconcile && s.plans != nil {
		s.reconcilePlans(ctx)
	}
	return nil
}

// reconcilePlans repairs subscriber counters that drifted from the
// live subscription rows. Drift should not happen; when it does, the
// repair is logged loudly so the cause can be chased down.
func (s *Service) reconcilePlans(ctx context.Context) {
	started := s.clock.Now()
	report, err := s.plans.Reconcile(ctx, s.batchSize)
	s.metrics.ObserveDuration(reconcileJob, s.clock.Now().Sub(started))
	if err != nil {
		s.logg.Error(ctx, "plan reconciliation failed", err)
		s.metrics.IncFailure(reconcileJob)
		return
	}
	s.metrics.IncSuccess(reconcileJob)

	if len(report.Drifts) == 0 {
		s.logg.Info(s.logg.WithField(ctx, "checked", report.Checked), "plan counters reconciled, no drift")
		return
	}
	for _, drift := range report.Drifts {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"plan_address": drift.PlanAddress,
			"stored":       drift.Stored,
			"actual":       drift.Actual,
		}), "repaired drifted subscriber counter")
	}
}
