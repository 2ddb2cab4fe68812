package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/internal/subscriptions"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/config"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/metrics"
)

type fakeRail struct {
	due       []models.Subscription
	listCalls int
	listErr   error
	collected []subscriptions.CollectInput
	errByPlan map[string]error
}

func (f *fakeRail) ListDue(_ context.Context, now int64, limit int) ([]models.Subscription, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.due, nil
}

func (f *fakeRail) ProcessPayment(_ context.Context, input subscriptions.CollectInput) (*models.Subscription, error) {
	f.collected = append(f.collected, input)
	if err, ok := f.errByPlan[input.PlanAddress]; ok {
		return nil, err
	}
	return &models.Subscription{PlanAddress: input.PlanAddress, Subscriber: input.Subscriber}, nil
}

type fakeReconciler struct {
	calls  int
	report *plans.ReconcileReport
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, batchSize int) (*plans.ReconcileReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &plans.ReconcileReport{}, nil
}

type fakeLock struct {
	held       bool
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquired++
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	return !f.held, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testCollectorConfig() *config.Config {
	return &config.Config{
		Collector: config.CollectorConfig{
			SweepInterval: time.Minute,
			BatchSize:     10,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, rail *fakeRail, rec reconciler, lk lock) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            okPinger{},
		Subscriptions: rail,
		Plans:         rec,
		Lock:          lk,
		Metrics:       metrics.NewJobMetrics(nil),
		Clock:         clock.At(1_700_000_000),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func dueSubscription(plan string) models.Subscription {
	return models.Subscription{
		Address:     "sub-" + plan,
		PlanAddress: plan,
		Subscriber:  uuid.New(),
	}
}

func TestSweepCollectsDueSubscriptions(t *testing.T) {
	rail := &fakeRail{due: []models.Subscription{dueSubscription("plan-a"), dueSubscription("plan-b")}}
	lk := &fakeLock{}
	service := newTestService(t, testCollectorConfig(), rail, nil, lk)

	if err := service.sweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if len(rail.collected) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(rail.collected))
	}
	for i, input := range rail.collected {
		if input.Caller != rail.due[i].Subscriber || input.Subscriber != rail.due[i].Subscriber {
			t.Fatalf("collection must run under the row's subscriber identity: %+v", input)
		}
	}
	if lk.released != 1 {
		t.Fatalf("lock should release exactly once, got %d", lk.released)
	}
}

func TestSweepContinuesPastCodedFailure(t *testing.T) {
	rail := &fakeRail{
		due: []models.Subscription{dueSubscription("plan-a"), dueSubscription("plan-b")},
		errByPlan: map[string]error{
			"plan-a": pkgerrors.New(pkgerrors.CodePaymentNotDue, "due window not open"),
		},
	}
	service := newTestService(t, testCollectorConfig(), rail, nil, &fakeLock{})

	if err := service.sweepOnce(context.Background()); err != nil {
		t.Fatalf("coded per-row failure must not abort the sweep: %v", err)
	}
	if len(rail.collected) != 2 {
		t.Fatalf("second subscription should still be attempted, got %d attempts", len(rail.collected))
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	rail := &fakeRail{due: []models.Subscription{dueSubscription("plan-a")}}
	lk := &fakeLock{held: true}
	service := newTestService(t, testCollectorConfig(), rail, nil, lk)

	if err := service.sweepOnce(context.Background()); err != nil {
		t.Fatalf("losing the lock is not an error: %v", err)
	}
	if rail.listCalls != 0 {
		t.Fatal("must not list due subscriptions without the lock")
	}
	if lk.released != 0 {
		t.Fatal("must not release a lock it does not hold")
	}
}

func TestSweepSurfacesListError(t *testing.T) {
	rail := &fakeRail{listErr: errors.New("connection refused")}
	service := newTestService(t, testCollectorConfig(), rail, nil, &fakeLock{})

	if err := service.sweepOnce(context.Background()); err == nil {
		t.Fatal("expected infrastructure error to surface")
	}
}

func TestSweepRunsReconcileWhenEnabled(t *testing.T) {
	rec := &fakeReconciler{report: &plans.ReconcileReport{
		Checked: 3,
		Drifts:  []plans.Drift{{PlanAddress: "plan-a", Stored: 2, Actual: 1}},
	}}
	cfg := testCollectorConfig()
	cfg.Collector.Reconcile = true
	service := newTestService(t, cfg, &fakeRail{}, rec, &fakeLock{})

	if err := service.sweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("expected one reconcile pass, got %d", rec.calls)
	}
}

func TestSweepSkipsReconcileWhenDisabled(t *testing.T) {
	rec := &fakeReconciler{}
	service := newTestService(t, testCollectorConfig(), &fakeRail{}, rec, &fakeLock{})

	if err := service.sweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if rec.calls != 0 {
		t.Fatal("reconcile must not run when disabled")
	}
}
