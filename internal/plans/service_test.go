package plans

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/derive"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubRepo struct {
	plans       map[string]*models.Plan
	activeCount map[string]int64
	saved       []string
}

func newStubRepo(plans ...*models.Plan) *stubRepo {
	repo := &stubRepo{plans: map[string]*models.Plan{}, activeCount: map[string]int64{}}
	for _, plan := range plans {
		repo.plans[plan.Address] = plan
	}
	return repo
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }
func (s *stubRepo) Create(ctx context.Context, plan *models.Plan) error {
	s.plans[plan.Address] = plan
	return nil
}
func (s *stubRepo) FindByAddress(ctx context.Context, address string) (*models.Plan, error) {
	return s.plans[address], nil
}
func (s *stubRepo) FindByAddressForUpdate(ctx context.Context, address string) (*models.Plan, error) {
	return s.plans[address], nil
}
func (s *stubRepo) Save(ctx context.Context, plan *models.Plan) error {
	s.plans[plan.Address] = plan
	s.saved = append(s.saved, plan.Address)
	return nil
}
func (s *stubRepo) List(ctx context.Context, params ListQuery) ([]models.Plan, *pagination.Cursor, error) {
	var out []models.Plan
	for _, plan := range s.plans {
		if params.Authority != nil && plan.Authority != *params.Authority {
			continue
		}
		out = append(out, *plan)
	}
	return out, nil, nil
}
func (s *stubRepo) ListForReconciliation(ctx context.Context, afterAddress string, limit int) ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range s.plans {
		if plan.Address > afterAddress {
			out = append(out, *plan)
		}
	}
	// The stub holds few plans; a single sorted batch is enough.
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Address < out[i].Address {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (s *stubRepo) CountActiveSubscriptions(ctx context.Context, planAddress string) (int64, error) {
	return s.activeCount[planAddress], nil
}

type stubRecorder struct {
	recorded []events.RecordInput
}

func (s *stubRecorder) Record(ctx context.Context, tx *gorm.DB, input events.RecordInput) error {
	s.recorded = append(s.recorded, input)
	return nil
}

func newTestService(t *testing.T, repo Repository) (*Service, *stubRecorder) {
	t.Helper()
	recorder := &stubRecorder{}
	svc, err := NewService(ServiceParams{
		DB:     stubTxRunner{},
		Repo:   repo,
		Events: recorder,
		Clock:  clock.At(1_700_000_000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc, recorder
}

func validCreateInput(authority uuid.UUID) CreateInput {
	return CreateInput{
		Authority:      authority,
		PlanID:         1,
		PriceUnits:     1000,
		Mint:           "usdc",
		IntervalSecs:   30 * 24 * 3600,
		Metadata:       "gold tier",
		MaxSubscribers: 50,
	}
}

func seedPlan(authority uuid.UUID) *models.Plan {
	salt := []byte("0123456789abcdef")
	return &models.Plan{
		Address:         derive.PlanAddress(authority, 1, salt),
		PlanID:          1,
		Authority:       authority,
		Salt:            salt,
		PriceUnits:      1000,
		Mint:            "usdc",
		IntervalSeconds: 30 * 24 * 3600,
		IsActive:        true,
		MaxSubscribers:  50,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, newStubRepo())
	authority := uuid.New()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		code   pkgerrors.Code
	}{
		{name: "zero price", mutate: func(in *CreateInput) { in.PriceUnits = 0 }, code: pkgerrors.CodeInvalidPrice},
		{name: "short interval", mutate: func(in *CreateInput) { in.IntervalSecs = 59 }, code: pkgerrors.CodeIntervalTooShort},
		{name: "zero cap", mutate: func(in *CreateInput) { in.MaxSubscribers = 0 }, code: pkgerrors.CodeInvalidMaxSubscribers},
		{name: "long metadata", mutate: func(in *CreateInput) { in.Metadata = strings.Repeat("x", 201) }, code: pkgerrors.CodeMetadataTooLong},
		{name: "missing mint", mutate: func(in *CreateInput) { in.Mint = " " }, code: pkgerrors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validCreateInput(authority)
			tt.mutate(&input)
			if _, err := svc.Create(ctx, input); !pkgerrors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestCreateDerivesVerifiableAddress(t *testing.T) {
	repo := newStubRepo()
	svc, recorder := newTestService(t, repo)
	authority := uuid.New()

	plan, err := svc.Create(context.Background(), validCreateInput(authority))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !derive.Verify(plan.Address, derive.TagPlan, authority, plan.PlanID, plan.Salt) {
		t.Fatal("stored address must recompute from its inputs")
	}
	if !plan.IsActive || plan.IsPaused || plan.TotalSubscribers != 0 {
		t.Fatalf("unexpected initial state %+v", plan)
	}
	if len(recorder.recorded) != 1 || recorder.recorded[0].Type != models.EventPlanCreated {
		t.Fatalf("expected creation event, got %+v", recorder.recorded)
	}
}

func TestGetEnforcesAuthority(t *testing.T) {
	authority := uuid.New()
	plan := seedPlan(authority)
	svc, _ := newTestService(t, newStubRepo(plan))
	ctx := context.Background()

	got, err := svc.Get(ctx, authority, plan.Address)
	if err != nil || got.Address != plan.Address {
		t.Fatalf("authority fetch failed: %v", err)
	}

	if _, err := svc.Get(ctx, uuid.New(), plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodeInvalidAuthority) {
		t.Fatalf("expected authority check, got %v", err)
	}
	if _, err := svc.Get(ctx, authority, "missing"); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetDetectsTamperedRecord(t *testing.T) {
	authority := uuid.New()
	plan := seedPlan(authority)
	plan.PlanID = 99 // no longer matches the derived address
	svc, _ := newTestService(t, newStubRepo(plan))

	if _, err := svc.Get(context.Background(), authority, plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodeAddressMismatch) {
		t.Fatalf("expected address mismatch, got %v", err)
	}
}

func TestUpdateRules(t *testing.T) {
	authority := uuid.New()
	ctx := context.Background()

	newPrice := uint64(2000)
	lowCap := uint32(3)

	t.Run("happy path", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, recorder := newTestService(t, newStubRepo(plan))
		updated, err := svc.Update(ctx, authority, plan.Address, UpdateInput{PriceUnits: &newPrice})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.PriceUnits != 2000 {
			t.Fatalf("price not updated: %d", updated.PriceUnits)
		}
		if len(recorder.recorded) != 1 || recorder.recorded[0].Type != models.EventPlanUpdated {
			t.Fatalf("expected update event, got %+v", recorder.recorded)
		}
	})

	t.Run("interval change", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, _ := newTestService(t, newStubRepo(plan))
		newInterval := int64(7 * 24 * 3600)
		updated, err := svc.Update(ctx, authority, plan.Address, UpdateInput{IntervalSeconds: &newInterval})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.IntervalSeconds != newInterval {
			t.Fatalf("interval not updated: %d", updated.IntervalSeconds)
		}
	})

	t.Run("interval below the minimum", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, recorder := newTestService(t, newStubRepo(plan))
		shortInterval := MinIntervalSeconds - 1
		_, err := svc.Update(ctx, authority, plan.Address, UpdateInput{IntervalSeconds: &shortInterval})
		if !pkgerrors.HasCode(err, pkgerrors.CodeIntervalTooShort) {
			t.Fatalf("expected interval check, got %v", err)
		}
		if plan.IntervalSeconds != 30*24*3600 {
			t.Fatalf("rejected update must not change the interval: %d", plan.IntervalSeconds)
		}
		if len(recorder.recorded) != 0 {
			t.Fatal("rejected update must not record events")
		}
	})

	t.Run("cap below current subscribers", func(t *testing.T) {
		plan := seedPlan(authority)
		plan.TotalSubscribers = 10
		svc, _ := newTestService(t, newStubRepo(plan))
		_, err := svc.Update(ctx, authority, plan.Address, UpdateInput{MaxSubscribers: &lowCap})
		if !pkgerrors.HasCode(err, pkgerrors.CodeMaxSubscribersTooLow) {
			t.Fatalf("expected cap check, got %v", err)
		}
	})

	t.Run("inactive plan", func(t *testing.T) {
		plan := seedPlan(authority)
		plan.IsActive = false
		svc, _ := newTestService(t, newStubRepo(plan))
		_, err := svc.Update(ctx, authority, plan.Address, UpdateInput{PriceUnits: &newPrice})
		if !pkgerrors.HasCode(err, pkgerrors.CodePlanInactive) {
			t.Fatalf("expected inactive check, got %v", err)
		}
	})

	t.Run("wrong principal", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, _ := newTestService(t, newStubRepo(plan))
		_, err := svc.Update(ctx, uuid.New(), plan.Address, UpdateInput{PriceUnits: &newPrice})
		if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidAuthority) {
			t.Fatalf("expected authority check, got %v", err)
		}
	})
}

func TestLifecycleTransitions(t *testing.T) {
	authority := uuid.New()
	ctx := context.Background()

	t.Run("pause then unpause", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, recorder := newTestService(t, newStubRepo(plan))

		paused, err := svc.Pause(ctx, authority, plan.Address)
		if err != nil || !paused.IsPaused {
			t.Fatalf("pause failed: %v", err)
		}
		if _, err := svc.Pause(ctx, authority, plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodePlanAlreadyPaused) {
			t.Fatalf("expected already-paused, got %v", err)
		}

		resumed, err := svc.Unpause(ctx, authority, plan.Address)
		if err != nil || resumed.IsPaused {
			t.Fatalf("unpause failed: %v", err)
		}
		if _, err := svc.Unpause(ctx, authority, plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodePlanNotPaused) {
			t.Fatalf("expected not-paused, got %v", err)
		}

		if len(recorder.recorded) != 2 {
			t.Fatalf("expected exactly one event per successful transition, got %d", len(recorder.recorded))
		}
	})

	t.Run("deactivate is terminal", func(t *testing.T) {
		plan := seedPlan(authority)
		svc, _ := newTestService(t, newStubRepo(plan))

		retired, err := svc.Deactivate(ctx, authority, plan.Address)
		if err != nil || retired.IsActive {
			t.Fatalf("deactivate failed: %v", err)
		}
		if _, err := svc.Deactivate(ctx, authority, plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodePlanAlreadyInactive) {
			t.Fatalf("expected already-inactive, got %v", err)
		}
		if _, err := svc.Pause(ctx, authority, plan.Address); !pkgerrors.HasCode(err, pkgerrors.CodePlanInactive) {
			t.Fatalf("inactive plans cannot pause, got %v", err)
		}
	})
}

func TestReconcileRepairsDrift(t *testing.T) {
	authority := uuid.New()
	plan := seedPlan(authority)
	plan.TotalSubscribers = 5

	repo := newStubRepo(plan)
	repo.activeCount[plan.Address] = 3
	svc, _ := newTestService(t, repo)

	report, err := svc.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Checked != 1 || len(report.Drifts) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	drift := report.Drifts[0]
	if drift.Stored != 5 || drift.Actual != 3 {
		t.Fatalf("unexpected drift %+v", drift)
	}
	if plan.TotalSubscribers != 3 {
		t.Fatalf("counter not repaired: %d", plan.TotalSubscribers)
	}

	// A second pass over the repaired state reports nothing.
	report, err = svc.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Drifts) != 0 {
		t.Fatalf("expected clean report, got %+v", report)
	}
}
