package subscriptions

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/internal/schedule"
	"github.com/angelmondragon/circulum-backend/internal/treasury"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/derive"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const testNow = int64(1_700_000_000)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubSubRepo struct {
	subs      map[string]*models.Subscription
	createErr error
	saved     int
	deleted   int
}

func newStubSubRepo(subs ...*models.Subscription) *stubSubRepo {
	repo := &stubSubRepo{subs: map[string]*models.Subscription{}}
	for _, sub := range subs {
		repo.subs[subKey(sub.Subscriber, sub.PlanAddress)] = sub
	}
	return repo
}

func subKey(subscriber uuid.UUID, planAddress string) string {
	return subscriber.String() + "|" + planAddress
}

func (s *stubSubRepo) WithTx(tx *gorm.DB) Repository { return s }
func (s *stubSubRepo) Create(ctx context.Context, sub *models.Subscription) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.subs[subKey(sub.Subscriber, sub.PlanAddress)] = sub
	return nil
}
func (s *stubSubRepo) FindBySubscriberAndPlan(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error) {
	return s.subs[subKey(subscriber, planAddress)], nil
}
func (s *stubSubRepo) FindBySubscriberAndPlanForUpdate(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error) {
	return s.subs[subKey(subscriber, planAddress)], nil
}
func (s *stubSubRepo) Save(ctx context.Context, sub *models.Subscription) error {
	s.subs[subKey(sub.Subscriber, sub.PlanAddress)] = sub
	s.saved++
	return nil
}
func (s *stubSubRepo) Delete(ctx context.Context, sub *models.Subscription) error {
	delete(s.subs, subKey(sub.Subscriber, sub.PlanAddress))
	s.deleted++
	return nil
}
func (s *stubSubRepo) ListDue(ctx context.Context, now int64, limit int) ([]models.Subscription, error) {
	var due []models.Subscription
	for _, sub := range s.subs {
		if sub.IsActive && sub.NextPaymentTime <= now {
			due = append(due, *sub)
		}
	}
	return due, nil
}

type stubPlanRepo struct {
	plans map[string]*models.Plan
}

func newStubPlanRepo(seed ...*models.Plan) *stubPlanRepo {
	repo := &stubPlanRepo{plans: map[string]*models.Plan{}}
	for _, plan := range seed {
		repo.plans[plan.Address] = plan
	}
	return repo
}

func (s *stubPlanRepo) WithTx(tx *gorm.DB) plans.Repository { return s }
func (s *stubPlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	s.plans[plan.Address] = plan
	return nil
}
func (s *stubPlanRepo) FindByAddress(ctx context.Context, address string) (*models.Plan, error) {
	return s.plans[address], nil
}
func (s *stubPlanRepo) FindByAddressForUpdate(ctx context.Context, address string) (*models.Plan, error) {
	return s.plans[address], nil
}
func (s *stubPlanRepo) Save(ctx context.Context, plan *models.Plan) error {
	s.plans[plan.Address] = plan
	return nil
}
func (s *stubPlanRepo) List(ctx context.Context, params plans.ListQuery) ([]models.Plan, *pagination.Cursor, error) {
	return nil, nil, nil
}
func (s *stubPlanRepo) ListForReconciliation(ctx context.Context, afterAddress string, limit int) ([]models.Plan, error) {
	return nil, nil
}
func (s *stubPlanRepo) CountActiveSubscriptions(ctx context.Context, planAddress string) (int64, error) {
	return 0, nil
}

type stubAccountsRepo struct {
	accounts map[uuid.UUID]*models.TokenAccount
}

func newStubAccountsRepo(seed ...*models.TokenAccount) *stubAccountsRepo {
	repo := &stubAccountsRepo{accounts: map[uuid.UUID]*models.TokenAccount{}}
	for _, account := range seed {
		repo.accounts[account.ID] = account
	}
	return repo
}

func (s *stubAccountsRepo) WithTx(tx *gorm.DB) treasury.Repository { return s }
func (s *stubAccountsRepo) Create(ctx context.Context, account *models.TokenAccount) error {
	s.accounts[account.ID] = account
	return nil
}
func (s *stubAccountsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error) {
	return s.accounts[id], nil
}
func (s *stubAccountsRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error) {
	return s.accounts[id], nil
}
func (s *stubAccountsRepo) Save(ctx context.Context, account *models.TokenAccount) error {
	s.accounts[account.ID] = account
	return nil
}
func (s *stubAccountsRepo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]models.TokenAccount, error) {
	return nil, nil
}

type stubRail struct {
	transfers []treasury.TransferInput
	err       error
}

func (s *stubRail) Transfer(ctx context.Context, tx *gorm.DB, input treasury.TransferInput) error {
	if s.err != nil {
		return s.err
	}
	s.transfers = append(s.transfers, input)
	return nil
}

type stubRecorder struct {
	recorded []events.RecordInput
}

func (s *stubRecorder) Record(ctx context.Context, tx *gorm.DB, input events.RecordInput) error {
	s.recorded = append(s.recorded, input)
	return nil
}

// fixture wires a plan, its authority's settlement account, and a
// subscriber's funding account into a ready-to-use service.
type fixture struct {
	svc        *Service
	plan       *models.Plan
	planRepo   *stubPlanRepo
	subRepo    *stubSubRepo
	rail       *stubRail
	recorder   *stubRecorder
	authority  uuid.UUID
	subscriber uuid.UUID
	funding    *models.TokenAccount
	settlement *models.TokenAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	authority := uuid.New()
	subscriber := uuid.New()
	salt := []byte("0123456789abcdef")

	plan := &models.Plan{
		Address:         derive.PlanAddress(authority, 1, salt),
		PlanID:          1,
		Authority:       authority,
		Salt:            salt,
		PriceUnits:      1000,
		Mint:            "usdc",
		IntervalSeconds: 30 * 24 * 3600,
		IsActive:        true,
		MaxSubscribers:  10,
	}
	funding := &models.TokenAccount{ID: uuid.New(), Owner: subscriber, Mint: "usdc", BalanceUnits: 50_000}
	settlement := &models.TokenAccount{ID: uuid.New(), Owner: authority, Mint: "usdc"}

	f := &fixture{
		plan:       plan,
		planRepo:   newStubPlanRepo(plan),
		subRepo:    newStubSubRepo(),
		rail:       &stubRail{},
		recorder:   &stubRecorder{},
		authority:  authority,
		subscriber: subscriber,
		funding:    funding,
		settlement: settlement,
	}
	svc, err := NewService(ServiceParams{
		DB:       stubTxRunner{},
		Repo:     f.subRepo,
		Plans:    f.planRepo,
		Accounts: newStubAccountsRepo(funding, settlement),
		Rail:     f.rail,
		Events:   f.recorder,
		Clock:    clock.At(testNow),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) subscribeInput() SubscribeInput {
	return SubscribeInput{
		Subscriber:          f.subscriber,
		PlanAddress:         f.plan.Address,
		FundingAccountID:    f.funding.ID,
		SettlementAccountID: f.settlement.ID,
	}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if !pkgerrors.HasCode(err, code) {
		t.Fatalf("expected code %s, got %v", code, err)
	}
}

func TestSubscribeCollectsFirstPayment(t *testing.T) {
	f := newFixture(t)

	sub, err := f.svc.Subscribe(context.Background(), f.subscribeInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !derive.Verify(sub.Address, derive.TagSubscription, f.subscriber, f.plan.PlanID, sub.Salt) {
		t.Fatal("subscription address must derive from subscriber, plan id, and salt")
	}
	if sub.TotalPayments != 1 {
		t.Fatalf("expected the first payment at enrollment, got %d", sub.TotalPayments)
	}
	if sub.StartTime != testNow || sub.LastPaymentTime != testNow {
		t.Fatalf("start and last payment must be the enrollment instant, got %d/%d", sub.StartTime, sub.LastPaymentTime)
	}
	if want := testNow + f.plan.IntervalSeconds; sub.NextPaymentTime != want {
		t.Fatalf("expected next payment at %d, got %d", want, sub.NextPaymentTime)
	}
	if f.plan.TotalSubscribers != 1 {
		t.Fatalf("expected subscriber count 1, got %d", f.plan.TotalSubscribers)
	}

	if len(f.rail.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(f.rail.transfers))
	}
	moved := f.rail.transfers[0]
	if moved.FromID != f.funding.ID || moved.ToID != f.settlement.ID || moved.Amount != f.plan.PriceUnits {
		t.Fatalf("unexpected transfer %+v", moved)
	}
	if moved.Authorizing != f.subscriber {
		t.Fatal("first payment must be authorized by the subscriber")
	}

	if len(f.recorder.recorded) != 1 || f.recorder.recorded[0].Type != models.EventSubscriptionCreated {
		t.Fatalf("expected one subscription.created event, got %+v", f.recorder.recorded)
	}
	if f.recorder.recorded[0].AmountUnits != f.plan.PriceUnits {
		t.Fatal("event must carry the collected amount")
	}
}

func TestSubscribeGuards(t *testing.T) {
	otherOwner := uuid.New()

	tests := []struct {
		name     string
		mutate   func(f *fixture, input *SubscribeInput)
		wantCode pkgerrors.Code
	}{
		{
			name:     "missing plan",
			mutate:   func(f *fixture, input *SubscribeInput) { input.PlanAddress = "no-such-plan" },
			wantCode: pkgerrors.CodeNotFound,
		},
		{
			name:     "inactive plan",
			mutate:   func(f *fixture, input *SubscribeInput) { f.plan.IsActive = false },
			wantCode: pkgerrors.CodePlanInactive,
		},
		{
			name:     "paused plan",
			mutate:   func(f *fixture, input *SubscribeInput) { f.plan.IsPaused = true },
			wantCode: pkgerrors.CodePlanPaused,
		},
		{
			name: "full plan",
			mutate: func(f *fixture, input *SubscribeInput) {
				f.plan.TotalSubscribers = f.plan.MaxSubscribers
			},
			wantCode: pkgerrors.CodePlanFull,
		},
		{
			name:     "funding account owned by someone else",
			mutate:   func(f *fixture, input *SubscribeInput) { f.funding.Owner = otherOwner },
			wantCode: pkgerrors.CodeInvalidAccountOwner,
		},
		{
			name:     "funding account wrong mint",
			mutate:   func(f *fixture, input *SubscribeInput) { f.funding.Mint = "sol" },
			wantCode: pkgerrors.CodeCurrencyMismatch,
		},
		{
			name:     "settlement account not the authority's",
			mutate:   func(f *fixture, input *SubscribeInput) { f.settlement.Owner = otherOwner },
			wantCode: pkgerrors.CodeInvalidAccountOwner,
		},
		{
			name:     "settlement account wrong mint",
			mutate:   func(f *fixture, input *SubscribeInput) { f.settlement.Mint = "sol" },
			wantCode: pkgerrors.CodeCurrencyMismatch,
		},
		{
			name:     "missing subscriber",
			mutate:   func(f *fixture, input *SubscribeInput) { input.Subscriber = uuid.Nil },
			wantCode: pkgerrors.CodeValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			input := f.subscribeInput()
			tc.mutate(f, &input)

			_, err := f.svc.Subscribe(context.Background(), input)
			requireCode(t, err, tc.wantCode)
			if len(f.recorder.recorded) != 0 {
				t.Fatal("rejected enrollment must not record events")
			}
		})
	}
}

func TestSubscribeDuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	f.subRepo.createErr = errors.New(`duplicate key value violates unique constraint "idx_subscriptions_subscriber_plan_id"`)

	_, err := f.svc.Subscribe(context.Background(), f.subscribeInput())
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestSubscribeFailedTransferRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.rail.err = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds")

	_, err := f.svc.Subscribe(context.Background(), f.subscribeInput())
	requireCode(t, err, pkgerrors.CodeInsufficientFunds)

	if len(f.subRepo.subs) != 0 {
		t.Fatal("failed enrollment must not persist a subscription")
	}
	if f.plan.TotalSubscribers != 0 {
		t.Fatal("failed enrollment must not bump the subscriber count")
	}
	if len(f.recorder.recorded) != 0 {
		t.Fatal("failed enrollment must not record events")
	}
}

func enroll(t *testing.T, f *fixture) *models.Subscription {
	t.Helper()
	sub, err := f.svc.Subscribe(context.Background(), f.subscribeInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.rail.transfers = nil
	f.recorder.recorded = nil
	return sub
}

func (f *fixture) advanceTo(unix int64) {
	f.svc.clock = clock.At(unix)
}

func TestProcessPaymentDueWindow(t *testing.T) {
	tests := []struct {
		name     string
		at       func(next int64) int64
		wantCode pkgerrors.Code
	}{
		{name: "one second early", at: func(next int64) int64 { return next - 1 }, wantCode: pkgerrors.CodePaymentNotDue},
		{name: "exactly due", at: func(next int64) int64 { return next }},
		{name: "grace boundary", at: func(next int64) int64 { return next + schedule.GraceSeconds }},
		{name: "past grace", at: func(next int64) int64 { return next + schedule.GraceSeconds + 1 }, wantCode: pkgerrors.CodePaymentTooLate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			sub := enroll(t, f)
			now := tc.at(sub.NextPaymentTime)
			f.advanceTo(now)

			collected, err := f.svc.ProcessPayment(context.Background(), CollectInput{
				Caller:      f.subscriber,
				PlanAddress: f.plan.Address,
				Subscriber:  f.subscriber,
			})
			if tc.wantCode != "" {
				requireCode(t, err, tc.wantCode)
				if len(f.rail.transfers) != 0 {
					t.Fatal("rejected collection must not move funds")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if collected.TotalPayments != 2 {
				t.Fatalf("expected 2 payments, got %d", collected.TotalPayments)
			}
			if collected.LastPaymentTime != now {
				t.Fatalf("expected last payment at %d, got %d", now, collected.LastPaymentTime)
			}
			if want := now + f.plan.IntervalSeconds; collected.NextPaymentTime != want {
				t.Fatalf("expected next payment at %d, got %d", want, collected.NextPaymentTime)
			}
			if len(f.rail.transfers) != 1 || f.rail.transfers[0].Authorizing != f.subscriber {
				t.Fatal("collection must ride the subscriber's standing authorization")
			}
			if len(f.recorder.recorded) != 1 || f.recorder.recorded[0].Type != models.EventPaymentProcessed {
				t.Fatalf("expected one payment_processed event, got %+v", f.recorder.recorded)
			}
			if f.recorder.recorded[0].Principal != f.subscriber {
				t.Fatal("event principal must be the collecting subscriber")
			}
		})
	}
}

func TestProcessPaymentGuards(t *testing.T) {
	t.Run("inactive plan", func(t *testing.T) {
		f := newFixture(t)
		sub := enroll(t, f)
		f.plan.IsActive = false
		f.advanceTo(sub.NextPaymentTime)

		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
		requireCode(t, err, pkgerrors.CodePlanInactive)
	})

	t.Run("paused plan", func(t *testing.T) {
		f := newFixture(t)
		sub := enroll(t, f)
		f.plan.IsPaused = true
		f.advanceTo(sub.NextPaymentTime)

		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
		requireCode(t, err, pkgerrors.CodePlanPaused)
	})

	t.Run("cancelled subscription", func(t *testing.T) {
		f := newFixture(t)
		sub := enroll(t, f)
		sub.IsActive = false
		f.advanceTo(sub.NextPaymentTime)

		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
		requireCode(t, err, pkgerrors.CodeSubscriptionInactive)
	})

	t.Run("unknown subscriber", func(t *testing.T) {
		f := newFixture(t)
		enroll(t, f)

		stranger := uuid.New()
		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: stranger, PlanAddress: f.plan.Address, Subscriber: stranger})
		requireCode(t, err, pkgerrors.CodeNotFound)
	})

	t.Run("subscription bound to another plan id", func(t *testing.T) {
		f := newFixture(t)
		sub := enroll(t, f)
		// Rebind the record to a different plan id with a matching
		// derived address so the binding check is what fires.
		sub.PlanID = 2
		sub.Address = derive.SubscriptionAddress(sub.Subscriber, 2, sub.Salt)
		f.advanceTo(sub.NextPaymentTime)

		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
		requireCode(t, err, pkgerrors.CodeInvalidPlanID)
	})

	t.Run("tampered address", func(t *testing.T) {
		f := newFixture(t)
		sub := enroll(t, f)
		sub.Address = derive.SubscriptionAddress(uuid.New(), sub.PlanID, sub.Salt)
		f.advanceTo(sub.NextPaymentTime)

		_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
		requireCode(t, err, pkgerrors.CodeAddressMismatch)
	})
}

func TestProcessPaymentByStrangerIsForbidden(t *testing.T) {
	f := newFixture(t)
	sub := enroll(t, f)
	f.advanceTo(sub.NextPaymentTime)

	// A valid principal naming someone else's subscription must not be
	// able to trigger its collection, even inside the due window.
	_, err := f.svc.ProcessPayment(context.Background(), CollectInput{
		Caller:      uuid.New(),
		PlanAddress: f.plan.Address,
		Subscriber:  f.subscriber,
	})
	requireCode(t, err, pkgerrors.CodeInvalidSubscriber)
	if len(f.rail.transfers) != 0 {
		t.Fatal("forbidden collection must not move funds")
	}
	if len(f.recorder.recorded) != 0 {
		t.Fatal("forbidden collection must not record events")
	}
}

func TestProcessPaymentCounterOverflow(t *testing.T) {
	f := newFixture(t)
	sub := enroll(t, f)
	sub.TotalPayments = math.MaxUint64
	f.advanceTo(sub.NextPaymentTime)

	_, err := f.svc.ProcessPayment(context.Background(), CollectInput{Caller: f.subscriber, PlanAddress: f.plan.Address, Subscriber: f.subscriber})
	requireCode(t, err, pkgerrors.CodeOverflow)
	if len(f.rail.transfers) != 0 {
		t.Fatal("overflowing counter must abort before funds move")
	}
}

func TestCancelReleasesPlanSlot(t *testing.T) {
	f := newFixture(t)
	enroll(t, f)

	cancelled, err := f.svc.Cancel(context.Background(), f.subscriber, f.plan.Address)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.IsActive {
		t.Fatal("cancelled subscription must be inactive")
	}
	if f.plan.TotalSubscribers != 0 {
		t.Fatalf("expected the plan slot released, got %d", f.plan.TotalSubscribers)
	}
	if len(f.recorder.recorded) != 1 || f.recorder.recorded[0].Type != models.EventSubscriptionCancelled {
		t.Fatalf("expected one subscription.cancelled event, got %+v", f.recorder.recorded)
	}

	_, err = f.svc.Cancel(context.Background(), f.subscriber, f.plan.Address)
	requireCode(t, err, pkgerrors.CodeSubscriptionInactive)
}

func TestCancelByStrangerIsNotFound(t *testing.T) {
	f := newFixture(t)
	enroll(t, f)

	// Lookup is keyed by the caller, so another principal never sees
	// the record.
	_, err := f.svc.Cancel(context.Background(), uuid.New(), f.plan.Address)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCancelUnderflowedCounter(t *testing.T) {
	f := newFixture(t)
	enroll(t, f)
	f.plan.TotalSubscribers = 0

	_, err := f.svc.Cancel(context.Background(), f.subscriber, f.plan.Address)
	requireCode(t, err, pkgerrors.CodeUnderflow)
}

func TestCloseRequiresCancelledFirst(t *testing.T) {
	f := newFixture(t)
	enroll(t, f)

	err := f.svc.Close(context.Background(), f.subscriber, f.plan.Address)
	requireCode(t, err, pkgerrors.CodeSubscriptionActive)

	if _, err := f.svc.Cancel(context.Background(), f.subscriber, f.plan.Address); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Close(context.Background(), f.subscriber, f.plan.Address); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.subRepo.deleted != 1 {
		t.Fatal("close must delete the record")
	}
	if last := f.recorder.recorded[len(f.recorder.recorded)-1]; last.Type != models.EventSubscriptionClosed {
		t.Fatalf("expected a subscription.closed event, got %s", last.Type)
	}

	err = f.svc.Close(context.Background(), f.subscriber, f.plan.Address)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestGetRejectsTamperedRecord(t *testing.T) {
	f := newFixture(t)
	sub := enroll(t, f)

	got, err := f.svc.Get(context.Background(), f.subscriber, f.plan.Address)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Address != sub.Address {
		t.Fatal("expected the enrolled subscription")
	}

	sub.PlanID = 99
	_, err = f.svc.Get(context.Background(), f.subscriber, f.plan.Address)
	requireCode(t, err, pkgerrors.CodeAddressMismatch)
}
