package subscriptions

import (
	"context"
	"errors"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/internal/guard"
	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/internal/schedule"
	"github.com/angelmondragon/circulum-backend/internal/treasury"
	"github.com/angelmondragon/circulum-backend/pkg/checked"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/db"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/derive"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TransferRail moves funds between token accounts inside a caller-owned
// transaction.
type TransferRail interface {
	Transfer(ctx context.Context, tx *gorm.DB, input treasury.TransferInput) error
}

// ServiceParams groups dependencies for the subscriptions service.
type ServiceParams struct {
	DB       TxRunner
	Repo     Repository
	Plans    plans.Repository
	Accounts treasury.Repository
	Rail     TransferRail
	Events   events.Recorder
	Clock    clock.Clock
	Metrics  *metrics.OperationMetrics
}

// Service owns the subscription lifecycle: enrollment, payment
// collection, cancellation, close.
type Service struct {
	db       TxRunner
	repo     Repository
	plans    plans.Repository
	accounts treasury.Repository
	rail     TransferRail
	events   events.Recorder
	clock    clock.Clock
	metrics  *metrics.OperationMetrics
}

// NewService builds a subscriptions service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Plans == nil {
		return nil, errors.New("plans repo is required")
	}
	if params.Accounts == nil {
		return nil, errors.New("accounts repo is required")
	}
	if params.Rail == nil {
		return nil, errors.New("transfer rail is required")
	}
	if params.Events == nil {
		return nil, errors.New("events recorder is required")
	}
	if params.Clock == nil {
		return nil, errors.New("clock is required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		plans:    params.Plans,
		accounts: params.Accounts,
		rail:     params.Rail,
		events:   params.Events,
		clock:    params.Clock,
		metrics:  params.Metrics,
	}, nil
}

// SubscribeInput captures the data for enrolling in a plan.
type SubscribeInput struct {
	Subscriber          uuid.UUID
	PlanAddress         string
	FundingAccountID    uuid.UUID
	SettlementAccountID uuid.UUID
}

// Subscribe enrolls the subscriber and collects the first payment in
// the same transaction. Either the record, the counter bump, the
// transfer, and the event all land, or none of them do.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (*models.Subscription, error) {
	if input.Subscriber == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriber is required")
	}
	if input.PlanAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan address is required")
	}
	if input.FundingAccountID == uuid.Nil || input.SettlementAccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "funding and settlement accounts are required")
	}

	var created *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		plan, err := s.lockPlan(ctx, tx, input.PlanAddress)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanInactive, "plan is inactive")
		}
		if plan.IsPaused {
			return pkgerrors.New(pkgerrors.CodePlanPaused, "plan is paused")
		}
		if plan.TotalSubscribers >= plan.MaxSubscribers {
			return pkgerrors.New(pkgerrors.CodePlanFull, "plan has reached its subscriber limit")
		}

		if err := s.checkAccounts(ctx, tx, plan, input.Subscriber, input.FundingAccountID, input.SettlementAccountID); err != nil {
			return err
		}

		now := s.clock.Now().Unix()
		next, err := schedule.NextTime(now, plan.IntervalSeconds)
		if err != nil {
			return err
		}
		total, err := checked.AddUint32(plan.TotalSubscribers, 1)
		if err != nil {
			return err
		}

		salt := derive.SubscriptionSalt(input.Subscriber, plan.PlanID)
		sub := &models.Subscription{
			Address:             derive.SubscriptionAddress(input.Subscriber, plan.PlanID, salt),
			PlanAddress:         plan.Address,
			PlanID:              plan.PlanID,
			Subscriber:          input.Subscriber,
			Salt:                salt,
			FundingAccountID:    input.FundingAccountID,
			SettlementAccountID: input.SettlementAccountID,
			StartTime:           now,
			LastPaymentTime:     now,
			NextPaymentTime:     next,
			TotalPayments:       1,
			IsActive:            true,
		}

		// First charge happens at enrollment.
		if err := s.rail.Transfer(ctx, tx, treasury.TransferInput{
			FromID:      input.FundingAccountID,
			ToID:        input.SettlementAccountID,
			Authorizing: input.Subscriber,
			Amount:      plan.PriceUnits,
		}); err != nil {
			return err
		}

		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			if db.IsUniqueViolation(err, "idx_subscriptions_subscriber_plan_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "already subscribed to this plan")
			}
			return err
		}

		plan.TotalSubscribers = total
		if err := s.plans.WithTx(tx).Save(ctx, plan); err != nil {
			return err
		}

		created = sub
		s.metrics.AddPaymentUnits(plan.Mint, plan.PriceUnits)
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:                models.EventSubscriptionCreated,
			Principal:           input.Subscriber,
			PlanAddress:         plan.Address,
			SubscriptionAddress: sub.Address,
			AmountUnits:         plan.PriceUnits,
			OccurredAt:          now,
			Payload: map[string]any{
				"next_payment_time": next,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns the principal's subscription to the plan.
func (s *Service) Get(ctx context.Context, principal uuid.UUID, planAddress string) (*models.Subscription, error) {
	sub, err := s.repo.FindBySubscriberAndPlan(ctx, principal, planAddress)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if err := guard.VerifySubscriptionAddress(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CollectInput names the subscription a collection attempt targets.
// The caller must be the subscription's stored subscriber; the
// transfer rides the standing authorization that subscriber granted at
// enrollment.
type CollectInput struct {
	Caller      uuid.UUID
	PlanAddress string
	Subscriber  uuid.UUID
}

// ProcessPayment collects one recurring payment when the due window
// allows it.
func (s *Service) ProcessPayment(ctx context.Context, input CollectInput) (*models.Subscription, error) {
	if input.Subscriber == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscriber is required")
	}

	var collected *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		// Lock order is plan first, then subscription.
		plan, err := s.lockPlan(ctx, tx, input.PlanAddress)
		if err != nil {
			return err
		}
		sub, err := s.lockSubscription(ctx, tx, input.Subscriber, input.PlanAddress)
		if err != nil {
			return err
		}
		if err := guard.RequireSubscriptionOwner(sub, input.Caller); err != nil {
			return err
		}
		if err := guard.RequireSamePlan(sub, plan); err != nil {
			return err
		}
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanInactive, "plan is inactive")
		}
		if plan.IsPaused {
			return pkgerrors.New(pkgerrors.CodePlanPaused, "plan is paused")
		}
		if !sub.IsActive {
			return pkgerrors.New(pkgerrors.CodeSubscriptionInactive, "subscription is inactive")
		}

		now := s.clock.Now().Unix()
		if err := schedule.Check(now, sub.NextPaymentTime); err != nil {
			return err
		}

		next, err := schedule.NextTime(now, plan.IntervalSeconds)
		if err != nil {
			return err
		}
		payments, err := checked.AddUint64(sub.TotalPayments, 1)
		if err != nil {
			return err
		}

		if err := s.rail.Transfer(ctx, tx, treasury.TransferInput{
			FromID:      sub.FundingAccountID,
			ToID:        sub.SettlementAccountID,
			Authorizing: sub.Subscriber,
			Amount:      plan.PriceUnits,
		}); err != nil {
			return err
		}

		sub.LastPaymentTime = now
		sub.NextPaymentTime = next
		sub.TotalPayments = payments
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return err
		}

		collected = sub
		s.metrics.AddPaymentUnits(plan.Mint, plan.PriceUnits)
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:                models.EventPaymentProcessed,
			Principal:           input.Caller,
			PlanAddress:         plan.Address,
			SubscriptionAddress: sub.Address,
			AmountUnits:         plan.PriceUnits,
			OccurredAt:          now,
			Payload: map[string]any{
				"total_payments":    payments,
				"next_payment_time": next,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return collected, nil
}

// Cancel stops future collections and releases the plan slot. The
// record stays behind until Close reclaims it.
func (s *Service) Cancel(ctx context.Context, principal uuid.UUID, planAddress string) (*models.Subscription, error) {
	var cancelled *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		plan, err := s.lockPlan(ctx, tx, planAddress)
		if err != nil {
			return err
		}
		sub, err := s.lockSubscription(ctx, tx, principal, planAddress)
		if err != nil {
			return err
		}
		if err := guard.RequireSubscriptionOwner(sub, principal); err != nil {
			return err
		}
		if err := guard.RequireSamePlan(sub, plan); err != nil {
			return err
		}
		if !sub.IsActive {
			return pkgerrors.New(pkgerrors.CodeSubscriptionInactive, "subscription is inactive")
		}

		total, err := checked.SubUint32(plan.TotalSubscribers, 1)
		if err != nil {
			return err
		}

		sub.IsActive = false
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return err
		}
		plan.TotalSubscribers = total
		if err := s.plans.WithTx(tx).Save(ctx, plan); err != nil {
			return err
		}

		cancelled = sub
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:                models.EventSubscriptionCancelled,
			Principal:           principal,
			PlanAddress:         plan.Address,
			SubscriptionAddress: sub.Address,
			OccurredAt:          s.clock.Now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Close deletes a cancelled subscription's record entirely.
func (s *Service) Close(ctx context.Context, principal uuid.UUID, planAddress string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := s.lockSubscription(ctx, tx, principal, planAddress)
		if err != nil {
			return err
		}
		if err := guard.RequireSubscriptionOwner(sub, principal); err != nil {
			return err
		}
		if sub.IsActive {
			return pkgerrors.New(pkgerrors.CodeSubscriptionActive, "subscription is still active")
		}

		if err := s.repo.WithTx(tx).Delete(ctx, sub); err != nil {
			return err
		}
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:                models.EventSubscriptionClosed,
			Principal:           principal,
			PlanAddress:         sub.PlanAddress,
			SubscriptionAddress: sub.Address,
			OccurredAt:          s.clock.Now().Unix(),
		})
	})
}

// ListDue returns active subscriptions whose due time has arrived.
func (s *Service) ListDue(ctx context.Context, now int64, limit int) ([]models.Subscription, error) {
	return s.repo.ListDue(ctx, now, limit)
}

func (s *Service) lockPlan(ctx context.Context, tx *gorm.DB, address string) (*models.Plan, error) {
	plan, err := s.plans.WithTx(tx).FindByAddressForUpdate(ctx, address)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if err := guard.VerifyPlanAddress(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) lockSubscription(ctx context.Context, tx *gorm.DB, subscriber uuid.UUID, planAddress string) (*models.Subscription, error) {
	sub, err := s.repo.WithTx(tx).FindBySubscriberAndPlanForUpdate(ctx, subscriber, planAddress)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if err := guard.VerifySubscriptionAddress(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) checkAccounts(ctx context.Context, tx *gorm.DB, plan *models.Plan, subscriber, fundingID, settlementID uuid.UUID) error {
	accounts := s.accounts.WithTx(tx)

	funding, err := accounts.FindByID(ctx, fundingID)
	if err != nil {
		return err
	}
	if funding == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "funding account not found")
	}
	if err := guard.RequireAccountOwner(funding, subscriber); err != nil {
		return err
	}
	if funding.Mint != plan.Mint {
		return pkgerrors.New(pkgerrors.CodeCurrencyMismatch, "funding account mint does not match the plan")
	}

	settlement, err := accounts.FindByID(ctx, settlementID)
	if err != nil {
		return err
	}
	if settlement == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "settlement account not found")
	}
	if err := guard.RequireAccountOwner(settlement, plan.Authority); err != nil {
		return err
	}
	if settlement.Mint != plan.Mint {
		return pkgerrors.New(pkgerrors.CodeCurrencyMismatch, "settlement account mint does not match the plan")
	}
	return nil
}
