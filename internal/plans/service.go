package plans

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/internal/guard"
	"github.com/angelmondragon/circulum-backend/pkg/clock"
	"github.com/angelmondragon/circulum-backend/pkg/db"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/derive"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// MinIntervalSeconds is the shortest billing cycle a plan may use.
	MinIntervalSeconds int64 = 60
	// MaxMetadataLen bounds the free-form plan metadata.
	MaxMetadataLen = 200
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the plans service.
type ServiceParams struct {
	DB     TxRunner
	Repo   Repository
	Events events.Recorder
	Clock  clock.Clock
}

// Service owns the plan registry: creation, mutation, lifecycle.
type Service struct {
	db     TxRunner
	repo   Repository
	events events.Recorder
	clock  clock.Clock
}

// NewService builds a plans service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Events == nil {
		return nil, errors.New("events recorder is required")
	}
	if params.Clock == nil {
		return nil, errors.New("clock is required")
	}
	return &Service{
		db:     params.DB,
		repo:   params.Repo,
		events: params.Events,
		clock:  params.Clock,
	}, nil
}

// CreateInput captures the data for registering a plan.
type CreateInput struct {
	Authority      uuid.UUID
	PlanID         uint64
	PriceUnits     uint64
	Mint           string
	IntervalSecs   int64
	Metadata       string
	MaxSubscribers uint32
}

func validateCreate(input CreateInput) error {
	if input.Authority == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "authority is required")
	}
	if strings.TrimSpace(input.Mint) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "mint is required")
	}
	if input.PriceUnits == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidPrice, "price must be greater than zero")
	}
	if input.IntervalSecs < MinIntervalSeconds {
		return pkgerrors.New(pkgerrors.CodeIntervalTooShort, "interval must be at least 60 seconds")
	}
	if input.MaxSubscribers == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidMaxSubscribers, "max subscribers must be greater than zero")
	}
	if len(input.Metadata) > MaxMetadataLen {
		return pkgerrors.New(pkgerrors.CodeMetadataTooLong, "metadata exceeds the 200 character limit")
	}
	return nil
}

// Create registers a new plan. Address and salt both derive from the
// authority and numeric id, so any party can recompute the address
// without reading the record; the unique index rejects a second
// registration of the same pair.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Plan, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	salt := derive.PlanSalt(input.Authority, input.PlanID)
	now := s.clock.Now()
	plan := &models.Plan{
		Address:         derive.PlanAddress(input.Authority, input.PlanID, salt),
		PlanID:          input.PlanID,
		Authority:       input.Authority,
		Salt:            salt,
		PriceUnits:      input.PriceUnits,
		Mint:            strings.TrimSpace(input.Mint),
		IntervalSeconds: input.IntervalSecs,
		Metadata:        input.Metadata,
		IsActive:        true,
		MaxSubscribers:  input.MaxSubscribers,
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, plan); err != nil {
			if db.IsUniqueViolation(err, "idx_plans_authority_plan_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "plan already exists for this authority and plan id")
			}
			return err
		}
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:        models.EventPlanCreated,
			Principal:   input.Authority,
			PlanAddress: plan.Address,
			OccurredAt:  now.Unix(),
			Payload: map[string]any{
				"plan_id":         plan.PlanID,
				"price_units":     plan.PriceUnits,
				"mint":            plan.Mint,
				"interval_secs":   plan.IntervalSeconds,
				"max_subscribers": plan.MaxSubscribers,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Get returns the plan when the principal is its authority.
func (s *Service) Get(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error) {
	plan, err := s.repo.FindByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if err := guard.VerifyPlanAddress(plan); err != nil {
		return nil, err
	}
	if err := guard.RequirePlanAuthority(plan, principal); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListParams configures plan listing for an authority.
type ListParams struct {
	Authority  uuid.UUID
	ActiveOnly bool
	Limit      int
	Cursor     string
}

// ListResult is one page of plans.
type ListResult struct {
	Items  []models.Plan
	Cursor string
}

// List returns the authority's plans, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Authority == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authority is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.List(ctx, ListQuery{
		Authority:  &params.Authority,
		ActiveOnly: params.ActiveOnly,
		Limit:      params.Limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, err
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// UpdateInput carries the mutable plan attributes. Nil fields are left
// unchanged.
type UpdateInput struct {
	PriceUnits      *uint64
	IntervalSeconds *int64
	Metadata        *string
	MaxSubscribers  *uint32
}

// Update mutates a plan's price, interval, metadata, or subscriber
// cap. A new interval applies from each subscription's next collection
// onward; due times already scheduled are left alone.
func (s *Service) Update(ctx context.Context, principal uuid.UUID, address string, input UpdateInput) (*models.Plan, error) {
	var updated *models.Plan
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		plan, err := s.loadOwnedForUpdate(ctx, tx, principal, address)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanInactive, "plan is inactive")
		}

		if input.PriceUnits != nil {
			if *input.PriceUnits == 0 {
				return pkgerrors.New(pkgerrors.CodeInvalidPrice, "price must be greater than zero")
			}
			plan.PriceUnits = *input.PriceUnits
		}
		if input.IntervalSeconds != nil {
			if *input.IntervalSeconds < MinIntervalSeconds {
				return pkgerrors.New(pkgerrors.CodeIntervalTooShort, "interval must be at least 60 seconds")
			}
			plan.IntervalSeconds = *input.IntervalSeconds
		}
		if input.Metadata != nil {
			if len(*input.Metadata) > MaxMetadataLen {
				return pkgerrors.New(pkgerrors.CodeMetadataTooLong, "metadata exceeds the 200 character limit")
			}
			plan.Metadata = *input.Metadata
		}
		if input.MaxSubscribers != nil {
			if *input.MaxSubscribers == 0 {
				return pkgerrors.New(pkgerrors.CodeInvalidMaxSubscribers, "max subscribers must be greater than zero")
			}
			if *input.MaxSubscribers < plan.TotalSubscribers {
				return pkgerrors.New(pkgerrors.CodeMaxSubscribersTooLow, "max subscribers cannot drop below the current subscriber count")
			}
			plan.MaxSubscribers = *input.MaxSubscribers
		}

		if err := s.repo.WithTx(tx).Save(ctx, plan); err != nil {
			return err
		}
		updated = plan
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:        models.EventPlanUpdated,
			Principal:   principal,
			PlanAddress: plan.Address,
			OccurredAt:  s.clock.Now().Unix(),
			Payload: map[string]any{
				"price_units":     plan.PriceUnits,
				"interval_secs":   plan.IntervalSeconds,
				"max_subscribers": plan.MaxSubscribers,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Pause suspends charging and enrollment without tearing the plan down.
func (s *Service) Pause(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error) {
	return s.transition(ctx, principal, address, models.EventPlanPaused, func(plan *models.Plan) error {
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanInactive, "plan is inactive")
		}
		if plan.IsPaused {
			return pkgerrors.New(pkgerrors.CodePlanAlreadyPaused, "plan is already paused")
		}
		plan.IsPaused = true
		return nil
	})
}

// Unpause resumes a paused plan.
func (s *Service) Unpause(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error) {
	return s.transition(ctx, principal, address, models.EventPlanUnpaused, func(plan *models.Plan) error {
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanInactive, "plan is inactive")
		}
		if !plan.IsPaused {
			return pkgerrors.New(pkgerrors.CodePlanNotPaused, "plan is not paused")
		}
		plan.IsPaused = false
		return nil
	})
}

// Deactivate retires the plan permanently. Existing subscriptions stop
// collecting; there is no way back.
func (s *Service) Deactivate(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error) {
	return s.transition(ctx, principal, address, models.EventPlanDeactivated, func(plan *models.Plan) error {
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodePlanAlreadyInactive, "plan is already inactive")
		}
		plan.IsActive = false
		return nil
	})
}

func (s *Service) transition(ctx context.Context, principal uuid.UUID, address string, eventType models.BillingEventType, apply func(*models.Plan) error) (*models.Plan, error) {
	var updated *models.Plan
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		plan, err := s.loadOwnedForUpdate(ctx, tx, principal, address)
		if err != nil {
			return err
		}
		if err := apply(plan); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Save(ctx, plan); err != nil {
			return err
		}
		updated = plan
		return s.events.Record(ctx, tx, events.RecordInput{
			Type:        eventType,
			Principal:   principal,
			PlanAddress: plan.Address,
			OccurredAt:  s.clock.Now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) loadOwnedForUpdate(ctx context.Context, tx *gorm.DB, principal uuid.UUID, address string) (*models.Plan, error) {
	plan, err := s.repo.WithTx(tx).FindByAddressForUpdate(ctx, address)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if err := guard.VerifyPlanAddress(plan); err != nil {
		return nil, err
	}
	if err := guard.RequirePlanAuthority(plan, principal); err != nil {
		return nil, err
	}
	return plan, nil
}

// Drift reports one plan whose stored subscriber counter disagreed with
// the number of live subscription rows.
type Drift struct {
	PlanAddress string `json:"plan_address"`
	Stored      uint32 `json:"stored"`
	Actual      uint32 `json:"actual"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
}

// Reconcile recomputes every plan's subscriber counter from its live
// subscription rows and repairs any divergence. With correct counter
// maintenance the report comes back empty; a non-empty report means a
// write path skipped its counter update.
func (s *Service) Reconcile(ctx context.Context, batchSize int) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	after := ""

	for {
		batch, err := s.repo.ListForReconciliation(ctx, after, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return report, nil
		}

		for _, item := range batch {
			address := item.Address
			err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				plan, err := repo.FindByAddressForUpdate(ctx, address)
				if err != nil {
					return err
				}
				if plan == nil {
					return nil
				}
				actual, err := repo.CountActiveSubscriptions(ctx, plan.Address)
				if err != nil {
					return err
				}
				report.Checked++
				if int64(plan.TotalSubscribers) == actual {
					return nil
				}
				report.Drifts = append(report.Drifts, Drift{
					PlanAddress: plan.Address,
					Stored:      plan.TotalSubscribers,
					Actual:      uint32(actual),
				})
				plan.TotalSubscribers = uint32(actual)
				return repo.Save(ctx, plan)
			})
			if err != nil {
				return nil, err
			}
		}

		after = batch[len(batch)-1].Address
	}
}
