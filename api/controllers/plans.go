package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulum-backend/api/middleware"
	"github.com/angelmondragon/circulum-backend/api/responses"
	"github.com/angelmondragon/circulum-backend/api/validators"
	"github.com/angelmondragon/circulum-backend/internal/plans"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
)

// PlansService is the plan management surface the plan endpoints need.
type PlansService interface {
	Create(ctx context.Context, input plans.CreateInput) (*models.Plan, error)
	Get(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error)
	List(ctx context.Context, params plans.ListParams) (*plans.ListResult, error)
	Update(ctx context.Context, principal uuid.UUID, address string, input plans.UpdateInput) (*models.Plan, error)
	Pause(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error)
	Unpause(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error)
	Deactivate(ctx context.Context, principal uuid.UUID, address string) (*models.Plan, error)
}

type planResponse struct {
	Address          string    `json:"address"`
	PlanID           uint64    `json:"plan_id"`
	Authority        uuid.UUID `json:"authority"`
	PriceUnits       uint64    `json:"price_units"`
	Mint             string    `json:"mint"`
	IntervalSeconds  int64     `json:"interval_seconds"`
	Metadata         string    `json:"metadata"`
	IsActive         bool      `json:"is_active"`
	IsPaused         bool      `json:"is_paused"`
	TotalSubscribers uint32    `json:"total_subscribers"`
	MaxSubscribers   uint32    `json:"max_subscribers"`
}

func newPlanResponse(plan *models.Plan) planResponse {
	return planResponse{
		Address:          plan.Address,
		PlanID:           plan.PlanID,
		Authority:        plan.Authority,
		PriceUnits:       plan.PriceUnits,
		Mint:             plan.Mint,
		IntervalSeconds:  plan.IntervalSeconds,
		Metadata:         plan.Metadata,
		IsActive:         plan.IsActive,
		IsPaused:         plan.IsPaused,
		TotalSubscribers: plan.TotalSubscribers,
		MaxSubscribers:   plan.MaxSubscribers,
	}
}

type createPlanRequest struct {
	PlanID          uint64 `json:"plan_id" validate:"required"`
	PriceUnits      uint64 `json:"price_units" validate:"required"`
	Mint            string `json:"mint" validate:"required"`
	IntervalSeconds int64  `json:"interval_seconds" validate:"required"`
	Metadata        string `json:"metadata"`
	MaxSubscribers  uint32 `json:"max_subscribers" validate:"required"`
}

func PlanCreate(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPlanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.Create(r.Context(), plans.CreateInput{
			Authority:      middleware.PrincipalFromContext(r.Context()),
			PlanID:         req.PlanID,
			PriceUnits:     req.PriceUnits,
			Mint:           req.Mint,
			IntervalSecs:   req.IntervalSeconds,
			Metadata:       req.Metadata,
			MaxSubscribers: req.MaxSubscribers,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPlanResponse(plan))
	}
}

func PlanList(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly, err := validators.ParseQueryBool(r, "active_only", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), plans.ListParams{
			Authority:  middleware.PrincipalFromContext(r.Context()),
			ActiveOnly: activeOnly,
			Limit:      limit,
			Cursor:     r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]planResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, newPlanResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

func PlanDetail(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := svc.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

type updatePlanRequest struct {
	PriceUnits      *uint64 `json:"price_units"`
	IntervalSeconds *int64  `json:"interval_seconds"`
	Metadata        *string `json:"metadata"`
	MaxSubscribers  *uint32 `json:"max_subscribers"`
}

func PlanUpdate(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updatePlanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := svc.Update(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress"), plans.UpdateInput{
			PriceUnits:      req.PriceUnits,
			IntervalSeconds: req.IntervalSeconds,
			Metadata:        req.Metadata,
			MaxSubscribers:  req.MaxSubscribers,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}

func PlanPause(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return planTransition(svc.Pause, logg)
}

func PlanUnpause(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return planTransition(svc.Unpause, logg)
}

func PlanDeactivate(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return planTransition(svc.Deactivate, logg)
}

func planTransition(apply func(context.Context, uuid.UUID, string) (*models.Plan, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := apply(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlanResponse(plan))
	}
}
