package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulum-backend/api/middleware"
	"github.com/angelmondragon/circulum-backend/api/responses"
	"github.com/angelmondragon/circulum-backend/api/validators"
	"github.com/angelmondragon/circulum-backend/internal/subscriptions"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
)

// SubscriptionsService is the lifecycle surface the subscription
// endpoints need.
type SubscriptionsService interface {
	Subscribe(ctx context.Context, input subscriptions.SubscribeInput) (*models.Subscription, error)
	Get(ctx context.Context, principal uuid.UUID, planAddress string) (*models.Subscription, error)
	ProcessPayment(ctx context.Context, input subscriptions.CollectInput) (*models.Subscription, error)
	Cancel(ctx context.Context, principal uuid.UUID, planAddress string) (*models.Subscription, error)
	Close(ctx context.Context, principal uuid.UUID, planAddress string) error
}

type subscriptionResponse struct {
	Address             string    `json:"address"`
	PlanAddress         string    `json:"plan_address"`
	PlanID              uint64    `json:"plan_id"`
	Subscriber          uuid.UUID `json:"subscriber"`
	FundingAccountID    uuid.UUID `json:"funding_account_id"`
	SettlementAccountID uuid.UUID `json:"settlement_account_id"`
	StartTime           int64     `json:"start_time"`
	LastPaymentTime     int64     `json:"last_payment_time"`
	NextPaymentTime     int64     `json:"next_payment_time"`
	TotalPayments       uint64    `json:"total_payments"`
	IsActive            bool      `json:"is_active"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Address:             sub.Address,
		PlanAddress:         sub.PlanAddress,
		PlanID:              sub.PlanID,
		Subscriber:          sub.Subscriber,
		FundingAccountID:    sub.FundingAccountID,
		SettlementAccountID: sub.SettlementAccountID,
		StartTime:           sub.StartTime,
		LastPaymentTime:     sub.LastPaymentTime,
		NextPaymentTime:     sub.NextPaymentTime,
		TotalPayments:       sub.TotalPayments,
		IsActive:            sub.IsActive,
	}
}

type subscribeRequest struct {
	FundingAccountID    uuid.UUID `json:"funding_account_id" validate:"required"`
	SettlementAccountID uuid.UUID `json:"settlement_account_id" validate:"required"`
}

func SubscriptionCreate(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscribeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Subscribe(r.Context(), subscriptions.SubscribeInput{
			Subscriber:          middleware.PrincipalFromContext(r.Context()),
			PlanAddress:         chi.URLParam(r, "planAddress"),
			FundingAccountID:    req.FundingAccountID,
			SettlementAccountID: req.SettlementAccountID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSubscriptionResponse(sub))
	}
}

func SubscriptionDetail(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

type collectRequest struct {
	Subscriber uuid.UUID `json:"subscriber" validate:"required"`
}

// SubscriptionCollect triggers a payment collection. The service
// accepts the attempt only when the caller is the subscription's
// stored subscriber, so naming another principal's subscription in the
// body yields INVALID_SUBSCRIBER.
func SubscriptionCollect(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req collectRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.ProcessPayment(r.Context(), subscriptions.CollectInput{
			Caller:      middleware.PrincipalFromContext(r.Context()),
			PlanAddress: chi.URLParam(r, "planAddress"),
			Subscriber:  req.Subscriber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func SubscriptionCancel(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Cancel(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func SubscriptionClose(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Close(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "planAddress")); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "closed"})
	}
}
