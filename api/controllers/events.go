package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulum-backend/api/responses"
	"github.com/angelmondragon/circulum-backend/api/validators"
	"github.com/angelmondragon/circulum-backend/internal/events"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/angelmondragon/circulum-backend/pkg/logger"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
)

// EventsService is the audit-trail surface the event endpoints need.
type EventsService interface {
	List(ctx context.Context, params events.ListQuery) ([]models.BillingEvent, *pagination.Cursor, error)
}

type eventResponse struct {
	ID                  uuid.UUID       `json:"id"`
	Type                string          `json:"type"`
	Principal           uuid.UUID       `json:"principal"`
	PlanAddress         string          `json:"plan_address,omitempty"`
	SubscriptionAddress string          `json:"subscription_address,omitempty"`
	AmountUnits         uint64          `json:"amount_units"`
	OccurredAt          int64           `json:"occurred_at"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

func EventList(svc EventsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		query := events.ListQuery{
			PlanAddress:         strings.TrimSpace(r.URL.Query().Get("plan_address")),
			SubscriptionAddress: strings.TrimSpace(r.URL.Query().Get("subscription_address")),
			Limit:               limit,
			Cursor:              cursor,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			eventType := models.BillingEventType(raw)
			query.Type = &eventType
		}

		items, next, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]eventResponse, 0, len(items))
		for _, event := range items {
			out = append(out, eventResponse{
				ID:                  event.ID,
				Type:                string(event.Type),
				Principal:           event.Principal,
				PlanAddress:         event.PlanAddress,
				SubscriptionAddress: event.SubscriptionAddress,
				AmountUnits:         event.AmountUnits,
				OccurredAt:          event.OccurredAt,
				Payload:             event.Payload,
			})
		}

		encoded := ""
		if next != nil {
			encoded = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  out,
			"cursor": encoded,
		})
	}
}
