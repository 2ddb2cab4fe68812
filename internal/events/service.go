package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recorder appends billing events inside a caller-owned transaction.
// Exactly one event is recorded per successful engine operation; a
// rolled-back transaction takes its event with it.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) error
}

// RecordInput captures the immutable data a billing event requires.
type RecordInput struct {
	Type                models.BillingEventType
	Principal           uuid.UUID
	PlanAddress         string
	SubscriptionAddress string
	AmountUnits         uint64
	OccurredAt          int64
	Payload             any
}

// ServiceParams groups dependencies for the events service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes the append-only billing event log.
type Service struct {
	repo Repository
}

// NewService builds an events service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) error {
	if input.Type == "" {
		return errors.New("event type is required")
	}
	if input.Principal == uuid.Nil {
		return errors.New("event principal is required")
	}

	var payload json.RawMessage
	if input.Payload != nil {
		encoded, err := json.Marshal(input.Payload)
		if err != nil {
			return err
		}
		payload = encoded
	}

	event := &models.BillingEvent{
		Type:                input.Type,
		Principal:           input.Principal,
		PlanAddress:         input.PlanAddress,
		SubscriptionAddress: input.SubscriptionAddress,
		AmountUnits:         input.AmountUnits,
		OccurredAt:          input.OccurredAt,
		Payload:             payload,
	}
	return s.repo.WithTx(tx).Append(ctx, event)
}

// List returns a page of events, newest first.
func (s *Service) List(ctx context.Context, params ListQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
	return s.repo.List(ctx, params)
}
