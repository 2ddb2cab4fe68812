package events

import (
	"context"
	"time"

	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles billing event persistence. The table is
// append-only: rows are never updated except for outbox bookkeeping.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, event *models.BillingEvent) error
	List(ctx context.Context, params ListQuery) ([]models.BillingEvent, *pagination.Cursor, error)
	ListUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.BillingEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, publishErr string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an events repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListQuery configures billing event list queries.
type ListQuery struct {
	Type                *models.BillingEventType
	PlanAddress         string
	SubscriptionAddress string
	Limit               int
	Cursor              *pagination.Cursor
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.BillingEvent{})
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.PlanAddress != "" {
		query = query.Where("plan_address = ?", params.PlanAddress)
	}
	if params.SubscriptionAddress != "" {
		query = query.Where("subscription_address = ?", params.SubscriptionAddress)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.Key)
	}

	var events []models.BillingEvent
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&events).Error; err != nil {
		return nil, nil, err
	}

	if len(events) > limit {
		next := events[limit]
		events = events[:limit]
		return events, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			Key:       next.ID.String(),
		}, nil
	}

	return events, nil, nil
}

// ListUnpublished returns pending outbox rows, oldest first. Rows that
// have exhausted maxAttempts stay in the table for inspection but are
// no longer offered for publishing.
func (r *repository) ListUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.BillingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var events []models.BillingEvent
	if err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": at,
			"last_error":   "",
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, publishErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    publishErr,
		}).Error
}
