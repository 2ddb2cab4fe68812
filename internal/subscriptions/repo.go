package subscriptions

import (
	"context"

	"github.com/angelmondragon/circulum-backend/internal/schedule"
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	FindBySubscriberAndPlan(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error)
	FindBySubscriberAndPlanForUpdate(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error)
	Save(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, sub *models.Subscription) error
	ListDue(ctx context.Context, now int64, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscriptions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindBySubscriberAndPlan(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error) {
	return r.find(ctx, subscriber, planAddress, false)
}

// FindBySubscriberAndPlanForUpdate locks the subscription row for the
// remainder of the transaction so concurrent collections serialize.
func (r *repository) FindBySubscriberAndPlanForUpdate(ctx context.Context, subscriber uuid.UUID, planAddress string) (*models.Subscription, error) {
	return r.find(ctx, subscriber, planAddress, true)
}

func (r *repository) find(ctx context.Context, subscriber uuid.UUID, planAddress string, lock bool) (*models.Subscription, error) {
	if subscriber == uuid.Nil || planAddress == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx)
	if lock && query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub models.Subscription
	if err := query.
		Where("subscriber = ? AND plan_address = ?", subscriber, planAddress).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// Delete removes the subscription row entirely; closing a subscription
// reclaims its plan slot and its record.
func (r *repository) Delete(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Delete(sub).Error
}

// ListDue returns active subscriptions whose next payment time has
// arrived, oldest due first. Rows whose due time already fell out of
// the grace window are excluded: they can never collect again, and
// left in they would sort to the head of every batch and crowd out
// rows that are still collectible.
func (r *repository) ListDue(ctx context.Context, now int64, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("is_active AND next_payment_time <= ? AND next_payment_time >= ?", now, now-schedule.GraceSeconds).
		Order("next_payment_time ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
