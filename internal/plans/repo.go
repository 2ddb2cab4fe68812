package plans

import (
	"context"

	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, plan *models.Plan) error
	FindByAddress(ctx context.Context, address string) (*models.Plan, error)
	FindByAddressForUpdate(ctx context.Context, address string) (*models.Plan, error)
	Save(ctx context.Context, plan *models.Plan) error
	List(ctx context.Context, params ListQuery) ([]models.Plan, *pagination.Cursor, error)
	ListForReconciliation(ctx context.Context, afterAddress string, limit int) ([]models.Plan, error)
	CountActiveSubscriptions(ctx context.Context, planAddress string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plans repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindByAddress(ctx context.Context, address string) (*models.Plan, error) {
	return r.find(ctx, address, false)
}

// FindByAddressForUpdate locks the plan row for the remainder of the
// transaction so concurrent mutations of the same plan serialize.
func (r *repository) FindByAddressForUpdate(ctx context.Context, address string) (*models.Plan, error) {
	return r.find(ctx, address, true)
}

func (r *repository) find(ctx context.Context, address string, lock bool) (*models.Plan, error) {
	if address == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx)
	if lock && query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var plan models.Plan
	if err := query.Where("address = ?", address).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) Save(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

// ListQuery configures plan list queries.
type ListQuery struct {
	Authority  *uuid.UUID
	ActiveOnly bool
	Limit      int
	Cursor     *pagination.Cursor
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Plan, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Plan{})
	if params.Authority != nil {
		query = query.Where("authority = ?", *params.Authority)
	}
	if params.ActiveOnly {
		query = query.Where("is_active")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, address) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.Key)
	}

	var plans []models.Plan
	if err := query.Order("created_at DESC, address DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&plans).Error; err != nil {
		return nil, nil, err
	}

	if len(plans) > limit {
		next := plans[limit]
		plans = plans[:limit]
		return plans, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			Key:       next.Address,
		}, nil
	}

	return plans, nil, nil
}

// ListForReconciliation walks every plan in keyset batches ordered by
// address.
func (r *repository) ListForReconciliation(ctx context.Context, afterAddress string, limit int) ([]models.Plan, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&models.Plan{})
	if afterAddress != "" {
		query = query.Where("address > ?", afterAddress)
	}
	var plans []models.Plan
	if err := query.Order("address ASC").Limit(limit).Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) CountActiveSubscriptions(ctx context.Context, planAddress string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("plan_address = ? AND is_active", planAddress).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
