package treasury

import (
	"context"

	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles token account persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.TokenAccount) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error)
	Save(ctx context.Context, account *models.TokenAccount) error
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]models.TokenAccount, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a treasury repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, account *models.TokenAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error) {
	return r.find(ctx, id, false)
}

// FindByIDForUpdate locks the account row for the remainder of the
// transaction so concurrent transfers serialize per account.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TokenAccount, error) {
	return r.find(ctx, id, true)
}

func (r *repository) find(ctx context.Context, id uuid.UUID, lock bool) (*models.TokenAccount, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	query := r.db.WithContext(ctx)
	if lock && query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var account models.TokenAccount
	if err := query.Where("id = ?", id).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) Save(ctx context.Context, account *models.TokenAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *repository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]models.TokenAccount, error) {
	var accounts []models.TokenAccount
	if err := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
