package treasury

import (
	"context"
	"testing"

	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTreasuryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS token_accounts (
  id TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  mint TEXT NOT NULL,
  balance_units INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func TestRepositoryRoundTrip(t *testing.T) {
	db := setupTreasuryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	owner := uuid.New()
	account := &models.TokenAccount{ID: uuid.New(), Owner: owner, Mint: "usdc", BalanceUnits: 7}
	require.NoError(t, repo.Create(ctx, account))

	found, err := repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, owner, found.Owner)
	require.Equal(t, uint64(7), found.BalanceUnits)

	found.BalanceUnits = 42
	require.NoError(t, repo.Save(ctx, found))

	locked, err := repo.FindByIDForUpdate(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	require.Equal(t, uint64(42), locked.BalanceUnits)
}

func TestRepositoryMissingAccount(t *testing.T) {
	db := setupTreasuryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	found, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = repo.FindByID(ctx, uuid.Nil)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestListByOwner(t *testing.T) {
	db := setupTreasuryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	owner := uuid.New()
	require.NoError(t, repo.Create(ctx, &models.TokenAccount{ID: uuid.New(), Owner: owner, Mint: "usdc"}))
	require.NoError(t, repo.Create(ctx, &models.TokenAccount{ID: uuid.New(), Owner: owner, Mint: "sol"}))
	require.NoError(t, repo.Create(ctx, &models.TokenAccount{ID: uuid.New(), Owner: uuid.New(), Mint: "usdc"}))

	accounts, err := repo.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}
