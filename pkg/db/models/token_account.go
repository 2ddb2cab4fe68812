package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenAccount is a balance in a single mint controlled by one
// principal. Transfers between accounts of different mints are refused.
type TokenAccount struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Owner        uuid.UUID `gorm:"column:owner;type:uuid;not null;index"`
	Mint         string    `gorm:"column:mint;not null"`
	BalanceUnits uint64    `gorm:"column:balance_units;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TokenAccount) TableName() string {
	return "token_accounts"
}
