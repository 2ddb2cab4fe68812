package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a recurring billing offer owned by an authority. Its primary
// key is the derived address; the salt used in the derivation is stored
// so the address can be recomputed and verified later.
type Plan struct {
	Address          string    `gorm:"column:address;primaryKey"`
	PlanID           uint64    `gorm:"column:plan_id;not null;uniqueIndex:idx_plans_authority_plan_id"`
	Authority        uuid.UUID `gorm:"column:authority;type:uuid;not null;uniqueIndex:idx_plans_authority_plan_id"`
	Salt             []byte    `gorm:"column:salt;type:bytea;not null"`
	PriceUnits       uint64    `gorm:"column:price_units;not null"`
	Mint             string    `gorm:"column:mint;not null"`
	IntervalSeconds  int64     `gorm:"column:interval_seconds;not null"`
	Metadata         string    `gorm:"column:metadata;size:200;not null;default:''"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true"`
	IsPaused         bool      `gorm:"column:is_paused;not null;default:false"`
	TotalSubscribers uint32    `gorm:"column:total_subscribers;not null;default:0"`
	MaxSubscribers   uint32    `gorm:"column:max_subscribers;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string {
	return "plans"
}
