package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is one subscriber's enrollment in a plan. Schedule
// fields are epoch seconds so due-window math stays integer and
// overflow-checked. The funding and settlement accounts are captured at
// enrollment and form the standing transfer authorization that every
// collection cycle re-validates.
type Subscription struct {
	Address             string    `gorm:"column:address;primaryKey"`
	PlanAddress         string    `gorm:"column:plan_address;not null;index"`
	PlanID              uint64    `gorm:"column:plan_id;not null;uniqueIndex:idx_subscriptions_subscriber_plan_id"`
	Subscriber          uuid.UUID `gorm:"column:subscriber;type:uuid;not null;uniqueIndex:idx_subscriptions_subscriber_plan_id"`
	Salt                []byte    `gorm:"column:salt;type:bytea;not null"`
	FundingAccountID    uuid.UUID `gorm:"column:funding_account_id;type:uuid;not null"`
	SettlementAccountID uuid.UUID `gorm:"column:settlement_account_id;type:uuid;not null"`
	StartTime           int64     `gorm:"column:start_time;not null"`
	LastPaymentTime     int64     `gorm:"column:last_payment_time;not null"`
	NextPaymentTime     int64     `gorm:"column:next_payment_time;not null;index"`
	TotalPayments       uint64    `gorm:"column:total_payments;not null;default:0"`
	IsActive            bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
