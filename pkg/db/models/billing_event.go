package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BillingEventType identifies what happened. Values are stable wire
// strings consumed by downstream subscribers.
type BillingEventType string

const (
	EventPlanCreated           BillingEventType = "plan.created"
	EventPlanUpdated           BillingEventType = "plan.updated"
	EventPlanPaused            BillingEventType = "plan.paused"
	EventPlanUnpaused          BillingEventType = "plan.unpaused"
	EventPlanDeactivated       BillingEventType = "plan.deactivated"
	EventSubscriptionCreated   BillingEventType = "subscription.created"
	EventPaymentProcessed      BillingEventType = "subscription.payment_processed"
	EventSubscriptionCancelled BillingEventType = "subscription.cancelled"
	EventSubscriptionClosed    BillingEventType = "subscription.closed"
	EventTokenAccountCreated   BillingEventType = "token_account.created"
	EventFundsDeposited        BillingEventType = "token_account.deposited"
)

// BillingEvent is an append-only record of one successful engine
// operation, written in the same transaction as the state change it
// describes. The published_at / attempt_count / last_error columns make
// the table double as a transactional outbox.
type BillingEvent struct {
	ID                  uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type                BillingEventType `gorm:"column:type;not null;index"`
	Principal           uuid.UUID        `gorm:"column:principal;type:uuid;not null"`
	PlanAddress         string           `gorm:"column:plan_address;index"`
	SubscriptionAddress string           `gorm:"column:subscription_address;index"`
	AmountUnits         uint64           `gorm:"column:amount_units;not null;default:0"`
	OccurredAt          int64            `gorm:"column:occurred_at;not null"`
	Payload             json.RawMessage  `gorm:"column:payload;type:jsonb"`
	CreatedAt           time.Time        `gorm:"column:created_at;autoCreateTime"`

	PublishedAt  *time.Time `gorm:"column:published_at;index"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0"`
	LastError    string     `gorm:"column:last_error;not null;default:''"`
}

func (BillingEvent) TableName() string {
	return "billing_events"
}
