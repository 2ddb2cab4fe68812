// Package guard evaluates the relationship between the calling
// principal and the records an operation touches. Every mutation runs
// its guard checks before any state moves.
package guard

import (
	"github.com/angelmondragon/circulum-backend/pkg/db/models"
	"github.com/angelmondragon/circulum-backend/pkg/derive"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
	"github.com/google/uuid"
)

// RequirePlanAuthority verifies the principal controls the plan.
func RequirePlanAuthority(plan *models.Plan, principal uuid.UUID) error {
	if plan == nil || plan.Authority != principal {
		return pkgerrors.New(pkgerrors.CodeInvalidAuthority, "caller is not the plan authority")
	}
	return nil
}

// RequireSubscriptionOwner verifies the principal owns the subscription.
func RequireSubscriptionOwner(sub *models.Subscription, principal uuid.UUID) error {
	if sub == nil || sub.Subscriber != principal {
		return pkgerrors.New(pkgerrors.CodeInvalidSubscriber, "caller is not the subscription owner")
	}
	return nil
}

// RequireSamePlan verifies the subscription actually belongs to the
// plan named by the operation.
func RequireSamePlan(sub *models.Subscription, plan *models.Plan) error {
	if sub == nil || plan == nil || sub.PlanAddress != plan.Address || sub.PlanID != plan.PlanID {
		return pkgerrors.New(pkgerrors.CodeInvalidPlanID, "subscription does not reference the named plan")
	}
	return nil
}

// RequireAccountOwner verifies the token account is controlled by the
// principal.
func RequireAccountOwner(account *models.TokenAccount, principal uuid.UUID) error {
	if account == nil || account.Owner != principal {
		return pkgerrors.New(pkgerrors.CodeInvalidAccountOwner, "token account is not controlled by the caller")
	}
	return nil
}

// VerifyPlanAddress recomputes the plan's derived address from its
// stored inputs and compares in constant time.
func VerifyPlanAddress(plan *models.Plan) error {
	if plan == nil || !derive.Verify(plan.Address, derive.TagPlan, plan.Authority, plan.PlanID, plan.Salt) {
		return pkgerrors.New(pkgerrors.CodeAddressMismatch, "plan address does not recompute")
	}
	return nil
}

// VerifySubscriptionAddress recomputes the subscription's derived
// address from its stored inputs and compares in constant time.
func VerifySubscriptionAddress(sub *models.Subscription) error {
	if sub == nil || !derive.Verify(sub.Address, derive.TagSubscription, sub.Subscriber, sub.PlanID, sub.Salt) {
		return pkgerrors.New(pkgerrors.CodeAddressMismatch, "subscription address does not recompute")
	}
	return nil
}
