package promo

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

// Context carries the per-resolution evaluation inputs. Now is injected so
// validity windows are testable without wall-clock dependence.
type Context struct {
	Now          time.Time
	CustomerID   string
	IsFirstOrder bool

	// PriorUse maps rule ID to the customer's prior redemption count,
	// used to enforce per-user limits.
	PriorUse map[string]int
}

// Matches reports whether the cart satisfies the rule's conditions. When it
// does not, the second return value is a human-readable rejection reason.
// Matches never panics on malformed rules; they surface as a rejection.
func Matches(r rule.Rule, c cart.Cart, ectx Context) (bool, string) {
	if err := r.Validate(); err != nil {
		// Should have been caught at rule creation. Treated as a rejection
		// so one bad row cannot take down a whole resolution.
		return false, ReasonMalformed
	}

	env := r.Common()
	if env.Status != rule.StatusActive {
		return false, ReasonInactive
	}
	// Validity window is [start, end).
	if !env.StartDate.IsZero() && ectx.Now.Before(env.StartDate) {
		return false, ReasonNotStarted
	}
	if !env.EndDate.IsZero() && !ectx.Now.Before(env.EndDate) {
		return false, ReasonExpired
	}

	switch rr := r.(type) {
	case *rule.Coupon:
		return matchesConditions(env.ID, rr.Conditions, c, ectx)
	case *rule.Promotion:
		return matchesConditions(env.ID, rr.Conditions, c, ectx)
	case *rule.Combo:
		return matchesCombo(rr, c, ectx)
	default:
		return false, ReasonMalformed
	}
}

// matchesConditions evaluates the shared coupon/promotion condition surface.
// Checks run cheapest first and short-circuit on the first failure.
func matchesConditions(ruleID string, cond rule.Conditions, c cart.Cart, ectx Context) (bool, string) {
	if len(cond.RestrictedToUsers) > 0 && !slices.Contains(cond.RestrictedToUsers, ectx.CustomerID) {
		return false, ReasonRestricted
	}
	if cond.FirstOrderOnly && !ectx.IsFirstOrder {
		return false, ReasonFirstOrderOnly
	}
	if cond.UsageLimit > 0 && cond.UsageCount >= cond.UsageLimit {
		return false, ReasonUsageLimit
	}
	if cond.PerUserLimit > 0 && ectx.PriorUse[ruleID] >= cond.PerUserLimit {
		return false, ReasonPerUserLimit
	}

	scoped := ScopeLines(c, cond)
	if cond.MinOrderAmount.IsPositive() && linesTotal(scoped).LessThan(cond.MinOrderAmount) {
		return false, ReasonMinOrder
	}
	if cond.MinQuantity > 0 && linesQuantity(scoped) < cond.MinQuantity {
		return false, ReasonMinQuantity
	}
	if cond.Scoped() && len(scoped) == 0 {
		return false, ReasonNoApplicableItems
	}
	return true, ""
}

// matchesCombo requires every required item's quantity to be present in the
// cart. Optional items only affect payout, not eligibility.
func matchesCombo(cb *rule.Combo, c cart.Cart, ectx Context) (bool, string) {
	if cb.UsageLimit > 0 && cb.UsageCount >= cb.UsageLimit {
		return false, ReasonUsageLimit
	}
	if cb.PerUserLimit > 0 && ectx.PriorUse[cb.ID] >= cb.PerUserLimit {
		return false, ReasonPerUserLimit
	}
	for _, item := range cb.Items {
		if !item.Required {
			continue
		}
		if c.QuantityOf(item.ProductID, item.VariantID) < item.Quantity {
			return false, ReasonComboItemsMissing
		}
	}
	return true, ""
}

// ScopeLines returns the cart lines a rule's thresholds and discount apply
// to: the whole cart when no scope is declared, otherwise lines matching the
// applicable products or categories. Excluded products are removed in both
// cases.
func ScopeLines(c cart.Cart, cond rule.Conditions) []cart.Line {
	out := make([]cart.Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		if slices.Contains(cond.ExcludedProducts, l.ProductID) {
			continue
		}
		if cond.Scoped() && !lineInScope(l, cond) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func lineInScope(l cart.Line, cond rule.Conditions) bool {
	if slices.Contains(cond.ApplicableProducts, l.ProductID) {
		return true
	}
	for _, cat := range cond.ApplicableCategories {
		if l.InCategory(cat) {
			return true
		}
	}
	return false
}

func linesTotal(lines []cart.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

func linesQuantity(lines []cart.Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
