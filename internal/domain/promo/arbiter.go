package promo

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

// Candidates holds the rules whose conditions matched, grouped by kind, as
// input to arbitration. Coupon is the single caller-supplied code, already
// re-validated; it is nil when no code was given or the code did not match.
type Candidates struct {
	Coupon     *rule.Coupon
	Promotions []*rule.Promotion
	Combos     []*rule.Combo
}

// Arbitrate selects which matched rules actually apply, in which order, and
// computes their cumulative effect. The policy is a deterministic total
// order:
//
//  1. Combos apply first, independently of everything else, since they change
//     the effective totals later discounts compound on.
//  2. At most one coupon applies: the caller-supplied one.
//  3. Non-stackable promotions cannot combine with other promotions or with a
//     coupon. With no coupon present, the best non-stackable promotion
//     (largest discount, then earliest start date, then smallest ID) wins and
//     suppresses all other promotions.
//  4. Coupon and promotion discounts cascade: each is computed against the
//     running total left by the rules before it, not the pristine total.
//  5. The cumulative discount never exceeds the cart's pre-discount total.
func Arbitrate(c cart.Cart, cand Candidates, rejected []RejectedRule) *PricingResult {
	res := &PricingResult{
		RejectedRules: rejected,
	}
	total := c.Total()
	running := total

	// Combos first, in ID order for determinism.
	combos := append([]*rule.Combo(nil), cand.Combos...)
	sort.Slice(combos, func(i, j int) bool { return combos[i].ID < combos[j].ID })
	for _, cb := range combos {
		running = applyRule(res, cb, c, running)
	}

	// The coupon, if still standing.
	couponApplied := false
	if cand.Coupon != nil {
		before := running
		running = applyRule(res, cand.Coupon, c, running)
		couponApplied = !running.Equal(before) || res.ShippingWaived
	}

	applyPromotions(res, c, cand, couponApplied, running)

	res.TotalDiscount = total.Sub(res.FinalTotal)
	return res
}

// applyPromotions arbitrates the promotion set and finishes the running total.
func applyPromotions(res *PricingResult, c cart.Cart, cand Candidates, couponApplied bool, running decimal.Decimal) {
	// Rank every promotion by its standalone effect on the current running
	// total; the ranking also serves as the non-stackable tie-break.
	type ranked struct {
		promo  *rule.Promotion
		amount decimal.Decimal
		waived bool
	}
	var promos []ranked
	for _, p := range cand.Promotions {
		adj, err := Compute(p, c, effectiveBasis(c, p.Conditions, running))
		if err != nil {
			res.RejectedRules = append(res.RejectedRules, RejectedRule{RuleID: p.ID, Reason: ReasonMalformed})
			continue
		}
		if !adj.Amount.IsPositive() && !adj.ShippingWaived {
			res.RejectedRules = append(res.RejectedRules, RejectedRule{RuleID: p.ID, Reason: ReasonNoEffect})
			continue
		}
		promos = append(promos, ranked{promo: p, amount: adj.Amount, waived: adj.ShippingWaived})
	}
	sort.Slice(promos, func(i, j int) bool {
		a, b := promos[i], promos[j]
		if !a.amount.Equal(b.amount) {
			return a.amount.GreaterThan(b.amount)
		}
		if !a.promo.StartDate.Equal(b.promo.StartDate) {
			return a.promo.StartDate.Before(b.promo.StartDate)
		}
		return a.promo.ID < b.promo.ID
	})

	// A non-stackable promotion applies alone among promotions, and never
	// alongside a coupon. The ranking above decides the winner.
	var winner *rule.Promotion
	if !couponApplied {
		for _, r := range promos {
			if !r.promo.Stackable {
				winner = r.promo
				break
			}
		}
	}

	for _, r := range promos {
		switch {
		case winner != nil && r.promo.ID == winner.ID:
			running = applyRule(res, r.promo, c, running)
		case winner != nil:
			res.RejectedRules = append(res.RejectedRules, RejectedRule{
				RuleID: r.promo.ID,
				Reason: "superseded by non-stackable promotion " + winner.ID,
			})
		case !r.promo.Stackable:
			// couponApplied is true here, otherwise this promotion would
			// have been the winner.
			res.RejectedRules = append(res.RejectedRules, RejectedRule{
				RuleID: r.promo.ID,
				Reason: "cannot combine with coupon",
			})
		default:
			running = applyRule(res, r.promo, c, running)
		}
	}

	res.FinalTotal = running
}

// applyRule computes r's adjustment against the running total, records the
// outcome, and returns the new running total. Rules with no effect are
// recorded as rejections instead.
func applyRule(res *PricingResult, r rule.Rule, c cart.Cart, running decimal.Decimal) decimal.Decimal {
	basis := running
	switch rr := r.(type) {
	case *rule.Coupon:
		basis = effectiveBasis(c, rr.Conditions, running)
	case *rule.Promotion:
		basis = effectiveBasis(c, rr.Conditions, running)
	}

	adj, err := Compute(r, c, basis)
	if err != nil {
		res.RejectedRules = append(res.RejectedRules, RejectedRule{RuleID: r.Common().ID, Reason: ReasonMalformed})
		return running
	}
	if !adj.Amount.IsPositive() && !adj.ShippingWaived {
		res.RejectedRules = append(res.RejectedRules, RejectedRule{RuleID: r.Common().ID, Reason: ReasonNoEffect})
		return running
	}

	// Never discount below a zero payable amount.
	amount := decimal.Min(adj.Amount, running)
	res.AppliedRules = append(res.AppliedRules, AppliedRule{
		RuleID:         r.Common().ID,
		RuleKind:       r.Kind(),
		Adjustment:     amount,
		WaivesShipping: adj.ShippingWaived,
	})
	if adj.ShippingWaived {
		res.ShippingWaived = true
	}
	return running.Sub(amount)
}

// effectiveBasis returns the subtotal a scoped rule's discount is computed
// against: the rule's scope subtotal, capped at the running cart total so
// cascading discounts compound rather than each seeing the pristine price.
func effectiveBasis(c cart.Cart, cond rule.Conditions, running decimal.Decimal) decimal.Decimal {
	if !cond.Scoped() && len(cond.ExcludedProducts) == 0 {
		return running
	}
	return decimal.Min(linesTotal(ScopeLines(c, cond)), running)
}
