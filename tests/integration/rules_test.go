//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomdesk/promo-engine/internal/domain/rule"
	"github.com/ecomdesk/promo-engine/internal/repository"
)

func TestLoadRules(t *testing.T) {
	ctx := context.Background()

	mustExec(t, `
		INSERT INTO rules (id, kind, name, code, discount_type, discount_value, max_discount,
		                   min_order_amount, applicable_categories, per_user_limit)
		VALUES ('rl-coupon', 'coupon', 'Load test coupon', 'RL-LOAD', 'percentage', 20, 100,
		        50, '{books}', 3)`)
	mustExec(t, `
		INSERT INTO rules (id, kind, name, discount_type, discount_value, stackable)
		VALUES ('rl-promo', 'promotion', 'Load test promo', 'fixed', 5, TRUE)`)
	mustExec(t, `
		INSERT INTO rules (id, kind, name, combo_type, combo_price)
		VALUES ('rl-combo', 'combo', 'Load test bundle', 'bundle', 99.90)`)
	mustExec(t, `
		INSERT INTO combo_items (rule_id, product_id, quantity, required)
		VALUES ('rl-combo', 'p-1', 2, TRUE), ('rl-combo', 'p-2', 1, FALSE)`)

	set, err := repository.NewRuleRepository(pool).LoadRules(ctx, time.Now())
	require.NoError(t, err)

	cp := set.FindCoupon("rl-load")
	require.NotNil(t, cp)
	assert.Equal(t, "rl-coupon", cp.ID)
	assert.Equal(t, rule.DiscountPercentage, cp.DiscountType)
	assert.True(t, cp.Value.Equal(decimal.RequireFromString("20")))
	assert.True(t, cp.MaxDiscount.Equal(decimal.RequireFromString("100")))
	assert.True(t, cp.Conditions.MinOrderAmount.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, []string{"books"}, cp.Conditions.ApplicableCategories)
	assert.Equal(t, 3, cp.PerUserLimit)

	var promoFound bool
	for _, p := range set.Promotions {
		if p.ID == "rl-promo" {
			promoFound = true
			assert.Equal(t, rule.DiscountFixed, p.DiscountType)
			assert.True(t, p.Stackable)
		}
	}
	assert.True(t, promoFound, "promotion should be loaded")

	var comboFound bool
	for _, cb := range set.Combos {
		if cb.ID == "rl-combo" {
			comboFound = true
			assert.Equal(t, rule.ComboBundle, cb.Type)
			assert.True(t, cb.ComboPrice.Equal(decimal.RequireFromString("99.90")))
			require.Len(t, cb.Items, 2)
			assert.True(t, cb.Items[0].Required)
			assert.False(t, cb.Items[1].Required)
		}
	}
	assert.True(t, comboFound, "combo should be loaded")
}
