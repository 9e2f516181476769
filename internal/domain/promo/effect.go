package promo

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

var hundred = decimal.NewFromInt(100)

// Adjustment is the monetary effect of a single rule. Amounts are always
// non-negative and rounded to the currency's minor unit.
type Adjustment struct {
	Amount decimal.Decimal

	// ShippingWaived is set by free-shipping rules instead of a monetary
	// amount; the caller prices shipping.
	ShippingWaived bool
}

// Compute returns the adjustment for rule r. For coupons and promotions,
// basis is the effective subtotal of the rule's scope; arbitration passes the
// running (already-discounted) total so discounts compound. Combos compute
// from the pristine cart lines and ignore basis.
//
// A zero or negative result means the rule has no effect; arbitration
// excludes such rules rather than applying them.
func Compute(r rule.Rule, c cart.Cart, basis decimal.Decimal) (Adjustment, error) {
	switch rr := r.(type) {
	case *rule.Coupon:
		return computeDiscount(rr.DiscountType, rr.Value, rr.MaxDiscount, basis)
	case *rule.Promotion:
		return computeDiscount(rr.DiscountType, rr.Value, rr.MaxDiscount, basis)
	case *rule.Combo:
		amount, err := computeCombo(rr, c)
		if err != nil {
			return Adjustment{}, err
		}
		return Adjustment{Amount: amount}, nil
	default:
		return Adjustment{}, errors.Errorf("unsupported rule kind: %q", r.Kind())
	}
}

func computeDiscount(dt rule.DiscountType, value, maxDiscount, basis decimal.Decimal) (Adjustment, error) {
	switch dt {
	case rule.DiscountPercentage:
		amount := basis.Mul(value).Div(hundred)
		if maxDiscount.IsPositive() {
			amount = decimal.Min(amount, maxDiscount)
		}
		return Adjustment{Amount: floorAtZero(amount).Round(2)}, nil
	case rule.DiscountFixed:
		amount := decimal.Min(value, basis)
		return Adjustment{Amount: floorAtZero(amount).Round(2)}, nil
	case rule.DiscountFreeShipping:
		return Adjustment{ShippingWaived: true}, nil
	default:
		return Adjustment{}, errors.Errorf("unsupported discount type: %q", dt)
	}
}

func computeCombo(cb *rule.Combo, c cart.Cart) (decimal.Decimal, error) {
	switch cb.Type {
	case rule.ComboBundle:
		return computeBundle(cb, c), nil
	case rule.ComboBOGO, rule.ComboMultiBuy:
		return computeGroupDeal(cb, c), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported combo type: %q", cb.Type)
	}
}

// computeBundle values each complete bundle at the sum of its items' cart
// prices and discounts it down to the combo price. The number of complete
// bundles is the floor of the minimum quantity ratio across required items.
func computeBundle(cb *rule.Combo, c cart.Cart) decimal.Decimal {
	bundles := 0
	for _, item := range cb.Items {
		if !item.Required {
			continue
		}
		n := c.QuantityOf(item.ProductID, item.VariantID) / item.Quantity
		if bundles == 0 || n < bundles {
			bundles = n
		}
	}
	if bundles == 0 {
		return decimal.Zero
	}

	original := decimal.Zero
	for _, item := range cb.Items {
		price, ok := unitPriceOf(c, item.ProductID, item.VariantID)
		if !ok {
			// Optional item absent from the cart contributes nothing.
			continue
		}
		units := item.Quantity * bundles
		if !item.Required {
			// Optional items count only as far as the cart actually holds them.
			if have := c.QuantityOf(item.ProductID, item.VariantID); have < units {
				units = have
			}
		}
		original = original.Add(price.Mul(decimal.NewFromInt(int64(units))))
	}

	savings := original.Sub(cb.ComboPrice.Mul(decimal.NewFromInt(int64(bundles))))
	return floorAtZero(savings).Round(2)
}

// computeGroupDeal implements the buy/get mechanic: every complete group of
// BuyQuantity matching units earns GetQuantity of those units discounted by
// GetDiscount percent. The cheapest units are discounted first. Trailing
// units short of a full group earn nothing.
func computeGroupDeal(cb *rule.Combo, c cart.Cart) decimal.Decimal {
	var unitPrices []decimal.Decimal
	for _, item := range cb.Items {
		for _, l := range c.Lines {
			if l.ProductID != item.ProductID {
				continue
			}
			if item.VariantID != "" && l.VariantID != item.VariantID {
				continue
			}
			for range l.Quantity {
				unitPrices = append(unitPrices, l.UnitPrice)
			}
		}
	}

	groups := len(unitPrices) / cb.BuyQuantity
	discountUnits := groups * cb.GetQuantity
	if discountUnits == 0 {
		return decimal.Zero
	}

	sort.Slice(unitPrices, func(i, j int) bool {
		return unitPrices[i].LessThan(unitPrices[j])
	})

	amount := decimal.Zero
	for _, price := range unitPrices[:discountUnits] {
		amount = amount.Add(price.Mul(cb.GetDiscount).Div(hundred))
	}
	return floorAtZero(amount).Round(2)
}

// unitPriceOf returns the unit price of the first cart line matching the
// given product (and variant, when set).
func unitPriceOf(c cart.Cart, productID, variantID string) (decimal.Decimal, bool) {
	for _, l := range c.Lines {
		if l.ProductID != productID {
			continue
		}
		if variantID != "" && l.VariantID != variantID {
			continue
		}
		return l.UnitPrice, true
	}
	return decimal.Zero, false
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
