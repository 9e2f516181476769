package rule

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Conditions is the eligibility surface shared by coupons and promotions.
// Zero values mean "no constraint": a nil slice imposes no product scope, a
// zero limit means unlimited, a zero decimal means no threshold.
type Conditions struct {
	MinOrderAmount       decimal.Decimal
	MinQuantity          int
	ApplicableProducts   []string
	ApplicableCategories []string
	ExcludedProducts     []string
	UsageLimit           int
	UsageCount           int
	PerUserLimit         int
	RestrictedToUsers    []string
	FirstOrderOnly       bool
}

// Scoped reports whether the conditions restrict the rule to a subset of
// cart lines (named products or categories).
func (c Conditions) Scoped() bool {
	return len(c.ApplicableProducts) > 0 || len(c.ApplicableCategories) > 0
}

// Coupon is a code-gated discount. Exactly one coupon may apply per
// resolution: the one the customer supplied.
type Coupon struct {
	Envelope
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal
	Conditions
}

// NormalizeCode returns the canonical (uppercase, trimmed) form of a coupon
// code. Codes compare equal after normalization.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Common() Envelope { return c.Envelope }
func (c *Coupon) Kind() Kind       { return KindCoupon }
func (c *Coupon) sealed()          {}

// Validate checks the coupon's structural invariants.
func (c *Coupon) Validate() error {
	if err := validateEnvelope(c.Envelope); err != nil {
		return err
	}
	if NormalizeCode(c.Code) == "" {
		return invalid(c.ID, "code", "must not be empty")
	}
	if err := validateDiscount(c.ID, c.DiscountType, c.Value); err != nil {
		return err
	}
	if c.MaxDiscount.IsNegative() {
		return invalid(c.ID, "maxDiscount", "must not be negative")
	}
	return validateConditions(c.ID, c.Conditions)
}

func validateDiscount(id string, dt DiscountType, value decimal.Decimal) error {
	switch dt {
	case DiscountPercentage:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
			return invalid(id, "discountValue", "percentage must be within [0,100]")
		}
	case DiscountFixed:
		if value.IsNegative() {
			return invalid(id, "discountValue", "fixed amount must not be negative")
		}
	case DiscountFreeShipping:
		// Value is ignored for shipping waivers.
	default:
		return invalid(id, "discountType", "unknown discount type "+string(dt))
	}
	return nil
}

func validateConditions(id string, c Conditions) error {
	if c.MinOrderAmount.IsNegative() {
		return invalid(id, "minOrderAmount", "must not be negative")
	}
	if c.MinQuantity < 0 {
		return invalid(id, "minQuantity", "must not be negative")
	}
	if c.UsageLimit < 0 {
		return invalid(id, "usageLimit", "must not be negative")
	}
	if c.PerUserLimit < 0 {
		return invalid(id, "perUserLimit", "must not be negative")
	}
	return nil
}
