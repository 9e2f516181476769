// Package rule defines the promotional rule model: coupons, auto-applied
// promotions, and item combos. Rules are pure data validated at construction;
// all matching and discount arithmetic lives in the pricing engine.
package rule

import (
	"fmt"
	"time"
)

// Kind discriminates the rule variants.
type Kind string

const (
	// KindCoupon is a code-gated discount the customer supplies explicitly.
	KindCoupon Kind = "coupon"
	// KindPromotion is an auto-applied discount with a stackable flag.
	KindPromotion Kind = "promotion"
	// KindCombo is an item-level bundle / multi-buy deal.
	KindCombo Kind = "combo"
)

// Status is the administrative lifecycle state of a rule.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// DiscountType enumerates the discount strategies for coupons and promotions.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the scope subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the scope subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeShipping waives the shipping fee. It produces no cart-line
	// adjustment; shipping is priced outside the engine.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Envelope carries the fields common to every rule variant.
type Envelope struct {
	ID        string
	Name      string
	Status    Status
	StartDate time.Time
	EndDate   time.Time
}

// Rule is the closed union of Coupon, Promotion and Combo. Matching on
// concrete types is exhaustive: no other implementations exist.
type Rule interface {
	// Common returns the shared envelope fields.
	Common() Envelope
	// Kind returns the variant discriminator.
	Kind() Kind
	// Validate checks structural invariants and returns a *ValidationError
	// describing the first violation found.
	Validate() error

	sealed()
}

// ValidationError reports a malformed rule definition. It is surfaced to
// administrators at rule creation time and never silently swallowed.
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule %s: %s: %s", e.RuleID, e.Field, e.Reason)
}

func invalid(id, field, reason string) *ValidationError {
	return &ValidationError{RuleID: id, Field: field, Reason: reason}
}

// validateEnvelope checks the invariants shared by all variants.
func validateEnvelope(e Envelope) error {
	if e.ID == "" {
		return invalid(e.ID, "id", "must not be empty")
	}
	if !e.EndDate.IsZero() && !e.StartDate.IsZero() && e.EndDate.Before(e.StartDate) {
		return invalid(e.ID, "endDate", "precedes startDate")
	}
	return nil
}
