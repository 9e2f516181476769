package promo

import (
	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

// Rejection reasons surfaced in PricingResult for observability and UI
// display. Arbitration composes further reasons from these prefixes.
const (
	ReasonMalformed         = "malformed rule"
	ReasonInactive          = "inactive"
	ReasonNotStarted        = "not started"
	ReasonExpired           = "expired"
	ReasonRestricted        = "not available for this customer"
	ReasonFirstOrderOnly    = "first order only"
	ReasonUsageLimit        = "usage limit reached"
	ReasonPerUserLimit      = "per-user limit reached"
	ReasonMinOrder          = "minimum order amount not met"
	ReasonMinQuantity       = "minimum quantity not met"
	ReasonNoApplicableItems = "no applicable items in cart"
	ReasonComboItemsMissing = "required combo items missing"
	ReasonNoEffect          = "no discount effect for this cart"
	ReasonReservationLost   = "usage limit reached during checkout"
)

// AppliedRule is one rule selected by arbitration, in application order.
type AppliedRule struct {
	RuleID     string
	RuleKind   rule.Kind
	Adjustment decimal.Decimal

	// WaivesShipping marks the rule that set PricingResult.ShippingWaived, so
	// the waiver can be retracted if the rule is later dropped.
	WaivesShipping bool
}

// RejectedRule is a rule that was considered but not applied, with a
// human-readable reason.
type RejectedRule struct {
	RuleID string
	Reason string
}

// PricingResult is the outcome of one resolution. It is produced fresh per
// call and never persisted by the engine itself.
type PricingResult struct {
	AppliedRules  []AppliedRule
	RejectedRules []RejectedRule
	TotalDiscount decimal.Decimal
	FinalTotal    decimal.Decimal

	// ShippingWaived signals a free-shipping rule was applied. Shipping is
	// priced by the caller, so this never contributes to TotalDiscount.
	ShippingWaived bool
}
