package rule

import "github.com/shopspring/decimal"

// Promotion is an auto-applied discount: no code is required, the engine
// considers every active promotion on each resolution. Stackable promotions
// may combine with each other and with a coupon; a non-stackable promotion,
// when selected, applies alone among promotions.
type Promotion struct {
	Envelope
	DiscountType DiscountType
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal
	Stackable    bool
	Conditions
}

func (p *Promotion) Common() Envelope { return p.Envelope }
func (p *Promotion) Kind() Kind       { return KindPromotion }
func (p *Promotion) sealed()          {}

// Validate checks the promotion's structural invariants.
func (p *Promotion) Validate() error {
	if err := validateEnvelope(p.Envelope); err != nil {
		return err
	}
	if err := validateDiscount(p.ID, p.DiscountType, p.Value); err != nil {
		return err
	}
	if p.MaxDiscount.IsNegative() {
		return invalid(p.ID, "maxDiscount", "must not be negative")
	}
	return validateConditions(p.ID, p.Conditions)
}
