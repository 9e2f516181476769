package rule

import "github.com/shopspring/decimal"

// ComboType enumerates the combo deal mechanics.
type ComboType string

const (
	// ComboBundle prices a fixed set of items at a single combo price.
	ComboBundle ComboType = "bundle"
	// ComboBOGO discounts GetQuantity units out of every BuyQuantity
	// matching units ("buy two, get one half price").
	ComboBOGO ComboType = "bogo"
	// ComboMultiBuy is the same group mechanic as BOGO, typically with a
	// 100% discount ("buy three, pay for two").
	ComboMultiBuy ComboType = "multi_buy"
)

// ComboItem names one product participating in a combo. Required items gate
// eligibility; optional items only contribute to the bundle payout.
type ComboItem struct {
	ProductID string
	VariantID string
	Quantity  int
	Required  bool
}

// Combo is an item-level deal. Combos are evaluated before coupons and
// promotions and apply independently of them.
type Combo struct {
	Envelope
	Type  ComboType
	Items []ComboItem

	// ComboPrice is the fixed bundle price (ComboBundle only).
	ComboPrice decimal.Decimal

	// Group mechanics (ComboBOGO and ComboMultiBuy only).
	BuyQuantity int
	GetQuantity int
	GetDiscount decimal.Decimal

	UsageLimit   int
	UsageCount   int
	PerUserLimit int
}

func (c *Combo) Common() Envelope { return c.Envelope }
func (c *Combo) Kind() Kind       { return KindCombo }
func (c *Combo) sealed()          {}

// Validate checks the combo's structural invariants.
func (c *Combo) Validate() error {
	if err := validateEnvelope(c.Envelope); err != nil {
		return err
	}
	if len(c.Items) == 0 {
		return invalid(c.ID, "items", "must not be empty")
	}
	for _, item := range c.Items {
		if item.ProductID == "" {
			return invalid(c.ID, "items", "item product id must not be empty")
		}
		if item.Quantity <= 0 {
			return invalid(c.ID, "items", "item quantity must be positive")
		}
	}
	if c.UsageLimit < 0 {
		return invalid(c.ID, "usageLimit", "must not be negative")
	}
	if c.PerUserLimit < 0 {
		return invalid(c.ID, "perUserLimit", "must not be negative")
	}

	switch c.Type {
	case ComboBundle:
		if c.ComboPrice.IsNegative() {
			return invalid(c.ID, "comboPrice", "must not be negative")
		}
	case ComboBOGO, ComboMultiBuy:
		if c.BuyQuantity < 1 {
			return invalid(c.ID, "buyQuantity", "must be at least 1")
		}
		if c.GetQuantity < 1 {
			return invalid(c.ID, "getQuantity", "must be at least 1")
		}
		if c.GetQuantity > c.BuyQuantity {
			return invalid(c.ID, "getQuantity", "must not exceed buyQuantity")
		}
		if !c.GetDiscount.IsPositive() || c.GetDiscount.GreaterThan(decimal.NewFromInt(100)) {
			return invalid(c.ID, "getDiscount", "must be within (0,100]")
		}
	default:
		return invalid(c.ID, "type", "unknown combo type "+string(c.Type))
	}
	return nil
}
