// Package cart defines the immutable cart snapshot the pricing engine
// operates on. The engine never mutates a Cart; all adjustments are reported
// separately in the pricing result.
package cart

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Line is a single cart position: a product (optionally a specific variant)
// at a unit price, with the categories the product belongs to.
type Line struct {
	ProductID   string
	VariantID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	CategoryIDs []string
}

// Total returns quantity * unit price for this line.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// InCategory reports whether the line's product belongs to the given category.
func (l Line) InCategory(categoryID string) bool {
	return slices.Contains(l.CategoryIDs, categoryID)
}

// Cart is a snapshot of a shopping cart at resolution time.
type Cart struct {
	Lines        []Line
	CustomerID   string
	IsFirstOrder bool
}

// Total returns the sum of all line totals.
func (c Cart) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// TotalQuantity returns the total number of units across all lines.
func (c Cart) TotalQuantity() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// QuantityOf returns the number of units of the given product in the cart.
// When variantID is non-empty only lines with that exact variant count.
func (c Cart) QuantityOf(productID, variantID string) int {
	n := 0
	for _, l := range c.Lines {
		if l.ProductID != productID {
			continue
		}
		if variantID != "" && l.VariantID != variantID {
			continue
		}
		n += l.Quantity
	}
	return n
}
