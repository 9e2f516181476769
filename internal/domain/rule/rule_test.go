package rule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope(id string) Envelope {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return Envelope{
		ID:        id,
		Name:      "test rule",
		Status:    StatusActive,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, 0),
	}
}

func TestCouponValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Coupon)
		wantField string
	}{
		{
			name:   "valid percentage coupon",
			mutate: func(c *Coupon) {},
		},
		{
			name: "end date precedes start date",
			mutate: func(c *Coupon) {
				c.EndDate = c.StartDate.Add(-time.Hour)
			},
			wantField: "endDate",
		},
		{
			name: "empty code",
			mutate: func(c *Coupon) {
				c.Code = "   "
			},
			wantField: "code",
		},
		{
			name: "percentage above 100",
			mutate: func(c *Coupon) {
				c.Value = decimal.NewFromInt(120)
			},
			wantField: "discountValue",
		},
		{
			name: "negative percentage",
			mutate: func(c *Coupon) {
				c.Value = decimal.NewFromInt(-5)
			},
			wantField: "discountValue",
		},
		{
			name: "negative fixed amount",
			mutate: func(c *Coupon) {
				c.DiscountType = DiscountFixed
				c.Value = decimal.NewFromInt(-1)
			},
			wantField: "discountValue",
		},
		{
			name: "unknown discount type",
			mutate: func(c *Coupon) {
				c.DiscountType = "cashback"
			},
			wantField: "discountType",
		},
		{
			name: "negative usage limit",
			mutate: func(c *Coupon) {
				c.UsageLimit = -1
			},
			wantField: "usageLimit",
		},
		{
			name: "negative per-user limit",
			mutate: func(c *Coupon) {
				c.PerUserLimit = -2
			},
			wantField: "perUserLimit",
		},
		{
			name: "free shipping ignores value",
			mutate: func(c *Coupon) {
				c.DiscountType = DiscountFreeShipping
				c.Value = decimal.Zero
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coupon{
				Envelope:     validEnvelope("c-1"),
				Code:         "SAVE10",
				DiscountType: DiscountPercentage,
				Value:        decimal.NewFromInt(10),
			}
			tt.mutate(c)

			err := c.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestComboValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Combo)
		wantField string
	}{
		{
			name:   "valid bundle",
			mutate: func(c *Combo) {},
		},
		{
			name: "empty items",
			mutate: func(c *Combo) {
				c.Items = nil
			},
			wantField: "items",
		},
		{
			name: "item with zero quantity",
			mutate: func(c *Combo) {
				c.Items[0].Quantity = 0
			},
			wantField: "items",
		},
		{
			name: "negative combo price",
			mutate: func(c *Combo) {
				c.ComboPrice = decimal.NewFromInt(-10)
			},
			wantField: "comboPrice",
		},
		{
			name: "bogo without buy quantity",
			mutate: func(c *Combo) {
				c.Type = ComboBOGO
				c.GetQuantity = 1
				c.GetDiscount = decimal.NewFromInt(50)
			},
			wantField: "buyQuantity",
		},
		{
			name: "bogo get exceeds buy",
			mutate: func(c *Combo) {
				c.Type = ComboBOGO
				c.BuyQuantity = 1
				c.GetQuantity = 2
				c.GetDiscount = decimal.NewFromInt(50)
			},
			wantField: "getQuantity",
		},
		{
			name: "bogo discount out of range",
			mutate: func(c *Combo) {
				c.Type = ComboBOGO
				c.BuyQuantity = 2
				c.GetQuantity = 1
				c.GetDiscount = decimal.NewFromInt(150)
			},
			wantField: "getDiscount",
		},
		{
			name: "unknown combo type",
			mutate: func(c *Combo) {
				c.Type = "mystery"
			},
			wantField: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Combo{
				Envelope:   validEnvelope("cb-1"),
				Type:       ComboBundle,
				ComboPrice: decimal.NewFromInt(25),
				Items: []ComboItem{
					{ProductID: "p1", Quantity: 1, Required: true},
					{ProductID: "p2", Quantity: 2, Required: true},
				},
			}
			tt.mutate(c)

			err := c.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "SAVE10", NormalizeCode("Save10"))
	assert.Equal(t, "", NormalizeCode("   "))
}
