package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/promo"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

const (
	listRulesSQL = `SELECT id, kind, name, status, start_date, end_date,
		code, discount_type, discount_value, max_discount, stackable,
		min_order_amount, min_quantity,
		applicable_products, applicable_categories, excluded_products,
		restricted_to_users, first_order_only,
		usage_limit, usage_count, per_user_limit,
		combo_type, combo_price, buy_quantity, get_quantity, get_discount
		FROM rules
		ORDER BY id`

	listComboItemsSQL = `SELECT rule_id, product_id, variant_id, quantity, required
		FROM combo_items
		ORDER BY rule_id, product_id`
)

var _ promo.RuleSource = (*RuleRepository)(nil)

// RuleRepository loads rule snapshots from PostgreSQL. The administrative
// CRUD layer owns rule mutation; this repository only reads.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// ruleRow mirrors one rules table row across all three kinds.
type ruleRow struct {
	ID        string
	Kind      string
	Name      string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time

	Code          *string
	DiscountType  *string
	DiscountValue decimal.Decimal
	MaxDiscount   decimal.Decimal
	Stackable     bool

	MinOrderAmount       decimal.Decimal
	MinQuantity          int32
	ApplicableProducts   []string
	ApplicableCategories []string
	ExcludedProducts     []string
	RestrictedToUsers    []string
	FirstOrderOnly       bool

	UsageLimit   int32
	UsageCount   int32
	PerUserLimit int32

	ComboType   *string
	ComboPrice  decimal.Decimal
	BuyQuantity int32
	GetQuantity int32
	GetDiscount decimal.Decimal
}

// LoadRules reads the full rule catalog as a consistent snapshot. The engine
// evaluates validity windows and statuses itself, so dormant rules are
// returned as-is rather than filtered here.
func (r *RuleRepository) LoadRules(ctx context.Context, _ time.Time) (promo.RuleSet, error) {
	rows, err := r.pool.Query(ctx, listRulesSQL)
	if err != nil {
		return promo.RuleSet{}, fmt.Errorf("listing rules: %w", err)
	}
	ruleRows, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ruleRow])
	if err != nil {
		return promo.RuleSet{}, fmt.Errorf("scanning rules: %w", err)
	}

	items, err := r.loadComboItems(ctx)
	if err != nil {
		return promo.RuleSet{}, err
	}

	var set promo.RuleSet
	for _, row := range ruleRows {
		switch rule.Kind(row.Kind) {
		case rule.KindCoupon:
			set.Coupons = append(set.Coupons, mapCoupon(row))
		case rule.KindPromotion:
			set.Promotions = append(set.Promotions, mapPromotion(row))
		case rule.KindCombo:
			set.Combos = append(set.Combos, mapCombo(row, items[row.ID]))
		}
	}
	return set, nil
}

func (r *RuleRepository) loadComboItems(ctx context.Context) (map[string][]rule.ComboItem, error) {
	rows, err := r.pool.Query(ctx, listComboItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing combo items: %w", err)
	}

	type itemRow struct {
		RuleID    string
		ProductID string
		VariantID string
		Quantity  int32
		Required  bool
	}
	itemRows, err := pgx.CollectRows(rows, pgx.RowToStructByPos[itemRow])
	if err != nil {
		return nil, fmt.Errorf("scanning combo items: %w", err)
	}

	out := make(map[string][]rule.ComboItem, len(itemRows))
	for _, ir := range itemRows {
		out[ir.RuleID] = append(out[ir.RuleID], rule.ComboItem{
			ProductID: ir.ProductID,
			VariantID: ir.VariantID,
			Quantity:  int(ir.Quantity),
			Required:  ir.Required,
		})
	}
	return out, nil
}

func mapEnvelope(row ruleRow) rule.Envelope {
	env := rule.Envelope{
		ID:     row.ID,
		Name:   row.Name,
		Status: rule.Status(row.Status),
	}
	if row.StartDate != nil {
		env.StartDate = *row.StartDate
	}
	if row.EndDate != nil {
		env.EndDate = *row.EndDate
	}
	return env
}

func mapConditions(row ruleRow) rule.Conditions {
	return rule.Conditions{
		MinOrderAmount:       row.MinOrderAmount,
		MinQuantity:          int(row.MinQuantity),
		ApplicableProducts:   row.ApplicableProducts,
		ApplicableCategories: row.ApplicableCategories,
		ExcludedProducts:     row.ExcludedProducts,
		RestrictedToUsers:    row.RestrictedToUsers,
		FirstOrderOnly:       row.FirstOrderOnly,
		UsageLimit:           int(row.UsageLimit),
		UsageCount:           int(row.UsageCount),
		PerUserLimit:         int(row.PerUserLimit),
	}
}

func mapCoupon(row ruleRow) *rule.Coupon {
	c := &rule.Coupon{
		Envelope:    mapEnvelope(row),
		Value:       row.DiscountValue,
		MaxDiscount: row.MaxDiscount,
		Conditions:  mapConditions(row),
	}
	if row.Code != nil {
		c.Code = *row.Code
	}
	if row.DiscountType != nil {
		c.DiscountType = rule.DiscountType(*row.DiscountType)
	}
	return c
}

func mapPromotion(row ruleRow) *rule.Promotion {
	p := &rule.Promotion{
		Envelope:    mapEnvelope(row),
		Value:       row.DiscountValue,
		MaxDiscount: row.MaxDiscount,
		Stackable:   row.Stackable,
		Conditions:  mapConditions(row),
	}
	if row.DiscountType != nil {
		p.DiscountType = rule.DiscountType(*row.DiscountType)
	}
	return p
}

func mapCombo(row ruleRow, items []rule.ComboItem) *rule.Combo {
	cb := &rule.Combo{
		Envelope:     mapEnvelope(row),
		Items:        items,
		ComboPrice:   row.ComboPrice,
		BuyQuantity:  int(row.BuyQuantity),
		GetQuantity:  int(row.GetQuantity),
		GetDiscount:  row.GetDiscount,
		UsageLimit:   int(row.UsageLimit),
		UsageCount:   int(row.UsageCount),
		PerUserLimit: int(row.PerUserLimit),
	}
	if row.ComboType != nil {
		cb.Type = rule.ComboType(*row.ComboType)
	}
	return cb
}
