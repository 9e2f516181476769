// Command seed-db loads a JSON rule catalog into the database for local
// development and demos. It runs migrations first, so it works against an
// empty database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/repository"
)

type ruleJSON struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`

	Code         string          `json:"code"`
	DiscountType string          `json:"discountType"`
	Value        decimal.Decimal `json:"value"`
	MaxDiscount  decimal.Decimal `json:"maxDiscount"`
	Stackable    bool            `json:"stackable"`

	MinOrderAmount       decimal.Decimal `json:"minOrderAmount"`
	MinQuantity          int             `json:"minQuantity"`
	ApplicableProducts   []string        `json:"applicableProducts"`
	ApplicableCategories []string        `json:"applicableCategories"`
	ExcludedProducts     []string        `json:"excludedProducts"`
	RestrictedToUsers    []string        `json:"restrictedToUsers"`
	FirstOrderOnly       bool            `json:"firstOrderOnly"`

	UsageLimit   int `json:"usageLimit"`
	PerUserLimit int `json:"perUserLimit"`

	ComboType   string          `json:"comboType"`
	ComboPrice  decimal.Decimal `json:"comboPrice"`
	BuyQuantity int             `json:"buyQuantity"`
	GetQuantity int             `json:"getQuantity"`
	GetDiscount decimal.Decimal `json:"getDiscount"`
	Items       []comboItemJSON `json:"items"`
}

type comboItemJSON struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Required  *bool  `json:"required"`
}

const upsertRuleSQL = `
INSERT INTO rules (
    id, kind, name, status, start_date, end_date,
    code, discount_type, discount_value, max_discount, stackable,
    min_order_amount, min_quantity, applicable_products, applicable_categories,
    excluded_products, restricted_to_users, first_order_only,
    usage_limit, per_user_limit,
    combo_type, combo_price, buy_quantity, get_quantity, get_discount
) VALUES (
    $1, $2, $3, $4, $5, $6,
    $7, $8, $9, $10, $11,
    $12, $13, $14, $15,
    $16, $17, $18,
    $19, $20,
    $21, $22, $23, $24, $25
)
ON CONFLICT (id) DO UPDATE SET
    kind = EXCLUDED.kind, name = EXCLUDED.name, status = EXCLUDED.status,
    start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
    code = EXCLUDED.code, discount_type = EXCLUDED.discount_type,
    discount_value = EXCLUDED.discount_value, max_discount = EXCLUDED.max_discount,
    stackable = EXCLUDED.stackable,
    min_order_amount = EXCLUDED.min_order_amount, min_quantity = EXCLUDED.min_quantity,
    applicable_products = EXCLUDED.applicable_products,
    applicable_categories = EXCLUDED.applicable_categories,
    excluded_products = EXCLUDED.excluded_products,
    restricted_to_users = EXCLUDED.restricted_to_users,
    first_order_only = EXCLUDED.first_order_only,
    usage_limit = EXCLUDED.usage_limit, per_user_limit = EXCLUDED.per_user_limit,
    combo_type = EXCLUDED.combo_type, combo_price = EXCLUDED.combo_price,
    buy_quantity = EXCLUDED.buy_quantity, get_quantity = EXCLUDED.get_quantity,
    get_discount = EXCLUDED.get_discount`

const deleteComboItemsSQL = `DELETE FROM combo_items WHERE rule_id = $1`

const insertComboItemSQL = `
INSERT INTO combo_items (rule_id, product_id, variant_id, quantity, required)
VALUES ($1, $2, $3, $4, $5)`

func main() {
	var (
		databaseURL string
		rulesFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&rulesFile, "rules-file", "db/seed/rules.json", "path to rules JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, rulesFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, rulesFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedRules(ctx, pool, rulesFile)
}

func seedRules(ctx context.Context, pool *pgxpool.Pool, rulesFile string) error {
	slog.Info("reading rules file", slog.String("path", rulesFile))

	data, err := os.ReadFile(rulesFile)
	if err != nil {
		return errors.Wrap(err, "read rules file")
	}

	var rules []ruleJSON
	if err := json.Unmarshal(data, &rules); err != nil {
		return errors.Wrap(err, "parse rules JSON")
	}

	slog.Info("upserting rules", slog.Int("count", len(rules)))

	for _, r := range rules {
		if err := upsertRule(ctx, pool, r); err != nil {
			return errors.Wrapf(err, "upsert rule %s", r.ID)
		}
		slog.Info("upserted rule", slog.String("id", r.ID), slog.String("kind", r.Kind))
	}
	return nil
}

func upsertRule(ctx context.Context, pool *pgxpool.Pool, r ruleJSON) error {
	status := r.Status
	if status == "" {
		status = "active"
	}

	var code *string
	if r.Code != "" {
		code = &r.Code
	}
	var comboType *string
	if r.ComboType != "" {
		comboType = &r.ComboType
	}

	_, err := pool.Exec(ctx, upsertRuleSQL,
		r.ID, r.Kind, r.Name, status, r.StartDate, r.EndDate,
		code, r.DiscountType, r.Value, r.MaxDiscount, r.Stackable,
		r.MinOrderAmount, r.MinQuantity, orEmpty(r.ApplicableProducts), orEmpty(r.ApplicableCategories),
		orEmpty(r.ExcludedProducts), orEmpty(r.RestrictedToUsers), r.FirstOrderOnly,
		r.UsageLimit, r.PerUserLimit,
		comboType, r.ComboPrice, r.BuyQuantity, r.GetQuantity, r.GetDiscount,
	)
	if err != nil {
		return err
	}

	if r.Kind != "combo" {
		return nil
	}
	if _, err := pool.Exec(ctx, deleteComboItemsSQL, r.ID); err != nil {
		return err
	}
	for _, item := range r.Items {
		required := true
		if item.Required != nil {
			required = *item.Required
		}
		if _, err := pool.Exec(ctx, insertComboItemSQL,
			r.ID, item.ProductID, item.VariantID, item.Quantity, required,
		); err != nil {
			return err
		}
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
