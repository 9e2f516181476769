package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ecomdesk/promo-engine/internal/domain/ledger"
)

const (
	// Conditional increment: zero rows affected means the cap is hit. This is
	// the serialization point that prevents double-spending limited slots.
	reserveRuleSQL = `UPDATE rules SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	reserveUserSQL = `INSERT INTO rule_user_usage (rule_id, user_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (rule_id, user_id)
		DO UPDATE SET used_count = rule_user_usage.used_count + 1
		WHERE rule_user_usage.used_count < $3`

	insertReservationSQL = `INSERT INTO reservations (id, rule_id, user_id, user_counted)
		VALUES ($1, $2, $3, $4)`

	deleteReservationSQL = `DELETE FROM reservations WHERE id = $1
		RETURNING rule_id, user_id, user_counted`

	releaseRuleSQL = `UPDATE rules SET usage_count = usage_count - 1
		WHERE id = $1 AND usage_count > 0`

	releaseUserSQL = `UPDATE rule_user_usage SET used_count = used_count - 1
		WHERE rule_id = $1 AND user_id = $2 AND used_count > 0`

	insertUsageRecordSQL = `INSERT INTO usage_records (id, rule_id, user_id, order_id, discount_applied)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING used_at`

	ruleCountSQL = `SELECT usage_count FROM rules WHERE id = $1`

	userCountSQL = `SELECT COALESCE(
		(SELECT used_count FROM rule_user_usage WHERE rule_id = $1 AND user_id = $2), 0)`
)

var _ ledger.Ledger = (*PgLedger)(nil)

// PgLedger implements the usage ledger on PostgreSQL. Reservations run in a
// transaction around two conditional writes, so contention is scoped to the
// single rule row being redeemed; unrelated rules proceed unimpeded.
type PgLedger struct {
	pool *pgxpool.Pool
}

// NewPgLedger returns a PgLedger that uses the given pool.
func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

// Counts implements ledger.Ledger.
func (l *PgLedger) Counts(ctx context.Context, ruleID, userID string) (ledger.Usage, error) {
	var u ledger.Usage

	var count int32
	if err := l.pool.QueryRow(ctx, ruleCountSQL, ruleID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Usage{}, nil
		}
		return ledger.Usage{}, fmt.Errorf("reading usage count for rule %s: %w", ruleID, err)
	}
	u.Count = int(count)

	if userID != "" {
		var perUser int32
		if err := l.pool.QueryRow(ctx, userCountSQL, ruleID, userID).Scan(&perUser); err != nil {
			return ledger.Usage{}, fmt.Errorf("reading per-user count for rule %s: %w", ruleID, err)
		}
		u.PerUserCount = int(perUser)
	}
	return u, nil
}

// Reserve implements ledger.Ledger.
func (l *PgLedger) Reserve(ctx context.Context, ruleID, userID string, limits ledger.Limits) (ledger.Token, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return ledger.Token{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, reserveRuleSQL, ruleID)
	if err != nil {
		return ledger.Token{}, fmt.Errorf("incrementing usage for rule %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.Token{}, ledger.ErrLimitReached
	}

	userCounted := limits.PerUser > 0 && userID != ""
	if userCounted {
		tag, err = tx.Exec(ctx, reserveUserSQL, ruleID, userID, limits.PerUser)
		if err != nil {
			return ledger.Token{}, fmt.Errorf("incrementing per-user usage for rule %s: %w", ruleID, err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.Token{}, ledger.ErrPerUserLimitReached
		}
	}

	tok := ledger.Token{ID: uuid.New(), RuleID: ruleID, UserID: userID}
	if _, err := tx.Exec(ctx, insertReservationSQL, tok.ID, ruleID, userID, userCounted); err != nil {
		return ledger.Token{}, fmt.Errorf("recording reservation for rule %s: %w", ruleID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Token{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	return tok, nil
}

// Confirm implements ledger.Ledger.
func (l *PgLedger) Confirm(ctx context.Context, tok ledger.Token, orderID string, discountApplied decimal.Decimal) (ledger.UsageRecord, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return ledger.UsageRecord{}, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		ruleID, userID string
		userCounted    bool
	)
	if err := tx.QueryRow(ctx, deleteReservationSQL, tok.ID).Scan(&ruleID, &userID, &userCounted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.UsageRecord{}, ledger.ErrUnknownToken
		}
		return ledger.UsageRecord{}, fmt.Errorf("settling reservation %s: %w", tok.ID, err)
	}

	rec := ledger.UsageRecord{
		ID:              uuid.New(),
		RuleID:          ruleID,
		UserID:          userID,
		OrderID:         orderID,
		DiscountApplied: discountApplied,
	}
	var usedAt time.Time
	if err := tx.QueryRow(ctx, insertUsageRecordSQL,
		rec.ID, rec.RuleID, rec.UserID, rec.OrderID, rec.DiscountApplied,
	).Scan(&usedAt); err != nil {
		return ledger.UsageRecord{}, fmt.Errorf("writing usage record for rule %s: %w", ruleID, err)
	}
	rec.UsedAt = usedAt

	if err := tx.Commit(ctx); err != nil {
		return ledger.UsageRecord{}, fmt.Errorf("commit confirm tx: %w", err)
	}
	return rec, nil
}

// Release implements ledger.Ledger.
func (l *PgLedger) Release(ctx context.Context, tok ledger.Token) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		ruleID, userID string
		userCounted    bool
	)
	if err := tx.QueryRow(ctx, deleteReservationSQL, tok.ID).Scan(&ruleID, &userID, &userCounted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrUnknownToken
		}
		return fmt.Errorf("settling reservation %s: %w", tok.ID, err)
	}

	if _, err := tx.Exec(ctx, releaseRuleSQL, ruleID); err != nil {
		return fmt.Errorf("decrementing usage for rule %s: %w", ruleID, err)
	}
	if userCounted {
		if _, err := tx.Exec(ctx, releaseUserSQL, ruleID, userID); err != nil {
			return fmt.Errorf("decrementing per-user usage for rule %s: %w", ruleID, err)
		}
	}

	return tx.Commit(ctx)
}
