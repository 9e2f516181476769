// Package ledger tracks per-rule and per-user redemption counts and gates
// them behind a two-phase reserve/confirm protocol, so a rule's usage count
// can never exceed its limit even under concurrent checkouts.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrLimitReached is returned by Reserve when the rule's global usage
	// limit is exhausted.
	ErrLimitReached = errors.New("usage limit reached")
	// ErrPerUserLimitReached is returned by Reserve when the user's personal
	// redemption limit for the rule is exhausted.
	ErrPerUserLimitReached = errors.New("per-user usage limit reached")
	// ErrUnknownToken is returned by Confirm and Release for tokens that were
	// never reserved or were already settled.
	ErrUnknownToken = errors.New("unknown reservation token")
)

// Limits are the caps a reservation must respect. Zero means unlimited.
type Limits struct {
	Total   int
	PerUser int
}

// Token is a provisional, atomic claim on a usage slot. It must be settled
// with exactly one Confirm or Release.
type Token struct {
	ID     uuid.UUID
	RuleID string
	UserID string
}

// Usage is a point-in-time read of a rule's counters.
type Usage struct {
	Count        int
	PerUserCount int
}

// UsageRecord is the append-only audit record of one confirmed redemption.
type UsageRecord struct {
	ID              uuid.UUID
	RuleID          string
	UserID          string
	OrderID         string
	DiscountApplied decimal.Decimal
	UsedAt          time.Time
}

// Ledger is the two-phase redemption counter store.
//
// Reserve must be atomic relative to the stored counters: two concurrent
// reservations against a rule with one remaining slot must not both succeed.
type Ledger interface {
	// Counts reads the current counters for a rule. PerUserCount is zero when
	// userID is empty.
	Counts(ctx context.Context, ruleID, userID string) (Usage, error)

	// Reserve claims one usage slot, checking both limits atomically. It
	// returns ErrLimitReached or ErrPerUserLimitReached when a cap is hit.
	Reserve(ctx context.Context, ruleID, userID string, limits Limits) (Token, error)

	// Confirm settles a reservation, writing the audit record.
	Confirm(ctx context.Context, tok Token, orderID string, discountApplied decimal.Decimal) (UsageRecord, error)

	// Release rolls back a reservation that will not be confirmed.
	Release(ctx context.Context, tok Token) error
}
