package promo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomdesk/promo-engine/internal/domain/ledger"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

// staticRules serves a fixed snapshot, keeping engine tests free of storage.
type staticRules struct {
	set RuleSet
}

func (s staticRules) LoadRules(_ context.Context, _ time.Time) (RuleSet, error) {
	return s.set, nil
}

func newTestEngine(set RuleSet, lg ledger.Ledger) *Engine {
	return NewEngine(staticRules{set: set}, lg, WithClock(func() time.Time { return fixedNow }))
}

func TestPreviewIsIdempotent(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "SAVE10",
			DiscountType: rule.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
		}},
		Promotions: []*rule.Promotion{pctPromotion("promo-1", 5, true)},
	}
	e := newTestEngine(set, ledger.NewMemory())
	c := testCart()

	first, err := e.Preview(context.Background(), c, "save10")
	require.NoError(t, err)
	second, err := e.Preview(context.Background(), c, "save10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"coupon-1", "promo-1"}, appliedIDs(first))
}

func TestPreviewUnknownCode(t *testing.T) {
	e := newTestEngine(RuleSet{}, ledger.NewMemory())

	_, err := e.Preview(context.Background(), testCart(), "BOGUS")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestPreviewDoesNotTouchCounters(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "SAVE10",
			DiscountType: rule.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Conditions:   rule.Conditions{UsageLimit: 1},
		}},
	}
	mem := ledger.NewMemory()
	e := newTestEngine(set, mem)

	_, err := e.Preview(context.Background(), testCart(), "SAVE10")
	require.NoError(t, err)

	u, err := mem.Counts(context.Background(), "coupon-1", "")
	require.NoError(t, err)
	assert.Zero(t, u.Count)
	assert.Empty(t, mem.Records())
}

func TestFinalizeConfirmsUsage(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "SAVE10",
			DiscountType: rule.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Conditions:   rule.Conditions{UsageLimit: 10},
		}},
	}
	mem := ledger.NewMemory()
	e := newTestEngine(set, mem)

	res, err := e.Finalize(context.Background(), testCart(), "SAVE10", "order-1")
	require.NoError(t, err)
	require.Equal(t, []string{"coupon-1"}, appliedIDs(res))

	records := mem.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "coupon-1", records[0].RuleID)
	assert.Equal(t, "order-1", records[0].OrderID)
	assert.Equal(t, "u-1", records[0].UserID)
	assert.True(t, records[0].DiscountApplied.Equal(decimal.NewFromInt(25)))

	u, err := mem.Counts(context.Background(), "coupon-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count)
}

func TestFinalizePerUserLimit(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "ONCE",
			DiscountType: rule.DiscountFixed,
			Value:        decimal.NewFromInt(5),
			Conditions:   rule.Conditions{UsageLimit: 100, PerUserLimit: 1},
		}},
	}
	mem := ledger.NewMemory()
	e := newTestEngine(set, mem)

	res, err := e.Finalize(context.Background(), testCart(), "ONCE", "order-1")
	require.NoError(t, err)
	require.Equal(t, []string{"coupon-1"}, appliedIDs(res))

	// Second redemption by the same user is rejected even though the global
	// limit is nowhere near exhausted.
	res, err = e.Finalize(context.Background(), testCart(), "ONCE", "order-2")
	require.NoError(t, err)
	assert.Empty(t, res.AppliedRules)
	assert.Equal(t, ReasonPerUserLimit, rejectionReason(t, res, "coupon-1"))

	// A different user is unaffected.
	other := testCart()
	other.CustomerID = "u-2"
	res, err = e.Finalize(context.Background(), other, "ONCE", "order-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"coupon-1"}, appliedIDs(res))
}

func TestFinalizeReArbitratesOnLostReservation(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "LAST1",
			DiscountType: rule.DiscountFixed,
			Value:        decimal.NewFromInt(20),
			Conditions:   rule.Conditions{UsageLimit: 1},
		}},
		Promotions: []*rule.Promotion{pctPromotion("promo-1", 10, true)},
	}
	mem := ledger.NewMemory()
	e := newTestEngine(set, mem)

	// A concurrent checkout grabs the last slot between our snapshot read
	// and the reservation.
	_, err := mem.Reserve(context.Background(), "coupon-1", "other-user", ledger.Limits{Total: 1})
	require.NoError(t, err)

	res, err := e.Finalize(context.Background(), testCart(), "LAST1", "order-1")
	require.NoError(t, err)

	// The coupon is dropped, the promotion survives re-arbitration and is
	// recomputed against the undiscounted total.
	assert.Equal(t, []string{"promo-1"}, appliedIDs(res))
	assert.Equal(t, ReasonReservationLost, rejectionReason(t, res, "coupon-1"))
	assert.True(t, res.TotalDiscount.Equal(decimal.NewFromInt(25)), "got %s", res.TotalDiscount)
}

// racedLedger wraps Memory, rejecting Reserve for one rule after a number of
// successful attempts. It stands in for a concurrent checkout grabbing the
// slot between a release and the following re-reservation.
type racedLedger struct {
	*ledger.Memory
	failRule  string
	failAfter int
	attempts  int
}

func (f *racedLedger) Reserve(ctx context.Context, ruleID, userID string, lim ledger.Limits) (ledger.Token, error) {
	if ruleID == f.failRule {
		f.attempts++
		if f.attempts > f.failAfter {
			return ledger.Token{}, ledger.ErrLimitReached
		}
	}
	return f.Memory.Reserve(ctx, ruleID, userID, lim)
}

func TestFinalizeLostShippingCouponRetractsWaiver(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-ship"),
			Code:         "SHIPFREE",
			DiscountType: rule.DiscountFreeShipping,
			Conditions:   rule.Conditions{UsageLimit: 5},
		}},
		Promotions: []*rule.Promotion{func() *rule.Promotion {
			p := pctPromotion("promo-1", 10, true)
			p.UsageLimit = 1
			return p
		}()},
	}
	lg := &racedLedger{Memory: ledger.NewMemory(), failRule: "coupon-ship", failAfter: 1}
	e := newTestEngine(set, lg)

	// The promotion's last slot goes to a concurrent checkout, forcing a
	// second pass; on that pass the coupon's slot is gone too.
	_, err := lg.Memory.Reserve(context.Background(), "promo-1", "other-user", ledger.Limits{Total: 1})
	require.NoError(t, err)

	res, err := e.Finalize(context.Background(), testCart(), "SHIPFREE", "order-1")
	require.NoError(t, err)

	assert.Empty(t, res.AppliedRules)
	assert.False(t, res.ShippingWaived, "a rejected coupon must not leave its shipping waiver behind")
	assert.Equal(t, ReasonReservationLost, rejectionReason(t, res, "coupon-ship"))
	assert.Equal(t, ReasonReservationLost, rejectionReason(t, res, "promo-1"))
	assert.True(t, res.TotalDiscount.IsZero())
	assert.True(t, res.FinalTotal.Equal(decimal.NewFromInt(250)))
}

func TestFinalizeConcurrentSingleSlot(t *testing.T) {
	set := RuleSet{
		Coupons: []*rule.Coupon{{
			Envelope:     activeEnvelope("coupon-1"),
			Code:         "GOLDEN",
			DiscountType: rule.DiscountFixed,
			Value:        decimal.NewFromInt(10),
			Conditions:   rule.Conditions{UsageLimit: 1},
		}},
	}
	mem := ledger.NewMemory()
	e := newTestEngine(set, mem)

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := testCart()
			c.CustomerID = ""
			res, err := e.Finalize(context.Background(), c, "GOLDEN", "order")
			if err != nil {
				return
			}
			if len(res.AppliedRules) == 1 {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent checkout may redeem the last slot")
	u, err := mem.Counts(context.Background(), "coupon-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count, "usage count must never exceed the limit")
}
