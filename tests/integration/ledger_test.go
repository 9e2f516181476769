//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomdesk/promo-engine/internal/domain/ledger"
	"github.com/ecomdesk/promo-engine/internal/repository"
)

func TestLedgerReserveConfirm(t *testing.T) {
	ctx := context.Background()
	insertCoupon(t, "lg-basic", "LG-BASIC", 5, 2)
	lg := repository.NewPgLedger(pool)
	limits := ledger.Limits{Total: 5, PerUser: 2}

	tok, err := lg.Reserve(ctx, "lg-basic", "u-1", limits)
	require.NoError(t, err)

	u, err := lg.Counts(ctx, "lg-basic", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count)
	assert.Equal(t, 1, u.PerUserCount)

	rec, err := lg.Confirm(ctx, tok, "order-1", decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.Equal(t, "lg-basic", rec.RuleID)
	assert.Equal(t, "order-1", rec.OrderID)
	assert.False(t, rec.UsedAt.IsZero())

	// Confirm keeps the slot occupied and the token is spent.
	u, err = lg.Counts(ctx, "lg-basic", "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count)

	_, err = lg.Confirm(ctx, tok, "order-1", decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrUnknownToken)
}

func TestLedgerReleaseRestoresSlot(t *testing.T) {
	ctx := context.Background()
	insertCoupon(t, "lg-release", "LG-RELEASE", 1, 1)
	lg := repository.NewPgLedger(pool)
	limits := ledger.Limits{Total: 1, PerUser: 1}

	tok, err := lg.Reserve(ctx, "lg-release", "u-1", limits)
	require.NoError(t, err)

	_, err = lg.Reserve(ctx, "lg-release", "u-2", limits)
	assert.ErrorIs(t, err, ledger.ErrLimitReached)

	require.NoError(t, lg.Release(ctx, tok))

	// Both the shared counter and u-1's counter are restored.
	_, err = lg.Reserve(ctx, "lg-release", "u-1", limits)
	require.NoError(t, err)
}

func TestLedgerPerUserLimit(t *testing.T) {
	ctx := context.Background()
	insertCoupon(t, "lg-peruser", "LG-PERUSER", 0, 1)
	lg := repository.NewPgLedger(pool)
	limits := ledger.Limits{PerUser: 1}

	_, err := lg.Reserve(ctx, "lg-peruser", "u-1", limits)
	require.NoError(t, err)

	_, err = lg.Reserve(ctx, "lg-peruser", "u-1", limits)
	assert.ErrorIs(t, err, ledger.ErrPerUserLimitReached)

	_, err = lg.Reserve(ctx, "lg-peruser", "u-2", limits)
	require.NoError(t, err)
}

func TestLedgerConcurrentSingleSlot(t *testing.T) {
	ctx := context.Background()
	insertCoupon(t, "lg-race", "LG-RACE", 1, 0)
	lg := repository.NewPgLedger(pool)
	limits := ledger.Limits{Total: 1}

	const workers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lg.Reserve(ctx, "lg-race", "", limits); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won, "exactly one concurrent reservation must win the last slot")

	u, err := lg.Counts(ctx, "lg-race", "")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count)
}
