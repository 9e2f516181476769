package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Ledger. It backs tests and single-node deployments;
// multi-node deployments use the PostgreSQL implementation.
type Memory struct {
	mu      sync.Mutex
	counts  map[string]int
	perUser map[userKey]int
	pending map[uuid.UUID]Token
	records []UsageRecord
	now     func() time.Time
}

type userKey struct {
	ruleID string
	userID string
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		counts:  make(map[string]int),
		perUser: make(map[userKey]int),
		pending: make(map[uuid.UUID]Token),
		now:     time.Now,
	}
}

// Counts implements Ledger.
func (m *Memory) Counts(_ context.Context, ruleID, userID string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Usage{Count: m.counts[ruleID]}
	if userID != "" {
		u.PerUserCount = m.perUser[userKey{ruleID, userID}]
	}
	return u, nil
}

// Reserve implements Ledger. The reservation itself occupies the slot, so a
// concurrent Reserve against the last slot fails until Release.
func (m *Memory) Reserve(_ context.Context, ruleID, userID string, limits Limits) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limits.Total > 0 && m.counts[ruleID] >= limits.Total {
		return Token{}, ErrLimitReached
	}
	key := userKey{ruleID, userID}
	if limits.PerUser > 0 && userID != "" && m.perUser[key] >= limits.PerUser {
		return Token{}, ErrPerUserLimitReached
	}

	m.counts[ruleID]++
	if userID != "" {
		m.perUser[key]++
	}

	tok := Token{ID: uuid.New(), RuleID: ruleID, UserID: userID}
	m.pending[tok.ID] = tok
	return tok, nil
}

// Confirm implements Ledger.
func (m *Memory) Confirm(_ context.Context, tok Token, orderID string, discountApplied decimal.Decimal) (UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[tok.ID]; !ok {
		return UsageRecord{}, ErrUnknownToken
	}
	delete(m.pending, tok.ID)

	rec := UsageRecord{
		ID:              uuid.New(),
		RuleID:          tok.RuleID,
		UserID:          tok.UserID,
		OrderID:         orderID,
		DiscountApplied: discountApplied,
		UsedAt:          m.now(),
	}
	m.records = append(m.records, rec)
	return rec, nil
}

// Release implements Ledger.
func (m *Memory) Release(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[tok.ID]; !ok {
		return ErrUnknownToken
	}
	delete(m.pending, tok.ID)

	m.counts[tok.RuleID]--
	if tok.UserID != "" {
		m.perUser[userKey{tok.RuleID, tok.UserID}]--
	}
	return nil
}

// Records returns a copy of the confirmed redemption audit trail.
func (m *Memory) Records() []UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UsageRecord, len(m.records))
	copy(out, m.records)
	return out
}
