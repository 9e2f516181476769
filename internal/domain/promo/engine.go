package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ecomdesk/promo-engine/internal/domain/cart"
	"github.com/ecomdesk/promo-engine/internal/domain/ledger"
	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

// ErrCodeNotFound is returned when the supplied coupon code does not exist.
var ErrCodeNotFound = errors.New("invalid coupon code")

// RuleSet is a consistent snapshot of the promotional catalog. The engine
// only reads it; rule definitions are mutated by the administrative layer.
type RuleSet struct {
	Coupons    []*rule.Coupon
	Promotions []*rule.Promotion
	Combos     []*rule.Combo
}

// FindCoupon returns the coupon with the given (normalized) code, or nil.
func (s RuleSet) FindCoupon(code string) *rule.Coupon {
	norm := rule.NormalizeCode(code)
	for _, c := range s.Coupons {
		if rule.NormalizeCode(c.Code) == norm {
			return c
		}
	}
	return nil
}

// RuleSource loads the current rule snapshot from storage.
type RuleSource interface {
	LoadRules(ctx context.Context, now time.Time) (RuleSet, error)
}

// AuditPublisher receives confirmed redemption records. Publish failures must
// not fail the checkout; the ledger row is the source of truth.
type AuditPublisher interface {
	PublishRedemption(ctx context.Context, rec ledger.UsageRecord)
}

// Engine is the discount-resolution entry point. Preview is pure; Finalize is
// the only operation that mutates shared state (the usage counters).
type Engine struct {
	rules  RuleSource
	ledger ledger.Ledger
	audit  AuditPublisher
	now    func() time.Time

	resolutions metric.Int64Counter
	rejections  metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAudit attaches a redemption audit publisher.
func WithAudit(p AuditPublisher) Option {
	return func(e *Engine) { e.audit = p }
}

// WithMeter registers resolution metrics on the given meter.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		e.resolutions, _ = m.Int64Counter("promo.resolutions")
		e.rejections, _ = m.Int64Counter("promo.rules.rejected")
	}
}

// NewEngine creates an Engine over the given rule source and usage ledger.
func NewEngine(rules RuleSource, lg ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		rules:  rules,
		ledger: lg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preview resolves the cart against the current rule snapshot without
// reserving any counters. Results are advisory and may become stale by the
// time checkout occurs.
func (e *Engine) Preview(ctx context.Context, c cart.Cart, couponCode string) (*PricingResult, error) {
	now := e.now()
	set, err := e.rules.LoadRules(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	ectx, err := e.buildContext(ctx, now, c, set, couponCode)
	if err != nil {
		return nil, err
	}

	res, err := resolveSet(c, couponCode, set, ectx, nil)
	if err != nil {
		return nil, err
	}
	e.record(ctx, res, "preview")
	return res, nil
}

// Finalize re-resolves against freshly read state, reserves a usage slot for
// every selected rule in stacking order, re-arbitrates once if a reservation
// is lost to a concurrent checkout, then confirms the remainder and emits the
// audit records.
func (e *Engine) Finalize(ctx context.Context, c cart.Cart, couponCode, orderID string) (*PricingResult, error) {
	now := e.now()
	set, err := e.rules.LoadRules(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	ectx, err := e.buildContext(ctx, now, c, set, couponCode)
	if err != nil {
		return nil, err
	}

	res, err := resolveSet(c, couponCode, set, ectx, nil)
	if err != nil {
		return nil, err
	}

	tokens, lost, err := e.reserveAll(ctx, res, set, c.CustomerID)
	if err != nil {
		return nil, err
	}

	if len(lost) > 0 {
		// A concurrent checkout consumed a slot between read and reserve.
		// Drop the lost rules, roll back what we took, and arbitrate once
		// more over the survivors.
		e.releaseAll(ctx, tokens)
		res, err = resolveSet(c, couponCode, set, ectx, lost)
		if err != nil {
			return nil, err
		}
		tokens, lost, err = e.reserveAll(ctx, res, set, c.CustomerID)
		if err != nil {
			return nil, err
		}
		// No further arbitration passes: rules lost on the second attempt
		// are removed from the result as-is.
		for ruleID, reason := range lost {
			dropApplied(res, ruleID, reason)
		}
	}

	for _, held := range tokens {
		rec, err := e.ledger.Confirm(ctx, held.tok, orderID, held.discount)
		if err != nil {
			// A failed confirm means the counters can no longer be trusted;
			// this must surface as a checkout failure.
			return nil, errors.Wrapf(err, "confirm redemption for rule %s", held.tok.RuleID)
		}
		if e.audit != nil {
			e.audit.PublishRedemption(ctx, rec)
		}
	}

	e.record(ctx, res, "finalize")
	return res, nil
}

// buildContext assembles the evaluation context, reading the customer's prior
// redemption counts for every rule that declares a per-user limit.
func (e *Engine) buildContext(ctx context.Context, now time.Time, c cart.Cart, set RuleSet, couponCode string) (Context, error) {
	ectx := Context{
		Now:          now,
		CustomerID:   c.CustomerID,
		IsFirstOrder: c.IsFirstOrder,
		PriorUse:     make(map[string]int),
	}
	if c.CustomerID == "" {
		return ectx, nil
	}

	perUserLimited := make([]string, 0, 8)
	for _, cp := range set.Coupons {
		if cp.PerUserLimit > 0 {
			perUserLimited = append(perUserLimited, cp.ID)
		}
	}
	for _, p := range set.Promotions {
		if p.PerUserLimit > 0 {
			perUserLimited = append(perUserLimited, p.ID)
		}
	}
	for _, cb := range set.Combos {
		if cb.PerUserLimit > 0 {
			perUserLimited = append(perUserLimited, cb.ID)
		}
	}

	for _, id := range perUserLimited {
		u, err := e.ledger.Counts(ctx, id, c.CustomerID)
		if err != nil {
			return Context{}, errors.Wrapf(err, "load usage for rule %s", id)
		}
		ectx.PriorUse[id] = u.PerUserCount
	}
	return ectx, nil
}

// heldToken pairs a reservation with the discount it secures.
type heldToken struct {
	tok      ledger.Token
	discount decimal.Decimal
}

// reserveAll reserves a slot for every applied rule in stacking order. Rules
// whose reservation is lost to a concurrent checkout are collected in lost;
// any other error is fatal.
func (e *Engine) reserveAll(ctx context.Context, res *PricingResult, set RuleSet, customerID string) ([]heldToken, map[string]string, error) {
	var held []heldToken
	lost := make(map[string]string)

	for _, ar := range res.AppliedRules {
		tok, err := e.ledger.Reserve(ctx, ar.RuleID, customerID, limitsFor(set, ar.RuleID))
		switch {
		case err == nil:
			held = append(held, heldToken{tok: tok, discount: ar.Adjustment})
		case errors.Is(err, ledger.ErrLimitReached), errors.Is(err, ledger.ErrPerUserLimitReached):
			zctx.From(ctx).Info("reservation lost",
				zap.String("rule_id", ar.RuleID),
				zap.Error(err),
			)
			lost[ar.RuleID] = ReasonReservationLost
		default:
			e.releaseAll(ctx, held)
			return nil, nil, errors.Wrapf(err, "reserve usage slot for rule %s", ar.RuleID)
		}
	}
	if len(lost) > 0 {
		return held, lost, nil
	}
	return held, nil, nil
}

// releaseAll rolls back reservations taken during a failed pass.
func (e *Engine) releaseAll(ctx context.Context, held []heldToken) {
	for _, h := range held {
		if err := e.ledger.Release(ctx, h.tok); err != nil {
			zctx.From(ctx).Error("release reservation",
				zap.String("rule_id", h.tok.RuleID),
				zap.Error(err),
			)
		}
	}
}

// limitsFor looks up a rule's usage caps in the snapshot.
func limitsFor(set RuleSet, ruleID string) ledger.Limits {
	for _, cp := range set.Coupons {
		if cp.ID == ruleID {
			return ledger.Limits{Total: cp.UsageLimit, PerUser: cp.PerUserLimit}
		}
	}
	for _, p := range set.Promotions {
		if p.ID == ruleID {
			return ledger.Limits{Total: p.UsageLimit, PerUser: p.PerUserLimit}
		}
	}
	for _, cb := range set.Combos {
		if cb.ID == ruleID {
			return ledger.Limits{Total: cb.UsageLimit, PerUser: cb.PerUserLimit}
		}
	}
	return ledger.Limits{}
}

// dropApplied removes one applied rule from the result, adjusting the totals,
// and records it as rejected. Later rules keep their already-computed
// adjustments, which can only under-discount, never over-discount.
func dropApplied(res *PricingResult, ruleID, reason string) {
	droppedWaiver := false
	kept := res.AppliedRules[:0]
	for _, ar := range res.AppliedRules {
		if ar.RuleID != ruleID {
			kept = append(kept, ar)
			continue
		}
		res.TotalDiscount = res.TotalDiscount.Sub(ar.Adjustment)
		res.FinalTotal = res.FinalTotal.Add(ar.Adjustment)
		droppedWaiver = droppedWaiver || ar.WaivesShipping
	}
	res.AppliedRules = kept
	if droppedWaiver {
		res.ShippingWaived = false
		for _, ar := range kept {
			if ar.WaivesShipping {
				res.ShippingWaived = true
				break
			}
		}
	}
	res.RejectedRules = append(res.RejectedRules, RejectedRule{RuleID: ruleID, Reason: reason})
}

// resolveSet runs evaluation and arbitration over a snapshot. exclude names
// rules barred from this pass (reservation lost), with their reasons.
func resolveSet(c cart.Cart, couponCode string, set RuleSet, ectx Context, exclude map[string]string) (*PricingResult, error) {
	var (
		cand     Candidates
		rejected []RejectedRule
	)

	if couponCode != "" {
		cp := set.FindCoupon(couponCode)
		if cp == nil {
			return nil, ErrCodeNotFound
		}
		if reason, ok := exclude[cp.ID]; ok {
			rejected = append(rejected, RejectedRule{RuleID: cp.ID, Reason: reason})
		} else if ok, reason := Matches(cp, c, ectx); ok {
			cand.Coupon = cp
		} else {
			rejected = append(rejected, RejectedRule{RuleID: cp.ID, Reason: reason})
		}
	}

	for _, p := range set.Promotions {
		if reason, ok := exclude[p.ID]; ok {
			rejected = append(rejected, RejectedRule{RuleID: p.ID, Reason: reason})
			continue
		}
		ok, reason := Matches(p, c, ectx)
		if ok {
			cand.Promotions = append(cand.Promotions, p)
			continue
		}
		if autoRuleOutOfWindow(reason) {
			// Dormant rules are simply not part of the active set; listing
			// them on every resolution would only be noise.
			continue
		}
		rejected = append(rejected, RejectedRule{RuleID: p.ID, Reason: reason})
	}

	for _, cb := range set.Combos {
		if reason, ok := exclude[cb.ID]; ok {
			rejected = append(rejected, RejectedRule{RuleID: cb.ID, Reason: reason})
			continue
		}
		ok, reason := Matches(cb, c, ectx)
		if ok {
			cand.Combos = append(cand.Combos, cb)
			continue
		}
		if autoRuleOutOfWindow(reason) {
			continue
		}
		rejected = append(rejected, RejectedRule{RuleID: cb.ID, Reason: reason})
	}

	return Arbitrate(c, cand, rejected), nil
}

// autoRuleOutOfWindow reports whether a rejection reason means the rule is
// administratively dormant rather than a live mismatch with this cart.
func autoRuleOutOfWindow(reason string) bool {
	return reason == ReasonInactive || reason == ReasonExpired || reason == ReasonNotStarted
}

func (e *Engine) record(ctx context.Context, res *PricingResult, mode string) {
	if e.resolutions != nil {
		e.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
	if e.rejections != nil {
		for _, rr := range res.RejectedRules {
			e.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rr.Reason)))
		}
	}
}
