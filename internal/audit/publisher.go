// Package audit publishes confirmed redemption records to Kafka for
// downstream reporting. The ledger row is the source of truth; a lost event
// is logged and tolerated, never allowed to fail a checkout.
package audit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/ecomdesk/promo-engine/internal/domain/ledger"
)

// Publisher emits one event per confirmed redemption. The target topic is
// fixed at construction via the client's default produce topic.
type Publisher struct {
	client *kgo.Client
}

// NewPublisher connects to the given brokers. The returned Publisher must be
// closed to flush buffered records.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	return &Publisher{client: client}, nil
}

// PublishRedemption produces the record asynchronously, keyed by rule ID so
// per-rule ordering is preserved.
func (p *Publisher) PublishRedemption(ctx context.Context, rec ledger.UsageRecord) {
	p.client.Produce(ctx, &kgo.Record{
		Key:   []byte(rec.RuleID),
		Value: encodeRecord(rec),
	}, func(r *kgo.Record, err error) {
		if err != nil {
			zctx.From(ctx).Error("publish redemption event",
				zap.String("rule_id", rec.RuleID),
				zap.String("order_id", rec.OrderID),
				zap.Error(err),
			)
		}
	})
}

// Close flushes and releases the underlying client.
func (p *Publisher) Close() {
	p.client.Close()
}

func encodeRecord(rec ledger.UsageRecord) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(rec.ID.String()) })
		e.Field("ruleId", func(e *jx.Encoder) { e.Str(rec.RuleID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(rec.UserID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(rec.OrderID) })
		e.Field("discountApplied", func(e *jx.Encoder) { e.Raw([]byte(rec.DiscountApplied.String())) })
		e.Field("usedAt", func(e *jx.Encoder) { e.Str(rec.UsedAt.UTC().Format(time.RFC3339)) })
	})
	return e.Bytes()
}
