// Command coupon-ingest bulk-loads coupon codes from gzip-compressed code
// files into the rule catalog. Files are streamed concurrently; a bloom
// filter keeps already-seen codes from being queued twice, and inserts run in
// batches with ON CONFLICT so reruns are idempotent.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ecomdesk/promo-engine/internal/domain/rule"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	batchSize     = 1_000
	progressEvery = 100_000
	minCodeLen    = 4
	maxCodeLen    = 32
)

const upsertCouponSQL = `
INSERT INTO rules (id, kind, name, status, code, discount_type, discount_value, per_user_limit)
VALUES ('coupon-' || UPPER($1), 'coupon', $2, 'active', UPPER($1), $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name           = EXCLUDED.name,
    discount_type  = EXCLUDED.discount_type,
    discount_value = EXCLUDED.discount_value,
    per_user_limit = EXCLUDED.per_user_limit`

func main() {
	var (
		databaseURL  string
		name         string
		discountType string
		value        string
		perUserLimit int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&name, "name", "Imported coupon", "display name for imported coupons")
	flag.StringVar(&discountType, "discount-type", string(rule.DiscountPercentage), "discount type for imported coupons")
	flag.StringVar(&value, "value", "10", "discount value for imported coupons")
	flag.IntVar(&perUserLimit, "per-user-limit", 1, "per-user redemption limit (0 = unlimited)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one code file is required")
		os.Exit(1)
	}

	discountValue, err := decimal.NewFromString(value)
	if err != nil {
		slog.Error("invalid discount value", slog.String("value", value))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ing := &ingest{
		name:         name,
		discountType: discountType,
		value:        discountValue,
		perUserLimit: perUserLimit,
		seen:         bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
	if err := ing.run(ctx, databaseURL, files); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed", slog.Uint64("inserted", ing.inserted))
}

type ingest struct {
	name         string
	discountType string
	value        decimal.Decimal
	perUserLimit int

	mu       sync.Mutex
	seen     *bloom.BloomFilter
	inserted uint64
}

func (ing *ingest) run(ctx context.Context, databaseURL string, files []string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	codes := make(chan string, batchSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ing.writeBatches(ctx, pool, codes)
	})

	readers, readCtx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(func() error {
			return ing.streamFile(readCtx, f, codes)
		})
	}
	readErr := readers.Wait()
	close(codes)

	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

// streamFile reads one gzip file of newline-separated codes, filters out
// malformed and already-seen codes, and feeds the rest to the writer.
func (ing *ingest) streamFile(ctx context.Context, path string, codes chan<- string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var total, queued uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		code := rule.NormalizeCode(scanner.Text())
		total++
		if total%progressEvery == 0 {
			slog.Info("scan progress", slog.String("file", path), slog.Uint64("codes", total))
		}
		if len(code) < minCodeLen || len(code) > maxCodeLen || strings.ContainsFunc(code, notCodeChar) {
			continue
		}

		ing.mu.Lock()
		dup := ing.seen.TestOrAddString(code)
		ing.mu.Unlock()
		if dup {
			continue
		}

		select {
		case codes <- code:
			queued++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("scan complete", slog.String("file", path),
		slog.Uint64("total", total), slog.Uint64("queued", queued))
	return nil
}

// writeBatches drains the code channel, flushing a pgx batch every batchSize
// codes.
func (ing *ingest) writeBatches(ctx context.Context, pool *pgxpool.Pool, codes <-chan string) error {
	batch := &pgx.Batch{}

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		ing.inserted += uint64(batch.Len())
		slog.Info("write progress", slog.Uint64("inserted", ing.inserted))
		batch = &pgx.Batch{}
		return nil
	}

	for code := range codes {
		batch.Queue(upsertCouponSQL, code, ing.name, ing.discountType, ing.value, ing.perUserLimit)
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func notCodeChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		return false
	}
	return true
}
