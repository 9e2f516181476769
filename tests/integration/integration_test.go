//go:build integration

// Package integration exercises the PostgreSQL-backed rule catalog and usage
// ledger against a real database started via testcontainers. Run with:
//
//	go test -tags integration ./tests/integration/...
package integration

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ecomdesk/promo-engine/internal/repository"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("promo"),
		tcpostgres.WithUsername("promo"),
		tcpostgres.WithPassword("promo"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err = repository.NewPool(ctx, url)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// mustExec runs a statement and fails the test on error.
func mustExec(t *testing.T, sql string, args ...any) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

// insertCoupon seeds one coupon rule row with the given limits.
func insertCoupon(t *testing.T, id, code string, usageLimit, perUserLimit int) {
	t.Helper()
	mustExec(t, `
		INSERT INTO rules (id, kind, name, code, discount_type, discount_value, usage_limit, per_user_limit)
		VALUES ($1, 'coupon', $1, $2, 'percentage', 10, $3, $4)`,
		id, code, usageLimit, perUserLimit)
}
