// Command coupon-import loads coupon rules from gzip-compressed JSON-lines
// files into PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/storage/cache"
	"github.com/xenking/kart-discounts/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		redisAddr   string
		capacity    uint
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address of the rule cache to invalidate (optional)")
	flag.UintVar(&capacity, "expected-codes", defaultCapacity, "expected number of codes per file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] FILE.jsonl.gz...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	start := time.Now()
	stats, err := run(ctx, lg, databaseURL, redisAddr, capacity, flag.Args())
	if err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed",
		zap.Int("imported", stats.Imported),
		zap.Int("invalid", stats.Invalid),
		zap.Int("overridden", stats.Overridden),
		zap.Duration("took", time.Since(start)),
	)
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, redisAddr string, capacity uint, files []string) (Stats, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return Stats{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return Stats{}, errors.Wrap(err, "run migrations")
	}

	im := &importer{
		lg:       lg,
		store:    postgres.NewCouponRepository(pool),
		capacity: capacity,
		fpRate:   defaultFPR,
	}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = rdb.Close() }()
		im.cache = cache.NewRules(rdb, nil, 0)
	}
	return im.run(ctx, files)
}
