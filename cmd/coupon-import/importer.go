package main

import (
	"bufio"
	"bytes"
	"context"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

const (
	defaultCapacity = 1_000_000
	defaultFPR      = 0.001
	maxLineBytes    = 1 << 20
)

// RuleStore persists imported rules.
type RuleStore interface {
	Upsert(ctx context.Context, rule coupon.Rule) error
}

// Invalidator drops cached copies of rules.
type Invalidator interface {
	Invalidate(ctx context.Context, codes ...string) error
}

// Stats summarises an import run.
type Stats struct {
	Imported   int
	Invalid    int
	Overridden int
}

type importer struct {
	lg       *zap.Logger
	store    RuleStore
	cache    Invalidator
	capacity uint
	fpRate   float64
}

// run imports files in order. A code defined in several files ends up with
// the definition of the last one; earlier definitions are still written and
// then overwritten. Invalid records are logged and skipped.
func (im *importer) run(ctx context.Context, files []string) (Stats, error) {
	var stats Stats

	im.lg.Info("Indexing codes", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return stats, errors.Wrap(err, "index codes")
	}

	for i, path := range files {
		var imported []string
		lg := im.lg.With(zap.String("file", path))

		err := streamGzFile(ctx, path, func(lineNo int, line []byte) error {
			rule, err := parseRecord(line)
			if err != nil {
				stats.Invalid++
				lg.Warn("Skipping invalid record", zap.Int("line", lineNo), zap.Error(err))
				return nil
			}
			if laterFile := definedLater(filters, i, rule.Code); laterFile >= 0 {
				stats.Overridden++
				lg.Warn("Code is redefined in a later file",
					zap.String("code", rule.Code),
					zap.String("later_file", files[laterFile]),
				)
			}
			if err := im.store.Upsert(ctx, rule); err != nil {
				return errors.Wrapf(err, "line %d: upsert %s", lineNo, rule.Code)
			}
			imported = append(imported, rule.Code)
			stats.Imported++
			return nil
		})
		if err != nil {
			return stats, errors.Wrapf(err, "import %s", path)
		}

		if im.cache != nil && len(imported) > 0 {
			if err := im.cache.Invalidate(ctx, imported...); err != nil {
				lg.Warn("Cache invalidation failed", zap.Error(err))
			}
		}
		lg.Info("File imported", zap.Int("codes", len(imported)))
	}
	return stats, nil
}

// buildFilters creates one bloom filter of codes per file, concurrently.
func (im *importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.capacity, im.fpRate)
			var count int
			err := streamGzFile(gctx, path, func(_ int, line []byte) error {
				code, err := parseCode(line)
				if err != nil || code == "" {
					return nil
				}
				filter.AddString(code)
				count++
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			im.lg.Debug("File indexed", zap.String("file", path), zap.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// definedLater returns the index of the first file after idx whose filter
// may contain code, or -1.
func definedLater(filters []*bloom.BloomFilter, idx int, code string) int {
	for j := idx + 1; j < len(filters); j++ {
		if filters[j].TestString(code) {
			return j
		}
	}
	return -1
}

// streamGzFile calls fn for every non-blank line of a gzip-compressed file.
// Line numbers start at 1.
func streamGzFile(ctx context.Context, path string, fn func(lineNo int, line []byte) error) error {
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

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lineNo int
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
