// Package codefilter screens coupon lookups with a bloom filter of every
// known code, so guessed codes do not reach the cache or the database.
package codefilter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

// Lister lists every stored coupon code.
type Lister interface {
	ListCodes(ctx context.Context) ([]string, error)
}

var _ coupon.Repository = (*Filter)(nil)

// Filter wraps a coupon.Repository. Until the first successful Refresh every
// lookup passes through.
type Filter struct {
	next     coupon.Repository
	lister   Lister
	capacity uint
	fpRate   float64

	bf atomic.Pointer[bloom.BloomFilter]
}

// New creates a Filter sized for capacity codes at the given false positive
// rate. The filter grows past capacity when the code count exceeds it.
func New(next coupon.Repository, lister Lister, capacity uint, fpRate float64) *Filter {
	return &Filter{next: next, lister: lister, capacity: capacity, fpRate: fpRate}
}

// Refresh rebuilds the filter from the lister and swaps it in.
func (f *Filter) Refresh(ctx context.Context) error {
	codes, err := f.lister.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list codes")
	}

	bf := bloom.NewWithEstimates(max(f.capacity, uint(len(codes))), f.fpRate)
	for _, code := range codes {
		bf.AddString(code)
	}
	f.bf.Store(bf)

	zctx.From(ctx).Debug("Code filter refreshed", zap.Int("codes", len(codes)))
	return nil
}

// Run refreshes the filter every interval until ctx is done. Failed
// refreshes keep the previous filter.
func (f *Filter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
				zctx.From(ctx).Warn("Code filter refresh failed", zap.Error(err))
			}
		}
	}
}

// MayExist reports whether code could be a stored code.
func (f *Filter) MayExist(code string) bool {
	bf := f.bf.Load()
	return bf == nil || bf.TestString(code)
}

// FindByCodes implements coupon.Repository. Codes the filter rules out are
// absent from the result.
func (f *Filter) FindByCodes(ctx context.Context, codes []string) (map[string]coupon.Rule, error) {
	candidates := make([]string, 0, len(codes))
	for _, code := range codes {
		if f.MayExist(code) {
			candidates = append(candidates, code)
		}
	}
	if len(candidates) == 0 {
		return map[string]coupon.Rule{}, nil
	}
	return f.next.FindByCodes(ctx, candidates)
}
