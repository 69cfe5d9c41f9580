package postgres

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

const (
	couponColumns = `code, kind, amount_cents, percent, enabled, starts_at, ends_at,
		max_redemptions, max_redemptions_per_user, min_subtotal_cents,
		allowed_product_ids, excluded_product_ids, allowed_collections, excluded_collections,
		stackable, one_time_code`

	findCouponsByCodesSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = ANY($1)`

	listCouponCodesSQL = `SELECT code FROM coupons`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			amount_cents = EXCLUDED.amount_cents,
			percent = EXCLUDED.percent,
			enabled = EXCLUDED.enabled,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			max_redemptions = EXCLUDED.max_redemptions,
			max_redemptions_per_user = EXCLUDED.max_redemptions_per_user,
			min_subtotal_cents = EXCLUDED.min_subtotal_cents,
			allowed_product_ids = EXCLUDED.allowed_product_ids,
			excluded_product_ids = EXCLUDED.excluded_product_ids,
			allowed_collections = EXCLUDED.allowed_collections,
			excluded_collections = EXCLUDED.excluded_collections,
			stackable = EXCLUDED.stackable,
			one_time_code = EXCLUDED.one_time_code,
			updated_at = now()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCodes returns the stored rules for codes, keyed by code. Codes are
// matched exactly; callers normalise them first.
func (r *CouponRepository) FindByCodes(ctx context.Context, codes []string) (map[string]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, findCouponsByCodesSQL, codes)
	if err != nil {
		return nil, errors.Wrap(err, "query coupons by codes")
	}
	rules, err := pgx.CollectRows(rows, scanCouponRule)
	if err != nil {
		return nil, errors.Wrap(err, "scan coupons")
	}

	out := make(map[string]coupon.Rule, len(rules))
	for _, rule := range rules {
		out[rule.Code] = rule
	}
	return out, nil
}

// ListCodes returns every stored code. It feeds the code filter.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query coupon codes")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan coupon codes")
	}
	return codes, nil
}

// Upsert validates rule and inserts or replaces it. Redemption counters are
// kept across updates.
func (r *CouponRepository) Upsert(ctx context.Context, rule coupon.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	var (
		amount  *int64
		percent decimal.NullDecimal
	)
	switch b := rule.Benefit.(type) {
	case coupon.Fixed:
		amount = &b.AmountCents
	case coupon.Percent:
		percent = decimal.NullDecimal{Decimal: b.Percent, Valid: true}
	}

	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		rule.Code, string(rule.Kind()), amount, percent, rule.Enabled,
		rule.StartsAt, rule.EndsAt,
		toNullInt(rule.MaxRedemptions), toNullInt(rule.MaxRedemptionsPerUser), rule.MinSubtotalCents,
		nullableList(rule.AllowedProductIDs), list(rule.ExcludedProductIDs),
		nullableList(rule.AllowedCollections), list(rule.ExcludedCollections),
		rule.Stackable, rule.OneTimeCode,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", rule.Code)
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule        coupon.Rule
		kind        string
		amount      *int64
		percent     decimal.NullDecimal
		endsAt      *time.Time
		maxTotal    *int64
		maxPerUser  *int64
		allowedIDs  []string
		excludedIDs []string
		allowedCols []string
		excludedCol []string
	)
	if err := row.Scan(
		&rule.Code, &kind, &amount, &percent, &rule.Enabled, &rule.StartsAt, &endsAt,
		&maxTotal, &maxPerUser, &rule.MinSubtotalCents,
		&allowedIDs, &excludedIDs, &allowedCols, &excludedCol,
		&rule.Stackable, &rule.OneTimeCode,
	); err != nil {
		return coupon.Rule{}, err
	}

	benefit, err := benefitFromColumns(coupon.Kind(kind), amount, percent)
	if err != nil {
		return coupon.Rule{}, errors.Wrapf(err, "code %q", rule.Code)
	}
	rule.Benefit = benefit
	rule.EndsAt = endsAt
	rule.MaxRedemptions = fromNullInt(maxTotal)
	rule.MaxRedemptionsPerUser = fromNullInt(maxPerUser)
	rule.AllowedProductIDs = coupon.NewSet(allowedIDs...)
	rule.ExcludedProductIDs = coupon.NewSet(excludedIDs...)
	rule.AllowedCollections = coupon.NewSet(allowedCols...)
	rule.ExcludedCollections = coupon.NewSet(excludedCol...)
	return rule, nil
}

// benefitFromColumns rebuilds the tagged benefit from the kind column and the
// value column that kind uses.
func benefitFromColumns(kind coupon.Kind, amount *int64, percent decimal.NullDecimal) (coupon.Benefit, error) {
	switch kind {
	case coupon.KindFixed:
		if amount == nil {
			return nil, errors.Wrap(coupon.ErrInvalidRule, "fixed coupon without amount")
		}
		return coupon.Fixed{AmountCents: *amount}, nil
	case coupon.KindPercent:
		if !percent.Valid {
			return nil, errors.Wrap(coupon.ErrInvalidRule, "percent coupon without percent")
		}
		return coupon.Percent{Percent: percent.Decimal}, nil
	case coupon.KindFreeShipping:
		return coupon.FreeShipping{}, nil
	default:
		return nil, errors.Wrapf(coupon.ErrInvalidRule, "unknown kind %q", kind)
	}
}

func toNullInt(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(min(*v, uint64(1<<63-1)))
	return &n
}

func fromNullInt(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(max(*v, 0))
	return &n
}

// list returns the sorted members of s, never nil.
func list(s coupon.Set) []string {
	out := slices.Sorted(maps.Keys(s))
	if out == nil {
		return []string{}
	}
	return out
}

// nullableList maps an empty allow-list to NULL.
func nullableList(s coupon.Set) []string {
	if len(s) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(s))
}
