package postgres

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/wire"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, idempotency_key,
			subtotal_cents, discount_cents, shipping_cents, total_cents,
			codes, lines, breakdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id::text`

	// A consumed one-time code and a reached cap both leave the row
	// untouched, so RETURNING yields no row.
	redeemTotalSQL = `INSERT INTO coupon_usage AS u (code, total, consumed)
		VALUES ($1, 1, $2)
		ON CONFLICT (code) DO UPDATE SET
			total = u.total + 1,
			consumed = u.consumed OR EXCLUDED.consumed
		WHERE NOT u.consumed AND ($3::bigint IS NULL OR u.total < $3)
		RETURNING total`

	redeemPerUserSQL = `INSERT INTO coupon_user_usage AS uu (code, user_id, total)
		VALUES ($1, $2, 1)
		ON CONFLICT (code, user_id) DO UPDATE SET total = uu.total + 1
		WHERE ($3::bigint IS NULL OR uu.total < $3)
		RETURNING total`
)

var _ checkout.Ledger = (*Ledger)(nil)

// Ledger records orders and consumes coupon counters in one transaction.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Redeem implements checkout.Ledger. Counters are incremented only while
// below their cap, so two commits racing for the last redemption cannot both
// succeed.
func (l *Ledger) Redeem(ctx context.Context, o *checkout.Order, redemptions []checkout.Redemption) error {
	lines, breakdown := encodeOrder(o)

	var idempotencyKey *string
	if o.IdempotencyKey != "" {
		idempotencyKey = &o.IdempotencyKey
	}

	// Lock rows in a stable order so concurrent commits cannot deadlock.
	sorted := slices.SortedFunc(slices.Values(redemptions), func(a, b checkout.Redemption) int {
		return strings.Compare(a.Code, b.Code)
	})

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.ID, o.UserID, idempotencyKey,
			o.Breakdown.SubtotalCents, o.Breakdown.TotalDiscountCents,
			o.Breakdown.FinalShippingCents, o.Breakdown.TotalCents,
			o.Breakdown.AcceptedCodes(), lines, breakdown, o.CreatedAt,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return checkout.ErrDuplicateOrder
			}
			return errors.Wrap(err, "insert order")
		}

		for _, r := range sorted {
			if err := redeemOne(ctx, tx, o.UserID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func redeemOne(ctx context.Context, tx pgx.Tx, userID string, r checkout.Redemption) error {
	var total int64
	err := tx.QueryRow(ctx, redeemTotalSQL, r.Code, r.OneTime, toNullInt(r.MaxRedemptions)).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &coupon.CapExceededError{Code: r.Code}
		}
		return errors.Wrapf(err, "redeem %q", r.Code)
	}
	if exceeds(total, r.MaxRedemptions) {
		return &coupon.CapExceededError{Code: r.Code}
	}

	err = tx.QueryRow(ctx, redeemPerUserSQL, r.Code, userID, toNullInt(r.MaxRedemptionsPerUser)).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &coupon.CapExceededError{Code: r.Code, PerUser: true}
		}
		return errors.Wrapf(err, "redeem %q for user", r.Code)
	}
	if exceeds(total, r.MaxRedemptionsPerUser) {
		return &coupon.CapExceededError{Code: r.Code, PerUser: true}
	}
	return nil
}

// exceeds covers the insert path, where the WHERE clause of the upsert does
// not apply (a cap of zero).
func exceeds(total int64, limit *uint64) bool {
	return limit != nil && uint64(max(total, 0)) > *limit
}

func encodeOrder(o *checkout.Order) (lines, breakdown []byte) {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, l := range o.Lines {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
				e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
			})
		}
	})
	lines = slices.Clone(e.Bytes())

	e.Reset()
	wire.EncodeBreakdown(&e, o.Breakdown)
	return lines, slices.Clone(e.Bytes())
}
