package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

const usageSnapshotSQL = `SELECT c.code,
		COALESCE(u.total, 0), COALESCE(u.consumed, FALSE), COALESCE(uu.total, 0)
	FROM unnest($1::text[]) AS c(code)
	LEFT JOIN coupon_usage u ON u.code = c.code
	LEFT JOIN coupon_user_usage uu ON uu.code = c.code AND uu.user_id = $2`

var _ coupon.UsageRepository = (*UsageRepository)(nil)

// UsageRepository reads redemption counters.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Snapshot returns the current counters of codes for userID. Codes never
// redeemed come back with zero counters.
func (r *UsageRepository) Snapshot(ctx context.Context, userID string, codes []string) (map[string]coupon.Usage, error) {
	rows, err := r.pool.Query(ctx, usageSnapshotSQL, codes, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query usage")
	}
	defer rows.Close()

	out := make(map[string]coupon.Usage, len(codes))
	for rows.Next() {
		var (
			code           string
			total, perUser int64
			u              coupon.Usage
		)
		if err := rows.Scan(&code, &total, &u.Consumed, &perUser); err != nil {
			return nil, errors.Wrap(err, "scan usage")
		}
		u.TotalRedemptions = uint64(max(total, 0))
		u.PerUserRedemptions = uint64(max(perUser, 0))
		out[code] = u
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate usage")
	}
	return out, nil
}
