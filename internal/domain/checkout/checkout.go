package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

var (
	// ErrEmptyCart is returned when a commit is attempted without items.
	ErrEmptyCart = errors.New("items required")
	// ErrMissingUser is returned when a commit has no user to attribute
	// per-user redemptions to.
	ErrMissingUser = errors.New("user id required")
	// ErrDuplicateOrder is returned when an idempotency key was already used.
	ErrDuplicateOrder = errors.New("order already placed for idempotency key")
)

// InvalidQuantityError indicates a line has a non-positive quantity.
type InvalidQuantityError struct {
	LineID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for line %s", e.LineID)
}

// SoldOutError is returned by Commit when a code hit its redemption cap
// between evaluation and commit. Retry is a fresh evaluation of the same
// cart without that code.
type SoldOutError struct {
	Code  string
	Retry coupon.Breakdown
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("coupon %s is no longer available", e.Code)
}

// Line is a cart line as submitted by the storefront. Prices come from the
// catalog, never from the client.
type Line struct {
	ID        string
	ProductID string
	Quantity  int
}

// Cart is the input of Preview.
type Cart struct {
	UserID   string
	Lines    []Line
	Shipping coupon.Shipping
	Codes    []string
}

// CommitRequest is the input of Commit.
type CommitRequest struct {
	Cart
	IdempotencyKey string
}

// Order is a committed checkout.
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string
	Lines          []Line
	Breakdown      coupon.Breakdown
	CreatedAt      time.Time
}

// Redemption tells the ledger how to consume one accepted code.
type Redemption struct {
	Code                  string
	MaxRedemptions        *uint64
	MaxRedemptionsPerUser *uint64
	OneTime               bool
}

// Ledger persists orders and consumes coupon counters atomically.
type Ledger interface {
	// Redeem stores the order and consumes every redemption in a single
	// transaction. It fails with *coupon.CapExceededError when a cap was hit
	// and with ErrDuplicateOrder when the idempotency key is taken; in both
	// cases nothing is persisted.
	Redeem(ctx context.Context, order *Order, redemptions []Redemption) error
}

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// normalizeCodes returns the normalised codes in entry order (blank entries
// dropped, duplicates kept) and the unique set for lookups.
func normalizeCodes(codes []string) (ordered, unique []string) {
	ordered = make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = NormalizeCode(c)
		if c == "" {
			continue
		}
		ordered = append(ordered, c)
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			unique = append(unique, c)
		}
	}
	return ordered, unique
}
