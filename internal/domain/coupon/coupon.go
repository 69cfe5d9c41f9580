package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon benefit types.
type Kind string

const (
	// KindFixed takes a fixed number of cents off the eligible subtotal.
	KindFixed Kind = "fixed"
	// KindPercent takes a percentage off the eligible subtotal.
	KindPercent Kind = "percent"
	// KindFreeShipping zeroes the shipping fee.
	KindFreeShipping Kind = "free_shipping"
)

var (
	// ErrInvalidRule is returned when a rule is malformed, e.g. it carries no
	// benefit or the benefit is out of range.
	ErrInvalidRule = errors.New("invalid coupon rule")
	// ErrInvalidQuantity is returned for cart items with a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrNotFound is returned by repositories when a code does not exist.
	ErrNotFound = errors.New("coupon not found")
)

// Benefit is what a coupon grants. It is implemented only by Fixed, Percent
// and FreeShipping so that each kind carries exactly the value it needs.
type Benefit interface {
	Kind() Kind
	validate() error
}

// Fixed takes AmountCents off the eligible subtotal.
type Fixed struct {
	AmountCents int64
}

func (Fixed) Kind() Kind { return KindFixed }

func (f Fixed) validate() error {
	if f.AmountCents < 0 {
		return errors.Errorf("fixed amount %d is negative", f.AmountCents)
	}
	return nil
}

// Percent takes Percent (0..100) percent off the eligible subtotal.
type Percent struct {
	Percent decimal.Decimal
}

func (Percent) Kind() Kind { return KindPercent }

var hundred = decimal.NewFromInt(100)

func (p Percent) validate() error {
	if p.Percent.IsNegative() || p.Percent.GreaterThan(hundred) {
		return errors.Errorf("percent %s out of range 0..100", p.Percent)
	}
	return nil
}

// FreeShipping waives the shipping fee.
type FreeShipping struct{}

func (FreeShipping) Kind() Kind { return KindFreeShipping }

func (FreeShipping) validate() error { return nil }

// Set is a set of string identifiers. A nil Set and an empty Set are both
// treated as "unset" for allow-lists.
type Set map[string]struct{}

// NewSet builds a Set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Intersects reports whether s and other share at least one element.
func (s Set) Intersects(other Set) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for id := range small {
		if large.Has(id) {
			return true
		}
	}
	return false
}

// Rule defines a coupon's benefit and eligibility constraints.
type Rule struct {
	Code    string
	Benefit Benefit
	Enabled bool

	StartsAt time.Time
	EndsAt   *time.Time

	MaxRedemptions        *uint64
	MaxRedemptionsPerUser *uint64
	MinSubtotalCents      *int64

	AllowedProductIDs   Set
	ExcludedProductIDs  Set
	AllowedCollections  Set
	ExcludedCollections Set

	Stackable   bool
	OneTimeCode bool
}

// Kind returns the kind of the rule's benefit, or "" when it has none.
func (r *Rule) Kind() Kind {
	if r.Benefit == nil {
		return ""
	}
	return r.Benefit.Kind()
}

// Validate checks that the rule is well formed.
func (r *Rule) Validate() error {
	if r.Benefit == nil {
		return errors.Wrapf(ErrInvalidRule, "code %q: missing benefit", r.Code)
	}
	if err := r.Benefit.validate(); err != nil {
		return errors.Wrapf(ErrInvalidRule, "code %q: %s", r.Code, err)
	}
	if r.MinSubtotalCents != nil && *r.MinSubtotalCents < 0 {
		return errors.Wrapf(ErrInvalidRule, "code %q: negative minimum subtotal", r.Code)
	}
	return nil
}

// Item is a cart line as seen by the discount engine.
type Item struct {
	ID             string
	ProductID      string
	CollectionIDs  Set
	Quantity       int
	UnitPriceCents int64
}

// Shipping describes the shipping charge of a cart.
type Shipping struct {
	FeeCents int64
	Provider string
}

// Usage is a point-in-time redemption snapshot for one code. It is read by
// the caller before evaluation and is not a lock.
type Usage struct {
	TotalRedemptions   uint64
	PerUserRedemptions uint64
	// Consumed is set once a one-time code has been redeemed.
	Consumed bool
}

// Request is the complete input of Evaluate.
type Request struct {
	Now      time.Time
	Items    []Item
	Shipping Shipping
	Rules    map[string]Rule
	Codes    []string
	Usage    map[string]Usage
}

// Reason explains why a code was not applied.
type Reason string

const (
	ReasonNotFound          Reason = "code_not_found"
	ReasonDisabled          Reason = "disabled"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonRedemptionCap     Reason = "redemption_cap_reached"
	ReasonPerUserCap        Reason = "per_user_cap_reached"
	ReasonNoEligibleItems   Reason = "no_eligible_items"
	ReasonBelowMinSubtotal  Reason = "below_min_subtotal"
	ReasonExclusiveConflict Reason = "exclusive_conflict"
	ReasonDuplicate         Reason = "duplicate_code"
)

// Applied is an accepted code and the discount it contributes.
type Applied struct {
	Code        string
	Kind        Kind
	AmountCents int64
	// OneTime tells the commit step to mark the code fully consumed.
	OneTime bool
}

// Rejection is a code that was not applied.
type Rejection struct {
	Code   string
	Reason Reason
}

// Breakdown is the result of Evaluate.
type Breakdown struct {
	Accepted           []Applied
	Rejected           []Rejection
	TotalDiscountCents int64
	FreeShipping       bool
	FinalShippingCents int64
	SubtotalCents      int64
	TotalCents         int64
}

// AcceptedCodes returns the codes of all accepted coupons in order.
func (b *Breakdown) AcceptedCodes() []string {
	codes := make([]string, len(b.Accepted))
	for i, a := range b.Accepted {
		codes[i] = a.Code
	}
	return codes
}

// CapExceededError is returned by the redemption step when a code ran out
// between evaluation and commit.
type CapExceededError struct {
	Code    string
	PerUser bool
}

func (e *CapExceededError) Error() string {
	if e.PerUser {
		return fmt.Sprintf("coupon %s: per-user redemption cap exceeded", e.Code)
	}
	return fmt.Sprintf("coupon %s: redemption cap exceeded", e.Code)
}

// Repository provides lookup of coupon rules by code.
type Repository interface {
	// FindByCodes returns the rules for the codes that exist, keyed by code.
	// Unknown codes are absent from the result.
	FindByCodes(ctx context.Context, codes []string) (map[string]Rule, error)
}

// UsageRepository provides redemption snapshots.
type UsageRepository interface {
	Snapshot(ctx context.Context, userID string, codes []string) (map[string]Usage, error)
}
