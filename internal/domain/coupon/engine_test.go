package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-discounts/internal/domain/money"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func percentRule(code string, pct int64, stackable bool) Rule {
	return Rule{
		Code:      code,
		Benefit:   Percent{Percent: decimal.NewFromInt(pct)},
		Enabled:   true,
		StartsAt:  fixedNow.Add(-time.Hour),
		Stackable: stackable,
	}
}

func fixedRule(code string, cents int64, stackable bool) Rule {
	return Rule{
		Code:      code,
		Benefit:   Fixed{AmountCents: cents},
		Enabled:   true,
		StartsAt:  fixedNow.Add(-time.Hour),
		Stackable: stackable,
	}
}

func freeShipRule(code string, stackable bool) Rule {
	return Rule{
		Code:      code,
		Benefit:   FreeShipping{},
		Enabled:   true,
		StartsAt:  fixedNow.Add(-time.Hour),
		Stackable: stackable,
	}
}

func rules(rs ...Rule) map[string]Rule {
	m := make(map[string]Rule, len(rs))
	for _, r := range rs {
		m[r.Code] = r
	}
	return m
}

// hundredDollarCart is 10000 cents split across two products.
func hundredDollarCart() []Item {
	return []Item{
		{ID: "l1", ProductID: "shirt", CollectionIDs: NewSet("apparel"), Quantity: 2, UnitPriceCents: 2500},
		{ID: "l2", ProductID: "mug", CollectionIDs: NewSet("kitchen"), Quantity: 1, UnitPriceCents: 5000},
	}
}

func TestEvaluate_Scenarios(t *testing.T) {
	shipping := Shipping{FeeCents: 999, Provider: "ups"}

	tests := []struct {
		name     string
		rules    map[string]Rule
		codes    []string
		usage    map[string]Usage
		items    []Item
		accepted []Applied
		rejected []Rejection
		discount int64
		freeShip bool
		shipping int64
		total    int64
	}{
		{
			name:  "percent stacked with free shipping",
			rules: rules(percentRule("SAVE10", 10, true), freeShipRule("FREESHIP", false)),
			codes: []string{"SAVE10", "FREESHIP"},
			accepted: []Applied{
				{Code: "SAVE10", Kind: KindPercent, AmountCents: 1000},
				{Code: "FREESHIP", Kind: KindFreeShipping, AmountCents: 0},
			},
			rejected: []Rejection{},
			discount: 1000,
			freeShip: true,
			shipping: 0,
			total:    9000,
		},
		{
			name: "fixed below eligible minimum",
			rules: rules(func() Rule {
				r := fixedRule("FLAT20", 2500, false)
				r.MinSubtotalCents = ptr(int64(15000))
				return r
			}()),
			codes:    []string{"FLAT20"},
			accepted: []Applied{},
			rejected: []Rejection{{Code: "FLAT20", Reason: ReasonBelowMinSubtotal}},
			discount: 0,
			shipping: 999,
			total:    10999,
		},
		{
			name:     "no codes is a no-op",
			rules:    rules(percentRule("SAVE10", 10, true)),
			codes:    nil,
			accepted: []Applied{},
			rejected: []Rejection{},
			shipping: 999,
			total:    10999,
		},
		{
			name:     "unknown code",
			rules:    rules(),
			codes:    []string{"NOPE"},
			accepted: []Applied{},
			rejected: []Rejection{{Code: "NOPE", Reason: ReasonNotFound}},
			shipping: 999,
			total:    10999,
		},
		{
			name:  "fixed capped at eligible subtotal",
			rules: rules(func() Rule {
				r := fixedRule("MUGS", 9000, false)
				r.AllowedProductIDs = NewSet("mug")
				return r
			}()),
			codes:    []string{"MUGS"},
			accepted: []Applied{{Code: "MUGS", Kind: KindFixed, AmountCents: 5000}},
			rejected: []Rejection{},
			discount: 5000,
			shipping: 999,
			total:    5999,
		},
		{
			name: "sum of stacked discounts clamped to subtotal",
			rules: rules(
				percentRule("HALF", 50, true),
				percentRule("SEVENTY", 70, true),
			),
			codes: []string{"HALF", "SEVENTY"},
			accepted: []Applied{
				{Code: "HALF", Kind: KindPercent, AmountCents: 5000},
				{Code: "SEVENTY", Kind: KindPercent, AmountCents: 7000},
			},
			rejected: []Rejection{},
			discount: 10000,
			shipping: 999,
			total:    999,
		},
		{
			name: "two exclusives keep the first",
			rules: rules(
				fixedRule("A", 100, false),
				fixedRule("B", 200, false),
			),
			codes:    []string{"A", "B"},
			accepted: []Applied{{Code: "A", Kind: KindFixed, AmountCents: 100}},
			rejected: []Rejection{{Code: "B", Reason: ReasonExclusiveConflict}},
			discount: 100,
			shipping: 999,
			total:    10899,
		},
		{
			name: "stackables combine around a single exclusive",
			rules: rules(
				fixedRule("S1", 100, true),
				fixedRule("X1", 200, false),
				fixedRule("X2", 300, false),
				fixedRule("S2", 400, true),
			),
			codes: []string{"S1", "X1", "X2", "S2"},
			accepted: []Applied{
				{Code: "S1", Kind: KindFixed, AmountCents: 100},
				{Code: "X1", Kind: KindFixed, AmountCents: 200},
				{Code: "S2", Kind: KindFixed, AmountCents: 400},
			},
			rejected: []Rejection{{Code: "X2", Reason: ReasonExclusiveConflict}},
			discount: 700,
			shipping: 999,
			total:    10299,
		},
		{
			name: "ineligible exclusive does not block a later one",
			rules: rules(
				func() Rule {
					r := fixedRule("OFF", 100, false)
					r.Enabled = false
					return r
				}(),
				fixedRule("ON", 200, false),
			),
			codes:    []string{"OFF", "ON"},
			accepted: []Applied{{Code: "ON", Kind: KindFixed, AmountCents: 200}},
			rejected: []Rejection{{Code: "OFF", Reason: ReasonDisabled}},
			discount: 200,
			shipping: 999,
			total:    10799,
		},
		{
			name:     "duplicate code applied once",
			rules:    rules(fixedRule("DUP", 100, true)),
			codes:    []string{"DUP", "DUP"},
			accepted: []Applied{{Code: "DUP", Kind: KindFixed, AmountCents: 100}},
			rejected: []Rejection{{Code: "DUP", Reason: ReasonDuplicate}},
			discount: 100,
			shipping: 999,
			total:    10899,
		},
		{
			name: "one-time flag travels with accepted code",
			rules: rules(func() Rule {
				r := fixedRule("ONCE", 100, false)
				r.OneTimeCode = true
				return r
			}()),
			codes:    []string{"ONCE"},
			accepted: []Applied{{Code: "ONCE", Kind: KindFixed, AmountCents: 100, OneTime: true}},
			rejected: []Rejection{},
			discount: 100,
			shipping: 999,
			total:    10899,
		},
		{
			name:     "consumed one-time code rejected",
			rules:    rules(fixedRule("USED", 100, false)),
			codes:    []string{"USED"},
			usage:    map[string]Usage{"USED": {Consumed: true}},
			accepted: []Applied{},
			rejected: []Rejection{{Code: "USED", Reason: ReasonRedemptionCap}},
			shipping: 999,
			total:    10999,
		},
		{
			name:     "empty cart rejects for lack of items",
			rules:    rules(freeShipRule("FREESHIP", false)),
			codes:    []string{"FREESHIP"},
			items:    []Item{},
			accepted: []Applied{},
			rejected: []Rejection{{Code: "FREESHIP", Reason: ReasonNoEligibleItems}},
			shipping: 999,
			total:    999,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := tt.items
			if items == nil {
				items = hundredDollarCart()
			}

			got, err := Evaluate(Request{
				Now:      fixedNow,
				Items:    items,
				Shipping: shipping,
				Rules:    tt.rules,
				Codes:    tt.codes,
				Usage:    tt.usage,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.accepted, got.Accepted)
			assert.Equal(t, tt.rejected, got.Rejected)
			assert.Equal(t, tt.discount, got.TotalDiscountCents)
			assert.Equal(t, tt.freeShip, got.FreeShipping)
			assert.Equal(t, tt.shipping, got.FinalShippingCents)
			assert.Equal(t, tt.total, got.TotalCents)
		})
	}
}

func TestEvaluate_RejectionReasons(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		usage  Usage
		reason Reason
	}{
		{
			name: "disabled",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.Enabled = false
				return r
			}(),
			reason: ReasonDisabled,
		},
		{
			name: "not started",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.StartsAt = fixedNow.Add(time.Minute)
				return r
			}(),
			reason: ReasonNotStarted,
		},
		{
			name: "expired",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.EndsAt = ptr(fixedNow.Add(-time.Minute))
				return r
			}(),
			reason: ReasonExpired,
		},
		{
			name: "total cap reached",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.MaxRedemptions = ptr(uint64(5))
				return r
			}(),
			usage:  Usage{TotalRedemptions: 5},
			reason: ReasonRedemptionCap,
		},
		{
			name: "per-user cap reached",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.MaxRedemptionsPerUser = ptr(uint64(1))
				return r
			}(),
			usage:  Usage{PerUserRedemptions: 1},
			reason: ReasonPerUserCap,
		},
		{
			name: "total cap checked before per-user cap",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.MaxRedemptions = ptr(uint64(1))
				r.MaxRedemptionsPerUser = ptr(uint64(1))
				return r
			}(),
			usage:  Usage{TotalRedemptions: 1, PerUserRedemptions: 1},
			reason: ReasonRedemptionCap,
		},
		{
			name: "allow-list misses every product",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.AllowedProductIDs = NewSet("hat")
				return r
			}(),
			reason: ReasonNoEligibleItems,
		},
		{
			name: "allowed collection not purchased",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.AllowedCollections = NewSet("garden")
				return r
			}(),
			reason: ReasonNoEligibleItems,
		},
		{
			name: "every item excluded",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.ExcludedCollections = NewSet("apparel", "kitchen")
				return r
			}(),
			reason: ReasonNoEligibleItems,
		},
		{
			name: "minimum gated on eligible items only",
			rule: func() Rule {
				r := percentRule("C", 10, true)
				r.AllowedCollections = NewSet("apparel")
				r.MinSubtotalCents = ptr(int64(5001))
				return r
			}(),
			reason: ReasonBelowMinSubtotal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(Request{
				Now:   fixedNow,
				Items: hundredDollarCart(),
				Rules: rules(tt.rule),
				Codes: []string{"C"},
				Usage: map[string]Usage{"C": tt.usage},
			})
			require.NoError(t, err)
			assert.Empty(t, got.Accepted)
			assert.Equal(t, []Rejection{{Code: "C", Reason: tt.reason}}, got.Rejected)
			assert.Zero(t, got.TotalDiscountCents)
		})
	}
}

func TestEvaluate_TimeWindowBoundaries(t *testing.T) {
	r := percentRule("EDGE", 10, true)
	r.StartsAt = fixedNow
	r.EndsAt = ptr(fixedNow)

	got, err := Evaluate(Request{
		Now:   fixedNow,
		Items: hundredDollarCart(),
		Rules: rules(r),
		Codes: []string{"EDGE"},
	})
	require.NoError(t, err)
	require.Len(t, got.Accepted, 1)
	assert.Equal(t, int64(1000), got.Accepted[0].AmountCents)
}

func TestEvaluate_CapBoundary(t *testing.T) {
	r := fixedRule("CAP5", 500, false)
	r.MaxRedemptions = ptr(uint64(5))

	for _, tt := range []struct {
		used     uint64
		accepted bool
	}{
		{used: 4, accepted: true},
		{used: 5, accepted: false},
		{used: 6, accepted: false},
	} {
		got, err := Evaluate(Request{
			Now:   fixedNow,
			Items: hundredDollarCart(),
			Rules: rules(r),
			Codes: []string{"CAP5"},
			Usage: map[string]Usage{"CAP5": {TotalRedemptions: tt.used}},
		})
		require.NoError(t, err)
		if tt.accepted {
			assert.Len(t, got.Accepted, 1, "used=%d", tt.used)
			continue
		}
		assert.Equal(t, []Rejection{{Code: "CAP5", Reason: ReasonRedemptionCap}}, got.Rejected, "used=%d", tt.used)
	}
}

func TestEvaluate_ExclusiveOrderSensitivity(t *testing.T) {
	rs := rules(fixedRule("A", 100, false), fixedRule("B", 200, false))

	ab, err := Evaluate(Request{Now: fixedNow, Items: hundredDollarCart(), Rules: rs, Codes: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ab.AcceptedCodes())
	assert.Equal(t, []Rejection{{Code: "B", Reason: ReasonExclusiveConflict}}, ab.Rejected)

	ba, err := Evaluate(Request{Now: fixedNow, Items: hundredDollarCart(), Rules: rs, Codes: []string{"B", "A"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ba.AcceptedCodes())
	assert.Equal(t, []Rejection{{Code: "A", Reason: ReasonExclusiveConflict}}, ba.Rejected)
}

func TestEvaluate_Deterministic(t *testing.T) {
	req := Request{
		Now:      fixedNow,
		Items:    hundredDollarCart(),
		Shipping: Shipping{FeeCents: 500},
		Rules: rules(
			percentRule("P", 15, true),
			fixedRule("F", 700, false),
			freeShipRule("S", true),
			fixedRule("G", 100, false),
		),
		Codes: []string{"G", "P", "MISSING", "F", "S"},
	}

	first, err := Evaluate(req)
	require.NoError(t, err)
	for range 20 {
		again, err := Evaluate(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_Invariants(t *testing.T) {
	req := Request{
		Now:      fixedNow,
		Items:    hundredDollarCart(),
		Shipping: Shipping{FeeCents: 450},
		Rules: rules(
			fixedRule("BIG", 1_000_000, false),
			percentRule("ALL", 100, true),
		),
		Codes: []string{"BIG", "ALL"},
	}

	got, err := Evaluate(req)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.TotalDiscountCents, got.SubtotalCents)
	assert.GreaterOrEqual(t, got.TotalCents, got.FinalShippingCents)
	assert.Equal(t,
		money.ClampNonNegative(got.SubtotalCents-got.TotalDiscountCents)+got.FinalShippingCents,
		got.TotalCents,
	)
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	items := hundredDollarCart()
	codes := []string{"SAVE10", "SAVE10"}
	rs := rules(percentRule("SAVE10", 10, true))

	_, err := Evaluate(Request{Now: fixedNow, Items: items, Rules: rs, Codes: codes})
	require.NoError(t, err)

	assert.Equal(t, hundredDollarCart(), items)
	assert.Equal(t, []string{"SAVE10", "SAVE10"}, codes)
	assert.Equal(t, rules(percentRule("SAVE10", 10, true)), rs)
}

func TestEvaluate_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name: "zero quantity",
			req: Request{Items: []Item{
				{ID: "l1", ProductID: "p", Quantity: 0, UnitPriceCents: 100},
			}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name: "negative quantity",
			req: Request{Items: []Item{
				{ID: "l1", ProductID: "p", Quantity: -2, UnitPriceCents: 100},
			}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name: "negative price",
			req: Request{Items: []Item{
				{ID: "l1", ProductID: "p", Quantity: 1, UnitPriceCents: -1},
			}},
			wantErr: money.ErrInvalidAmount,
		},
		{
			name:    "negative shipping",
			req:     Request{Shipping: Shipping{FeeCents: -5}},
			wantErr: money.ErrInvalidAmount,
		},
		{
			name: "rule without benefit",
			req: Request{
				Items: hundredDollarCart(),
				Rules: map[string]Rule{"X": {Code: "X", Enabled: true}},
				Codes: []string{"X"},
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "percent above hundred",
			req: Request{
				Items: hundredDollarCart(),
				Rules: rules(percentRule("X", 101, true)),
				Codes: []string{"X"},
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "negative fixed amount",
			req: Request{
				Items: hundredDollarCart(),
				Rules: rules(fixedRule("X", -1, true)),
				Codes: []string{"X"},
			},
			wantErr: ErrInvalidRule,
		},
		{
			name: "rule keyed under another code",
			req: Request{
				Items: hundredDollarCart(),
				Rules: map[string]Rule{"X": fixedRule("Y", 1, true)},
				Codes: []string{"X"},
			},
			wantErr: ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Now = fixedNow
			_, err := Evaluate(tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvaluate_InvalidRuleIgnoredWhenNotRequested(t *testing.T) {
	got, err := Evaluate(Request{
		Now:   fixedNow,
		Items: hundredDollarCart(),
		Rules: map[string]Rule{"BROKEN": {Code: "BROKEN"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalCents)
}
