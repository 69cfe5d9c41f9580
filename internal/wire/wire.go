// Package wire encodes domain values as JSON with jx. The same shapes are
// used by the HTTP API, the order ledger and the rule cache.
package wire

import (
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
)

// EncodeBreakdown writes b as a JSON object. Accepted and Rejected are always
// arrays, never null.
func EncodeBreakdown(e *jx.Encoder, b coupon.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("accepted", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range b.Accepted {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
						e.Field("kind", func(e *jx.Encoder) { e.Str(string(a.Kind)) })
						e.Field("amountCents", func(e *jx.Encoder) { e.Int64(a.AmountCents) })
					})
				}
			})
		})
		e.Field("rejected", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, r := range b.Rejected {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(string(r.Reason)) })
					})
				}
			})
		})
		e.Field("totalDiscountCents", func(e *jx.Encoder) { e.Int64(b.TotalDiscountCents) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(b.FreeShipping) })
		e.Field("finalShippingCents", func(e *jx.Encoder) { e.Int64(b.FinalShippingCents) })
		e.Field("subtotalCents", func(e *jx.Encoder) { e.Int64(b.SubtotalCents) })
		e.Field("totalCents", func(e *jx.Encoder) { e.Int64(b.TotalCents) })
	})
}

// EncodeRule writes r in the form read back by DecodeRule.
func EncodeRule(e *jx.Encoder, r coupon.Rule) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(r.Kind())) })
		switch b := r.Benefit.(type) {
		case coupon.Fixed:
			e.Field("amountCents", func(e *jx.Encoder) { e.Int64(b.AmountCents) })
		case coupon.Percent:
			e.Field("percent", func(e *jx.Encoder) { e.Str(b.Percent.String()) })
		}
		e.Field("enabled", func(e *jx.Encoder) { e.Bool(r.Enabled) })
		e.Field("startsAt", func(e *jx.Encoder) { e.Str(r.StartsAt.UTC().Format(time.RFC3339Nano)) })
		if r.EndsAt != nil {
			e.Field("endsAt", func(e *jx.Encoder) { e.Str(r.EndsAt.UTC().Format(time.RFC3339Nano)) })
		}
		if r.MaxRedemptions != nil {
			e.Field("maxRedemptions", func(e *jx.Encoder) { e.UInt64(*r.MaxRedemptions) })
		}
		if r.MaxRedemptionsPerUser != nil {
			e.Field("maxRedemptionsPerUser", func(e *jx.Encoder) { e.UInt64(*r.MaxRedemptionsPerUser) })
		}
		if r.MinSubtotalCents != nil {
			e.Field("minSubtotalCents", func(e *jx.Encoder) { e.Int64(*r.MinSubtotalCents) })
		}
		encodeSet(e, "allowedProductIds", r.AllowedProductIDs)
		encodeSet(e, "excludedProductIds", r.ExcludedProductIDs)
		encodeSet(e, "allowedCollections", r.AllowedCollections)
		encodeSet(e, "excludedCollections", r.ExcludedCollections)
		e.Field("stackable", func(e *jx.Encoder) { e.Bool(r.Stackable) })
		e.Field("oneTimeCode", func(e *jx.Encoder) { e.Bool(r.OneTimeCode) })
	})
}

func encodeSet(e *jx.Encoder, field string, s coupon.Set) {
	if len(s) == 0 {
		return
	}
	e.Field(field, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, id := range slices.Sorted(maps.Keys(s)) {
				e.Str(id)
			}
		})
	})
}

// DecodeRule reads a rule written by EncodeRule. The returned rule is
// validated.
func DecodeRule(d *jx.Decoder) (coupon.Rule, error) {
	var (
		r       coupon.Rule
		kind    string
		amount  int64
		percent decimal.Decimal
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = d.Str()
		case "kind":
			kind, err = d.Str()
		case "amountCents":
			amount, err = d.Int64()
		case "percent":
			percent, err = DecodeDecimal(d)
		case "enabled":
			r.Enabled, err = d.Bool()
		case "startsAt":
			r.StartsAt, err = decodeTime(d)
		case "endsAt":
			var t time.Time
			if t, err = decodeTime(d); err == nil {
				r.EndsAt = &t
			}
		case "maxRedemptions":
			r.MaxRedemptions, err = decodeUint(d)
		case "maxRedemptionsPerUser":
			r.MaxRedemptionsPerUser, err = decodeUint(d)
		case "minSubtotalCents":
			var v int64
			if v, err = d.Int64(); err == nil {
				r.MinSubtotalCents = &v
			}
		case "allowedProductIds":
			r.AllowedProductIDs, err = DecodeSet(d)
		case "excludedProductIds":
			r.ExcludedProductIDs, err = DecodeSet(d)
		case "allowedCollections":
			r.AllowedCollections, err = DecodeSet(d)
		case "excludedCollections":
			r.ExcludedCollections, err = DecodeSet(d)
		case "stackable":
			r.Stackable, err = d.Bool()
		case "oneTimeCode":
			r.OneTimeCode, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return coupon.Rule{}, errors.Wrap(err, "decode rule")
	}

	switch coupon.Kind(kind) {
	case coupon.KindFixed:
		r.Benefit = coupon.Fixed{AmountCents: amount}
	case coupon.KindPercent:
		r.Benefit = coupon.Percent{Percent: percent}
	case coupon.KindFreeShipping:
		r.Benefit = coupon.FreeShipping{}
	default:
		return coupon.Rule{}, errors.Wrapf(coupon.ErrInvalidRule, "code %q: unknown kind %q", r.Code, kind)
	}
	if err := r.Validate(); err != nil {
		return coupon.Rule{}, err
	}
	return r, nil
}

// DecodeDecimal accepts a JSON number or a numeric string.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", raw)
	}
	return v, nil
}

// DecodeStrings reads a JSON array of strings. A null decodes as nil.
func DecodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// DecodeSet reads a JSON array of strings into a set.
func DecodeSet(d *jx.Decoder) (coupon.Set, error) {
	ids, err := DecodeStrings(d)
	if err != nil {
		return nil, err
	}
	return coupon.NewSet(ids...), nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

func decodeUint(d *jx.Decoder) (*uint64, error) {
	v, err := d.UInt64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
