package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/domain/money"
	"github.com/xenking/kart-discounts/internal/wire"
)

// parseRecord decodes one line of an import file. Amounts are in dollars
// and codes are normalised the way checkout normalises customer input:
//
//	{"code":"save10","kind":"percent","percent":10,"stackable":true}
//	{"code":"TENOFF","kind":"fixed","amount":10.00,"minSubtotal":50}
//
// Records default to enabled. The returned rule is validated.
func parseRecord(line []byte) (coupon.Rule, error) {
	var (
		r       = coupon.Rule{Enabled: true}
		kind    string
		amount  float64
		percent decimal.Decimal
	)
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			var code string
			if code, err = d.Str(); err == nil {
				r.Code = checkout.NormalizeCode(code)
			}
		case "kind":
			kind, err = d.Str()
		case "amount":
			amount, err = d.Float64()
		case "percent":
			percent, err = wire.DecodeDecimal(d)
		case "enabled":
			r.Enabled, err = d.Bool()
		case "startsAt":
			r.StartsAt, err = parseTime(d)
		case "endsAt":
			var t time.Time
			if t, err = parseTime(d); err == nil {
				r.EndsAt = &t
			}
		case "maxRedemptions":
			var v uint64
			if v, err = d.UInt64(); err == nil {
				r.MaxRedemptions = &v
			}
		case "maxRedemptionsPerUser":
			var v uint64
			if v, err = d.UInt64(); err == nil {
				r.MaxRedemptionsPerUser = &v
			}
		case "minSubtotal":
			var dollars float64
			if dollars, err = d.Float64(); err == nil {
				var cents int64
				if cents, err = money.ToCents(dollars); err == nil {
					r.MinSubtotalCents = &cents
				}
			}
		case "allowedProductIds":
			r.AllowedProductIDs, err = wire.DecodeSet(d)
		case "excludedProductIds":
			r.ExcludedProductIDs, err = wire.DecodeSet(d)
		case "allowedCollections":
			r.AllowedCollections, err = wire.DecodeSet(d)
		case "excludedCollections":
			r.ExcludedCollections, err = wire.DecodeSet(d)
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
		return coupon.Rule{}, err
	}
	if r.Code == "" {
		return coupon.Rule{}, errors.Wrap(coupon.ErrInvalidRule, "missing code")
	}

	switch coupon.Kind(kind) {
	case coupon.KindFixed:
		cents, err := money.ToCents(amount)
		if err != nil {
			return coupon.Rule{}, errors.Wrapf(err, "code %q", r.Code)
		}
		r.Benefit = coupon.Fixed{AmountCents: cents}
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

// parseCode extracts only the normalised code of a record.
func parseCode(line []byte) (string, error) {
	var code string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		s, err := d.Str()
		code = checkout.NormalizeCode(s)
		return err
	})
	return code, err
}

func parseTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}
