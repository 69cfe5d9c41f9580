package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/auth"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/domain/money"
	"github.com/xenking/kart-discounts/internal/domain/product"
	"github.com/xenking/kart-discounts/internal/wire"
)

type productStore interface {
	Upsert(ctx context.Context, p product.Product) error
}

type couponStore interface {
	Upsert(ctx context.Context, rule coupon.Rule) error
}

type apiKeyStore interface {
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

// decodeProducts reads a JSON array of {id, name, price, collections} with
// prices in dollars.
func decodeProducts(data []byte) ([]product.Product, error) {
	var products []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "price":
				var dollars float64
				if dollars, err = d.Float64(); err == nil {
					p.PriceCents, err = money.ToCents(dollars)
				}
			case "collections":
				p.Collections, err = wire.DecodeStrings(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if p.ID == "" {
			return errors.Errorf("product %d: missing id", len(products))
		}
		if p.PriceCents < 0 {
			return errors.Wrapf(money.ErrInvalidAmount, "product %q: negative price", p.ID)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return products, nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, store productStore, products []product.Product) error {
	for _, p := range products {
		if err := store.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.Int64("price_cents", p.PriceCents))
	}
	lg.Info("Products seeded", zap.Int("count", len(products)))
	return nil
}

func ptr[T any](v T) *T { return &v }

// sampleCoupons returns one coupon of every kind plus the common eligibility
// constraints, for local development.
func sampleCoupons(now time.Time) []coupon.Rule {
	start := now.Add(-24 * time.Hour).UTC().Truncate(time.Second)
	return []coupon.Rule{
		{
			Code:      "SAVE10",
			Benefit:   coupon.Percent{Percent: decimal.NewFromInt(10)},
			Enabled:   true,
			StartsAt:  start,
			Stackable: true,
		},
		{
			Code:             "TENOFF",
			Benefit:          coupon.Fixed{AmountCents: 1000},
			Enabled:          true,
			StartsAt:         start,
			MinSubtotalCents: ptr(int64(5000)),
			Stackable:        true,
		},
		{
			Code:      "FREESHIP",
			Benefit:   coupon.FreeShipping{},
			Enabled:   true,
			StartsAt:  start,
			Stackable: true,
		},
		{
			Code:                  "DESSERT25",
			Benefit:               coupon.Percent{Percent: decimal.NewFromInt(25)},
			Enabled:               true,
			StartsAt:              start,
			EndsAt:                ptr(start.AddDate(0, 1, 0)),
			MaxRedemptions:        ptr(uint64(100)),
			MaxRedemptionsPerUser: ptr(uint64(1)),
			AllowedCollections:    coupon.NewSet("dessert"),
			ExcludedCollections:   coupon.NewSet("sale"),
		},
		{
			Code:               "WELCOME5",
			Benefit:            coupon.Fixed{AmountCents: 500},
			Enabled:            true,
			StartsAt:           start,
			ExcludedProductIDs: coupon.NewSet("gift-card"),
			OneTimeCode:        true,
			Stackable:          true,
		},
	}
}

func seedCoupons(ctx context.Context, lg *zap.Logger, store couponStore, rules []coupon.Rule) error {
	for _, r := range rules {
		if err := store.Upsert(ctx, r); err != nil {
			return err
		}
		lg.Info("Upserted coupon", zap.String("code", r.Code), zap.String("kind", string(r.Kind())))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, store apiKeyStore, key string, pepper []byte) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(key, pepper),
		Name:    "Default storefront key",
		Scopes:  []string{auth.ScopePreview, auth.ScopeCommit},
	}
	if err := store.Upsert(ctx, info); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
