package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/wire"
)

// decodeCheckoutRequest reads
//
//	{"userId", "lines": [{"id", "productId", "quantity"}],
//	 "shipping": {"feeCents", "provider"}, "codes": [...], "idempotencyKey"}
//
// Unknown fields are ignored.
func decodeCheckoutRequest(d *jx.Decoder) (checkout.CommitRequest, error) {
	var req checkout.CommitRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			req.UserID, err = d.Str()
		case "idempotencyKey":
			req.IdempotencyKey, err = d.Str()
		case "lines":
			req.Lines, err = decodeLines(d)
		case "shipping":
			req.Shipping, err = decodeShipping(d)
		case "codes":
			req.Codes, err = wire.DecodeStrings(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		return nil
	})
	return req, err
}

func decodeLines(d *jx.Decoder) ([]checkout.Line, error) {
	var lines []checkout.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l checkout.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				l.ID, err = d.Str()
			case "productId":
				l.ProductID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if l.ID == "" {
			l.ID = l.ProductID
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

func decodeShipping(d *jx.Decoder) (coupon.Shipping, error) {
	var s coupon.Shipping
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "feeCents":
			s.FeeCents, err = d.Int64()
		case "provider":
			s.Provider, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return s, err
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}
