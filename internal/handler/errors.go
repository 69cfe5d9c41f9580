package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/domain/money"
	"github.com/xenking/kart-discounts/internal/domain/product"
	"github.com/xenking/kart-discounts/internal/wire"
)

// mapError converts domain errors to HTTP responses.
func mapError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		soldOut *checkout.SoldOutError
		iqErr   *checkout.InvalidQuantityError
		pnfErr  *product.NotFoundError
	)
	switch {
	case errors.As(err, &soldOut):
		writeJSON(w, http.StatusConflict, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusConflict) })
				e.Field("message", func(e *jx.Encoder) { e.Str(soldOut.Error()) })
				e.Field("soldOutCode", func(e *jx.Encoder) { e.Str(soldOut.Code) })
				e.Field("retry", func(e *jx.Encoder) { wire.EncodeBreakdown(e, soldOut.Retry) })
			})
		})
	case errors.Is(err, checkout.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, checkout.ErrDuplicateOrder.Error())
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrMissingUser):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.Is(err, coupon.ErrInvalidQuantity), errors.Is(err, money.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(ctx).Error("Checkout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
