// Package handler exposes the checkout service over HTTP with JSON bodies.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/wire"
)

const maxBodyBytes = 1 << 20

// Header names read by the handlers.
const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Checkout is the service the handlers delegate to.
type Checkout interface {
	Preview(ctx context.Context, cart checkout.Cart) (coupon.Breakdown, error)
	Commit(ctx context.Context, req checkout.CommitRequest) (*checkout.Order, error)
}

// Handler serves the checkout endpoints.
type Handler struct {
	checkout Checkout
}

// NewHandler constructs a Handler.
func NewHandler(c Checkout) *Handler {
	return &Handler{checkout: c}
}

// Preview handles POST /api/checkout/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.checkout.Preview(r.Context(), req.Cart)
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeBreakdown(e, b) })
}

// Commit handles POST /api/checkout/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.checkout.Commit(r.Context(), req)
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339Nano)) })
			e.Field("breakdown", func(e *jx.Encoder) { wire.EncodeBreakdown(e, o.Breakdown) })
		})
	})
}

// readRequest decodes the body shared by preview and commit. The user and
// idempotency key fall back to headers when absent from the body.
func readRequest(w http.ResponseWriter, r *http.Request) (checkout.CommitRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return checkout.CommitRequest{}, errors.Wrap(err, "read body")
	}

	req, err := decodeCheckoutRequest(jx.DecodeBytes(body))
	if err != nil {
		return checkout.CommitRequest{}, errors.Wrap(err, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(HeaderUserID)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}
	return req, nil
}
