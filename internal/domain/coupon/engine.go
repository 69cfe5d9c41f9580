// Package coupon evaluates coupon codes against a cart.
//
// Evaluate is a pure function: it reads a snapshot of rules and redemption
// counters and returns the accepted and rejected codes together with the
// resulting totals. It performs no I/O and keeps no state, so previews and
// commits given the same inputs always agree. Enforcing redemption caps
// under concurrency is the job of the commit step, not of this package.
package coupon

import (
	"github.com/go-faster/errors"

	"github.com/xenking/kart-discounts/internal/domain/money"
)

// outcome tracks what happened to one position in Request.Codes.
type outcome struct {
	code     string
	reason   Reason
	accepted bool
}

// Evaluate decides which codes apply to the cart and computes the discount
// breakdown. Business rejections are reported in Breakdown.Rejected; only
// malformed input (bad money values, quantities or rules) produces an error,
// in which case no breakdown is returned.
func Evaluate(req Request) (Breakdown, error) {
	subtotal, err := cartSubtotal(req.Items)
	if err != nil {
		return Breakdown{}, err
	}
	if req.Shipping.FeeCents < 0 {
		return Breakdown{}, errors.Wrapf(money.ErrInvalidAmount, "shipping fee %d", req.Shipping.FeeCents)
	}

	var (
		outcomes   = make([]outcome, len(req.Codes))
		candidates = make([]candidate, 0, len(req.Codes))
		positions  = make([]int, 0, len(req.Codes))
		seen       = make(map[string]struct{}, len(req.Codes))
	)
	for i, code := range req.Codes {
		outcomes[i].code = code

		if _, dup := seen[code]; dup {
			outcomes[i].reason = ReasonDuplicate
			continue
		}
		seen[code] = struct{}{}

		rule, ok := req.Rules[code]
		if !ok {
			outcomes[i].reason = ReasonNotFound
			continue
		}
		if rule.Code != code {
			return Breakdown{}, errors.Wrapf(ErrInvalidRule, "rule keyed %q has code %q", code, rule.Code)
		}
		if err := rule.Validate(); err != nil {
			return Breakdown{}, err
		}

		c, reason, err := checkEligibility(&rule, req.Usage[code], req.Now, req.Items)
		if err != nil {
			return Breakdown{}, errors.Wrapf(err, "code %q", code)
		}
		if reason != "" {
			outcomes[i].reason = reason
			continue
		}
		candidates = append(candidates, c)
		positions = append(positions, i)
	}

	accepted := make([]candidate, 0, len(candidates))
	for i, reason := range resolveConflicts(candidates) {
		if reason != "" {
			outcomes[positions[i]].reason = reason
			continue
		}
		outcomes[positions[i]].accepted = true
		accepted = append(accepted, candidates[i])
	}

	d, err := calculate(accepted, subtotal)
	if err != nil {
		return Breakdown{}, err
	}
	return assemble(outcomes, d, subtotal, req.Shipping), nil
}

// assemble builds the final breakdown. Accepted codes come from the
// calculator in precedence order; rejections follow the same order.
func assemble(outcomes []outcome, d discounts, subtotal int64, shipping Shipping) Breakdown {
	b := Breakdown{
		Accepted:           d.applied,
		Rejected:           make([]Rejection, 0, len(outcomes)-len(d.applied)),
		TotalDiscountCents: d.total,
		FreeShipping:       d.freeShipping,
		FinalShippingCents: shipping.FeeCents,
		SubtotalCents:      subtotal,
	}
	for _, o := range outcomes {
		if !o.accepted {
			b.Rejected = append(b.Rejected, Rejection{Code: o.code, Reason: o.reason})
		}
	}
	if b.FreeShipping {
		b.FinalShippingCents = 0
	}
	b.TotalCents = money.ClampNonNegative(subtotal-d.total) + b.FinalShippingCents
	return b
}

// cartSubtotal validates every item and returns the sum of all line totals.
func cartSubtotal(items []Item) (int64, error) {
	var sum int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return 0, errors.Wrapf(ErrInvalidQuantity, "item %q", item.ID)
		}
		if item.UnitPriceCents < 0 {
			return 0, errors.Wrapf(money.ErrInvalidAmount, "item %q unit price %d", item.ID, item.UnitPriceCents)
		}
		line, err := money.LineTotal(item.UnitPriceCents, item.Quantity)
		if err != nil {
			return 0, errors.Wrapf(err, "item %q", item.ID)
		}
		if sum, err = money.Add(sum, line); err != nil {
			return 0, errors.Wrap(err, "cart subtotal")
		}
	}
	return sum, nil
}
