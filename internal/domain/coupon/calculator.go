package coupon

import (
	"github.com/go-faster/errors"

	"github.com/xenking/kart-discounts/internal/domain/money"
)

// discounts is the calculator's output before assembly.
type discounts struct {
	applied      []Applied
	total        int64
	freeShipping bool
}

// calculate computes each accepted coupon's amount independently against
// its own eligible subtotal, then clamps the sum to the cart subtotal.
func calculate(accepted []candidate, subtotal int64) (discounts, error) {
	var (
		out = discounts{applied: make([]Applied, 0, len(accepted))}
		raw int64
	)
	for _, c := range accepted {
		var amount int64
		switch b := c.rule.Benefit.(type) {
		case Fixed:
			amount = min(b.AmountCents, c.eligibleSubtotal)
		case Percent:
			amount = money.PercentOf(c.eligibleSubtotal, b.Percent)
		case FreeShipping:
			out.freeShipping = true
		default:
			return discounts{}, errors.Wrapf(ErrInvalidRule, "code %q: unsupported benefit %T", c.rule.Code, b)
		}

		var err error
		if raw, err = money.Add(raw, amount); err != nil {
			return discounts{}, err
		}
		out.applied = append(out.applied, Applied{
			Code:        c.rule.Code,
			Kind:        c.rule.Kind(),
			AmountCents: amount,
			OneTime:     c.rule.OneTimeCode,
		})
	}
	out.total = min(raw, subtotal)
	return out, nil
}
