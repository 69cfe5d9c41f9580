package coupon

import (
	"time"

	"github.com/xenking/kart-discounts/internal/domain/money"
)

// candidate is a code that passed every eligibility gate.
type candidate struct {
	rule             *Rule
	eligibleSubtotal int64
}

// checkEligibility runs the per-code gates in order and returns either the
// provisional candidate or the first rejection reason.
func checkEligibility(rule *Rule, usage Usage, now time.Time, items []Item) (candidate, Reason, error) {
	if !rule.Enabled {
		return candidate{}, ReasonDisabled, nil
	}
	if now.Before(rule.StartsAt) {
		return candidate{}, ReasonNotStarted, nil
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return candidate{}, ReasonExpired, nil
	}

	if usage.Consumed {
		return candidate{}, ReasonRedemptionCap, nil
	}
	if rule.MaxRedemptions != nil && usage.TotalRedemptions >= *rule.MaxRedemptions {
		return candidate{}, ReasonRedemptionCap, nil
	}
	if rule.MaxRedemptionsPerUser != nil && usage.PerUserRedemptions >= *rule.MaxRedemptionsPerUser {
		return candidate{}, ReasonPerUserCap, nil
	}

	subtotal, err := eligibleSubtotal(rule, items)
	if err != nil {
		return candidate{}, "", err
	}
	if subtotal == 0 {
		return candidate{}, ReasonNoEligibleItems, nil
	}
	// Gated on what the coupon can discount, not the whole cart.
	if rule.MinSubtotalCents != nil && subtotal < *rule.MinSubtotalCents {
		return candidate{}, ReasonBelowMinSubtotal, nil
	}

	return candidate{rule: rule, eligibleSubtotal: subtotal}, "", nil
}

// eligibleSubtotal sums line totals over the items the rule applies to.
func eligibleSubtotal(rule *Rule, items []Item) (int64, error) {
	var sum int64
	for i := range items {
		if !appliesTo(rule, &items[i]) {
			continue
		}
		line, err := money.LineTotal(items[i].UnitPriceCents, items[i].Quantity)
		if err != nil {
			return 0, err
		}
		if sum, err = money.Add(sum, line); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

// appliesTo reports whether the rule's product and collection filters admit
// the item.
func appliesTo(rule *Rule, item *Item) bool {
	if len(rule.AllowedProductIDs) > 0 && !rule.AllowedProductIDs.Has(item.ProductID) {
		return false
	}
	if rule.ExcludedProductIDs.Has(item.ProductID) {
		return false
	}
	if len(rule.AllowedCollections) > 0 && !item.CollectionIDs.Intersects(rule.AllowedCollections) {
		return false
	}
	if item.CollectionIDs.Intersects(rule.ExcludedCollections) {
		return false
	}
	return true
}
