package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppliesTo(t *testing.T) {
	item := Item{ProductID: "shirt", CollectionIDs: NewSet("apparel", "sale"), Quantity: 1, UnitPriceCents: 100}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{name: "no filters", rule: Rule{}, want: true},
		{name: "empty allow-lists behave as unset", rule: Rule{AllowedProductIDs: NewSet(), AllowedCollections: NewSet()}, want: true},
		{name: "allowed product", rule: Rule{AllowedProductIDs: NewSet("shirt")}, want: true},
		{name: "product not allowed", rule: Rule{AllowedProductIDs: NewSet("mug")}, want: false},
		{name: "excluded product", rule: Rule{ExcludedProductIDs: NewSet("shirt")}, want: false},
		{name: "allowed collection overlaps", rule: Rule{AllowedCollections: NewSet("sale", "garden")}, want: true},
		{name: "allowed collection disjoint", rule: Rule{AllowedCollections: NewSet("garden")}, want: false},
		{name: "excluded collection overlaps", rule: Rule{ExcludedCollections: NewSet("sale")}, want: false},
		{
			name: "exclusion wins over allow",
			rule: Rule{AllowedProductIDs: NewSet("shirt"), ExcludedCollections: NewSet("apparel")},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, appliesTo(&tt.rule, &item))
		})
	}
}

func TestAppliesTo_ItemWithoutCollections(t *testing.T) {
	item := Item{ProductID: "gift-card", Quantity: 1, UnitPriceCents: 100}

	assert.True(t, appliesTo(&Rule{ExcludedCollections: NewSet("sale")}, &item))
	assert.False(t, appliesTo(&Rule{AllowedCollections: NewSet("sale")}, &item))
}

func TestEligibleSubtotal(t *testing.T) {
	rule := Rule{AllowedCollections: NewSet("apparel")}

	got, err := eligibleSubtotal(&rule, hundredDollarCart())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)
}

func TestResolveConflicts(t *testing.T) {
	mk := func(code string, stackable bool) candidate {
		r := fixedRule(code, 1, stackable)
		return candidate{rule: &r, eligibleSubtotal: 1}
	}

	got := resolveConflicts([]candidate{
		mk("S1", true),
		mk("X1", false),
		mk("X2", false),
		mk("S2", true),
		mk("X3", false),
	})
	assert.Equal(t, []Reason{"", "", ReasonExclusiveConflict, "", ReasonExclusiveConflict}, got)
}
