package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCents(t *testing.T) {
	tests := []struct {
		name    string
		dollars float64
		want    int64
		wantErr bool
	}{
		{name: "whole dollars", dollars: 100, want: 10000},
		{name: "cents exact", dollars: 9.99, want: 999},
		{name: "half cent rounds up", dollars: 0.005, want: 1},
		{name: "below half rounds down", dollars: 0.004, want: 0},
		{name: "19.995 rounds up", dollars: 19.995, want: 2000},
		{name: "zero", dollars: 0, want: 0},
		{name: "negative half rounds up toward zero", dollars: -0.005, want: 0},
		{name: "negative", dollars: -1.25, want: -125},
		{name: "NaN", dollars: math.NaN(), wantErr: true},
		{name: "positive infinity", dollars: math.Inf(1), wantErr: true},
		{name: "negative infinity", dollars: math.Inf(-1), wantErr: true},
		{name: "overflow", dollars: 1e20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCents(tt.dollars)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name    string
		base    int64
		percent string
		want    int64
	}{
		{name: "ten percent", base: 10000, percent: "10", want: 1000},
		{name: "floors fractional cents", base: 999, percent: "15", want: 149},
		{name: "fractional percent", base: 1001, percent: "33.33", want: 333},
		{name: "zero percent", base: 5000, percent: "0", want: 0},
		{name: "hundred percent", base: 4321, percent: "100", want: 4321},
		{name: "zero base", base: 0, percent: "50", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentOf(tt.base, decimal.RequireFromString(tt.percent))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampNonNegative(t *testing.T) {
	assert.Equal(t, int64(0), ClampNonNegative(-1))
	assert.Equal(t, int64(0), ClampNonNegative(0))
	assert.Equal(t, int64(42), ClampNonNegative(42))
}

func TestLineTotal(t *testing.T) {
	got, err := LineTotal(250, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)

	_, err = LineTotal(math.MaxInt64, 2)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = LineTotal(-1, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdd(t *testing.T) {
	got, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = Add(math.MaxInt64, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFromCents(t *testing.T) {
	assert.Equal(t, "9.99", FromCents(999).StringFixed(2))
	assert.Equal(t, "0.00", FromCents(0).StringFixed(2))
}
