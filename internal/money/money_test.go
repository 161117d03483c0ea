package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRate(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{"pro plan commission", 2900, 3000, 870},
		{"template creator share floors", 99, 7000, 69},
		{"one cent floors to zero", 1, 3000, 0},
		{"full rate", 12345, 10000, 12345},
		{"zero rate", 12345, 0, 0},
		{"zero amount", 0, 3000, 0},
		{"max amount does not overflow", math.MaxInt64, 10000, math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyRate(tt.amount, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRate_Rejects(t *testing.T) {
	_, err := ApplyRate(-1, 3000)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ApplyRate(100, 10001)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = ApplyRate(100, -1)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$128.34", Format(12834))
	assert.Equal(t, "$0.05", Format(5))
	assert.Equal(t, "$0.00", Format(0))
	assert.Equal(t, "-$100.00", Format(-10000))
	assert.Equal(t, "-$92233720368547758.08", Format(math.MinInt64))
}

func TestParseDollars(t *testing.T) {
	cases := map[string]int64{
		"100":     10000,
		"49.9":    4990,
		"$12.34":  1234,
		" 0.05 ":  5,
		".5":      50,
		"-28.34":  -2834,
		"5000.00": 500000,
	}
	for in, want := range cases {
		got, err := ParseDollars(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "abc", "1.234", "1.", "$", "1.-5", "99999999999999999999"} {
		_, err := ParseDollars(bad)
		assert.ErrorIs(t, err, ErrInvalidFormat, bad)
	}
}

func TestFormatBps(t *testing.T) {
	assert.Equal(t, "30%", FormatBps(3000))
	assert.Equal(t, "70%", FormatBps(7000))
	assert.Equal(t, "12.5%", FormatBps(1250))
	assert.Equal(t, "0.01%", FormatBps(1))
}
