// Package money holds the fixed-point helpers used for every monetary
// computation. Amounts are int64 minor units (cents) and rates are basis
// points; nothing in here uses floating point.
package money

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// BasisPoints is the denominator of a rate: 10000 bp = 100%.
const BasisPoints int64 = 10000

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrInvalidRate    = errors.New("rate must be between 0 and 10000 basis points")
	ErrInvalidFormat  = errors.New("invalid decimal amount")
)

// ValidateRate reports whether bps is a usable share of an amount.
func ValidateRate(bps int64) error {
	if bps < 0 || bps > BasisPoints {
		return fmt.Errorf("%w: got %d", ErrInvalidRate, bps)
	}
	return nil
}

// ApplyRate returns floor(amount * bps / 10000). The intermediate product is
// computed in 128 bits so no amount representable in int64 can overflow.
func ApplyRate(amount, bps int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if err := ValidateRate(bps); err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(bps))
	quo, _ := bits.Div64(hi, lo, uint64(BasisPoints))
	return int64(quo), nil
}

// Format renders cents as a dollar string, e.g. 12834 -> "$128.34".
func Format(cents int64) string {
	sign := ""
	u := uint64(cents)
	if cents < 0 {
		sign = "-"
		u = uint64(-(cents + 1)) + 1
	}
	return fmt.Sprintf("%s$%d.%02d", sign, u/100, u%100)
}

// ParseDollars parses a decimal dollar string ("100", "49.9", "$12.34") into
// cents. More than two fractional digits is an error.
func ParseDollars(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, ErrInvalidFormat
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if w > (1<<63-1-f)/100 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidFormat, s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatBps renders a rate as a percentage, e.g. 3000 -> "30%", 1250 -> "12.5%".
func FormatBps(bps int64) string {
	whole := bps / 100
	rem := bps % 100
	if rem == 0 {
		return fmt.Sprintf("%d%%", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%02d", whole, rem), "0") + "%"
}
