package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point price key scaled by a book-wide precision.
// Venues quote prices as decimal strings; keying levels on a scaled integer
// guarantees that "100", "100.00" and "1e2" land on the same level, which is
// what makes cross-venue merging exact.
type Price int64

func ParsePrice(s string, precision int32) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q", ErrMalformedLevel, s)
	}
	return Price(d.Shift(precision).IntPart()), nil
}

func (p Price) Float64(precision int32) float64 {
	return decimal.New(int64(p), -precision).InexactFloat64()
}

// Format renders the price with exactly precision decimal places.
func (p Price) Format(precision int32) string {
	return decimal.New(int64(p), -precision).StringFixed(precision)
}

func ParseSize(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q", ErrMalformedLevel, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative size %q", ErrMalformedLevel, s)
	}
	return d.InexactFloat64(), nil
}
