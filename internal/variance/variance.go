// Package variance computes the signed price change between two observations.
package variance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

// places is the number of decimal places a variance is rounded to.
const places = 2

// MalformedPriceError is returned when a provider price cannot be used.
type MalformedPriceError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *MalformedPriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed price %q: %s: %v", e.Raw, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed price %q: %s", e.Raw, e.Reason)
}

func (e *MalformedPriceError) Unwrap() error {
	return e.Err
}

// ParsePrice parses a raw provider price. Empty, non-numeric and negative values are rejected.
func ParsePrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, &MalformedPriceError{Raw: raw, Reason: "empty"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &MalformedPriceError{Raw: raw, Reason: "not a number", Err: err}
	}
	if d.IsNegative() {
		return decimal.Zero, &MalformedPriceError{Raw: raw, Reason: "negative"}
	}
	return d, nil
}

// Classify returns priceNew - priceOld rounded to two places and its direction.
func Classify(priceOld, priceNew decimal.Decimal) (decimal.Decimal, models.VarianceClass) {
	v := priceNew.Sub(priceOld).Round(places)
	switch v.Sign() {
	case 1:
		return v, models.VarianceIncrease
	case -1:
		return v, models.VarianceDecrease
	default:
		return v, models.VarianceUnchanged
	}
}
