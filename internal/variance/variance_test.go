package variance

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		wantVar   string
		wantClass models.VarianceClass
	}{
		{"decrease", "150.9", "148.9", "-2", models.VarianceDecrease},
		{"increase", "148.9", "150.9", "2", models.VarianceIncrease},
		{"unchanged", "150.9", "150.90", "0", models.VarianceUnchanged},
		{"rounds half away from zero", "100", "100.005", "0.01", models.VarianceIncrease},
		{"rounds below threshold to zero", "100", "100.004", "0", models.VarianceUnchanged},
		{"rounds negative", "100.006", "100", "-0.01", models.VarianceDecrease},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, class := Classify(decimal.RequireFromString(tc.from), decimal.RequireFromString(tc.to))
			if !v.Equal(decimal.RequireFromString(tc.wantVar)) {
				t.Errorf("variance = %s; want %s", v, tc.wantVar)
			}
			if class != tc.wantClass {
				t.Errorf("class = %q; want %q", class, tc.wantClass)
			}
		})
	}
}

// pricePair generates two non-negative prices with up to three decimal places.
type pricePair struct {
	Old, New decimal.Decimal
}

func (pricePair) Generate(r *rand.Rand, _ int) reflect.Value {
	gen := func() decimal.Decimal {
		return decimal.New(r.Int63n(1_000_000), -int32(r.Intn(4)))
	}
	return reflect.ValueOf(pricePair{Old: gen(), New: gen()})
}

func TestClassifyProperty(t *testing.T) {
	prop := func(p pricePair) bool {
		v, class := Classify(p.Old, p.New)
		if !v.Equal(p.New.Sub(p.Old).Round(2)) {
			return false
		}
		switch {
		case v.IsPositive():
			return class == models.VarianceIncrease
		case v.IsNegative():
			return class == models.VarianceDecrease
		default:
			return class == models.VarianceUnchanged
		}
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatal(err)
	}
}

func TestParsePrice(t *testing.T) {
	got, err := ParsePrice(" 150.9 ")
	if err != nil {
		t.Fatalf("ParsePrice() = %v; want nil", err)
	}
	if !got.Equal(decimal.RequireFromString("150.9")) {
		t.Fatalf("ParsePrice() = %s; want 150.9", got)
	}

	for _, raw := range []string{"", "abc", "-1.5", "NaN", "1,5"} {
		_, err := ParsePrice(raw)
		var mpe *MalformedPriceError
		if !errors.As(err, &mpe) {
			t.Errorf("ParsePrice(%q) error = %v; want *MalformedPriceError", raw, err)
		}
	}
}
