package commission

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate(t *testing.T) {
	tests := []struct {
		amount string
		rate   string
		want   string
	}{
		{"10000.00", "2.5", "250"},
		{"100.00", "2.5", "2.5"},
		{"0", "2.5", "0"},
		{"19999.99", "2.5", "500"},     // 499.99975 rounds up
		{"33333.33", "3.0", "1000"},    // 999.9999 rounds up
		{"101.00", "2.5", "2.53"},      // 2.525 half rounds up
		{"55555.55", "1.15", "638.89"}, // 638.888825
	}

	for _, tt := range tests {
		got := Calculate(d(tt.amount), d(tt.rate))
		if !got.Equal(d(tt.want)) {
			t.Errorf("Calculate(%s, %s) = %s, want %s", tt.amount, tt.rate, got, tt.want)
		}
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	a, r := d("12345.67"), d("2.5")
	first := Calculate(a, r)
	for i := 0; i < 10; i++ {
		if got := Calculate(a, r); !got.Equal(first) {
			t.Fatalf("Calculate not deterministic: %s vs %s", got, first)
		}
	}
}

func TestServiceFee_Floor(t *testing.T) {
	// 2.5% of 500 is 12.50, below the 25.00 floor.
	if got := ServiceFee(d("500.00")); !got.Equal(d("25.00")) {
		t.Errorf("ServiceFee(500.00) = %s, want 25.00", got)
	}
	// 2.5% of 10000 is 250.00, above the floor.
	if got := ServiceFee(d("10000.00")); !got.Equal(d("250.00")) {
		t.Errorf("ServiceFee(10000.00) = %s, want 250.00", got)
	}
}

func TestDealerCommission(t *testing.T) {
	if got := DealerCommission(d("10000.00"), true); !got.Equal(d("300.00")) {
		t.Errorf("DealerCommission with dealer = %s, want 300.00", got)
	}
	if got := DealerCommission(d("10000.00"), false); !got.IsZero() {
		t.Errorf("DealerCommission without dealer = %s, want 0", got)
	}
}
