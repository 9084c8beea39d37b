package core_test

import (
	"testing"

	"retail-ledger/internal/core"
)

func TestRoundBase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1.2344", "1.234"},
		{"1.2345", "1.235"},
		{"1.2346", "1.235"},
		{"-1.2345", "-1.235"},
		{"0.0005", "0.001"},
		{"10", "10"},
	}
	for _, tc := range cases {
		got := core.RoundBase(d(tc.in))
		if got.Cmp(d(tc.want)) != 0 {
			t.Errorf("RoundBase(%s) = %s, expected %s", tc.in, got, tc.want)
		}
	}
}

func TestBaseAmount(t *testing.T) {
	// 100 USD at 0.3075 KWD/USD.
	got := core.BaseAmount(d("100"), d("0.3075"))
	if got.Cmp(d("30.75")) != 0 {
		t.Errorf("Expected 30.75, got %s", got)
	}

	// Rounding happens after the multiply, not per operand.
	got = core.BaseAmount(d("3.3333"), d("0.3333"))
	if got.Cmp(d("1.111")) != 0 {
		t.Errorf("Expected 1.111, got %s", got)
	}
}
