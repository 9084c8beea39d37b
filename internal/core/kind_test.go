package core_test

import (
	"testing"

	"retail-ledger/internal/core"
)

func TestParseMovementKind(t *testing.T) {
	for _, valid := range core.AllMovementKinds {
		k, err := core.ParseMovementKind(string(valid))
		if err != nil {
			t.Errorf("Expected %q to parse, got %v", valid, err)
		}
		if k != valid {
			t.Errorf("Expected %q, got %q", valid, k)
		}
	}
	if _, err := core.ParseMovementKind("refund"); err == nil {
		t.Errorf("Expected unknown kind to be rejected")
	}
	if _, err := core.ParseMovementKind("Sale"); err == nil {
		t.Errorf("Kind matching is case sensitive, expected rejection")
	}
}

func TestMovementKind_StockDirection(t *testing.T) {
	in := map[core.MovementKind]bool{
		core.KindPurchase:   true,
		core.KindTransferIn: true,
		core.KindSaleReturn: true,
	}
	out := map[core.MovementKind]bool{
		core.KindSale:           true,
		core.KindTransferOut:    true,
		core.KindPurchaseReturn: true,
	}
	for _, k := range core.AllMovementKinds {
		if k.IsStockIn() != in[k] {
			t.Errorf("Kind %s: IsStockIn = %v, expected %v", k, k.IsStockIn(), in[k])
		}
		if k.IsStockOut() != out[k] {
			t.Errorf("Kind %s: IsStockOut = %v, expected %v", k, k.IsStockOut(), out[k])
		}
		if k.IsStockIn() && k.IsStockOut() {
			t.Errorf("Kind %s cannot be both stock-in and stock-out", k)
		}
	}
}

func TestMovementKind_PartySign(t *testing.T) {
	cases := map[core.MovementKind]int{
		core.KindSale:           1,
		core.KindPurchase:       1,
		core.KindOpeningBalance: 1,
		core.KindPaymentIn:      -1,
		core.KindPaymentOut:     -1,
		core.KindSaleReturn:     -1,
		core.KindPurchaseReturn: -1,
		core.KindDiscount:       -1,
		core.KindTransferOut:    0,
		core.KindTransferIn:     0,
		core.KindExpense:        0,
	}
	for k, want := range cases {
		if got := k.PartySign(); got != want {
			t.Errorf("Kind %s: PartySign = %d, expected %d", k, got, want)
		}
	}
}

func TestMovementKind_AccountSign(t *testing.T) {
	cases := map[core.MovementKind]int{
		core.KindPaymentIn:      1,
		core.KindOpeningBalance: 1,
		core.KindPaymentOut:     -1,
		core.KindExpense:        -1,
		core.KindSale:           0,
		core.KindPurchase:       0,
	}
	for k, want := range cases {
		if got := k.AccountSign(); got != want {
			t.Errorf("Kind %s: AccountSign = %d, expected %d", k, got, want)
		}
	}
}
