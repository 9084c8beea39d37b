package core_test

import (
	"context"
	"testing"

	"retail-ledger/internal/core"
)

func TestStock_BalanceFoldsLedger(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	_, _, err := ledger.Append(ctx, []core.MovementInput{
		stockMovement(1, 1, core.KindOpeningBalance, "5", "1000", "2026-01-01"),
		stockMovement(1, 1, core.KindPurchase, "10", "2000", "2026-02-01"),
		stockMovement(1, 1, core.KindSale, "3", "780", "2026-03-01"),
		stockMovement(1, 1, core.KindSaleReturn, "1", "260", "2026-03-05"),
		stockMovement(1, 1, core.KindTransferOut, "2", "400", "2026-03-10"),
		// Another branch and another item must not leak into the fold.
		stockMovement(2, 1, core.KindPurchase, "7", "1400", "2026-02-01"),
		stockMovement(1, 2, core.KindPurchase, "50", "150", "2026-02-01"),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	b, err := stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Opening.Cmp(d("5")) != 0 {
		t.Errorf("Opening = %s, expected 5", b.Opening)
	}
	if b.Purchased.Cmp(d("11")) != 0 {
		t.Errorf("Purchased = %s, expected 11 (purchase 10 + sale-return 1)", b.Purchased)
	}
	if b.Sold.Cmp(d("5")) != 0 {
		t.Errorf("Sold = %s, expected 5 (sale 3 + transfer-out 2)", b.Sold)
	}
	if b.Balance.Cmp(d("11")) != 0 {
		t.Errorf("Balance = %s, expected 11", b.Balance)
	}

	total, err := stock.Total(ctx, 1)
	if err != nil {
		t.Fatalf("Total failed: %v", err)
	}
	if total.Balance.Cmp(d("18")) != 0 {
		t.Errorf("Total balance = %s, expected 18 (11 at branch 1 + 7 at branch 2)", total.Balance)
	}
}

func TestStock_NegativeBalanceSurfaced(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	_, _, err := ledger.Append(ctx, []core.MovementInput{
		stockMovement(1, 1, core.KindSale, "4", "1040", "2026-03-01"),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	b, err := stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if b.Balance.Cmp(d("-4")) != 0 {
		t.Errorf("Expected oversold balance -4 to surface as-is, got %s", b.Balance)
	}
}

func TestStock_BalancesFlagsBelowMin(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	// Item 1 has min_stock 2: one unit on hand is below the floor.
	// Item 2 has min_stock 10: fifty on hand is comfortably above it.
	_, _, err := ledger.Append(ctx, []core.MovementInput{
		stockMovement(1, 1, core.KindPurchase, "1", "200", "2026-02-01"),
		stockMovement(1, 2, core.KindPurchase, "50", "150", "2026-02-01"),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := stock.Balances(ctx, i64(1), nil)
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 balance rows, got %d", len(rows))
	}
	byItem := make(map[int64]core.BalanceRow)
	for _, r := range rows {
		byItem[r.ItemID] = r
	}
	if !byItem[1].BelowMin {
		t.Errorf("Expected item 1 (1 on hand, min 2) to be flagged below minimum")
	}
	if byItem[2].BelowMin {
		t.Errorf("Expected item 2 (50 on hand, min 10) not to be flagged")
	}
}
