package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"retail-ledger/internal/core"
)

// assignSerial runs a single AssignTx in its own committed transaction.
func assignSerial(t *testing.T, pool *pgxpool.Pool, tracker core.IMEITracker, serial string, movementID, branchID int64, target core.SerialState) error {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)
	if err := tracker.AssignTx(ctx, tx, serial, movementID, branchID, target); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Failed to commit serial assignment: %v", err)
	}
	return nil
}

func seedMovementID(t *testing.T, ledger core.LedgerStore) int64 {
	t.Helper()
	_, movements, err := ledger.Append(context.Background(), []core.MovementInput{
		stockMovement(1, 1, core.KindPurchase, "1", "200", "2026-02-01"),
	})
	if err != nil {
		t.Fatalf("Failed to seed movement: %v", err)
	}
	return movements[0].ID
}

func TestIMEI_UnknownSerialEntersAsInStockOnly(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	tracker := core.NewIMEITracker(pool)
	movementID := seedMovementID(t, ledger)

	serial := "356938035643809"
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialSold); err == nil {
		t.Errorf("Expected selling an unknown serial to be rejected")
	}
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialInStock); err != nil {
		t.Fatalf("Expected unknown serial to enter as in-stock, got %v", err)
	}

	rec, err := tracker.Get(context.Background(), serial)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != core.SerialInStock || rec.BranchID != 1 {
		t.Errorf("Expected in-stock at branch 1, got %s at branch %d", rec.State, rec.BranchID)
	}
}

func TestIMEI_DoubleSaleRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	tracker := core.NewIMEITracker(pool)
	movementID := seedMovementID(t, ledger)

	serial := "356938035643809"
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialInStock); err != nil {
		t.Fatalf("Intake failed: %v", err)
	}
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialSold); err != nil {
		t.Fatalf("First sale failed: %v", err)
	}

	err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialSold)
	var dup *core.DuplicateSerialError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateSerialError on second sale, got %v", err)
	}
	if dup.Serial != serial || dup.State != core.SerialSold {
		t.Errorf("Error should carry the serial and its current state, got %+v", dup)
	}

	// Re-introducing a sold unit as fresh stock is the same fault.
	err = assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialInStock)
	if !errors.As(err, &dup) {
		t.Errorf("Expected DuplicateSerialError re-introducing a sold serial, got %v", err)
	}
}

func TestIMEI_LifecycleEnforced(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	tracker := core.NewIMEITracker(pool)
	movementID := seedMovementID(t, ledger)

	serial := "490154203237518"
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialInStock); err != nil {
		t.Fatalf("Intake failed: %v", err)
	}

	// in-stock -> warranty skips the sale, which the graph forbids.
	err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialWarranty)
	var invalid *core.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidTransitionError, got %v", err)
	}

	// The full legal path: sold, warranty claim, returned, back in stock.
	steps := []core.SerialState{
		core.SerialSold, core.SerialWarranty, core.SerialReturned, core.SerialInStock,
	}
	for _, target := range steps {
		if err := assignSerial(t, pool, tracker, serial, movementID, 1, target); err != nil {
			t.Fatalf("Transition to %s failed: %v", target, err)
		}
	}

	rec, err := tracker.Get(context.Background(), serial)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != core.SerialInStock {
		t.Errorf("Expected serial back in stock, got %s", rec.State)
	}
}

func TestIMEI_ClaimBoundToHoldingBranch(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	tracker := core.NewIMEITracker(pool)
	movementID := seedMovementID(t, ledger)

	serial := "356938035643809"
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialInStock); err != nil {
		t.Fatalf("Intake failed: %v", err)
	}

	// The unit sits in stock at branch 1, so branch 2 cannot sell it or
	// ship it out.
	var verr *core.ValidationError
	err := assignSerial(t, pool, tracker, serial, movementID, 2, core.SerialSold)
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError selling from the wrong branch, got %v", err)
	}
	err = assignSerial(t, pool, tracker, serial, movementID, 2, core.SerialTransferredOut)
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError shipping from the wrong branch, got %v", err)
	}

	rec, err := tracker.Get(context.Background(), serial)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != core.SerialInStock || rec.BranchID != 1 {
		t.Errorf("Expected serial untouched at branch 1, got %s at branch %d", rec.State, rec.BranchID)
	}

	// After a legal transfer the destination branch holds the claim.
	if err := assignSerial(t, pool, tracker, serial, movementID, 1, core.SerialTransferredOut); err != nil {
		t.Fatalf("Transfer out failed: %v", err)
	}
	if err := assignSerial(t, pool, tracker, serial, movementID, 2, core.SerialInStock); err != nil {
		t.Fatalf("Transfer in failed: %v", err)
	}
	if err := assignSerial(t, pool, tracker, serial, movementID, 2, core.SerialSold); err != nil {
		t.Fatalf("Sale at the holding branch failed: %v", err)
	}
}

func TestIMEI_ListByState(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedgerStore(pool)
	tracker := core.NewIMEITracker(pool)
	movementID := seedMovementID(t, ledger)

	serials := []string{"356938035643809", "356938035643810", "356938035643811"}
	for _, s := range serials {
		if err := assignSerial(t, pool, tracker, s, movementID, 1, core.SerialInStock); err != nil {
			t.Fatalf("Intake of %s failed: %v", s, err)
		}
	}
	if err := assignSerial(t, pool, tracker, serials[0], movementID, 1, core.SerialSold); err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	inStock, err := tracker.ListByState(context.Background(), core.SerialInStock, i64(1))
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(inStock) != 2 {
		t.Errorf("Expected 2 in-stock serials, got %d", len(inStock))
	}
	sold, err := tracker.ListByState(context.Background(), core.SerialSold, nil)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(sold) != 1 || sold[0].Serial != serials[0] {
		t.Errorf("Expected exactly the sold serial, got %d rows", len(sold))
	}
}
