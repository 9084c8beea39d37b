package core_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"retail-ledger/internal/core"
)

type engine struct {
	ledger   core.LedgerStore
	stock    core.StockService
	balances core.PartyBalanceService
	imeis    core.IMEITracker
	coord    *core.Coordinator
	master   core.MasterService
}

func newEngine(pool *pgxpool.Pool) *engine {
	log := logrus.New()
	log.SetOutput(io.Discard)

	ledger := core.NewLedgerStore(pool)
	stock := core.NewStockService(pool, nil)
	balances := core.NewPartyBalanceService(pool)
	imeis := core.NewIMEITracker(pool)
	guard := core.NewCreditGuard(balances)
	return &engine{
		ledger:   ledger,
		stock:    stock,
		balances: balances,
		imeis:    imeis,
		coord:    core.NewCoordinator(pool, ledger, imeis, guard, stock, balances, log),
		master:   core.NewMasterService(pool, ledger),
	}
}

// purchaseDraft stocks 2 units of item 1 at branch 1, optionally serialized.
func purchaseDraft(serials ...string) core.InvoiceDraft {
	return core.InvoiceDraft{
		BranchID:    1,
		PartyID:     2,
		InvoiceDate: day("2026-03-01"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("2"), UnitPrice: d("200"), Serials: serials},
		},
		CommitterName: "tester",
	}
}

func TestCoordinator_PurchaseThenSale(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	purchase, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810"))
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if purchase.Number != "PI-B1-000001" {
		t.Errorf("Purchase number = %q, expected PI-B1-000001", purchase.Number)
	}
	if purchase.Total.Cmp(d("400")) != 0 {
		t.Errorf("Purchase total = %s, expected 400", purchase.Total)
	}

	stock, err := e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if stock.Balance.Cmp(d("2")) != 0 {
		t.Errorf("Stock after purchase = %s, expected 2", stock.Balance)
	}
	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialInStock {
		t.Errorf("Serial state after purchase = %s, expected in-stock", rec.State)
	}

	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}
	if sale.Number != "SI-B1-000002" {
		t.Errorf("Sale number = %q, expected SI-B1-000002", sale.Number)
	}

	stock, err = e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if stock.Balance.Cmp(d("1")) != 0 {
		t.Errorf("Stock after sale = %s, expected 1", stock.Balance)
	}
	rec, err = e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialSold {
		t.Errorf("Serial state after sale = %s, expected sold", rec.State)
	}

	balance, err := e.balances.CurrentBalance(ctx, 3)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("260")) != 0 {
		t.Errorf("Customer balance = %s, expected 260", balance)
	}
}

func TestCoordinator_PurchaseRequiresSupplier(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	draft := purchaseDraft()
	draft.PartyID = 1 // a customer

	_, err := e.coord.CreatePurchaseInvoice(context.Background(), draft)
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError buying from a customer, got %v", err)
	}
}

func TestCoordinator_InsufficientStockRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	draft := core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260")},
		},
		CommitterName: "tester",
	}
	_, err := e.coord.CreateSalesInvoice(ctx, draft)
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError selling without stock, got %v", err)
	}

	// An explicit override commits the oversell and the negative balance
	// surfaces in the fold.
	draft.AllowNegativeStock = true
	draft.CommitterRole = core.RoleAdmin
	if _, err := e.coord.CreateSalesInvoice(ctx, draft); err != nil {
		t.Fatalf("Override sale failed: %v", err)
	}
	stock, err := e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if stock.Balance.Cmp(d("-1")) != 0 {
		t.Errorf("Stock after oversell = %s, expected -1", stock.Balance)
	}
}

func TestCoordinator_MultiLineStockCheckSumsPerItem(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft()); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	// Two lines of 1.5 each pass individually against a balance of 2 but
	// must be rejected together.
	_, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1.5"), UnitPrice: d("260")},
			{ItemID: 1, Quantity: d("1.5"), UnitPrice: d("250")},
		},
		CommitterName: "tester",
	})
	if err == nil {
		t.Fatalf("Expected combined quantity above stock to be rejected")
	}
}

func TestCoordinator_CreditLimitGuard(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	sale := func(amount string, role core.CommitterRole) (*core.Invoice, error) {
		return e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
			BranchID:    1,
			PartyID:     1, // credit limit 1000
			InvoiceDate: day("2026-03-02"),
			Lines: []core.LineDraft{
				{ItemID: 2, Quantity: d("1"), UnitPrice: d(amount)},
			},
			CommitterRole:      role,
			CommitterName:      "tester",
			AllowNegativeStock: true,
		})
	}

	if _, err := sale("800", core.RoleStaff); err != nil {
		t.Fatalf("Sale within limit failed: %v", err)
	}

	_, err := sale("300", core.RoleStaff)
	var exceeded *core.CreditLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("Expected CreditLimitExceededError at projected 1100, got %v", err)
	}
	if exceeded.Projected.Cmp(d("1100")) != 0 {
		t.Errorf("Projected = %s, expected 1100", exceeded.Projected)
	}

	// The rejected sale must leave no trace.
	balance, err := e.balances.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("800")) != 0 {
		t.Errorf("Balance after rejection = %s, expected 800", balance)
	}

	// An admin can push past the limit, and the invoice records it.
	inv, err := sale("300", core.RoleAdmin)
	if err != nil {
		t.Fatalf("Admin override sale failed: %v", err)
	}
	if !inv.LimitOverridden {
		t.Errorf("Expected the override to be recorded on the invoice")
	}
}

func TestCoordinator_DedupTokenIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	draft := purchaseDraft()
	draft.DedupToken = uuid.NewString()

	first, err := e.coord.CreatePurchaseInvoice(ctx, draft)
	if err != nil {
		t.Fatalf("First commit failed: %v", err)
	}
	second, err := e.coord.CreatePurchaseInvoice(ctx, draft)
	if err != nil {
		t.Fatalf("Resubmission failed: %v", err)
	}
	if first.ID != second.ID || first.Number != second.Number {
		t.Errorf("Expected resubmission to return the original invoice, got %d and %d", first.ID, second.ID)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&count); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 movement after resubmission, found %d", count)
	}
}

func TestCoordinator_DuplicateSerialSaleRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	saleDraft := core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	}
	if _, err := e.coord.CreateSalesInvoice(ctx, saleDraft); err != nil {
		t.Fatalf("First sale failed: %v", err)
	}

	var before int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&before); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}

	_, err := e.coord.CreateSalesInvoice(ctx, saleDraft)
	var dup *core.DuplicateSerialError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateSerialError selling the same unit twice, got %v", err)
	}

	var after int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&after); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}
	if after != before {
		t.Errorf("Failed sale left movements behind: %d before, %d after", before, after)
	}
}

func TestCoordinator_ReverseSale(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	reversal, err := e.coord.ReverseInvoice(ctx, sale.ID, core.RoleAdmin, "tester", "keyed against wrong customer")
	if err != nil {
		t.Fatalf("Reversal failed: %v", err)
	}
	if reversal.Number != "RV-"+sale.Number {
		t.Errorf("Reversal number = %q, expected RV-%s", reversal.Number, sale.Number)
	}
	if reversal.Total.Cmp(sale.Total.Neg()) != 0 {
		t.Errorf("Reversal total = %s, expected %s", reversal.Total, sale.Total.Neg())
	}

	// Stock, balance, and serial state all return to their pre-sale values;
	// the movement history keeps both sides.
	stock, err := e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if stock.Balance.Cmp(d("2")) != 0 {
		t.Errorf("Stock after reversal = %s, expected 2", stock.Balance)
	}
	balance, err := e.balances.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Customer balance after reversal = %s, expected 0", balance)
	}
	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialInStock {
		t.Errorf("Serial state after reversal = %s, expected in-stock", rec.State)
	}

	original, err := e.coord.GetInvoice(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if original.ReversedBy == nil || *original.ReversedBy != reversal.ID {
		t.Errorf("Expected original to point at its reversal")
	}

	// A second reversal of the same invoice must be rejected.
	if _, err := e.coord.ReverseInvoice(ctx, sale.ID, core.RoleAdmin, "tester", "again"); err == nil {
		t.Errorf("Expected double reversal to be rejected")
	}
}

func TestCoordinator_SaleReturnRestocksSerials(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("2"), UnitPrice: d("260"), Serials: []string{"356938035643809", "356938035643810"}},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	// Partial return of one unit. The caller's price is ignored: the return
	// is valued at the original invoice's unit price.
	ret, err := e.coord.CreateReturn(ctx, core.ReturnDraft{
		Kind:              core.InvoiceSaleReturn,
		OriginalInvoiceID: sale.ID,
		ReturnDate:        day("2026-03-05"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("999"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Return failed: %v", err)
	}
	if ret.Total.Cmp(d("260")) != 0 {
		t.Errorf("Return total = %s, expected 260 (original price, not caller's)", ret.Total)
	}

	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialInStock {
		t.Errorf("Returned serial state = %s, expected in-stock", rec.State)
	}
	stock, err := e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if stock.Balance.Cmp(d("1")) != 0 {
		t.Errorf("Stock after return = %s, expected 1", stock.Balance)
	}
	balance, err := e.balances.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("260")) != 0 {
		t.Errorf("Balance after return = %s, expected 260", balance)
	}

	// Returning a serial that was never on the invoice fails.
	_, err = e.coord.CreateReturn(ctx, core.ReturnDraft{
		Kind:              core.InvoiceSaleReturn,
		OriginalInvoiceID: sale.ID,
		ReturnDate:        day("2026-03-06"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), Serials: []string{"490154203237518"}},
		},
		CommitterName: "tester",
	})
	if err == nil {
		t.Errorf("Expected return of a foreign serial to be rejected")
	}
}

func TestCoordinator_ReturnQuantityBoundedByOriginal(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft()); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("2"), UnitPrice: d("260")},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	_, err = e.coord.CreateReturn(ctx, core.ReturnDraft{
		Kind:              core.InvoiceSaleReturn,
		OriginalInvoiceID: sale.ID,
		ReturnDate:        day("2026-03-05"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("3")},
		},
		CommitterName: "tester",
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError returning more than invoiced, got %v", err)
	}
}

func TestCoordinator_ReturnBoundedByPriorReturns(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft()); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("2"), UnitPrice: d("260")},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	returnOf := func(qty string) (*core.Invoice, error) {
		return e.coord.CreateReturn(ctx, core.ReturnDraft{
			Kind:              core.InvoiceSaleReturn,
			OriginalInvoiceID: sale.ID,
			ReturnDate:        day("2026-03-05"),
			Lines: []core.LineDraft{
				{ItemID: 1, Quantity: d(qty)},
			},
			CommitterName: "tester",
		})
	}

	if _, err := returnOf("2"); err != nil {
		t.Fatalf("Full return failed: %v", err)
	}

	// Everything has come back already; a second full return would hand out
	// goods that were never sold.
	_, err = returnOf("2")
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError returning beyond the remainder, got %v", err)
	}
	_, err = returnOf("1")
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError on any further return, got %v", err)
	}

	balance, err := e.balances.CurrentBalance(ctx, 3)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("0")) != 0 {
		t.Errorf("Balance after full return = %s, expected 0", balance)
	}
}

func TestCoordinator_ReturnRefundsOriginalLinePrices(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft()); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	// One item sold on two lines at different prices.
	sale, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260")},
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("240")},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Sale failed: %v", err)
	}
	if sale.Total.Cmp(d("500")) != 0 {
		t.Fatalf("Sale total = %s, expected 500", sale.Total)
	}

	returnOf := func(qty string) (*core.Invoice, error) {
		return e.coord.CreateReturn(ctx, core.ReturnDraft{
			Kind:              core.InvoiceSaleReturn,
			OriginalInvoiceID: sale.ID,
			ReturnDate:        day("2026-03-05"),
			Lines: []core.LineDraft{
				{ItemID: 1, Quantity: d(qty)},
			},
			CommitterName: "tester",
		})
	}

	// Units come back at the price each was sold for, original line order.
	first, err := returnOf("1")
	if err != nil {
		t.Fatalf("First return failed: %v", err)
	}
	if first.Total.Cmp(d("260")) != 0 {
		t.Errorf("First return total = %s, expected 260", first.Total)
	}
	second, err := returnOf("1")
	if err != nil {
		t.Fatalf("Second return failed: %v", err)
	}
	if second.Total.Cmp(d("240")) != 0 {
		t.Errorf("Second return total = %s, expected 240", second.Total)
	}

	balance, err := e.balances.CurrentBalance(ctx, 3)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("0")) != 0 {
		t.Errorf("Balance after both returns = %s, expected 0", balance)
	}
}

func TestCoordinator_ConcurrentSalesShareOneCreditLine(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	// Two sales of 800 each against a limit of 1000: individually fine,
	// jointly not. The party row lock must serialize them.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
				BranchID:    1,
				PartyID:     1, // credit limit 1000
				InvoiceDate: day("2026-03-02"),
				Lines: []core.LineDraft{
					{ItemID: 2, Quantity: d("1"), UnitPrice: d("800")},
				},
				CommitterName:      "tester",
				AllowNegativeStock: true,
			})
		}(i)
	}
	wg.Wait()

	var committed, rejected int
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		var exceeded *core.CreditLimitExceededError
		if !errors.As(err, &exceeded) {
			t.Fatalf("Expected CreditLimitExceededError for the losing sale, got %v", err)
		}
		rejected++
	}
	if committed != 1 || rejected != 1 {
		t.Fatalf("Expected exactly one committed and one rejected sale, got %d and %d", committed, rejected)
	}

	balance, err := e.balances.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("800")) != 0 {
		t.Errorf("Balance after concurrent sales = %s, expected 800", balance)
	}
	var invoices int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&invoices); err != nil {
		t.Fatalf("Failed to count invoices: %v", err)
	}
	if invoices != 1 {
		t.Errorf("Expected 1 committed invoice, found %d", invoices)
	}
}

func TestCoordinator_SaleRejectsSerialHeldElsewhere(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	var before int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&before); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}

	// The unit is in stock at branch 1; branch 2 cannot sell it.
	_, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    2,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260"), Serials: []string{"356938035643809"}},
		},
		CommitterName:      "tester",
		AllowNegativeStock: true,
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError selling a unit held at another branch, got %v", err)
	}

	var after int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&after); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}
	if after != before {
		t.Errorf("Rejected sale left movements behind: %d before, %d after", before, after)
	}
	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialInStock || rec.BranchID != 1 {
		t.Errorf("Expected serial untouched at branch 1, got %s at branch %d", rec.State, rec.BranchID)
	}
}

func TestCoordinator_TransferMovesStockAndSerials(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	transfer, err := e.coord.CreateStockTransfer(ctx, core.TransferDraft{
		FromBranchID: 1,
		ToBranchID:   2,
		TransferDate: day("2026-03-03"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if transfer.Number != "TR-B1-000001" {
		t.Errorf("Transfer number = %q, expected TR-B1-000001", transfer.Number)
	}

	from, err := e.stock.Balance(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	to, err := e.stock.Balance(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if from.Balance.Cmp(d("1")) != 0 || to.Balance.Cmp(d("1")) != 0 {
		t.Errorf("Expected 1 at each branch after transfer, got %s and %s", from.Balance, to.Balance)
	}

	// The unit is now in stock at the destination, visible in one place only.
	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialInStock || rec.BranchID != 2 {
		t.Errorf("Serial after transfer: %s at branch %d, expected in-stock at branch 2", rec.State, rec.BranchID)
	}

	// Transfers carry no party effect and are valued at the reference
	// purchase price on both sides.
	movements, err := e.ledger.Query(ctx, core.MovementFilter{Reference: transfer.Number})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("Expected paired out/in movements, got %d", len(movements))
	}
	for _, m := range movements {
		if m.PartyID != nil {
			t.Errorf("Transfer movement must not carry a party")
		}
		if m.Amount.Cmp(d("200")) != 0 {
			t.Errorf("Transfer movement amount = %s, expected 200", m.Amount)
		}
	}
}

func TestCoordinator_PaymentAndExpense(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: day("2026-03-01"),
		Lines: []core.LineDraft{
			{ItemID: 2, Quantity: d("1"), UnitPrice: d("500")},
		},
		CommitterName:      "tester",
		AllowNegativeStock: true,
	}); err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	entry, err := e.coord.RecordPayment(ctx, core.PaymentDraft{
		BranchID:      1,
		PartyID:       1,
		AccountID:     1,
		Direction:     "in",
		Amount:        d("200"),
		PaymentDate:   day("2026-03-05"),
		Reference:     "cash receipt",
		CommitterName: "tester",
	})
	if err != nil {
		t.Fatalf("Payment failed: %v", err)
	}
	if entry.SignedAmount.Cmp(d("-200")) != 0 {
		t.Errorf("Payment signed amount = %s, expected -200", entry.SignedAmount)
	}
	if entry.RunningBalance.Cmp(d("300")) != 0 {
		t.Errorf("Running balance after payment = %s, expected 300", entry.RunningBalance)
	}

	if _, err := e.coord.RecordExpense(ctx, core.ExpenseDraft{
		BranchID:      1,
		AccountID:     1,
		Amount:        d("75"),
		Category:      "rent",
		ExpenseDate:   day("2026-03-06"),
		CommitterName: "tester",
	}); err != nil {
		t.Fatalf("Expense failed: %v", err)
	}

	accountBalance, err := e.balances.AccountBalance(ctx, 1)
	if err != nil {
		t.Fatalf("AccountBalance failed: %v", err)
	}
	// 200 received - 75 spent
	if accountBalance.Cmp(d("125")) != 0 {
		t.Errorf("Account balance = %s, expected 125", accountBalance)
	}
}

func TestCoordinator_PaymentAndExpenseDedupReplay(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: day("2026-03-01"),
		Lines: []core.LineDraft{
			{ItemID: 2, Quantity: d("1"), UnitPrice: d("500")},
		},
		CommitterName:      "tester",
		AllowNegativeStock: true,
	}); err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	payment := core.PaymentDraft{
		BranchID:      1,
		PartyID:       1,
		AccountID:     1,
		Direction:     "in",
		Amount:        d("200"),
		PaymentDate:   day("2026-03-05"),
		Reference:     "cash receipt",
		CommitterName: "tester",
		DedupToken:    uuid.NewString(),
	}
	first, err := e.coord.RecordPayment(ctx, payment)
	if err != nil {
		t.Fatalf("Payment failed: %v", err)
	}
	replay, err := e.coord.RecordPayment(ctx, payment)
	if err != nil {
		t.Fatalf("Payment resubmission failed: %v", err)
	}
	if replay.MovementID != first.MovementID {
		t.Errorf("Expected resubmission to return the original movement, got %d and %d", first.MovementID, replay.MovementID)
	}

	var payments int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements WHERE kind = 'payment-in'").Scan(&payments); err != nil {
		t.Fatalf("Failed to count payment movements: %v", err)
	}
	if payments != 1 {
		t.Errorf("Expected exactly 1 payment movement after resubmission, found %d", payments)
	}
	balance, err := e.balances.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentBalance failed: %v", err)
	}
	if balance.Cmp(d("300")) != 0 {
		t.Errorf("Balance after replayed payment = %s, expected 300", balance)
	}

	expense := core.ExpenseDraft{
		BranchID:      1,
		AccountID:     1,
		Amount:        d("75"),
		Category:      "rent",
		ExpenseDate:   day("2026-03-06"),
		CommitterName: "tester",
		DedupToken:    uuid.NewString(),
	}
	firstExp, err := e.coord.RecordExpense(ctx, expense)
	if err != nil {
		t.Fatalf("Expense failed: %v", err)
	}
	replayExp, err := e.coord.RecordExpense(ctx, expense)
	if err != nil {
		t.Fatalf("Expense resubmission failed: %v", err)
	}
	if replayExp.ID != firstExp.ID {
		t.Errorf("Expected resubmission to return the original expense, got %d and %d", firstExp.ID, replayExp.ID)
	}

	accountBalance, err := e.balances.AccountBalance(ctx, 1)
	if err != nil {
		t.Fatalf("AccountBalance failed: %v", err)
	}
	if accountBalance.Cmp(d("125")) != 0 {
		t.Errorf("Account balance after replayed expense = %s, expected 125", accountBalance)
	}
}

func TestCoordinator_WarrantyFlow(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	e := newEngine(pool)
	ctx := context.Background()

	if _, err := e.coord.CreatePurchaseInvoice(ctx, purchaseDraft("356938035643809", "356938035643810")); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if _, err := e.coord.CreateSalesInvoice(ctx, core.InvoiceDraft{
		BranchID:    1,
		PartyID:     3,
		InvoiceDate: day("2026-03-02"),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("1"), UnitPrice: d("260"), Serials: []string{"356938035643809"}},
		},
		CommitterName: "tester",
	}); err != nil {
		t.Fatalf("Sale failed: %v", err)
	}

	var before int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&before); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}

	if err := e.coord.MarkWarranty(ctx, "356938035643809"); err != nil {
		t.Fatalf("MarkWarranty failed: %v", err)
	}
	rec, err := e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialWarranty {
		t.Errorf("Serial state = %s, expected warranty", rec.State)
	}

	if err := e.coord.ResolveWarranty(ctx, "356938035643809"); err != nil {
		t.Fatalf("ResolveWarranty failed: %v", err)
	}
	rec, err = e.imeis.Get(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("Get serial failed: %v", err)
	}
	if rec.State != core.SerialSold {
		t.Errorf("Serial state = %s, expected sold", rec.State)
	}

	// Warranty transitions are lifecycle-only: no ledger rows.
	var after int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements").Scan(&after); err != nil {
		t.Fatalf("Failed to count movements: %v", err)
	}
	if after != before {
		t.Errorf("Warranty transitions created %d movements, expected none", after-before)
	}

	// A unit still in stock has not been sold, so it cannot enter warranty.
	if err := e.coord.MarkWarranty(ctx, "356938035643810"); err == nil {
		t.Errorf("Expected warranty on an unsold unit to be rejected")
	}
}
