package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

type appService struct {
	coordinator *core.Coordinator
	ledger      core.LedgerStore
	stock       core.StockService
	balances    core.PartyBalanceService
	imeis       core.IMEITracker
	master      core.MasterService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	coordinator *core.Coordinator,
	ledger core.LedgerStore,
	stock core.StockService,
	balances core.PartyBalanceService,
	imeis core.IMEITracker,
	master core.MasterService,
) ApplicationService {
	return &appService{
		coordinator: coordinator,
		ledger:      ledger,
		stock:       stock,
		balances:    balances,
		imeis:       imeis,
		master:      master,
	}
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: field, Reason: fmt.Sprintf("invalid decimal %q", s)}
	}
	return d, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &core.ValidationError{Field: field, Reason: "date is required"}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: field, Reason: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return t, nil
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseRole(s string) core.CommitterRole {
	if s == string(core.RoleAdmin) {
		return core.RoleAdmin
	}
	return core.RoleStaff
}

func toLineDrafts(lines []LineInput) ([]core.LineDraft, error) {
	drafts := make([]core.LineDraft, 0, len(lines))
	for i, line := range lines {
		qty, err := parseDecimal(fmt.Sprintf("lines[%d].quantity", i), line.Quantity)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal(fmt.Sprintf("lines[%d].unit_price", i), line.UnitPrice)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, core.LineDraft{
			ItemID:    line.ItemID,
			Quantity:  qty,
			UnitPrice: price,
			Serials:   line.Serials,
		})
	}
	return drafts, nil
}

func (s *appService) toInvoiceDraft(req CreateInvoiceRequest) (core.InvoiceDraft, error) {
	date, err := parseDate("invoice_date", req.InvoiceDate)
	if err != nil {
		return core.InvoiceDraft{}, err
	}
	fxRate, err := parseDecimal("fx_rate", req.FxRate)
	if err != nil {
		return core.InvoiceDraft{}, err
	}
	lines, err := toLineDrafts(req.Lines)
	if err != nil {
		return core.InvoiceDraft{}, err
	}
	return core.InvoiceDraft{
		BranchID:           req.BranchID,
		PartyID:            req.PartyID,
		InvoiceDate:        date,
		Number:             req.Number,
		Currency:           req.Currency,
		FxRate:             fxRate,
		Lines:              lines,
		CommitterRole:      parseRole(req.CommitterRole),
		CommitterName:      req.CommitterName,
		DedupToken:         req.DedupToken,
		AllowNegativeStock: req.AllowNegativeStock,
	}, nil
}

func (s *appService) CreateSalesInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	draft, err := s.toInvoiceDraft(req)
	if err != nil {
		return nil, err
	}
	inv, err := s.coordinator.CreateSalesInvoice(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) CreatePurchaseInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	draft, err := s.toInvoiceDraft(req)
	if err != nil {
		return nil, err
	}
	inv, err := s.coordinator.CreatePurchaseInvoice(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) CreateReturn(ctx context.Context, req CreateReturnRequest) (*InvoiceResult, error) {
	date, err := parseDate("return_date", req.ReturnDate)
	if err != nil {
		return nil, err
	}
	lines, err := toLineDrafts(req.Lines)
	if err != nil {
		return nil, err
	}
	inv, err := s.coordinator.CreateReturn(ctx, core.ReturnDraft{
		Kind:              core.InvoiceKind(req.Kind),
		OriginalInvoiceID: req.OriginalInvoiceID,
		Lines:             lines,
		ReturnDate:        date,
		CommitterRole:     parseRole(req.CommitterRole),
		CommitterName:     req.CommitterName,
		DedupToken:        req.DedupToken,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*TransferResult, error) {
	date, err := parseDate("transfer_date", req.TransferDate)
	if err != nil {
		return nil, err
	}
	lines, err := toLineDrafts(req.Lines)
	if err != nil {
		return nil, err
	}
	transfer, err := s.coordinator.CreateStockTransfer(ctx, core.TransferDraft{
		FromBranchID:       req.FromBranchID,
		ToBranchID:         req.ToBranchID,
		TransferDate:       date,
		Number:             req.Number,
		Lines:              lines,
		CommitterName:      req.CommitterName,
		DedupToken:         req.DedupToken,
		AllowNegativeStock: req.AllowNegativeStock,
	})
	if err != nil {
		return nil, err
	}
	return &TransferResult{Transfer: transfer}, nil
}

func (s *appService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	entry, err := s.coordinator.RecordPayment(ctx, core.PaymentDraft{
		BranchID:      req.BranchID,
		PartyID:       req.PartyID,
		AccountID:     req.AccountID,
		Direction:     req.Direction,
		Amount:        amount,
		PaymentDate:   date,
		Reference:     req.Reference,
		CommitterName: req.CommitterName,
		DedupToken:    req.DedupToken,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Entry: entry}, nil
}

func (s *appService) RecordExpense(ctx context.Context, req RecordExpenseRequest) (*ExpenseResult, error) {
	date, err := parseDate("expense_date", req.ExpenseDate)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	movement, err := s.coordinator.RecordExpense(ctx, core.ExpenseDraft{
		BranchID:      req.BranchID,
		AccountID:     req.AccountID,
		Amount:        amount,
		Category:      req.Category,
		ExpenseDate:   date,
		CommitterName: req.CommitterName,
		DedupToken:    req.DedupToken,
	})
	if err != nil {
		return nil, err
	}
	return &ExpenseResult{Movement: movement}, nil
}

func (s *appService) ReverseInvoice(ctx context.Context, req ReverseInvoiceRequest) (*InvoiceResult, error) {
	inv, err := s.coordinator.ReverseInvoice(ctx, req.InvoiceID, parseRole(req.CommitterRole), req.CommitterName, req.Reason)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) GetInvoice(ctx context.Context, invoiceID int64) (*InvoiceResult, error) {
	inv, err := s.coordinator.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) GetStockBalance(ctx context.Context, itemID, branchID int64) (*core.StockBalance, error) {
	return s.stock.Balance(ctx, itemID, branchID)
}

func (s *appService) GetStockTotal(ctx context.Context, itemID int64) (*core.StockBalance, error) {
	return s.stock.Total(ctx, itemID)
}

func (s *appService) ListStockBalances(ctx context.Context, branchID, itemID *int64) (*StockListResult, error) {
	rows, err := s.stock.Balances(ctx, branchID, itemID)
	if err != nil {
		return nil, err
	}
	return &StockListResult{Rows: rows}, nil
}

func (s *appService) GetStatement(ctx context.Context, partyID int64, fromDate, toDate string) (*core.Statement, error) {
	from, err := parseOptionalDate("from", fromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseOptionalDate("to", toDate)
	if err != nil {
		return nil, err
	}
	return s.balances.Statement(ctx, partyID, from, to)
}

func (s *appService) GetPartyBalance(ctx context.Context, partyID int64) (*BalanceResult, error) {
	balance, err := s.balances.CurrentBalance(ctx, partyID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{ID: partyID, Balance: balance}, nil
}

func (s *appService) GetAccountBalance(ctx context.Context, accountID int64) (*BalanceResult, error) {
	balance, err := s.balances.AccountBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{ID: accountID, Balance: balance}, nil
}

// CheckCredit is advisory: it reads the current balance without locking, so
// the verdict can go stale. The binding check happens at invoice commit.
func (s *appService) CheckCredit(ctx context.Context, req CheckCreditRequest) (*core.CreditCheck, error) {
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	party, err := s.master.GetParty(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	if party.Kind != core.PartyCustomer {
		return nil, &core.ValidationError{Field: "party", Reason: fmt.Sprintf("party %d is not a customer", req.PartyID)}
	}
	current, err := s.balances.CurrentBalance(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	check := core.EvaluateCredit(current, amount, party.CreditLimit, parseRole(req.CommitterRole).IsAdmin())
	return &check, nil
}

func (s *appService) QueryMovements(ctx context.Context, req MovementQueryRequest) (*MovementListResult, error) {
	from, err := parseOptionalDate("from", req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseOptionalDate("to", req.ToDate)
	if err != nil {
		return nil, err
	}
	kinds := make([]core.MovementKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind, err := core.ParseMovementKind(k)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	movements, err := s.ledger.Query(ctx, core.MovementFilter{
		BranchID:  req.BranchID,
		ItemID:    req.ItemID,
		PartyID:   req.PartyID,
		AccountID: req.AccountID,
		Kinds:     kinds,
		From:      from,
		To:        to,
		Reference: req.Reference,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &MovementListResult{Movements: movements}, nil
}

func (s *appService) GetIMEI(ctx context.Context, serial string) (*core.IMEIRecord, error) {
	return s.imeis.Get(ctx, serial)
}

func (s *appService) ListIMEIs(ctx context.Context, state string, branchID *int64) (*IMEIListResult, error) {
	records, err := s.imeis.ListByState(ctx, core.SerialState(state), branchID)
	if err != nil {
		return nil, err
	}
	return &IMEIListResult{Records: records}, nil
}

func (s *appService) MarkWarranty(ctx context.Context, serial string) error {
	return s.coordinator.MarkWarranty(ctx, serial)
}

func (s *appService) ResolveWarranty(ctx context.Context, serial string) error {
	return s.coordinator.ResolveWarranty(ctx, serial)
}

func (s *appService) CreateBranch(ctx context.Context, req CreateBranchRequest) (*core.Branch, error) {
	return s.master.CreateBranch(ctx, core.BranchInput{
		Code:      req.Code,
		Name:      req.Name,
		IsDefault: req.IsDefault,
	})
}

func (s *appService) ListBranches(ctx context.Context) ([]core.Branch, error) {
	return s.master.ListBranches(ctx)
}

func (s *appService) CreateItem(ctx context.Context, req CreateItemRequest) (*core.Item, error) {
	purchase, err := parseDecimal("purchase_price", req.PurchasePrice)
	if err != nil {
		return nil, err
	}
	selling, err := parseDecimal("selling_price", req.SellingPrice)
	if err != nil {
		return nil, err
	}
	minStock, err := parseDecimal("min_stock", req.MinStock)
	if err != nil {
		return nil, err
	}
	return s.master.CreateItem(ctx, core.ItemInput{
		Code:             req.Code,
		Name:             req.Name,
		Category:         req.Category,
		PurchasePrice:    purchase,
		SellingPrice:     selling,
		PurchaseCurrency: req.PurchaseCurrency,
		MinStock:         minStock,
	})
}

func (s *appService) ListItems(ctx context.Context) ([]core.Item, error) {
	return s.master.ListItems(ctx)
}

func (s *appService) UpdateItemPrices(ctx context.Context, req UpdateItemPricesRequest) (*core.Item, error) {
	purchase, err := parseDecimal("purchase_price", req.PurchasePrice)
	if err != nil {
		return nil, err
	}
	selling, err := parseDecimal("selling_price", req.SellingPrice)
	if err != nil {
		return nil, err
	}
	return s.master.UpdateItemPrices(ctx, req.ItemID, purchase, selling)
}

func (s *appService) RecordOpeningStock(ctx context.Context, req OpeningStockRequest) error {
	qty, err := parseDecimal("quantity", req.Quantity)
	if err != nil {
		return err
	}
	return s.master.RecordOpeningStock(ctx, req.ItemID, req.BranchID, qty, req.CommitterName)
}

func (s *appService) CreateParty(ctx context.Context, req CreatePartyRequest) (*core.Party, error) {
	limit, err := parseDecimal("credit_limit", req.CreditLimit)
	if err != nil {
		return nil, err
	}
	opening, err := parseDecimal("opening_balance", req.OpeningBalance)
	if err != nil {
		return nil, err
	}
	return s.master.CreateParty(ctx, core.PartyInput{
		Kind:            core.PartyKind(req.Kind),
		Name:            req.Name,
		Phone:           req.Phone,
		Address:         req.Address,
		CreditLimit:     limit,
		OpeningBalance:  opening,
		OpeningBranchID: req.OpeningBranchID,
		CreatedBy:       req.CommitterName,
	})
}

func (s *appService) ListParties(ctx context.Context, kind string) ([]core.Party, error) {
	var filter *core.PartyKind
	if kind != "" {
		k := core.PartyKind(kind)
		filter = &k
	}
	return s.master.ListParties(ctx, filter)
}

func (s *appService) SetCreditLimit(ctx context.Context, partyID int64, limit string) (*core.Party, error) {
	d, err := parseDecimal("credit_limit", limit)
	if err != nil {
		return nil, err
	}
	return s.master.SetCreditLimit(ctx, partyID, d)
}

func (s *appService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*core.Account, error) {
	return s.master.CreateAccount(ctx, core.AccountInput{
		Code: req.Code,
		Name: req.Name,
		Kind: core.AccountKind(req.Kind),
	})
}

func (s *appService) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.master.ListAccounts(ctx)
}
