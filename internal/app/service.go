package app

import (
	"context"

	"retail-ledger/internal/core"
)

// ApplicationService is the single interface all adapters (Web, CLI) call.
// It decouples presentation from the ledger engine. Implementations must
// contain no display logic of any kind.
type ApplicationService interface {
	// CreateSalesInvoice commits a sales invoice: credit guard, stock
	// check, movement append, and IMEI claims in one atomic unit.
	CreateSalesInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error)

	// CreatePurchaseInvoice commits a purchase invoice, introducing any
	// attached serials into stock.
	CreatePurchaseInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error)

	// CreateReturn commits a sale or purchase return against an original
	// invoice.
	CreateReturn(ctx context.Context, req CreateReturnRequest) (*InvoiceResult, error)

	// CreateTransfer moves stock between branches as one atomic batch of
	// paired transfer-out/transfer-in movements.
	CreateTransfer(ctx context.Context, req CreateTransferRequest) (*TransferResult, error)

	// RecordPayment posts a payment between a party and a cash/bank account.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)

	// RecordExpense posts a branch expense against a cash/bank account.
	RecordExpense(ctx context.Context, req RecordExpenseRequest) (*ExpenseResult, error)

	// ReverseInvoice emits a compensating reversal for a committed invoice.
	ReverseInvoice(ctx context.Context, req ReverseInvoiceRequest) (*InvoiceResult, error)

	// GetInvoice returns an invoice with its lines and serials.
	GetInvoice(ctx context.Context, invoiceID int64) (*InvoiceResult, error)

	// GetStockBalance folds one (item, branch) stock position.
	GetStockBalance(ctx context.Context, itemID, branchID int64) (*core.StockBalance, error)

	// GetStockTotal sums an item's stock across all branches.
	GetStockTotal(ctx context.Context, itemID int64) (*core.StockBalance, error)

	// ListStockBalances lists stock positions with below-minimum flags,
	// optionally filtered by branch and/or item.
	ListStockBalances(ctx context.Context, branchID, itemID *int64) (*StockListResult, error)

	// GetStatement returns a party's chronological statement with running
	// balances. fromDate and toDate are optional (empty means unbounded).
	GetStatement(ctx context.Context, partyID int64, fromDate, toDate string) (*core.Statement, error)

	// GetPartyBalance returns a party's current running balance.
	GetPartyBalance(ctx context.Context, partyID int64) (*BalanceResult, error)

	// GetAccountBalance returns a cash/bank account's current balance.
	GetAccountBalance(ctx context.Context, accountID int64) (*BalanceResult, error)

	// CheckCredit evaluates a hypothetical sale against a customer's credit
	// limit without committing anything.
	CheckCredit(ctx context.Context, req CheckCreditRequest) (*core.CreditCheck, error)

	// QueryMovements returns ledger movements matching the filter, in
	// (movement_date, seq) order.
	QueryMovements(ctx context.Context, req MovementQueryRequest) (*MovementListResult, error)

	// GetIMEI returns the lifecycle record of one serialized unit.
	GetIMEI(ctx context.Context, serial string) (*core.IMEIRecord, error)

	// ListIMEIs lists serialized units by state, optionally per branch.
	ListIMEIs(ctx context.Context, state string, branchID *int64) (*IMEIListResult, error)

	// MarkWarranty moves a sold unit into warranty service.
	MarkWarranty(ctx context.Context, serial string) error

	// ResolveWarranty hands a repaired unit back to its customer.
	ResolveWarranty(ctx context.Context, serial string) error

	// CreateBranch registers a new branch.
	CreateBranch(ctx context.Context, req CreateBranchRequest) (*core.Branch, error)

	// ListBranches returns all branches.
	ListBranches(ctx context.Context) ([]core.Branch, error)

	// CreateItem registers a new stockable item.
	CreateItem(ctx context.Context, req CreateItemRequest) (*core.Item, error)

	// ListItems returns all items.
	ListItems(ctx context.Context) ([]core.Item, error)

	// UpdateItemPrices updates an item's reference prices.
	UpdateItemPrices(ctx context.Context, req UpdateItemPricesRequest) (*core.Item, error)

	// RecordOpeningStock seeds an (item, branch) pair's opening quantity.
	RecordOpeningStock(ctx context.Context, req OpeningStockRequest) error

	// CreateParty registers a customer, supplier, or internal party,
	// posting its opening balance to the ledger when present.
	CreateParty(ctx context.Context, req CreatePartyRequest) (*core.Party, error)

	// ListParties returns parties, optionally filtered by kind.
	ListParties(ctx context.Context, kind string) ([]core.Party, error)

	// SetCreditLimit updates a customer's credit limit.
	SetCreditLimit(ctx context.Context, partyID int64, limit string) (*core.Party, error)

	// CreateAccount registers a cash or bank account.
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*core.Account, error)

	// ListAccounts returns all cash/bank accounts.
	ListAccounts(ctx context.Context) ([]core.Account, error)
}
