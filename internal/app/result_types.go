package app

import (
	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

// InvoiceResult is returned by invoice commit, return, and reversal
// operations.
type InvoiceResult struct {
	Invoice *core.Invoice
}

// TransferResult is returned by CreateTransfer.
type TransferResult struct {
	Transfer *core.Transfer
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Entry *core.AccountEntry
}

// ExpenseResult is returned by RecordExpense.
type ExpenseResult struct {
	Movement *core.Movement
}

// StockListResult is returned by ListStockBalances.
type StockListResult struct {
	Rows []core.BalanceRow
}

// BalanceResult is returned by GetPartyBalance and GetAccountBalance.
type BalanceResult struct {
	ID      int64
	Balance decimal.Decimal
}

// MovementListResult is returned by QueryMovements.
type MovementListResult struct {
	Movements []core.Movement
}

// IMEIListResult is returned by ListIMEIs.
type IMEIListResult struct {
	Records []core.IMEIRecord
}
