package core

import "fmt"

// MovementKind classifies a ledger row. The kind alone fixes the stock
// direction and the debit/credit sign — signs are never inferred from the
// amount's sign.
type MovementKind string

const (
	KindPurchase       MovementKind = "purchase"
	KindSale           MovementKind = "sale"
	KindSaleReturn     MovementKind = "sale-return"
	KindPurchaseReturn MovementKind = "purchase-return"
	KindTransferOut    MovementKind = "transfer-out"
	KindTransferIn     MovementKind = "transfer-in"
	KindPaymentIn      MovementKind = "payment-in"
	KindPaymentOut     MovementKind = "payment-out"
	KindExpense        MovementKind = "expense"
	KindDiscount       MovementKind = "discount"
	KindOpeningBalance MovementKind = "opening-balance"
)

// AllMovementKinds lists every valid kind, for validation and query filters.
var AllMovementKinds = []MovementKind{
	KindPurchase, KindSale, KindSaleReturn, KindPurchaseReturn,
	KindTransferOut, KindTransferIn, KindPaymentIn, KindPaymentOut,
	KindExpense, KindDiscount, KindOpeningBalance,
}

// ParseMovementKind validates a kind string.
func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(s)
	for _, valid := range AllMovementKinds {
		if k == valid {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown movement kind %q", s)
}

// IsStockIn reports whether the kind increases on-hand quantity at its
// branch. Opening-balance rows with an item are counted separately as
// opening stock, not as purchases.
func (k MovementKind) IsStockIn() bool {
	switch k {
	case KindPurchase, KindTransferIn, KindSaleReturn:
		return true
	}
	return false
}

// IsStockOut reports whether the kind decreases on-hand quantity.
func (k MovementKind) IsStockOut() bool {
	switch k {
	case KindSale, KindTransferOut, KindPurchaseReturn:
		return true
	}
	return false
}

// PartySign is the fixed sign a kind contributes to a party's running
// balance: sales and purchases owed by/to the party increase it, payments
// and returns decrease it. Zero means the kind never touches a party
// balance.
func (k MovementKind) PartySign() int {
	switch k {
	case KindSale, KindPurchase, KindOpeningBalance:
		return 1
	case KindPaymentIn, KindPaymentOut, KindSaleReturn, KindPurchaseReturn, KindDiscount:
		return -1
	}
	return 0
}

// AccountSign is the fixed sign a kind contributes to a cash/bank account
// balance: money received increases it, money paid out decreases it.
func (k MovementKind) AccountSign() int {
	switch k {
	case KindPaymentIn, KindOpeningBalance:
		return 1
	case KindPaymentOut, KindExpense:
		return -1
	}
	return 0
}
