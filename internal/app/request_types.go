package app

// CreateInvoiceRequest is the input for committing a sales or purchase
// invoice. Date strings are YYYY-MM-DD; amounts and rates are decimal
// strings so adapters never round before the engine does.
type CreateInvoiceRequest struct {
	BranchID           int64
	PartyID            int64
	InvoiceDate        string
	Number             string // empty means "generate"
	Currency           string // empty means base currency
	FxRate             string // empty means 1
	Lines              []LineInput
	CommitterRole      string // "staff" or "admin"
	CommitterName      string
	DedupToken         string
	AllowNegativeStock bool
}

// LineInput is a single line within an invoice, return, or transfer request.
type LineInput struct {
	ItemID    int64
	Quantity  string
	UnitPrice string
	Serials   []string
}

// CreateReturnRequest is the input for a sale or purchase return. Kind is
// "sale-return" or "purchase-return". Unit prices are taken from the
// original invoice, so lines carry only items, quantities, and serials.
type CreateReturnRequest struct {
	Kind              string
	OriginalInvoiceID int64
	ReturnDate        string
	Lines             []LineInput
	CommitterRole     string
	CommitterName     string
	DedupToken        string
}

// CreateTransferRequest is the input for a branch-to-branch stock transfer.
type CreateTransferRequest struct {
	FromBranchID       int64
	ToBranchID         int64
	TransferDate       string
	Number             string
	Lines              []LineInput
	CommitterName      string
	DedupToken         string
	AllowNegativeStock bool
}

// RecordPaymentRequest is the input for recording a payment. Direction is
// "in" (money received) or "out" (money paid).
type RecordPaymentRequest struct {
	BranchID      int64
	PartyID       int64
	AccountID     int64
	Direction     string
	Amount        string
	PaymentDate   string
	Reference     string
	CommitterName string
	DedupToken    string
}

// RecordExpenseRequest is the input for recording a branch expense.
type RecordExpenseRequest struct {
	BranchID      int64
	AccountID     int64
	Amount        string
	Category      string
	ExpenseDate   string
	CommitterName string
	DedupToken    string
}

// ReverseInvoiceRequest is the input for reversing a committed invoice.
type ReverseInvoiceRequest struct {
	InvoiceID     int64
	CommitterRole string
	CommitterName string
	Reason        string
}

// CheckCreditRequest evaluates a hypothetical sale total against a
// customer's limit.
type CheckCreditRequest struct {
	PartyID       int64
	Amount        string
	CommitterRole string
}

// MovementQueryRequest filters the movement ledger. All fields are
// optional; dates are YYYY-MM-DD.
type MovementQueryRequest struct {
	BranchID  *int64
	ItemID    *int64
	PartyID   *int64
	AccountID *int64
	Kinds     []string
	FromDate  string
	ToDate    string
	Reference string
	Limit     int
}

// CreateBranchRequest is the input for registering a branch.
type CreateBranchRequest struct {
	Code      string
	Name      string
	IsDefault bool
}

// CreateItemRequest is the input for registering a stockable item.
type CreateItemRequest struct {
	Code             string
	Name             string
	Category         string
	PurchasePrice    string
	SellingPrice     string
	PurchaseCurrency string
	MinStock         string
}

// UpdateItemPricesRequest updates an item's reference prices.
type UpdateItemPricesRequest struct {
	ItemID        int64
	PurchasePrice string
	SellingPrice  string
}

// OpeningStockRequest seeds an (item, branch) opening quantity.
type OpeningStockRequest struct {
	ItemID        int64
	BranchID      int64
	Quantity      string
	CommitterName string
}

// CreatePartyRequest is the input for registering a party. Kind is
// "customer", "supplier", or "internal".
type CreatePartyRequest struct {
	Kind            string
	Name            string
	Phone           string
	Address         string
	CreditLimit     string
	OpeningBalance  string
	OpeningBranchID int64
	CommitterName   string
}

// CreateAccountRequest is the input for registering a cash/bank account.
type CreateAccountRequest struct {
	Code string
	Name string
	Kind string // "cash" or "bank"
}
