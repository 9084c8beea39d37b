package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CommitterRole gates the admin-only overrides (credit limit, negative
// stock). It is always an explicit parameter threaded through the
// coordinator, never ambient state.
type CommitterRole string

const (
	RoleStaff CommitterRole = "staff"
	RoleAdmin CommitterRole = "admin"
)

func (r CommitterRole) IsAdmin() bool { return r == RoleAdmin }

// LineDraft is one proposed invoice or transfer line. UnitPrice is in the
// document currency; base-currency totals are derived at validation time.
type LineDraft struct {
	ItemID    int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Serials   []string
}

// InvoiceDraft is a proposed sale or purchase before it enters the
// coordinator's Validated state.
type InvoiceDraft struct {
	Kind          InvoiceKind
	BranchID      int64
	PartyID       int64
	InvoiceDate   time.Time
	Number        string
	Currency      string
	FxRate        decimal.Decimal
	Lines         []LineDraft
	CommitterRole CommitterRole
	CommitterName string
	// DedupToken is the caller-supplied idempotency token; re-submitting
	// a committed token returns the original invoice.
	DedupToken string
	// AllowNegativeStock lets an admin commit an oversell explicitly.
	AllowNegativeStock bool
}

// Normalize cleans up caller formatting before validation.
func (d *InvoiceDraft) Normalize() {
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if d.Currency == "" {
		d.Currency = BaseCurrency
	}
	d.Number = strings.TrimSpace(d.Number)
	d.DedupToken = strings.TrimSpace(d.DedupToken)
	if d.FxRate.IsZero() {
		d.FxRate = decimal.NewFromInt(1)
	}
	if d.CommitterRole == "" {
		d.CommitterRole = RoleStaff
	}
	for i := range d.Lines {
		for j, s := range d.Lines[i].Serials {
			d.Lines[i].Serials[j] = strings.TrimSpace(s)
		}
	}
}

// Validate enforces the structural rules of the Validated state: a header
// with zero valid lines is rejected, quantities must be positive, serials
// must be well formed and unique within the document. Entity existence is
// checked later, inside the posting transaction.
func (d *InvoiceDraft) Validate() error {
	if d.BranchID == 0 {
		return &ValidationError{Field: "branch", Reason: "invoice must specify a branch"}
	}
	if d.PartyID == 0 {
		return &ValidationError{Field: "party", Reason: "invoice must specify a party"}
	}
	if d.InvoiceDate.IsZero() {
		return &ValidationError{Field: "date", Reason: "invoice must specify a date"}
	}
	if len(d.Currency) != 3 {
		return validationErrorf("currency", "invalid currency code %q", d.Currency)
	}
	if !d.FxRate.IsPositive() {
		return validationErrorf("fx_rate", "exchange rate must be > 0, got %s", d.FxRate)
	}
	if len(d.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "invoice must have at least one line"}
	}

	serialsPerLine := make([][]string, 0, len(d.Lines))
	for i, line := range d.Lines {
		if line.ItemID == 0 {
			return validationErrorf("lines", "line %d has no item", i+1)
		}
		if !line.Quantity.IsPositive() {
			return validationErrorf("lines", "line %d quantity must be positive, got %s", i+1, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return validationErrorf("lines", "line %d unit price cannot be negative", i+1)
		}
		if len(line.Serials) > 0 {
			if !line.Quantity.Equal(decimal.NewFromInt(int64(len(line.Serials)))) {
				return validationErrorf("lines", "line %d has %d serials for quantity %s", i+1, len(line.Serials), line.Quantity)
			}
			for _, s := range line.Serials {
				if err := ValidateSerial(s); err != nil {
					return err
				}
			}
			serialsPerLine = append(serialsPerLine, line.Serials)
		}
	}
	if dup := duplicateSerialInLines(serialsPerLine); dup != "" {
		return validationErrorf("serials", "serial %s appears more than once in the invoice", dup)
	}
	return nil
}

// LineTotal is the base-currency total of one line, rounded once.
func (d *InvoiceDraft) LineTotal(line LineDraft) decimal.Decimal {
	return BaseAmount(line.Quantity.Mul(line.UnitPrice), d.FxRate)
}

// Total is the base-currency invoice total: the sum of rounded line totals,
// so header and lines can never disagree by a rounding remainder.
func (d *InvoiceDraft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(d.LineTotal(line))
	}
	return total
}

// ReturnDraft proposes a sale or purchase return against an original
// invoice. Lines must be a subset of the original's lines.
type ReturnDraft struct {
	Kind              InvoiceKind // InvoiceSaleReturn or InvoicePurchaseReturn
	OriginalInvoiceID int64
	Lines             []LineDraft
	ReturnDate        time.Time
	CommitterRole     CommitterRole
	CommitterName     string
	DedupToken        string
}

func (d *ReturnDraft) Validate() error {
	if d.Kind != InvoiceSaleReturn && d.Kind != InvoicePurchaseReturn {
		return validationErrorf("kind", "invalid return kind %q", d.Kind)
	}
	if d.OriginalInvoiceID == 0 {
		return &ValidationError{Field: "original_invoice", Reason: "return must reference the original invoice"}
	}
	if d.ReturnDate.IsZero() {
		return &ValidationError{Field: "date", Reason: "return must specify a date"}
	}
	if len(d.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "return must have at least one line"}
	}
	serialsPerLine := make([][]string, 0, len(d.Lines))
	for i, line := range d.Lines {
		if line.ItemID == 0 {
			return validationErrorf("lines", "line %d has no item", i+1)
		}
		if !line.Quantity.IsPositive() {
			return validationErrorf("lines", "line %d quantity must be positive, got %s", i+1, line.Quantity)
		}
		for _, s := range line.Serials {
			if err := ValidateSerial(s); err != nil {
				return err
			}
		}
		if len(line.Serials) > 0 {
			serialsPerLine = append(serialsPerLine, line.Serials)
		}
	}
	if dup := duplicateSerialInLines(serialsPerLine); dup != "" {
		return validationErrorf("serials", "serial %s appears more than once in the return", dup)
	}
	return nil
}

// TransferDraft proposes a stock transfer between two branches.
type TransferDraft struct {
	FromBranchID       int64
	ToBranchID         int64
	TransferDate       time.Time
	Number             string
	Lines              []LineDraft
	CommitterRole      CommitterRole
	CommitterName      string
	DedupToken         string
	AllowNegativeStock bool
}

func (d *TransferDraft) Validate() error {
	if d.FromBranchID == 0 || d.ToBranchID == 0 {
		return &ValidationError{Field: "branch", Reason: "transfer must specify both branches"}
	}
	if d.FromBranchID == d.ToBranchID {
		return &ValidationError{Field: "branch", Reason: "transfer branches must differ"}
	}
	if d.TransferDate.IsZero() {
		return &ValidationError{Field: "date", Reason: "transfer must specify a date"}
	}
	if len(d.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "transfer must have at least one line"}
	}
	serialsPerLine := make([][]string, 0, len(d.Lines))
	for i, line := range d.Lines {
		if line.ItemID == 0 {
			return validationErrorf("lines", "line %d has no item", i+1)
		}
		if !line.Quantity.IsPositive() {
			return validationErrorf("lines", "line %d quantity must be positive, got %s", i+1, line.Quantity)
		}
		if len(line.Serials) > 0 {
			if !line.Quantity.Equal(decimal.NewFromInt(int64(len(line.Serials)))) {
				return validationErrorf("lines", "line %d has %d serials for quantity %s", i+1, len(line.Serials), line.Quantity)
			}
			for _, s := range line.Serials {
				if err := ValidateSerial(s); err != nil {
					return err
				}
			}
			serialsPerLine = append(serialsPerLine, line.Serials)
		}
	}
	if dup := duplicateSerialInLines(serialsPerLine); dup != "" {
		return validationErrorf("serials", "serial %s appears more than once in the transfer", dup)
	}
	return nil
}

// PaymentDraft records money received from or paid to a party through a
// cash/bank account.
type PaymentDraft struct {
	BranchID      int64
	PartyID       int64
	AccountID     int64
	Direction     string // "in" or "out"
	Amount        decimal.Decimal
	PaymentDate   time.Time
	Reference     string
	CommitterName string
	DedupToken    string
}

func (d *PaymentDraft) Validate() error {
	if d.BranchID == 0 {
		return &ValidationError{Field: "branch", Reason: "payment must specify a branch"}
	}
	if d.PartyID == 0 {
		return &ValidationError{Field: "party", Reason: "payment must specify a party"}
	}
	if d.AccountID == 0 {
		return &ValidationError{Field: "account", Reason: "payment must specify an account"}
	}
	if d.Direction != "in" && d.Direction != "out" {
		return validationErrorf("direction", "direction must be \"in\" or \"out\", got %q", d.Direction)
	}
	if !d.Amount.IsPositive() {
		return validationErrorf("amount", "payment amount must be positive, got %s", d.Amount)
	}
	if d.PaymentDate.IsZero() {
		return &ValidationError{Field: "date", Reason: "payment must specify a date"}
	}
	return nil
}

// ExpenseDraft records a branch expense paid from a cash/bank account.
type ExpenseDraft struct {
	BranchID      int64
	AccountID     int64
	Amount        decimal.Decimal
	Category      string
	ExpenseDate   time.Time
	CommitterName string
	DedupToken    string
}

func (d *ExpenseDraft) Validate() error {
	if d.BranchID == 0 {
		return &ValidationError{Field: "branch", Reason: "expense must specify a branch"}
	}
	if d.AccountID == 0 {
		return &ValidationError{Field: "account", Reason: "expense must specify an account"}
	}
	if !d.Amount.IsPositive() {
		return validationErrorf("amount", "expense amount must be positive, got %s", d.Amount)
	}
	if d.Category == "" {
		return &ValidationError{Field: "category", Reason: "expense must specify a category"}
	}
	if d.ExpenseDate.IsZero() {
		return &ValidationError{Field: "date", Reason: "expense must specify a date"}
	}
	return nil
}
