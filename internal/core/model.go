package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Branch is a physical location. Every movement and every stock balance is
// scoped to exactly one branch.
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is a stockable product. Name and code are immutable once the item is
// referenced by movements; the price fields are mutable reference data only.
type Item struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	SellingPrice     decimal.Decimal `json:"selling_price"`
	PurchaseCurrency string          `json:"purchase_currency"`
	MinStock         decimal.Decimal `json:"min_stock"`
	CreatedAt        time.Time       `json:"created_at"`
}

type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
	PartyInternal PartyKind = "internal"
)

// Party is a customer, supplier, or internal account. CreditLimit applies to
// customers only and is a soft ceiling: zero means unlimited, and the limit
// is enforced at invoice-commit time, never by the schema.
type Party struct {
	ID          int64           `json:"id"`
	Kind        PartyKind       `json:"kind"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
)

// Account is a cash or bank account that payments and expenses post against.
type Account struct {
	ID        int64       `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Kind      AccountKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// Movement is the atomic ledger row: one unit of stock or financial effect.
// Movements are immutable once committed; corrections are new reversing
// movements carrying ReversalOf, never edits.
//
// Seq is a branch-scoped monotonic sequence assigned at commit time. Within
// one branch, (MovementDate, Seq) totally orders movements regardless of
// client-submitted timestamps.
type Movement struct {
	ID           int64            `json:"id"`
	BatchID      uuid.UUID        `json:"batch_id"`
	BranchID     int64            `json:"branch_id"`
	Seq          int64            `json:"seq"`
	ItemID       *int64           `json:"item_id,omitempty"`
	PartyID      *int64           `json:"party_id,omitempty"`
	AccountID    *int64           `json:"account_id,omitempty"`
	Kind         MovementKind     `json:"kind"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Amount       decimal.Decimal  `json:"amount"` // base currency, 3 decimals
	FxAmount     *decimal.Decimal `json:"fx_amount,omitempty"`
	FxCurrency   *string          `json:"fx_currency,omitempty"`
	FxRate       *decimal.Decimal `json:"fx_rate,omitempty"`
	MovementDate time.Time        `json:"movement_date"`
	Reference    string           `json:"reference"`
	ReversalOf   *int64           `json:"reversal_of,omitempty"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
}

// MovementInput is one row of a ledger append batch. Branch, kind, and date
// are required; the store assigns ID, BatchID, Seq, and CreatedAt. DedupKey,
// when set, makes the row an idempotency anchor: a second insert with the
// same key fails on the unique constraint instead of double-posting.
type MovementInput struct {
	BranchID     int64
	ItemID       *int64
	PartyID      *int64
	AccountID    *int64
	Kind         MovementKind
	Quantity     decimal.Decimal
	Amount       decimal.Decimal
	FxAmount     *decimal.Decimal
	FxCurrency   *string
	FxRate       *decimal.Decimal
	MovementDate time.Time
	Reference    string
	ReversalOf   *int64
	DedupKey     *string
	CreatedBy    string
}

type InvoiceKind string

const (
	InvoiceSale           InvoiceKind = "sale"
	InvoicePurchase       InvoiceKind = "purchase"
	InvoiceSaleReturn     InvoiceKind = "sale-return"
	InvoicePurchaseReturn InvoiceKind = "purchase-return"
)

// Invoice is the header/detail representation that generates movements on
// commit. A header with zero valid lines is rejected before posting.
type Invoice struct {
	ID              int64           `json:"id"`
	Kind            InvoiceKind     `json:"kind"`
	Number          string          `json:"number"`
	BranchID        int64           `json:"branch_id"`
	PartyID         int64           `json:"party_id"`
	InvoiceDate     time.Time       `json:"invoice_date"`
	Currency        string          `json:"currency"`
	FxRate          decimal.Decimal `json:"fx_rate"`
	Total           decimal.Decimal `json:"total"` // base currency
	LimitOverridden bool            `json:"limit_overridden"`
	ReversedBy      *int64          `json:"reversed_by,omitempty"`
	ReversalOf      *int64          `json:"reversal_of,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []InvoiceLine   `json:"lines"`
}

type InvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ItemID    int64           `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Serials   []string        `json:"serials,omitempty"`
}

// Transfer moves stock between two branches as a paired
// transfer-out/transfer-in movement batch.
type Transfer struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	FromBranchID int64          `json:"from_branch_id"`
	ToBranchID   int64          `json:"to_branch_id"`
	TransferDate time.Time      `json:"transfer_date"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	Lines        []TransferLine `json:"lines"`
}

type TransferLine struct {
	ID         int64           `json:"id"`
	TransferID int64           `json:"transfer_id"`
	ItemID     int64           `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Serials    []string        `json:"serials,omitempty"`
}

// AccountEntry is a movement viewed through the party balance engine.
// RunningBalance is the party's cumulative balance after this entry; the
// ordering key is (MovementDate, Seq), ties broken by insertion order only.
type AccountEntry struct {
	MovementID     int64           `json:"movement_id"`
	BranchID       int64           `json:"branch_id"`
	Seq            int64           `json:"seq"`
	Kind           MovementKind    `json:"kind"`
	MovementDate   time.Time       `json:"movement_date"`
	Reference      string          `json:"reference"`
	Amount         decimal.Decimal `json:"amount"`         // unsigned base amount
	SignedAmount   decimal.Decimal `json:"signed_amount"`  // Amount with the kind's fixed sign
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// Statement is an ordered slice of a party's ledger with running balances.
// Opening seeds the fold: the balance of all entries strictly before the
// requested range.
type Statement struct {
	PartyID int64           `json:"party_id"`
	From    *time.Time      `json:"from,omitempty"`
	To      *time.Time      `json:"to,omitempty"`
	Opening decimal.Decimal `json:"opening_balance"`
	Entries []AccountEntry  `json:"entries"`
	Closing decimal.Decimal `json:"closing_balance"`
}

// StockBalance is the derived stock position of one (item, branch) pair.
// Balance = Opening + Purchased − Sold. A negative balance is a diagnostic
// (oversold) and is surfaced, never clamped to zero.
type StockBalance struct {
	ItemID    int64           `json:"item_id"`
	BranchID  int64           `json:"branch_id"`
	Opening   decimal.Decimal `json:"opening_stock"`
	Purchased decimal.Decimal `json:"purchased"` // all in-kind quantity
	Sold      decimal.Decimal `json:"sold"`      // all out-kind quantity
	Balance   decimal.Decimal `json:"balance"`
}

// BalanceRow is one row of a stock balance listing, joined with item
// reference data so callers can flag items below their minimum stock.
type BalanceRow struct {
	ItemID    int64           `json:"item_id"`
	ItemCode  string          `json:"item_code"`
	ItemName  string          `json:"item_name"`
	BranchID  int64           `json:"branch_id"`
	Opening   decimal.Decimal `json:"opening_stock"`
	Purchased decimal.Decimal `json:"purchased"`
	Sold      decimal.Decimal `json:"sold"`
	Balance   decimal.Decimal `json:"balance"`
	MinStock  decimal.Decimal `json:"min_stock"`
	BelowMin  bool            `json:"below_min"`
}

// CreditCheck is the credit limit guard's verdict for one proposed sale.
type CreditCheck struct {
	Allowed          bool            `json:"allowed"`
	ProjectedBalance decimal.Decimal `json:"projected_balance"`
	Limit            decimal.Decimal `json:"limit"`
	Overridden       bool            `json:"overridden"`
}

// IMEIRecord is the current lifecycle position of one serialized unit. The
// serial is globally unique: it is the primary key of the record.
type IMEIRecord struct {
	Serial     string      `json:"serial"`
	State      SerialState `json:"state"`
	BranchID   int64       `json:"branch_id"`
	MovementID int64       `json:"movement_id"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
