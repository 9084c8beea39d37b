package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// MasterService manages the reference tables that movements hang off:
// branches, items, parties, and cash/bank accounts. Opening balances are
// never stored as columns here; they become opening-balance movements so
// every balance stays a pure fold over the ledger.
type MasterService interface {
	CreateBranch(ctx context.Context, input BranchInput) (*Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)

	CreateItem(ctx context.Context, input ItemInput) (*Item, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	UpdateItemPrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal) (*Item, error)
	RecordOpeningStock(ctx context.Context, itemID, branchID int64, quantity decimal.Decimal, createdBy string) error

	CreateParty(ctx context.Context, input PartyInput) (*Party, error)
	GetParty(ctx context.Context, partyID int64) (*Party, error)
	ListParties(ctx context.Context, kind *PartyKind) ([]Party, error)
	SetCreditLimit(ctx context.Context, partyID int64, limit decimal.Decimal) (*Party, error)

	CreateAccount(ctx context.Context, input AccountInput) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
}

type BranchInput struct {
	Code      string
	Name      string
	IsDefault bool
}

type ItemInput struct {
	Code             string
	Name             string
	Category         string
	PurchasePrice    decimal.Decimal
	SellingPrice     decimal.Decimal
	PurchaseCurrency string
	MinStock         decimal.Decimal
}

type PartyInput struct {
	Kind        PartyKind
	Name        string
	Phone       string
	Address     string
	CreditLimit decimal.Decimal
	// OpeningBalance, when non-zero, is posted as an opening-balance
	// movement at OpeningBranchID in the same transaction as the insert.
	OpeningBalance  decimal.Decimal
	OpeningBranchID int64
	CreatedBy       string
}

type AccountInput struct {
	Code string
	Name string
	Kind AccountKind
}

type masterService struct {
	pool   *pgxpool.Pool
	ledger LedgerStore
}

func NewMasterService(pool *pgxpool.Pool, ledger LedgerStore) MasterService {
	return &masterService{pool: pool, ledger: ledger}
}

func (s *masterService) CreateBranch(ctx context.Context, input BranchInput) (*Branch, error) {
	if input.Code == "" || input.Name == "" {
		return nil, &ValidationError{Field: "branch", Reason: "branch must have a code and a name"}
	}
	branch := Branch{Code: input.Code, Name: input.Name, IsDefault: input.IsDefault}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO branches (code, name, is_default) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, input.Code, input.Name, input.IsDefault).Scan(&branch.ID, &branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("code", "branch code %q already exists", input.Code)
		}
		return nil, fmt.Errorf("failed to insert branch: %w", err)
	}
	return &branch, nil
}

func (s *masterService) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, code, name, is_default, created_at FROM branches ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.IsDefault, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *masterService) CreateItem(ctx context.Context, input ItemInput) (*Item, error) {
	if input.Code == "" || input.Name == "" {
		return nil, &ValidationError{Field: "item", Reason: "item must have a code and a name"}
	}
	if input.PurchasePrice.IsNegative() || input.SellingPrice.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "item prices must not be negative"}
	}
	item := Item{
		Code:             input.Code,
		Name:             input.Name,
		Category:         input.Category,
		PurchasePrice:    input.PurchasePrice,
		SellingPrice:     input.SellingPrice,
		PurchaseCurrency: input.PurchaseCurrency,
		MinStock:         input.MinStock,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO items (code, name, category, purchase_price, selling_price, purchase_currency, min_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, input.Code, input.Name, input.Category, input.PurchasePrice, input.SellingPrice,
		input.PurchaseCurrency, input.MinStock).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("code", "item code %q already exists", input.Code)
		}
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}
	return &item, nil
}

func (s *masterService) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, category, purchase_price, selling_price, purchase_currency, min_stock, created_at
		FROM items WHERE id = $1
	`, itemID).Scan(&item.ID, &item.Code, &item.Name, &item.Category,
		&item.PurchasePrice, &item.SellingPrice, &item.PurchaseCurrency, &item.MinStock, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("item", "item %d not found", itemID)
		}
		return nil, fmt.Errorf("failed to fetch item %d: %w", itemID, err)
	}
	return &item, nil
}

func (s *masterService) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, category, purchase_price, selling_price, purchase_currency, min_stock, created_at
		FROM items ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.Category,
			&item.PurchasePrice, &item.SellingPrice, &item.PurchaseCurrency, &item.MinStock, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemPrices updates reference prices only. Code and name stay fixed
// once movements reference the item, so they are not updatable here.
func (s *masterService) UpdateItemPrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal) (*Item, error) {
	if purchase.IsNegative() || selling.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "item prices must not be negative"}
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE items SET purchase_price = $1, selling_price = $2 WHERE id = $3",
		purchase, selling, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to update item prices: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, validationErrorf("item", "item %d not found", itemID)
	}
	return s.GetItem(ctx, itemID)
}

// RecordOpeningStock seeds an (item, branch) pair with its stock position at
// system adoption time. The quantity lands in the ledger as an
// opening-balance movement, valued at the item's purchase price.
func (s *masterService) RecordOpeningStock(ctx context.Context, itemID, branchID int64, quantity decimal.Decimal, createdBy string) error {
	if !quantity.IsPositive() {
		return validationErrorf("quantity", "opening stock must be positive, got %s", quantity)
	}
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	_, _, err = s.ledger.Append(ctx, []MovementInput{{
		BranchID:     branchID,
		ItemID:       int64Ptr(itemID),
		Kind:         KindOpeningBalance,
		Quantity:     quantity,
		Amount:       RoundBase(quantity.Mul(item.PurchasePrice)),
		MovementDate: time.Now(),
		Reference:    "opening-stock",
		CreatedBy:    createdBy,
	}})
	return err
}

func (s *masterService) CreateParty(ctx context.Context, input PartyInput) (*Party, error) {
	switch input.Kind {
	case PartyCustomer, PartySupplier, PartyInternal:
	default:
		return nil, validationErrorf("kind", "invalid party kind %q", input.Kind)
	}
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "party must have a name"}
	}
	if input.CreditLimit.IsNegative() {
		return nil, &ValidationError{Field: "credit_limit", Reason: "credit limit must not be negative"}
	}
	if !input.OpeningBalance.IsZero() && input.OpeningBranchID == 0 {
		return nil, &ValidationError{Field: "opening_balance", Reason: "opening balance requires a branch"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	party := Party{
		Kind:        input.Kind,
		Name:        input.Name,
		Phone:       input.Phone,
		Address:     input.Address,
		CreditLimit: input.CreditLimit,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO parties (kind, name, phone, address, credit_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, input.Kind, input.Name, input.Phone, input.Address, input.CreditLimit,
	).Scan(&party.ID, &party.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert party: %w", err)
	}

	if !input.OpeningBalance.IsZero() {
		if _, _, err := s.ledger.AppendTx(ctx, tx, []MovementInput{{
			BranchID:     input.OpeningBranchID,
			PartyID:      int64Ptr(party.ID),
			Kind:         KindOpeningBalance,
			Amount:       RoundBase(input.OpeningBalance),
			MovementDate: time.Now(),
			Reference:    "opening-balance",
			CreatedBy:    input.CreatedBy,
		}}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &party, nil
}

func (s *masterService) GetParty(ctx context.Context, partyID int64) (*Party, error) {
	return fetchParty(ctx, s.pool, partyID)
}

func (s *masterService) ListParties(ctx context.Context, kind *PartyKind) ([]Party, error) {
	query := "SELECT id, kind, name, phone, address, credit_limit, created_at FROM parties"
	args := []any{}
	if kind != nil {
		query += " WHERE kind = $1"
		args = append(args, *kind)
	}
	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parties: %w", err)
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.Kind, &p.Name, &p.Phone, &p.Address, &p.CreditLimit, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan party: %w", err)
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func (s *masterService) SetCreditLimit(ctx context.Context, partyID int64, limit decimal.Decimal) (*Party, error) {
	if limit.IsNegative() {
		return nil, &ValidationError{Field: "credit_limit", Reason: "credit limit must not be negative"}
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE parties SET credit_limit = $1 WHERE id = $2 AND kind = $3",
		limit, partyID, PartyCustomer)
	if err != nil {
		return nil, fmt.Errorf("failed to update credit limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, validationErrorf("party", "customer %d not found", partyID)
	}
	return fetchParty(ctx, s.pool, partyID)
}

func (s *masterService) CreateAccount(ctx context.Context, input AccountInput) (*Account, error) {
	if input.Kind != AccountCash && input.Kind != AccountBank {
		return nil, validationErrorf("kind", "invalid account kind %q", input.Kind)
	}
	if input.Code == "" || input.Name == "" {
		return nil, &ValidationError{Field: "account", Reason: "account must have a code and a name"}
	}
	account := Account{Code: input.Code, Name: input.Name, Kind: input.Kind}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (code, name, kind) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, input.Code, input.Name, input.Kind).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("code", "account code %q already exists", input.Code)
		}
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	return &account, nil
}

func (s *masterService) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, code, name, kind, created_at FROM accounts ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Kind, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
