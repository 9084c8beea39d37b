package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers across standalone and transaction-scoped calls.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ItemBranch identifies one (item, branch) stock position.
type ItemBranch struct {
	ItemID   int64
	BranchID int64
}

// StockCache memoizes derived stock balances. Implementations must be safe
// to skip entirely: the ledger fold is the correctness oracle and the cache
// only short-circuits it. A cache miss or error falls through to the fold.
type StockCache interface {
	GetBalance(ctx context.Context, key ItemBranch) (*StockBalance, bool)
	SetBalance(ctx context.Context, balance *StockBalance)
	Invalidate(ctx context.Context, keys []ItemBranch)
}

// StockService derives per-item per-branch quantities on demand by folding
// ledger movements. Balances are never maintained as mutable counters, so
// stored and derived state cannot drift.
type StockService interface {
	// Balance folds one (item, branch) position:
	// balance = opening + Σ(in-kinds) − Σ(out-kinds). Negative balances
	// surface as-is — an oversell is a visible data fault, not something
	// to clamp.
	Balance(ctx context.Context, itemID, branchID int64) (*StockBalance, error)
	// BalanceTx is the same fold inside the caller's transaction, used by
	// the coordinator for commit-time stock checks.
	BalanceTx(ctx context.Context, tx pgx.Tx, itemID, branchID int64) (*StockBalance, error)
	// Total sums an item's balance across all branches.
	Total(ctx context.Context, itemID int64) (*StockBalance, error)
	// Balances lists positions joined with item reference data, optionally
	// filtered by branch and/or item.
	Balances(ctx context.Context, branchID, itemID *int64) ([]BalanceRow, error)
	// InvalidatePairs drops memoized balances after a committed append.
	InvalidatePairs(ctx context.Context, keys []ItemBranch)
}

type stockService struct {
	pool  *pgxpool.Pool
	cache StockCache
}

// NewStockService constructs the calculator. cache may be nil.
func NewStockService(pool *pgxpool.Pool, cache StockCache) StockService {
	return &stockService{pool: pool, cache: cache}
}

// stockKindArgs returns the in/out kind sets as SQL text arrays. Defined
// once here so SQL folds and Go-side checks share one convention.
func stockKindArgs() (in, out []string) {
	for _, k := range AllMovementKinds {
		if k.IsStockIn() {
			in = append(in, string(k))
		}
		if k.IsStockOut() {
			out = append(out, string(k))
		}
	}
	return in, out
}

func foldStockBalance(ctx context.Context, q pgxQuerier, itemID, branchID int64) (*StockBalance, error) {
	inKinds, outKinds := stockKindArgs()
	b := &StockBalance{ItemID: itemID, BranchID: branchID}
	err := q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = $3 THEN quantity ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ANY($4) THEN quantity ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ANY($5) THEN quantity ELSE 0 END), 0)
		FROM movements
		WHERE item_id = $1 AND branch_id = $2
	`, itemID, branchID, string(KindOpeningBalance), inKinds, outKinds).Scan(&b.Opening, &b.Purchased, &b.Sold)
	if err != nil {
		return nil, fmt.Errorf("failed to fold stock balance (item=%d branch=%d): %w", itemID, branchID, err)
	}
	b.Balance = b.Opening.Add(b.Purchased).Sub(b.Sold)
	return b, nil
}

func (s *stockService) Balance(ctx context.Context, itemID, branchID int64) (*StockBalance, error) {
	key := ItemBranch{ItemID: itemID, BranchID: branchID}
	if s.cache != nil {
		if b, ok := s.cache.GetBalance(ctx, key); ok {
			return b, nil
		}
	}
	b, err := foldStockBalance(ctx, s.pool, itemID, branchID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetBalance(ctx, b)
	}
	return b, nil
}

func (s *stockService) BalanceTx(ctx context.Context, tx pgx.Tx, itemID, branchID int64) (*StockBalance, error) {
	// Never served from cache: commit-time checks must see the
	// transaction's own view.
	return foldStockBalance(ctx, tx, itemID, branchID)
}

func (s *stockService) Total(ctx context.Context, itemID int64) (*StockBalance, error) {
	inKinds, outKinds := stockKindArgs()
	b := &StockBalance{ItemID: itemID}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = $2 THEN quantity ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ANY($3) THEN quantity ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ANY($4) THEN quantity ELSE 0 END), 0)
		FROM movements
		WHERE item_id = $1
	`, itemID, string(KindOpeningBalance), inKinds, outKinds).Scan(&b.Opening, &b.Purchased, &b.Sold)
	if err != nil {
		return nil, fmt.Errorf("failed to fold total stock balance (item=%d): %w", itemID, err)
	}
	b.Balance = b.Opening.Add(b.Purchased).Sub(b.Sold)
	return b, nil
}

func (s *stockService) Balances(ctx context.Context, branchID, itemID *int64) ([]BalanceRow, error) {
	inKinds, outKinds := stockKindArgs()
	args := []any{string(KindOpeningBalance), inKinds, outKinds}
	query := `
		SELECT i.id, i.code, i.name, m.branch_id,
		       COALESCE(SUM(CASE WHEN m.kind = $1 THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = ANY($2) THEN m.quantity ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN m.kind = ANY($3) THEN m.quantity ELSE 0 END), 0),
		       i.min_stock
		FROM movements m
		JOIN items i ON i.id = m.item_id
		WHERE m.item_id IS NOT NULL`
	if branchID != nil {
		args = append(args, *branchID)
		query += fmt.Sprintf(" AND m.branch_id = $%d", len(args))
	}
	if itemID != nil {
		args = append(args, *itemID)
		query += fmt.Sprintf(" AND m.item_id = $%d", len(args))
	}
	query += `
		GROUP BY i.id, i.code, i.name, m.branch_id, i.min_stock
		ORDER BY i.code, m.branch_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock balances: %w", err)
	}
	defer rows.Close()

	var result []BalanceRow
	for rows.Next() {
		var r BalanceRow
		if err := rows.Scan(&r.ItemID, &r.ItemCode, &r.ItemName, &r.BranchID,
			&r.Opening, &r.Purchased, &r.Sold, &r.MinStock); err != nil {
			return nil, fmt.Errorf("failed to scan stock balance row: %w", err)
		}
		r.Balance = r.Opening.Add(r.Purchased).Sub(r.Sold)
		r.BelowMin = r.MinStock.IsPositive() && r.Balance.LessThan(r.MinStock)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock balances: %w", err)
	}
	return result, nil
}

func (s *stockService) InvalidatePairs(ctx context.Context, keys []ItemBranch) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	s.cache.Invalidate(ctx, keys)
}
