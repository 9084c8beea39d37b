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

// PartyBalanceService computes running balances and ordered statements for
// customers, suppliers, and cash/bank accounts. It is a read-only derivation
// over the ledger store with no mutable state of its own.
type PartyBalanceService interface {
	// Statement returns the party's entries in ascending (date, seq)
	// order with running balances. The opening balance seeds the fold
	// with everything strictly before from; nil bounds are unbounded.
	Statement(ctx context.Context, partyID int64, from, to *time.Time) (*Statement, error)
	// CurrentBalance is the closing balance of the unbounded statement.
	CurrentBalance(ctx context.Context, partyID int64) (decimal.Decimal, error)
	// CurrentBalanceTx computes the balance inside the caller's
	// transaction; the credit guard uses it under the party row lock.
	CurrentBalanceTx(ctx context.Context, tx pgx.Tx, partyID int64) (decimal.Decimal, error)
	// AccountBalance folds a cash/bank account's movements.
	AccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
}

type partyBalanceService struct {
	pool *pgxpool.Pool
}

// NewPartyBalanceService constructs the balance engine.
func NewPartyBalanceService(pool *pgxpool.Pool) PartyBalanceService {
	return &partyBalanceService{pool: pool}
}

// partySignArgs returns the positive and negative kind sets for party
// balances as SQL text arrays, derived from the single Go-side convention.
func partySignArgs() (pos, neg []string) {
	for _, k := range AllMovementKinds {
		switch k.PartySign() {
		case 1:
			pos = append(pos, string(k))
		case -1:
			neg = append(neg, string(k))
		}
	}
	return pos, neg
}

func accountSignArgs() (pos, neg []string) {
	for _, k := range AllMovementKinds {
		switch k.AccountSign() {
		case 1:
			pos = append(pos, string(k))
		case -1:
			neg = append(neg, string(k))
		}
	}
	return pos, neg
}

func (s *partyBalanceService) Statement(ctx context.Context, partyID int64, from, to *time.Time) (*Statement, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM parties WHERE id = $1)", partyID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check party %d: %w", partyID, err)
	}
	if !exists {
		return nil, validationErrorf("party", "party %d not found", partyID)
	}

	// Fetch every entry up to the range end; the fold splits at the range
	// start. One ordered pass keeps opening + entries + closing mutually
	// consistent however the range is sliced.
	query := `
		SELECT id, branch_id, seq, kind, movement_date, reference, amount
		FROM movements
		WHERE party_id = $1`
	args := []any{partyID}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND movement_date <= $%d", len(args))
	}
	query += " ORDER BY movement_date, seq, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query party %d entries: %w", partyID, err)
	}
	defer rows.Close()

	st := &Statement{PartyID: partyID, From: from, To: to}
	running := decimal.Zero
	for rows.Next() {
		var e AccountEntry
		if err := rows.Scan(&e.MovementID, &e.BranchID, &e.Seq, &e.Kind,
			&e.MovementDate, &e.Reference, &e.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan party entry: %w", err)
		}
		e.SignedAmount = applySign(e.Amount, e.Kind.PartySign())
		running = running.Add(e.SignedAmount)

		if from != nil && e.MovementDate.Before(*from) {
			st.Opening = running
			continue
		}
		e.RunningBalance = running
		st.Entries = append(st.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating party entries: %w", err)
	}
	st.Closing = running
	return st, nil
}

// applySign applies a fixed per-kind sign. Amounts are stored unsigned;
// the kind alone decides direction.
func applySign(amount decimal.Decimal, sign int) decimal.Decimal {
	switch sign {
	case 1:
		return amount
	case -1:
		return amount.Neg()
	}
	return decimal.Zero
}

func (s *partyBalanceService) CurrentBalance(ctx context.Context, partyID int64) (decimal.Decimal, error) {
	return currentPartyBalance(ctx, s.pool, partyID)
}

func (s *partyBalanceService) CurrentBalanceTx(ctx context.Context, tx pgx.Tx, partyID int64) (decimal.Decimal, error) {
	return currentPartyBalance(ctx, tx, partyID)
}

func currentPartyBalance(ctx context.Context, q pgxQuerier, partyID int64) (decimal.Decimal, error) {
	pos, neg := partySignArgs()
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN kind = ANY($2) THEN amount
			     WHEN kind = ANY($3) THEN -amount
			     ELSE 0 END), 0)
		FROM movements
		WHERE party_id = $1
	`, partyID, pos, neg).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fold party %d balance: %w", partyID, err)
	}
	return balance, nil
}

func (s *partyBalanceService) AccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID,
	).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("failed to check account %d: %w", accountID, err)
	}
	if !exists {
		return decimal.Zero, validationErrorf("account", "account %d not found", accountID)
	}

	pos, neg := accountSignArgs()
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN kind = ANY($2) THEN amount
			     WHEN kind = ANY($3) THEN -amount
			     ELSE 0 END), 0)
		FROM movements
		WHERE account_id = $1
	`, accountID, pos, neg).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fold account %d balance: %w", accountID, err)
	}
	return balance, nil
}

// fetchParty loads a party row, shared by the guard and coordinator.
func fetchParty(ctx context.Context, q pgxQuerier, partyID int64) (*Party, error) {
	var p Party
	err := q.QueryRow(ctx, `
		SELECT id, kind, name, phone, address, credit_limit, created_at
		FROM parties WHERE id = $1
	`, partyID).Scan(&p.ID, &p.Kind, &p.Name, &p.Phone, &p.Address, &p.CreditLimit, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("party", "party %d not found", partyID)
		}
		return nil, fmt.Errorf("failed to fetch party %d: %w", partyID, err)
	}
	return &p, nil
}
