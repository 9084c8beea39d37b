package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerStore is the single source of truth for all derived state: an
// append-only store of strongly typed movement rows. There is no update and
// no delete operation — corrections are expressed as new reversing
// movements.
type LedgerStore interface {
	// Append commits a movement batch in its own transaction: all rows
	// land or none do.
	Append(ctx context.Context, inputs []MovementInput) (uuid.UUID, []Movement, error)
	// AppendTx appends within the caller's transaction. Used by the
	// coordinator to keep movements, invoice rows, and IMEI claims in one
	// atomic unit. Each append assigns branch-scoped monotonic sequence
	// numbers used as the ordering tie-break.
	AppendTx(ctx context.Context, tx pgx.Tx, inputs []MovementInput) (uuid.UUID, []Movement, error)
	// Query returns movements matching the filter, ordered by
	// (movement_date, seq, id) ascending.
	Query(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// MovementFilter narrows a ledger query. Nil fields are unconstrained.
type MovementFilter struct {
	BranchID  *int64
	ItemID    *int64
	PartyID   *int64
	AccountID *int64
	Kinds     []MovementKind
	From      *time.Time
	To        *time.Time
	Reference string
	// Limit caps the result set; zero means no cap.
	Limit int
}

type ledgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore constructs the append-only ledger backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) LedgerStore {
	return &ledgerStore{pool: pool}
}

func (l *ledgerStore) Append(ctx context.Context, inputs []MovementInput) (uuid.UUID, []Movement, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batchID, movements, err := l.AppendTx(ctx, tx, inputs)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return batchID, movements, nil
}

func (l *ledgerStore) AppendTx(ctx context.Context, tx pgx.Tx, inputs []MovementInput) (uuid.UUID, []Movement, error) {
	if len(inputs) == 0 {
		return uuid.Nil, nil, &ValidationError{Field: "movements", Reason: "append batch must not be empty"}
	}
	for i, in := range inputs {
		if in.BranchID == 0 {
			return uuid.Nil, nil, validationErrorf("movements", "row %d has no branch", i)
		}
		if _, err := ParseMovementKind(string(in.Kind)); err != nil {
			return uuid.Nil, nil, validationErrorf("movements", "row %d: %v", i, err)
		}
		if in.MovementDate.IsZero() {
			return uuid.Nil, nil, validationErrorf("movements", "row %d has no movement date", i)
		}
	}

	// Reserve a contiguous sequence block per branch in one upsert each.
	// The row lock taken by the UPDATE serializes concurrent appends for
	// the same branch, so seq reflects commit order, not submission order.
	perBranch := make(map[int64]int64)
	for _, in := range inputs {
		perBranch[in.BranchID]++
	}
	nextSeq := make(map[int64]int64, len(perBranch))
	for branchID, count := range perBranch {
		var last int64
		err := tx.QueryRow(ctx, `
			INSERT INTO branch_sequences (branch_id, last_seq)
			VALUES ($1, $2)
			ON CONFLICT (branch_id)
			DO UPDATE SET last_seq = branch_sequences.last_seq + $2
			RETURNING last_seq
		`, branchID, count).Scan(&last)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("failed to allocate sequence for branch %d: %w", branchID, err)
		}
		nextSeq[branchID] = last - count + 1
	}

	batchID := uuid.New()
	movements := make([]Movement, 0, len(inputs))
	for _, in := range inputs {
		seq := nextSeq[in.BranchID]
		nextSeq[in.BranchID]++

		var m Movement
		err := tx.QueryRow(ctx, `
			INSERT INTO movements (batch_id, branch_id, seq, item_id, party_id, account_id, kind,
			                       quantity, amount, fx_amount, fx_currency, fx_rate,
			                       movement_date, reference, reversal_of, dedup_key, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING id, created_at
		`, batchID, in.BranchID, seq, in.ItemID, in.PartyID, in.AccountID, in.Kind,
			in.Quantity, in.Amount, in.FxAmount, in.FxCurrency, in.FxRate,
			in.MovementDate, in.Reference, in.ReversalOf, in.DedupKey, in.CreatedBy,
		).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("failed to insert movement (branch=%d kind=%s): %w", in.BranchID, in.Kind, err)
		}

		m.BatchID = batchID
		m.BranchID = in.BranchID
		m.Seq = seq
		m.ItemID = in.ItemID
		m.PartyID = in.PartyID
		m.AccountID = in.AccountID
		m.Kind = in.Kind
		m.Quantity = in.Quantity
		m.Amount = in.Amount
		m.FxAmount = in.FxAmount
		m.FxCurrency = in.FxCurrency
		m.FxRate = in.FxRate
		m.MovementDate = in.MovementDate
		m.Reference = in.Reference
		m.ReversalOf = in.ReversalOf
		m.CreatedBy = in.CreatedBy
		movements = append(movements, m)
	}

	return batchID, movements, nil
}

func (l *ledgerStore) Query(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BranchID != nil {
		add("branch_id = $%d", *filter.BranchID)
	}
	if filter.ItemID != nil {
		add("item_id = $%d", *filter.ItemID)
	}
	if filter.PartyID != nil {
		add("party_id = $%d", *filter.PartyID)
	}
	if filter.AccountID != nil {
		add("account_id = $%d", *filter.AccountID)
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", kinds)
	}
	if filter.From != nil {
		add("movement_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("movement_date <= $%d", *filter.To)
	}
	if filter.Reference != "" {
		add("reference = $%d", filter.Reference)
	}

	query := `
		SELECT id, batch_id, branch_id, seq, item_id, party_id, account_id, kind,
		       quantity, amount, fx_amount, fx_currency, fx_rate,
		       movement_date, reference, reversal_of, created_by, created_at
		FROM movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY movement_date, seq, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}
	return movements, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.BatchID, &m.BranchID, &m.Seq, &m.ItemID, &m.PartyID, &m.AccountID, &m.Kind,
		&m.Quantity, &m.Amount, &m.FxAmount, &m.FxCurrency, &m.FxRate,
		&m.MovementDate, &m.Reference, &m.ReversalOf, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, errors.New("movement not found")
		}
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}
	return m, nil
}
