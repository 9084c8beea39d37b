package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IMEITracker enforces global serial uniqueness and valid lifecycle
// transitions for serialized units. The serial is the primary key of its
// record, so no two movements can ever hold the same serial in two "active"
// locations at once.
type IMEITracker interface {
	// AssignTx claims a serial for a movement inside the caller's
	// transaction, locking the record row until commit. A serial unknown
	// to the system may only enter as InStock (the purchase that
	// introduces it), and a unit in stock can only be claimed by the
	// branch holding it. Fails with MalformedSerialError,
	// DuplicateSerialError, InvalidTransitionError, or ValidationError.
	AssignTx(ctx context.Context, tx pgx.Tx, serial string, movementID, branchID int64, target SerialState) error
	// Get returns the current record for a serial.
	Get(ctx context.Context, serial string) (*IMEIRecord, error)
	// ListByState returns serials currently in the given state, optionally
	// scoped to a branch.
	ListByState(ctx context.Context, state SerialState, branchID *int64) ([]IMEIRecord, error)

	// restoreTx rewinds a serial during an invoice reversal. Unexported:
	// only the coordinator may bypass the lifecycle graph.
	restoreTx(ctx context.Context, tx pgx.Tx, serial string, movementID, branchID int64, state SerialState) error
}

type imeiTracker struct {
	pool *pgxpool.Pool
}

// NewIMEITracker constructs the lifecycle tracker.
func NewIMEITracker(pool *pgxpool.Pool) IMEITracker {
	return &imeiTracker{pool: pool}
}

func (t *imeiTracker) AssignTx(ctx context.Context, tx pgx.Tx, serial string, movementID, branchID int64, target SerialState) error {
	if err := ValidateSerial(serial); err != nil {
		return err
	}

	var current SerialState
	var heldAt int64
	err := tx.QueryRow(ctx,
		"SELECT state, branch_id FROM imei_records WHERE serial = $1 FOR UPDATE",
		serial,
	).Scan(&current, &heldAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if target != SerialInStock {
			return validationErrorf("serial", "serial %s is not known to the system", serial)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO imei_records (serial, state, branch_id, movement_id)
			VALUES ($1, $2, $3, $4)
		`, serial, SerialInStock, branchID, movementID)
		if err != nil {
			if isUniqueViolation(err) {
				// A concurrent transaction introduced the serial first.
				return &DuplicateSerialError{Serial: serial, State: SerialInStock}
			}
			return fmt.Errorf("failed to insert IMEI record %s: %w", serial, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock IMEI record %s: %w", serial, err)
	}

	// Conflicting claims are duplicate-serial faults: selling a unit that
	// is not in stock, or re-introducing a unit that is still active.
	if target == current {
		return &DuplicateSerialError{Serial: serial, State: current}
	}
	if target == SerialSold && current != SerialInStock && current != SerialWarranty {
		return &DuplicateSerialError{Serial: serial, State: current}
	}
	if target == SerialInStock && (current == SerialSold || current == SerialWarranty) {
		return &DuplicateSerialError{Serial: serial, State: current}
	}
	if !CanTransition(current, target) {
		return &InvalidTransitionError{Serial: serial, From: current, To: target}
	}
	// A unit leaves stock only through the branch that holds it. Re-entry
	// (transfer-in, restock) may land at any branch.
	if current == SerialInStock && (target == SerialSold || target == SerialTransferredOut) && heldAt != branchID {
		return validationErrorf("serial", "serial %s is in stock at branch %d, not branch %d", serial, heldAt, branchID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE imei_records
		SET state = $1, branch_id = $2, movement_id = $3, updated_at = NOW()
		WHERE serial = $4
	`, target, branchID, movementID, serial)
	if err != nil {
		return fmt.Errorf("failed to update IMEI record %s: %w", serial, err)
	}
	return nil
}

// restoreTx rewinds a serial to a recorded prior state during an invoice
// reversal. It bypasses the transition graph on purpose: a reversal is not
// a lifecycle event, it erases one.
func (t *imeiTracker) restoreTx(ctx context.Context, tx pgx.Tx, serial string, movementID, branchID int64, state SerialState) error {
	tag, err := tx.Exec(ctx, `
		UPDATE imei_records
		SET state = $1, branch_id = $2, movement_id = $3, updated_at = NOW()
		WHERE serial = $4
	`, state, branchID, movementID, serial)
	if err != nil {
		return fmt.Errorf("failed to restore IMEI record %s: %w", serial, err)
	}
	if tag.RowsAffected() == 0 {
		return validationErrorf("serial", "serial %s is not known to the system", serial)
	}
	return nil
}

func (t *imeiTracker) Get(ctx context.Context, serial string) (*IMEIRecord, error) {
	if err := ValidateSerial(serial); err != nil {
		return nil, err
	}
	var r IMEIRecord
	err := t.pool.QueryRow(ctx, `
		SELECT serial, state, branch_id, movement_id, updated_at
		FROM imei_records WHERE serial = $1
	`, serial).Scan(&r.Serial, &r.State, &r.BranchID, &r.MovementID, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("serial", "serial %s is not known to the system", serial)
		}
		return nil, fmt.Errorf("failed to fetch IMEI record %s: %w", serial, err)
	}
	return &r, nil
}

func (t *imeiTracker) ListByState(ctx context.Context, state SerialState, branchID *int64) ([]IMEIRecord, error) {
	query := `
		SELECT serial, state, branch_id, movement_id, updated_at
		FROM imei_records WHERE state = $1`
	args := []any{state}
	if branchID != nil {
		args = append(args, *branchID)
		query += " AND branch_id = $2"
	}
	query += " ORDER BY serial"

	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IMEI records: %w", err)
	}
	defer rows.Close()

	var records []IMEIRecord
	for rows.Next() {
		var r IMEIRecord
		if err := rows.Scan(&r.Serial, &r.State, &r.BranchID, &r.MovementID, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan IMEI record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
