package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable wraps a store-level failure that is fatal for the
// request. Atomic commit guarantees no partial state persists.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError is a local, user-correctable input fault: empty line
// items, non-positive quantity, unknown entity. Not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CreditLimitExceededError rejects a sales invoice whose projected party
// balance exceeds the customer's configured limit. Carries enough context
// for the caller to act: the limit, the current balance, and the projection.
type CreditLimitExceededError struct {
	PartyID   int64
	Limit     decimal.Decimal
	Current   decimal.Decimal
	Projected decimal.Decimal
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded for party %d: projected balance %s over limit %s (current %s)",
		e.PartyID, e.Projected.StringFixed(3), e.Limit.StringFixed(3), e.Current.StringFixed(3))
}

// MalformedSerialError reports a serial that fails the 15-digit numeric
// format check.
type MalformedSerialError struct {
	Serial string
}

func (e *MalformedSerialError) Error() string {
	return fmt.Sprintf("malformed IMEI serial %q: must be exactly 15 digits", e.Serial)
}

// DuplicateSerialError reports a serial already claimed by a conflicting
// movement: introducing a serial that is already active in the system, or
// selling one that is not currently in stock.
type DuplicateSerialError struct {
	Serial string
	State  SerialState
}

func (e *DuplicateSerialError) Error() string {
	return fmt.Sprintf("serial %s already claimed: current state %s", e.Serial, e.State)
}

// InvalidTransitionError reports a lifecycle transition the state graph does
// not permit.
type InvalidTransitionError struct {
	Serial string
	From   SerialState
	To     SerialState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("serial %s: invalid transition %s -> %s", e.Serial, e.From, e.To)
}

// ConcurrencyConflictError is a transient store-level serialization failure
// that survived the coordinator's bounded retry loop.
type ConcurrencyConflictError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// isSerializationFailure reports whether err is a transient conflict the
// coordinator may retry: serialization_failure (40001) or deadlock_detected
// (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// isUniqueViolation reports a unique constraint violation (23505), used to
// detect dedup-token re-submission races.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isUniqueViolationOn narrows a unique violation to one named constraint,
// so a dedup-key collision is never mistaken for a duplicate number.
func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}
