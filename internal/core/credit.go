package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EvaluateCredit is the pure credit rule: projected = current + proposed,
// compared against the customer's configured limit. A zero limit means
// unlimited. Admin committers are always allowed, but when the limit was in
// fact exceeded the check carries Overridden = true so the invoice records
// the override for audit.
func EvaluateCredit(current, proposed, limit decimal.Decimal, committerIsAdmin bool) CreditCheck {
	projected := current.Add(proposed)
	check := CreditCheck{
		Allowed:          true,
		ProjectedBalance: projected,
		Limit:            limit,
	}
	if limit.IsZero() {
		return check
	}
	if projected.LessThanOrEqual(limit) {
		return check
	}
	if committerIsAdmin {
		check.Overridden = true
		return check
	}
	check.Allowed = false
	return check
}

// CreditGuard gatekeeps sales-invoice commit against a customer's credit
// limit. The check and the subsequent append for the same customer must be
// one serializable unit: CheckTx takes a FOR UPDATE lock on the party row,
// so a concurrent sale for the same customer blocks until this transaction
// commits and then evaluates against the committed balance — two sales can
// never jointly slip past the limit.
type CreditGuard struct {
	balances PartyBalanceService
}

// NewCreditGuard constructs the guard over the balance engine.
func NewCreditGuard(balances PartyBalanceService) *CreditGuard {
	return &CreditGuard{balances: balances}
}

// CheckTx locks the customer row, computes the in-transaction balance, and
// evaluates the proposed invoice total. Returns CreditLimitExceededError
// when a non-admin committer would breach the limit; no store mutation has
// happened at that point, so rejection leaves nothing to roll back.
func (g *CreditGuard) CheckTx(ctx context.Context, tx pgx.Tx, customerID int64, proposedTotal decimal.Decimal, committerIsAdmin bool) (CreditCheck, error) {
	var limit decimal.Decimal
	var kind PartyKind
	err := tx.QueryRow(ctx,
		"SELECT kind, credit_limit FROM parties WHERE id = $1 FOR UPDATE",
		customerID,
	).Scan(&kind, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditCheck{}, validationErrorf("party", "party %d not found", customerID)
		}
		return CreditCheck{}, fmt.Errorf("failed to lock party %d for credit check: %w", customerID, err)
	}
	if kind != PartyCustomer {
		return CreditCheck{}, validationErrorf("party", "party %d is not a customer", customerID)
	}

	current, err := g.balances.CurrentBalanceTx(ctx, tx, customerID)
	if err != nil {
		return CreditCheck{}, err
	}

	check := EvaluateCredit(current, proposedTotal, limit, committerIsAdmin)
	if !check.Allowed {
		return check, &CreditLimitExceededError{
			PartyID:   customerID,
			Limit:     limit,
			Current:   current,
			Projected: check.ProjectedBalance,
		}
	}
	return check, nil
}
