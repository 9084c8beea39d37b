package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxCommitAttempts bounds the retry loop on store-level serialization
// failures. Anything beyond that surfaces as ConcurrencyConflictError.
const maxCommitAttempts = 3

// Coordinator wraps every multi-row write in one atomic unit of work:
// Validated → Guarded → Posted → Committed, with Rejected and RolledBack as
// failure terminals. It is the only component that creates movements and
// IMEI claims, and the only place that decides retry-vs-surface.
type Coordinator struct {
	pool     *pgxpool.Pool
	ledger   LedgerStore
	imeis    IMEITracker
	guard    *CreditGuard
	stock    StockService
	balances PartyBalanceService
	log      *logrus.Logger
}

// NewCoordinator wires the coordinator over the engine components.
func NewCoordinator(pool *pgxpool.Pool, ledger LedgerStore, imeis IMEITracker,
	guard *CreditGuard, stock StockService, balances PartyBalanceService, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		pool:     pool,
		ledger:   ledger,
		imeis:    imeis,
		guard:    guard,
		stock:    stock,
		balances: balances,
		log:      log,
	}
}

// withRetry runs fn inside a transaction, retrying the whole unit a bounded
// number of times on serialization failures. Any other failure rolls back
// and surfaces as-is: partial effects are never retained.
func (c *Coordinator) withRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		err = fn(tx)
		if err == nil {
			err = tx.Commit(ctx)
			if err == nil {
				return nil
			}
			err = fmt.Errorf("failed to commit: %w", err)
		}
		_ = tx.Rollback(ctx)

		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{"attempt": attempt}).Warn("serialization conflict, retrying write")
	}
	return &ConcurrencyConflictError{Attempts: maxCommitAttempts, Err: lastErr}
}

func int64Ptr(v int64) *int64 { return &v }

// ── Sales and purchase invoices ──────────────────────────────────────────────

// CreateSalesInvoice validates, guards, and posts a sales invoice. The
// credit check and the movement append run under one party row lock, so two
// concurrent sales for one customer can never jointly exceed the limit.
func (c *Coordinator) CreateSalesInvoice(ctx context.Context, draft InvoiceDraft) (*Invoice, error) {
	draft.Kind = InvoiceSale
	return c.createInvoice(ctx, draft)
}

// CreatePurchaseInvoice validates and posts a purchase invoice, introducing
// any attached serials as InStock at the receiving branch.
func (c *Coordinator) CreatePurchaseInvoice(ctx context.Context, draft InvoiceDraft) (*Invoice, error) {
	draft.Kind = InvoicePurchase
	return c.createInvoice(ctx, draft)
}

func (c *Coordinator) createInvoice(ctx context.Context, draft InvoiceDraft) (*Invoice, error) {
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if draft.Kind != InvoiceSale && draft.Kind != InvoicePurchase {
		return nil, validationErrorf("kind", "invalid invoice kind %q", draft.Kind)
	}

	var result *Invoice
	var touched []ItemBranch
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		touched = touched[:0]

		if existing, err := c.invoiceByDedup(ctx, tx, draft.DedupToken); err != nil {
			return err
		} else if existing != nil {
			result = existing
			return nil
		}

		if err := branchExists(ctx, tx, draft.BranchID); err != nil {
			return err
		}
		party, err := fetchParty(ctx, tx, draft.PartyID)
		if err != nil {
			return err
		}

		total := draft.Total()
		overridden := false
		if draft.Kind == InvoiceSale {
			check, err := c.guard.CheckTx(ctx, tx, party.ID, total, draft.CommitterRole.IsAdmin())
			if err != nil {
				return err
			}
			overridden = check.Overridden
		} else if party.Kind != PartySupplier {
			return validationErrorf("party", "party %d is not a supplier", party.ID)
		}

		if draft.Kind == InvoiceSale && !draft.AllowNegativeStock {
			if err := c.checkStockTx(ctx, tx, draft.BranchID, draft.Lines); err != nil {
				return err
			}
		}

		inv, err := c.insertInvoice(ctx, tx, &draft, total, overridden)
		if err != nil {
			return err
		}

		inputs := make([]MovementInput, 0, len(draft.Lines))
		var fxCurrency *string
		var fxRate *decimal.Decimal
		if draft.FxRate.Cmp(decimal.NewFromInt(1)) != 0 {
			fxCurrency = &draft.Currency
			fxRate = &draft.FxRate
		}
		kind := KindSale
		targetState := SerialSold
		if draft.Kind == InvoicePurchase {
			kind = KindPurchase
			targetState = SerialInStock
		}
		for _, line := range draft.Lines {
			lineFx := line.Quantity.Mul(line.UnitPrice)
			var fxAmount *decimal.Decimal
			if fxCurrency != nil {
				fxAmount = &lineFx
			}
			inputs = append(inputs, MovementInput{
				BranchID:     draft.BranchID,
				ItemID:       int64Ptr(line.ItemID),
				PartyID:      int64Ptr(party.ID),
				Kind:         kind,
				Quantity:     line.Quantity,
				Amount:       draft.LineTotal(line),
				FxAmount:     fxAmount,
				FxCurrency:   fxCurrency,
				FxRate:       fxRate,
				MovementDate: draft.InvoiceDate,
				Reference:    inv.Number,
				CreatedBy:    draft.CommitterName,
			})
			touched = append(touched, ItemBranch{ItemID: line.ItemID, BranchID: draft.BranchID})
		}

		_, movements, err := c.ledger.AppendTx(ctx, tx, inputs)
		if err != nil {
			return err
		}

		for i, line := range draft.Lines {
			for _, serial := range line.Serials {
				if err := c.imeis.AssignTx(ctx, tx, serial, movements[i].ID, draft.BranchID, targetState); err != nil {
					return err
				}
			}
		}

		loaded, err := c.getInvoiceTx(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		result = loaded
		return nil
	})
	if err != nil {
		if existing := c.dedupFallback(ctx, draft.DedupToken, err); existing != nil {
			return existing, nil
		}
		return nil, err
	}

	c.stock.InvalidatePairs(ctx, touched)
	c.log.WithFields(logrus.Fields{
		"invoice": result.Number,
		"kind":    result.Kind,
		"branch":  result.BranchID,
		"party":   result.PartyID,
		"total":   result.Total.StringFixed(3),
	}).Info("invoice committed")
	return result, nil
}

// checkStockTx verifies, inside the transaction, that every out-bound line
// leaves a non-negative balance. Per-item requirements are summed first so
// multiple lines of the same item cannot slip past the check individually.
func (c *Coordinator) checkStockTx(ctx context.Context, tx pgx.Tx, branchID int64, lines []LineDraft) error {
	required := make(map[int64]decimal.Decimal)
	for _, line := range lines {
		required[line.ItemID] = required[line.ItemID].Add(line.Quantity)
	}
	for itemID, qty := range required {
		bal, err := c.stock.BalanceTx(ctx, tx, itemID, branchID)
		if err != nil {
			return err
		}
		if bal.Balance.Sub(qty).IsNegative() {
			return validationErrorf("stock",
				"insufficient stock for item %d at branch %d: balance %s, required %s (oversell needs explicit override)",
				itemID, branchID, bal.Balance.StringFixed(3), qty.StringFixed(3))
		}
	}
	return nil
}

var invoiceNumberPrefix = map[InvoiceKind]string{
	InvoiceSale:           "SI",
	InvoicePurchase:       "PI",
	InvoiceSaleReturn:     "SR",
	InvoicePurchaseReturn: "PR",
}

func (c *Coordinator) insertInvoice(ctx context.Context, tx pgx.Tx, draft *InvoiceDraft, total decimal.Decimal, overridden bool) (*Invoice, error) {
	var dedup *string
	if draft.DedupToken != "" {
		dedup = &draft.DedupToken
	}
	var inv Invoice
	err := tx.QueryRow(ctx, `
		INSERT INTO invoices (kind, number, branch_id, party_id, invoice_date, currency, fx_rate,
		                      total, limit_overridden, dedup_key, created_by)
		VALUES ($1, COALESCE(NULLIF($2, ''), 'PENDING'), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, draft.Kind, draft.Number, draft.BranchID, draft.PartyID, draft.InvoiceDate,
		draft.Currency, draft.FxRate, total, overridden, dedup, draft.CommitterName,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		if isUniqueViolationOn(err, "invoices_number_key") {
			return nil, validationErrorf("number", "invoice number %q already exists", draft.Number)
		}
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	inv.Number = draft.Number
	if inv.Number == "" {
		inv.Number = fmt.Sprintf("%s-B%d-%06d", invoiceNumberPrefix[draft.Kind], draft.BranchID, inv.ID)
		if _, err := tx.Exec(ctx, "UPDATE invoices SET number = $1 WHERE id = $2", inv.Number, inv.ID); err != nil {
			return nil, fmt.Errorf("failed to assign invoice number: %w", err)
		}
	}

	for _, line := range draft.Lines {
		var lineID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (invoice_id, item_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, inv.ID, line.ItemID, line.Quantity, line.UnitPrice, draft.LineTotal(line)).Scan(&lineID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert invoice line: %w", err)
		}
		for _, serial := range line.Serials {
			if _, err := tx.Exec(ctx,
				"INSERT INTO invoice_line_serials (line_id, serial) VALUES ($1, $2)",
				lineID, serial); err != nil {
				return nil, fmt.Errorf("failed to insert line serial: %w", err)
			}
		}
	}
	return &inv, nil
}

// ── Returns ─────────────────────────────────────────────────────────────────

// CreateReturn posts a sale or purchase return validated against the
// original invoice. Sale-return serials walk Sold → Returned → InStock in
// one transaction; purchase-return serials leave custody as TransferredOut.
func (c *Coordinator) CreateReturn(ctx context.Context, draft ReturnDraft) (*Invoice, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var result *Invoice
	var touched []ItemBranch
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		touched = touched[:0]

		if existing, err := c.invoiceByDedup(ctx, tx, draft.DedupToken); err != nil {
			return err
		} else if existing != nil {
			result = existing
			return nil
		}

		original, err := c.getInvoiceTx(ctx, tx, draft.OriginalInvoiceID)
		if err != nil {
			return err
		}
		if draft.Kind == InvoiceSaleReturn && original.Kind != InvoiceSale {
			return validationErrorf("original_invoice", "invoice %s is not a sales invoice", original.Number)
		}
		if draft.Kind == InvoicePurchaseReturn && original.Kind != InvoicePurchase {
			return validationErrorf("original_invoice", "invoice %s is not a purchase invoice", original.Number)
		}
		if original.ReversedBy != nil {
			return validationErrorf("original_invoice", "invoice %s has been reversed", original.Number)
		}

		returned, err := returnedQuantitiesTx(ctx, tx, original.ID)
		if err != nil {
			return err
		}
		if err := validateReturnAgainstOriginal(&draft, original, returned); err != nil {
			return err
		}

		movementKind := KindSaleReturn
		if draft.Kind == InvoicePurchaseReturn {
			movementKind = KindPurchaseReturn
		}

		// Returns are priced at the original invoice's unit prices.
		total := decimal.Zero
		for i, line := range draft.Lines {
			lineTotal := RoundBase(line.Quantity.Mul(draft.Lines[i].UnitPrice).Mul(original.FxRate))
			total = total.Add(lineTotal)
		}

		invDraft := InvoiceDraft{
			Kind:          draft.Kind,
			BranchID:      original.BranchID,
			PartyID:       original.PartyID,
			InvoiceDate:   draft.ReturnDate,
			Currency:      original.Currency,
			FxRate:        original.FxRate,
			Lines:         draft.Lines,
			CommitterName: draft.CommitterName,
			DedupToken:    draft.DedupToken,
		}
		inv, err := c.insertInvoice(ctx, tx, &invDraft, total, false)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "UPDATE invoices SET reversal_of = $1 WHERE id = $2", original.ID, inv.ID); err != nil {
			return fmt.Errorf("failed to link return to original: %w", err)
		}

		inputs := make([]MovementInput, 0, len(draft.Lines))
		for _, line := range draft.Lines {
			inputs = append(inputs, MovementInput{
				BranchID:     original.BranchID,
				ItemID:       int64Ptr(line.ItemID),
				PartyID:      int64Ptr(original.PartyID),
				Kind:         movementKind,
				Quantity:     line.Quantity,
				Amount:       RoundBase(line.Quantity.Mul(line.UnitPrice).Mul(original.FxRate)),
				MovementDate: draft.ReturnDate,
				Reference:    inv.Number,
				CreatedBy:    draft.CommitterName,
			})
			touched = append(touched, ItemBranch{ItemID: line.ItemID, BranchID: original.BranchID})
		}
		_, movements, err := c.ledger.AppendTx(ctx, tx, inputs)
		if err != nil {
			return err
		}

		for i, line := range draft.Lines {
			for _, serial := range line.Serials {
				if draft.Kind == InvoiceSaleReturn {
					if err := c.imeis.AssignTx(ctx, tx, serial, movements[i].ID, original.BranchID, SerialReturned); err != nil {
						return err
					}
					if err := c.imeis.AssignTx(ctx, tx, serial, movements[i].ID, original.BranchID, SerialInStock); err != nil {
						return err
					}
				} else {
					if err := c.imeis.AssignTx(ctx, tx, serial, movements[i].ID, original.BranchID, SerialTransferredOut); err != nil {
						return err
					}
				}
			}
		}

		loaded, err := c.getInvoiceTx(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		result = loaded
		return nil
	})
	if err != nil {
		if existing := c.dedupFallback(ctx, draft.DedupToken, err); existing != nil {
			return existing, nil
		}
		return nil, err
	}

	c.stock.InvalidatePairs(ctx, touched)
	c.log.WithFields(logrus.Fields{
		"invoice":  result.Number,
		"kind":     result.Kind,
		"original": draft.OriginalInvoiceID,
	}).Info("return committed")
	return result, nil
}

// returnedQuantitiesTx sums, per item, the quantities already returned
// against the given invoice. Reversed returns do not count; neither does the
// invoice's own reversal, whose kind stays sale/purchase.
func returnedQuantitiesTx(ctx context.Context, tx pgx.Tx, originalID int64) (map[int64]decimal.Decimal, error) {
	rows, err := tx.Query(ctx, `
		SELECT il.item_id, COALESCE(SUM(il.quantity), 0)
		FROM invoice_lines il
		JOIN invoices i ON i.id = il.invoice_id
		WHERE i.reversal_of = $1
		  AND i.kind IN ($2, $3)
		  AND i.reversed_by IS NULL
		GROUP BY il.item_id
	`, originalID, InvoiceSaleReturn, InvoicePurchaseReturn)
	if err != nil {
		return nil, fmt.Errorf("failed to query prior returns for invoice %d: %w", originalID, err)
	}
	defer rows.Close()

	returned := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan prior return quantity: %w", err)
		}
		returned[itemID] = qty
	}
	return returned, rows.Err()
}

// validateReturnAgainstOriginal checks that returned items, quantities, and
// serials are a subset of the original invoice net of quantities already
// returned, and reprices the draft from the original. Draft lines are
// allocated against the original's lines in order, so an item invoiced on
// two lines at different prices is refunded at the price each unit actually
// carried. The draft's lines are rewritten to the allocation; a line may
// split into several when it spans original lines.
func validateReturnAgainstOriginal(draft *ReturnDraft, original *Invoice, returned map[int64]decimal.Decimal) error {
	type bucket struct {
		price     decimal.Decimal
		remaining decimal.Decimal
	}
	buckets := make(map[int64][]*bucket)
	serials := make(map[int64]map[string]bool)
	for _, line := range original.Lines {
		buckets[line.ItemID] = append(buckets[line.ItemID], &bucket{price: line.UnitPrice, remaining: line.Quantity})
		if serials[line.ItemID] == nil {
			serials[line.ItemID] = make(map[string]bool)
		}
		for _, s := range line.Serials {
			serials[line.ItemID][s] = true
		}
	}

	// Prior returns consume the original's lines first, oldest line first.
	for itemID, qty := range returned {
		for _, b := range buckets[itemID] {
			if !qty.IsPositive() {
				break
			}
			take := decimal.Min(qty, b.remaining)
			b.remaining = b.remaining.Sub(take)
			qty = qty.Sub(take)
		}
	}

	allocated := make([]LineDraft, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		bs, ok := buckets[line.ItemID]
		if !ok {
			return validationErrorf("lines", "item %d is not on invoice %s", line.ItemID, original.Number)
		}
		for _, s := range line.Serials {
			if !serials[line.ItemID][s] {
				return validationErrorf("serials", "serial %s is not on invoice %s", s, original.Number)
			}
		}

		need := line.Quantity
		pending := line.Serials
		for _, b := range bs {
			if !need.IsPositive() {
				break
			}
			if !b.remaining.IsPositive() {
				continue
			}
			take := decimal.Min(need, b.remaining)
			next := LineDraft{ItemID: line.ItemID, Quantity: take, UnitPrice: b.price}
			if len(pending) > 0 {
				n := len(pending)
				if whole := int(take.IntPart()); whole < n {
					n = whole
				}
				next.Serials = pending[:n]
				pending = pending[n:]
			}
			allocated = append(allocated, next)
			b.remaining = b.remaining.Sub(take)
			need = need.Sub(take)
		}
		if need.IsPositive() {
			return validationErrorf("lines", "return quantity %s for item %d exceeds the returnable remainder on invoice %s",
				line.Quantity, line.ItemID, original.Number)
		}
		if len(pending) > 0 {
			allocated[len(allocated)-1].Serials = append(allocated[len(allocated)-1].Serials, pending...)
		}
	}
	draft.Lines = allocated
	return nil
}

// ── Stock transfers ──────────────────────────────────────────────────────────

// CreateStockTransfer posts paired transfer-out/transfer-in movements under
// one batch. Serials walk InStock → TransferredOut → InStock at the
// destination branch atomically, so a unit is never visible in two branches.
func (c *Coordinator) CreateStockTransfer(ctx context.Context, draft TransferDraft) (*Transfer, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var result *Transfer
	var touched []ItemBranch
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		touched = touched[:0]

		if draft.DedupToken != "" {
			existing, err := c.transferByDedup(ctx, tx, draft.DedupToken)
			if err != nil {
				return err
			}
			if existing != nil {
				result = existing
				return nil
			}
		}

		if err := branchExists(ctx, tx, draft.FromBranchID); err != nil {
			return err
		}
		if err := branchExists(ctx, tx, draft.ToBranchID); err != nil {
			return err
		}
		if !draft.AllowNegativeStock {
			if err := c.checkStockTx(ctx, tx, draft.FromBranchID, draft.Lines); err != nil {
				return err
			}
		}

		var dedup *string
		if draft.DedupToken != "" {
			dedup = &draft.DedupToken
		}
		var transferID int64
		var createdAt time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO transfers (number, from_branch_id, to_branch_id, transfer_date, dedup_key, created_by)
			VALUES (COALESCE(NULLIF($1, ''), 'PENDING'), $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`, draft.Number, draft.FromBranchID, draft.ToBranchID, draft.TransferDate, dedup, draft.CommitterName,
		).Scan(&transferID, &createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
		number := draft.Number
		if number == "" {
			number = fmt.Sprintf("TR-B%d-%06d", draft.FromBranchID, transferID)
			if _, err := tx.Exec(ctx, "UPDATE transfers SET number = $1 WHERE id = $2", number, transferID); err != nil {
				return fmt.Errorf("failed to assign transfer number: %w", err)
			}
		}

		// Transfers are valued at the item's reference purchase price so
		// branch stock value stays traceable; there is no party effect.
		inputs := make([]MovementInput, 0, len(draft.Lines)*2)
		for _, line := range draft.Lines {
			var lineID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO transfer_lines (transfer_id, item_id, quantity)
				VALUES ($1, $2, $3) RETURNING id
			`, transferID, line.ItemID, line.Quantity).Scan(&lineID)
			if err != nil {
				return fmt.Errorf("failed to insert transfer line: %w", err)
			}
			for _, serial := range line.Serials {
				if _, err := tx.Exec(ctx,
					"INSERT INTO transfer_line_serials (line_id, serial) VALUES ($1, $2)",
					lineID, serial); err != nil {
					return fmt.Errorf("failed to insert transfer line serial: %w", err)
				}
			}

			var refPrice decimal.Decimal
			if err := tx.QueryRow(ctx, "SELECT purchase_price FROM items WHERE id = $1", line.ItemID).Scan(&refPrice); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return validationErrorf("lines", "item %d not found", line.ItemID)
				}
				return fmt.Errorf("failed to fetch item %d: %w", line.ItemID, err)
			}
			value := RoundBase(line.Quantity.Mul(refPrice))

			inputs = append(inputs,
				MovementInput{
					BranchID:     draft.FromBranchID,
					ItemID:       int64Ptr(line.ItemID),
					Kind:         KindTransferOut,
					Quantity:     line.Quantity,
					Amount:       value,
					MovementDate: draft.TransferDate,
					Reference:    number,
					CreatedBy:    draft.CommitterName,
				},
				MovementInput{
					BranchID:     draft.ToBranchID,
					ItemID:       int64Ptr(line.ItemID),
					Kind:         KindTransferIn,
					Quantity:     line.Quantity,
					Amount:       value,
					MovementDate: draft.TransferDate,
					Reference:    number,
					CreatedBy:    draft.CommitterName,
				},
			)
			touched = append(touched,
				ItemBranch{ItemID: line.ItemID, BranchID: draft.FromBranchID},
				ItemBranch{ItemID: line.ItemID, BranchID: draft.ToBranchID})
		}

		_, movements, err := c.ledger.AppendTx(ctx, tx, inputs)
		if err != nil {
			return err
		}

		for i, line := range draft.Lines {
			out, in := movements[i*2], movements[i*2+1]
			for _, serial := range line.Serials {
				if err := c.imeis.AssignTx(ctx, tx, serial, out.ID, draft.FromBranchID, SerialTransferredOut); err != nil {
					return err
				}
				if err := c.imeis.AssignTx(ctx, tx, serial, in.ID, draft.ToBranchID, SerialInStock); err != nil {
					return err
				}
			}
		}

		loaded, err := c.getTransferTx(ctx, tx, transferID)
		if err != nil {
			return err
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.stock.InvalidatePairs(ctx, touched)
	c.log.WithFields(logrus.Fields{
		"transfer": result.Number,
		"from":     result.FromBranchID,
		"to":       result.ToBranchID,
	}).Info("transfer committed")
	return result, nil
}

// ── Payments and expenses ────────────────────────────────────────────────────

// RecordPayment posts a single payment movement against a party and a
// cash/bank account. A dedup token makes the write idempotent: resubmitting
// the same token returns the entry for the already-committed movement.
func (c *Coordinator) RecordPayment(ctx context.Context, draft PaymentDraft) (*AccountEntry, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.DedupToken = strings.TrimSpace(draft.DedupToken)
	kind := KindPaymentIn
	if draft.Direction == "out" {
		kind = KindPaymentOut
	}

	var entry *AccountEntry
	var replayed bool
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		if existing, err := movementByDedup(ctx, tx, draft.DedupToken); err != nil {
			return err
		} else if existing != nil {
			running, err := c.balances.CurrentBalanceTx(ctx, tx, draft.PartyID)
			if err != nil {
				return err
			}
			entry = entryFromMovement(existing, running)
			replayed = true
			return nil
		}

		if err := branchExists(ctx, tx, draft.BranchID); err != nil {
			return err
		}
		if _, err := fetchParty(ctx, tx, draft.PartyID); err != nil {
			return err
		}
		if err := accountExists(ctx, tx, draft.AccountID); err != nil {
			return err
		}

		_, movements, err := c.ledger.AppendTx(ctx, tx, []MovementInput{{
			BranchID:     draft.BranchID,
			PartyID:      int64Ptr(draft.PartyID),
			AccountID:    int64Ptr(draft.AccountID),
			Kind:         kind,
			Amount:       RoundBase(draft.Amount),
			MovementDate: draft.PaymentDate,
			Reference:    draft.Reference,
			DedupKey:     dedupKeyPtr(draft.DedupToken),
			CreatedBy:    draft.CommitterName,
		}})
		if err != nil {
			return err
		}

		running, err := c.balances.CurrentBalanceTx(ctx, tx, draft.PartyID)
		if err != nil {
			return err
		}
		entry = entryFromMovement(&movements[0], running)
		return nil
	})
	if err != nil {
		if m := c.movementDedupFallback(ctx, draft.DedupToken, err); m != nil {
			running, berr := c.balances.CurrentBalance(ctx, draft.PartyID)
			if berr != nil {
				return nil, berr
			}
			return entryFromMovement(m, running), nil
		}
		return nil, err
	}
	if replayed {
		return entry, nil
	}

	c.log.WithFields(logrus.Fields{
		"party":     draft.PartyID,
		"account":   draft.AccountID,
		"direction": draft.Direction,
		"amount":    draft.Amount.StringFixed(3),
	}).Info("payment committed")
	return entry, nil
}

// RecordExpense posts an expense movement against a cash/bank account. Like
// payments, a dedup token makes resubmission return the committed movement.
func (c *Coordinator) RecordExpense(ctx context.Context, draft ExpenseDraft) (*Movement, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.DedupToken = strings.TrimSpace(draft.DedupToken)

	var movement *Movement
	var replayed bool
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		if existing, err := movementByDedup(ctx, tx, draft.DedupToken); err != nil {
			return err
		} else if existing != nil {
			movement = existing
			replayed = true
			return nil
		}

		if err := branchExists(ctx, tx, draft.BranchID); err != nil {
			return err
		}
		if err := accountExists(ctx, tx, draft.AccountID); err != nil {
			return err
		}
		_, movements, err := c.ledger.AppendTx(ctx, tx, []MovementInput{{
			BranchID:     draft.BranchID,
			AccountID:    int64Ptr(draft.AccountID),
			Kind:         KindExpense,
			Amount:       RoundBase(draft.Amount),
			MovementDate: draft.ExpenseDate,
			Reference:    draft.Category,
			DedupKey:     dedupKeyPtr(draft.DedupToken),
			CreatedBy:    draft.CommitterName,
		}})
		if err != nil {
			return err
		}
		movement = &movements[0]
		return nil
	})
	if err != nil {
		if m := c.movementDedupFallback(ctx, draft.DedupToken, err); m != nil {
			return m, nil
		}
		return nil, err
	}
	if replayed {
		return movement, nil
	}

	c.log.WithFields(logrus.Fields{
		"branch":   draft.BranchID,
		"account":  draft.AccountID,
		"category": draft.Category,
		"amount":   draft.Amount.StringFixed(3),
	}).Info("expense committed")
	return movement, nil
}

// ── Reversal ─────────────────────────────────────────────────────────────────

// reversalRestoreState maps an invoice kind to the serial state its units
// held before the invoice existed.
var reversalRestoreState = map[InvoiceKind]SerialState{
	InvoiceSale:           SerialInStock,
	InvoicePurchase:       SerialTransferredOut,
	InvoiceSaleReturn:     SerialSold,
	InvoicePurchaseReturn: SerialInStock,
}

// ReverseInvoice emits a compensating reversal for a committed invoice: the
// original movements are offset by negated copies, every serial returns to
// its pre-invoice state, and the original is marked reversed. History is
// never erased — statements keep showing both the invoice and its reversal.
func (c *Coordinator) ReverseInvoice(ctx context.Context, invoiceID int64, role CommitterRole, committerName, reason string) (*Invoice, error) {
	var result *Invoice
	var touched []ItemBranch
	err := c.withRetry(ctx, func(tx pgx.Tx) error {
		touched = touched[:0]

		original, err := c.getInvoiceTx(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if original.ReversedBy != nil {
			return validationErrorf("invoice", "invoice %s is already reversed", original.Number)
		}

		// Lock the party so concurrent credit checks see the reversal
		// atomically with its movements.
		if _, err := tx.Exec(ctx, "SELECT 1 FROM parties WHERE id = $1 FOR UPDATE", original.PartyID); err != nil {
			return fmt.Errorf("failed to lock party %d: %w", original.PartyID, err)
		}

		originals, err := c.movementsByReferenceTx(ctx, tx, original.Number)
		if err != nil {
			return err
		}
		if len(originals) == 0 {
			return validationErrorf("invoice", "invoice %s has no movements to reverse", original.Number)
		}

		number := "RV-" + original.Number
		var reversalID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO invoices (kind, number, branch_id, party_id, invoice_date, currency, fx_rate,
			                      total, limit_overridden, reversal_of, created_by)
			VALUES ($1, $2, $3, $4, CURRENT_DATE, $5, $6, $7, false, $8, $9)
			RETURNING id
		`, original.Kind, number, original.BranchID, original.PartyID,
			original.Currency, original.FxRate, original.Total.Neg(), original.ID, committerName,
		).Scan(&reversalID)
		if err != nil {
			return fmt.Errorf("failed to insert reversal invoice: %w", err)
		}

		inputs := make([]MovementInput, 0, len(originals))
		for _, m := range originals {
			inputs = append(inputs, MovementInput{
				BranchID:     m.BranchID,
				ItemID:       m.ItemID,
				PartyID:      m.PartyID,
				AccountID:    m.AccountID,
				Kind:         m.Kind,
				Quantity:     m.Quantity.Neg(),
				Amount:       m.Amount.Neg(),
				MovementDate: time.Now(),
				Reference:    number,
				ReversalOf:   int64Ptr(m.ID),
				CreatedBy:    committerName,
			})
			if m.ItemID != nil {
				touched = append(touched, ItemBranch{ItemID: *m.ItemID, BranchID: m.BranchID})
			}
		}
		_, movements, err := c.ledger.AppendTx(ctx, tx, inputs)
		if err != nil {
			return err
		}

		restore := reversalRestoreState[original.Kind]
		for _, line := range original.Lines {
			for _, serial := range line.Serials {
				if err := c.imeis.restoreTx(ctx, tx, serial, movements[0].ID, original.BranchID, restore); err != nil {
					return err
				}
			}
		}

		if _, err := tx.Exec(ctx, "UPDATE invoices SET reversed_by = $1 WHERE id = $2", reversalID, original.ID); err != nil {
			return fmt.Errorf("failed to mark invoice reversed: %w", err)
		}

		loaded, err := c.getInvoiceTx(ctx, tx, reversalID)
		if err != nil {
			return err
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.stock.InvalidatePairs(ctx, touched)
	c.log.WithFields(logrus.Fields{
		"invoice":  invoiceID,
		"reversal": result.Number,
		"by":       committerName,
		"reason":   reason,
	}).Info("invoice reversed")
	return result, nil
}

// ── Warranty ─────────────────────────────────────────────────────────────────

// MarkWarranty moves a sold unit into warranty service. No ledger rows: the
// unit stays with the customer financially and stays out of sellable stock.
func (c *Coordinator) MarkWarranty(ctx context.Context, serial string) error {
	return c.warrantyTransition(ctx, serial, SerialWarranty)
}

// ResolveWarranty hands a repaired unit back to its customer (Warranty →
// Sold). Refund paths go through CreateReturn, which accepts units in
// Warranty as well as Sold.
func (c *Coordinator) ResolveWarranty(ctx context.Context, serial string) error {
	return c.warrantyTransition(ctx, serial, SerialSold)
}

func (c *Coordinator) warrantyTransition(ctx context.Context, serial string, target SerialState) error {
	return c.withRetry(ctx, func(tx pgx.Tx) error {
		var movementID, branchID int64
		err := tx.QueryRow(ctx,
			"SELECT movement_id, branch_id FROM imei_records WHERE serial = $1",
			serial,
		).Scan(&movementID, &branchID)
		if errors.Is(err, pgx.ErrNoRows) {
			return validationErrorf("serial", "serial %s is not known to the system", serial)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch IMEI record %s: %w", serial, err)
		}
		return c.imeis.AssignTx(ctx, tx, serial, movementID, branchID, target)
	})
}

// ── Lookups and helpers ──────────────────────────────────────────────────────

// GetInvoice loads an invoice with its lines and serials.
func (c *Coordinator) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	return getInvoice(ctx, c.pool, invoiceID)
}

func (c *Coordinator) getInvoiceTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*Invoice, error) {
	return getInvoice(ctx, tx, invoiceID)
}

func getInvoice(ctx context.Context, q pgxQuerier, invoiceID int64) (*Invoice, error) {
	var inv Invoice
	err := q.QueryRow(ctx, `
		SELECT id, kind, number, branch_id, party_id, invoice_date, currency, fx_rate,
		       total, limit_overridden, reversed_by, reversal_of, created_by, created_at
		FROM invoices WHERE id = $1
	`, invoiceID).Scan(&inv.ID, &inv.Kind, &inv.Number, &inv.BranchID, &inv.PartyID,
		&inv.InvoiceDate, &inv.Currency, &inv.FxRate, &inv.Total, &inv.LimitOverridden,
		&inv.ReversedBy, &inv.ReversalOf, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("invoice", "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT l.id, l.invoice_id, l.item_id, l.quantity, l.unit_price, l.line_total
		FROM invoice_lines l WHERE l.invoice_id = $1 ORDER BY l.id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ItemID, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice lines: %w", err)
	}

	for i := range inv.Lines {
		serialRows, err := q.Query(ctx,
			"SELECT serial FROM invoice_line_serials WHERE line_id = $1 ORDER BY serial",
			inv.Lines[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query line serials: %w", err)
		}
		for serialRows.Next() {
			var s string
			if err := serialRows.Scan(&s); err != nil {
				serialRows.Close()
				return nil, fmt.Errorf("failed to scan line serial: %w", err)
			}
			inv.Lines[i].Serials = append(inv.Lines[i].Serials, s)
		}
		serialRows.Close()
		if err := serialRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating line serials: %w", err)
		}
	}
	return &inv, nil
}

func (c *Coordinator) invoiceByDedup(ctx context.Context, tx pgx.Tx, token string) (*Invoice, error) {
	if token == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM invoices WHERE dedup_key = $1", token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check dedup token: %w", err)
	}
	return c.getInvoiceTx(ctx, tx, id)
}

// dedupFallback resolves the race where two submissions carrying the same
// token pass the dedup lookup together: the loser's unique violation is
// answered with the winner's committed invoice.
func (c *Coordinator) dedupFallback(ctx context.Context, token string, err error) *Invoice {
	if token == "" || !isUniqueViolationOn(err, "invoices_dedup_key_key") {
		return nil
	}
	var id int64
	if qErr := c.pool.QueryRow(ctx, "SELECT id FROM invoices WHERE dedup_key = $1", token).Scan(&id); qErr != nil {
		return nil
	}
	inv, qErr := getInvoice(ctx, c.pool, id)
	if qErr != nil {
		return nil
	}
	return inv
}

// movementByDedup looks up a single movement by its idempotency key. Used by
// RecordPayment and RecordExpense, which post exactly one row per write.
func movementByDedup(ctx context.Context, q pgxQuerier, token string) (*Movement, error) {
	if token == "" {
		return nil, nil
	}
	row := q.QueryRow(ctx, `
		SELECT id, batch_id, branch_id, seq, item_id, party_id, account_id, kind,
		       quantity, amount, fx_amount, fx_currency, fx_rate,
		       movement_date, reference, reversal_of, created_by, created_at
		FROM movements WHERE dedup_key = $1
	`, token)
	var m Movement
	err := row.Scan(&m.ID, &m.BatchID, &m.BranchID, &m.Seq, &m.ItemID, &m.PartyID, &m.AccountID, &m.Kind,
		&m.Quantity, &m.Amount, &m.FxAmount, &m.FxCurrency, &m.FxRate,
		&m.MovementDate, &m.Reference, &m.ReversalOf, &m.CreatedBy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check movement dedup token: %w", err)
	}
	return &m, nil
}

// movementDedupFallback resolves the race where two submissions carrying the
// same token pass the dedup lookup together, mirroring dedupFallback for
// invoices.
func (c *Coordinator) movementDedupFallback(ctx context.Context, token string, err error) *Movement {
	if token == "" || !isUniqueViolationOn(err, "movements_dedup_key_key") {
		return nil
	}
	m, qErr := movementByDedup(ctx, c.pool, token)
	if qErr != nil {
		return nil
	}
	return m
}

func dedupKeyPtr(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}

func entryFromMovement(m *Movement, running decimal.Decimal) *AccountEntry {
	return &AccountEntry{
		MovementID:     m.ID,
		BranchID:       m.BranchID,
		Seq:            m.Seq,
		Kind:           m.Kind,
		MovementDate:   m.MovementDate,
		Reference:      m.Reference,
		Amount:         m.Amount,
		SignedAmount:   applySign(m.Amount, m.Kind.PartySign()),
		RunningBalance: running,
	}
}

func (c *Coordinator) transferByDedup(ctx context.Context, tx pgx.Tx, token string) (*Transfer, error) {
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM transfers WHERE dedup_key = $1", token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check transfer dedup token: %w", err)
	}
	return c.getTransferTx(ctx, tx, id)
}

func (c *Coordinator) getTransferTx(ctx context.Context, q pgxQuerier, transferID int64) (*Transfer, error) {
	var tr Transfer
	err := q.QueryRow(ctx, `
		SELECT id, number, from_branch_id, to_branch_id, transfer_date, created_by, created_at
		FROM transfers WHERE id = $1
	`, transferID).Scan(&tr.ID, &tr.Number, &tr.FromBranchID, &tr.ToBranchID,
		&tr.TransferDate, &tr.CreatedBy, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, validationErrorf("transfer", "transfer %d not found", transferID)
		}
		return nil, fmt.Errorf("failed to fetch transfer %d: %w", transferID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, transfer_id, item_id, quantity FROM transfer_lines
		WHERE transfer_id = $1 ORDER BY id
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line TransferLine
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ItemID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan transfer line: %w", err)
		}
		tr.Lines = append(tr.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer lines: %w", err)
	}
	return &tr, nil
}

func (c *Coordinator) movementsByReferenceTx(ctx context.Context, tx pgx.Tx, reference string) ([]Movement, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, batch_id, branch_id, seq, item_id, party_id, account_id, kind,
		       quantity, amount, fx_amount, fx_currency, fx_rate,
		       movement_date, reference, reversal_of, created_by, created_at
		FROM movements
		WHERE reference = $1 AND reversal_of IS NULL
		ORDER BY movement_date, seq, id
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements for %s: %w", reference, err)
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
	return movements, rows.Err()
}

func branchExists(ctx context.Context, q pgxQuerier, branchID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM branches WHERE id = $1)", branchID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check branch %d: %w", branchID, err)
	}
	if !exists {
		return validationErrorf("branch", "branch %d not found", branchID)
	}
	return nil
}

func accountExists(ctx context.Context, q pgxQuerier, accountID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check account %d: %w", accountID, err)
	}
	if !exists {
		return validationErrorf("account", "account %d not found", accountID)
	}
	return nil
}
