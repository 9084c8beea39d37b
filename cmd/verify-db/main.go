// verify-db recomputes every derived balance from the movement ledger and
// reports drift: sequence gaps, invoice totals that disagree with their
// movements, reversal pairs that do not cancel, and oversold stock
// positions. It never repairs anything; output is for operators.
//
// Usage: go run ./cmd/verify-db
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"retail-ledger/internal/db"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("[CONNECT] failed: %v", err)
	}
	defer pool.Close()

	issues := 0

	// Sequence continuity: movements per branch must occupy 1..max(seq)
	// without holes.
	rows, err := pool.Query(ctx, `
		SELECT branch_id, COUNT(*), MAX(seq)
		FROM movements GROUP BY branch_id ORDER BY branch_id
	`)
	if err != nil {
		log.Fatalf("[SEQ] query failed: %v", err)
	}
	for rows.Next() {
		var branchID, count, maxSeq int64
		if err := rows.Scan(&branchID, &count, &maxSeq); err != nil {
			log.Fatalf("[SEQ] scan failed: %v", err)
		}
		if count != maxSeq {
			issues++
			log.Printf("[SEQ] branch %d: %d movements but max seq %d (gap)", branchID, count, maxSeq)
		}
	}
	rows.Close()

	// Invoice totals must equal the sum of their movements' amounts.
	rows, err = pool.Query(ctx, `
		SELECT i.id, i.number, i.total, COALESCE(SUM(m.amount), 0)
		FROM invoices i
		LEFT JOIN movements m ON m.reference = i.number
		GROUP BY i.id, i.number, i.total
		HAVING i.total <> COALESCE(SUM(m.amount), 0)
	`)
	if err != nil {
		log.Fatalf("[INVOICE] query failed: %v", err)
	}
	for rows.Next() {
		var id int64
		var number string
		var total, movementSum string
		if err := rows.Scan(&id, &number, &total, &movementSum); err != nil {
			log.Fatalf("[INVOICE] scan failed: %v", err)
		}
		issues++
		log.Printf("[INVOICE] %s (id=%d): header total %s but movements sum %s", number, id, total, movementSum)
	}
	rows.Close()

	// Reversal movements must exactly negate their originals.
	rows, err = pool.Query(ctx, `
		SELECT m.id, m.reversal_of
		FROM movements m
		JOIN movements o ON o.id = m.reversal_of
		WHERE m.quantity <> -o.quantity OR m.amount <> -o.amount OR m.kind <> o.kind
	`)
	if err != nil {
		log.Fatalf("[REVERSAL] query failed: %v", err)
	}
	for rows.Next() {
		var id, of int64
		if err := rows.Scan(&id, &of); err != nil {
			log.Fatalf("[REVERSAL] scan failed: %v", err)
		}
		issues++
		log.Printf("[REVERSAL] movement %d does not negate movement %d", id, of)
	}
	rows.Close()

	// Oversold positions: a fold that lands negative is a diagnostic, not
	// an error the engine hides.
	rows, err = pool.Query(ctx, `
		SELECT item_id, branch_id,
		       SUM(CASE WHEN kind IN ('opening-balance', 'purchase', 'transfer-in', 'sale-return') THEN quantity
		                WHEN kind IN ('sale', 'transfer-out', 'purchase-return') THEN -quantity
		                ELSE 0 END) AS balance
		FROM movements
		WHERE item_id IS NOT NULL
		GROUP BY item_id, branch_id
		HAVING SUM(CASE WHEN kind IN ('opening-balance', 'purchase', 'transfer-in', 'sale-return') THEN quantity
		                WHEN kind IN ('sale', 'transfer-out', 'purchase-return') THEN -quantity
		                ELSE 0 END) < 0
	`)
	if err != nil {
		log.Fatalf("[STOCK] query failed: %v", err)
	}
	for rows.Next() {
		var itemID, branchID int64
		var balance string
		if err := rows.Scan(&itemID, &branchID, &balance); err != nil {
			log.Fatalf("[STOCK] scan failed: %v", err)
		}
		issues++
		log.Printf("[STOCK] item %d branch %d: negative balance %s", itemID, branchID, balance)
	}
	rows.Close()

	// IMEI records must be well formed and point at real movements; the
	// serial format is the only thing the schema does not enforce.
	rows, err = pool.Query(ctx, `
		SELECT serial FROM imei_records WHERE serial !~ '^[0-9]{15}$'
	`)
	if err != nil {
		log.Fatalf("[IMEI] query failed: %v", err)
	}
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			log.Fatalf("[IMEI] scan failed: %v", err)
		}
		issues++
		log.Printf("[IMEI] malformed serial %q", serial)
	}
	rows.Close()

	if issues > 0 {
		log.Printf("[DONE] %d issue(s) found", issues)
		os.Exit(1)
	}
	log.Println("[DONE] ledger consistent")
}
