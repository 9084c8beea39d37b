// seed is a one-shot tool that loads demo reference data: two branches, a
// starter item catalogue, cash/bank accounts, and a few parties with
// opening balances. Safe to re-run: inserts are keyed on codes.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"retail-ledger/internal/db"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Seeding branches...")
	_, err = tx.Exec(ctx, `
		INSERT INTO branches (code, name, is_default) VALUES
		    ('MAIN', 'Main Branch', TRUE),
		    ('CITY', 'City Center', FALSE)
		ON CONFLICT (code) DO NOTHING;
	`)
	if err != nil {
		log.Fatalf("Failed to seed branches: %v", err)
	}

	log.Println("Seeding accounts...")
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (code, name, kind) VALUES
		    ('CASH-MAIN', 'Main Cash Drawer', 'cash'),
		    ('CASH-CITY', 'City Cash Drawer', 'cash'),
		    ('BANK-NBK',  'NBK Current Account', 'bank')
		ON CONFLICT (code) DO NOTHING;
	`)
	if err != nil {
		log.Fatalf("Failed to seed accounts: %v", err)
	}

	log.Println("Seeding items...")
	_, err = tx.Exec(ctx, `
		INSERT INTO items (code, name, category, purchase_price, selling_price, purchase_currency, min_stock) VALUES
		    ('IP15-128',  'iPhone 15 128GB',        'phones',      210.000, 259.000, 'USD', 3),
		    ('S24-256',   'Galaxy S24 256GB',       'phones',      185.000, 229.000, 'USD', 3),
		    ('CASE-CLR',  'Clear Case Universal',   'accessories',   0.450,   2.500, 'KWD', 20),
		    ('CHG-20W',   '20W USB-C Charger',      'accessories',   1.800,   4.500, 'KWD', 10),
		    ('SCR-GLS',   'Tempered Glass Protector','accessories',  0.300,   1.500, 'KWD', 30)
		ON CONFLICT (code) DO NOTHING;
	`)
	if err != nil {
		log.Fatalf("Failed to seed items: %v", err)
	}

	log.Println("Seeding parties...")
	_, err = tx.Exec(ctx, `
		INSERT INTO parties (kind, name, phone, credit_limit)
		SELECT v.kind, v.name, v.phone, v.credit_limit
		FROM (VALUES
		    ('customer', 'Walk-in Customer', '',          0.000),
		    ('customer', 'Ahmed Al-Salem',   '99001122', 500.000),
		    ('customer', 'Fatima Hasan',     '99334455', 250.000),
		    ('supplier', 'Gulf Mobile Trading', '22445566', 0.000),
		    ('supplier', 'Al-Rai Electronics',  '22778899', 0.000)
		) AS v(kind, name, phone, credit_limit)
		WHERE NOT EXISTS (SELECT 1 FROM parties p WHERE p.name = v.name);
	`)
	if err != nil {
		log.Fatalf("Failed to seed parties: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	log.Println("Seed complete.")
}
