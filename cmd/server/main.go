package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	webAdapter "retail-ledger/internal/adapters/web"
	"retail-ledger/internal/app"
	"retail-ledger/internal/cache"
	"retail-ledger/internal/config"
	"retail-ledger/internal/core"
	"retail-ledger/internal/db"
)

func main() {
	_ = godotenv.Load()
	log := config.NewLogger()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer pool.Close()

	stockCache := cache.New(ctx, log)

	ledger := core.NewLedgerStore(pool)
	stock := core.NewStockService(pool, stockCache)
	balances := core.NewPartyBalanceService(pool)
	imeis := core.NewIMEITracker(pool)
	guard := core.NewCreditGuard(balances)
	coordinator := core.NewCoordinator(pool, ledger, imeis, guard, stock, balances, log)
	master := core.NewMasterService(pool, ledger)

	svc := app.NewAppService(coordinator, ledger, stock, balances, imeis, master)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, log, allowedOrigins)

	log.WithField("port", port).Info("server starting")
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
