package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"retail-ledger/internal/app"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc      app.ApplicationService
	log      *logrus.Logger
	validate *validator.Validate
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log *logrus.Logger, allowedOrigins string) http.Handler {
	h := &Handler{
		svc:      svc,
		log:      log,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20))

	r.Get("/api/health", h.health)

	// Invoices and returns
	r.Post("/api/invoices/sales", h.createSalesInvoice)
	r.Post("/api/invoices/purchases", h.createPurchaseInvoice)
	r.Get("/api/invoices/{id}", h.getInvoice)
	r.Post("/api/invoices/{id}/reverse", h.reverseInvoice)
	r.Post("/api/returns", h.createReturn)

	// Transfers
	r.Post("/api/transfers", h.createTransfer)

	// Payments and expenses
	r.Post("/api/payments", h.recordPayment)
	r.Post("/api/expenses", h.recordExpense)

	// Stock
	r.Get("/api/stock", h.listStockBalances)
	r.Get("/api/stock/{itemID}", h.getStockTotal)
	r.Get("/api/stock/{itemID}/branches/{branchID}", h.getStockBalance)

	// Movements
	r.Get("/api/movements", h.queryMovements)

	// Parties and statements
	r.Post("/api/parties", h.createParty)
	r.Get("/api/parties", h.listParties)
	r.Get("/api/parties/{id}/statement", h.getStatement)
	r.Get("/api/parties/{id}/balance", h.getPartyBalance)
	r.Put("/api/parties/{id}/credit-limit", h.setCreditLimit)
	r.Post("/api/credit-check", h.checkCredit)

	// IMEI lifecycle
	r.Get("/api/imeis", h.listIMEIs)
	r.Get("/api/imeis/{serial}", h.getIMEI)
	r.Post("/api/imeis/{serial}/warranty", h.markWarranty)
	r.Post("/api/imeis/{serial}/resolve", h.resolveWarranty)

	// Master data
	r.Post("/api/branches", h.createBranch)
	r.Get("/api/branches", h.listBranches)
	r.Post("/api/items", h.createItem)
	r.Get("/api/items", h.listItems)
	r.Put("/api/items/{id}/prices", h.updateItemPrices)
	r.Post("/api/items/{id}/opening-stock", h.recordOpeningStock)
	r.Post("/api/accounts", h.createAccount)
	r.Get("/api/accounts", h.listAccounts)
	r.Get("/api/accounts/{id}/balance", h.getAccountBalance)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// pathID parses a numeric chi URL parameter; zero means malformed.
func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// queryInt64 parses an optional numeric query parameter.
func queryInt64(r *http.Request, name string) *int64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
