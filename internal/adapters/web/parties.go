package web

import (
	"net/http"

	"retail-ledger/internal/app"
)

type createPartyDTO struct {
	Kind            string `json:"kind" validate:"required,oneof=customer supplier internal"`
	Name            string `json:"name" validate:"required"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	CreditLimit     string `json:"credit_limit"`
	OpeningBalance  string `json:"opening_balance"`
	OpeningBranchID int64  `json:"opening_branch_id"`
	CommitterName   string `json:"committer_name"`
}

// createParty handles POST /api/parties.
func (h *Handler) createParty(w http.ResponseWriter, r *http.Request) {
	var dto createPartyDTO
	if !h.decode(w, r, &dto) {
		return
	}
	party, err := h.svc.CreateParty(r.Context(), app.CreatePartyRequest{
		Kind:            dto.Kind,
		Name:            dto.Name,
		Phone:           dto.Phone,
		Address:         dto.Address,
		CreditLimit:     dto.CreditLimit,
		OpeningBalance:  dto.OpeningBalance,
		OpeningBranchID: dto.OpeningBranchID,
		CommitterName:   dto.CommitterName,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, party)
}

// listParties handles GET /api/parties?kind=.
func (h *Handler) listParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.svc.ListParties(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, parties)
}

// getStatement handles GET /api/parties/{id}/statement?from=&to=.
func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid party id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	statement, err := h.svc.GetStatement(r.Context(), id, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, statement)
}

// getPartyBalance handles GET /api/parties/{id}/balance.
func (h *Handler) getPartyBalance(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid party id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.GetPartyBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, balance)
}

type setCreditLimitDTO struct {
	CreditLimit string `json:"credit_limit" validate:"required"`
}

// setCreditLimit handles PUT /api/parties/{id}/credit-limit.
func (h *Handler) setCreditLimit(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid party id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var dto setCreditLimitDTO
	if !h.decode(w, r, &dto) {
		return
	}
	party, err := h.svc.SetCreditLimit(r.Context(), id, dto.CreditLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, party)
}

type checkCreditDTO struct {
	PartyID       int64  `json:"party_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	CommitterRole string `json:"committer_role" validate:"omitempty,oneof=staff admin"`
}

// checkCredit handles POST /api/credit-check.
func (h *Handler) checkCredit(w http.ResponseWriter, r *http.Request) {
	var dto checkCreditDTO
	if !h.decode(w, r, &dto) {
		return
	}
	check, err := h.svc.CheckCredit(r.Context(), app.CheckCreditRequest{
		PartyID:       dto.PartyID,
		Amount:        dto.Amount,
		CommitterRole: dto.CommitterRole,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, check)
}

type recordPaymentDTO struct {
	BranchID      int64  `json:"branch_id" validate:"required"`
	PartyID       int64  `json:"party_id" validate:"required"`
	AccountID     int64  `json:"account_id" validate:"required"`
	Direction     string `json:"direction" validate:"required,oneof=in out"`
	Amount        string `json:"amount" validate:"required"`
	PaymentDate   string `json:"payment_date" validate:"required"`
	Reference     string `json:"reference"`
	CommitterName string `json:"committer_name"`
	DedupToken    string `json:"dedup_token"`
}

// recordPayment handles POST /api/payments.
func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var dto recordPaymentDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.RecordPayment(r.Context(), app.RecordPaymentRequest{
		BranchID:      dto.BranchID,
		PartyID:       dto.PartyID,
		AccountID:     dto.AccountID,
		Direction:     dto.Direction,
		Amount:        dto.Amount,
		PaymentDate:   dto.PaymentDate,
		Reference:     dto.Reference,
		CommitterName: dto.CommitterName,
		DedupToken:    dto.DedupToken,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Entry)
}

type recordExpenseDTO struct {
	BranchID      int64  `json:"branch_id" validate:"required"`
	AccountID     int64  `json:"account_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	Category      string `json:"category" validate:"required"`
	ExpenseDate   string `json:"expense_date" validate:"required"`
	CommitterName string `json:"committer_name"`
	DedupToken    string `json:"dedup_token"`
}

// recordExpense handles POST /api/expenses.
func (h *Handler) recordExpense(w http.ResponseWriter, r *http.Request) {
	var dto recordExpenseDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.RecordExpense(r.Context(), app.RecordExpenseRequest{
		BranchID:      dto.BranchID,
		AccountID:     dto.AccountID,
		Amount:        dto.Amount,
		Category:      dto.Category,
		ExpenseDate:   dto.ExpenseDate,
		CommitterName: dto.CommitterName,
		DedupToken:    dto.DedupToken,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Movement)
}

type createBranchDTO struct {
	Code      string `json:"code" validate:"required"`
	Name      string `json:"name" validate:"required"`
	IsDefault bool   `json:"is_default"`
}

// createBranch handles POST /api/branches.
func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	var dto createBranchDTO
	if !h.decode(w, r, &dto) {
		return
	}
	branch, err := h.svc.CreateBranch(r.Context(), app.CreateBranchRequest{
		Code:      dto.Code,
		Name:      dto.Name,
		IsDefault: dto.IsDefault,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, branch)
}

// listBranches handles GET /api/branches.
func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.svc.ListBranches(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, branches)
}

type createItemDTO struct {
	Code             string `json:"code" validate:"required"`
	Name             string `json:"name" validate:"required"`
	Category         string `json:"category"`
	PurchasePrice    string `json:"purchase_price"`
	SellingPrice     string `json:"selling_price"`
	PurchaseCurrency string `json:"purchase_currency" validate:"omitempty,len=3"`
	MinStock         string `json:"min_stock"`
}

// createItem handles POST /api/items.
func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var dto createItemDTO
	if !h.decode(w, r, &dto) {
		return
	}
	item, err := h.svc.CreateItem(r.Context(), app.CreateItemRequest{
		Code:             dto.Code,
		Name:             dto.Name,
		Category:         dto.Category,
		PurchasePrice:    dto.PurchasePrice,
		SellingPrice:     dto.SellingPrice,
		PurchaseCurrency: dto.PurchaseCurrency,
		MinStock:         dto.MinStock,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, item)
}

// listItems handles GET /api/items.
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, items)
}

type updateItemPricesDTO struct {
	PurchasePrice string `json:"purchase_price" validate:"required"`
	SellingPrice  string `json:"selling_price" validate:"required"`
}

// updateItemPrices handles PUT /api/items/{id}/prices.
func (h *Handler) updateItemPrices(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid item id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var dto updateItemPricesDTO
	if !h.decode(w, r, &dto) {
		return
	}
	item, err := h.svc.UpdateItemPrices(r.Context(), app.UpdateItemPricesRequest{
		ItemID:        id,
		PurchasePrice: dto.PurchasePrice,
		SellingPrice:  dto.SellingPrice,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, item)
}

type openingStockDTO struct {
	BranchID      int64  `json:"branch_id" validate:"required"`
	Quantity      string `json:"quantity" validate:"required"`
	CommitterName string `json:"committer_name"`
}

// recordOpeningStock handles POST /api/items/{id}/opening-stock.
func (h *Handler) recordOpeningStock(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid item id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var dto openingStockDTO
	if !h.decode(w, r, &dto) {
		return
	}
	err := h.svc.RecordOpeningStock(r.Context(), app.OpeningStockRequest{
		ItemID:        id,
		BranchID:      dto.BranchID,
		Quantity:      dto.Quantity,
		CommitterName: dto.CommitterName,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type createAccountDTO struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=cash bank"`
}

// createAccount handles POST /api/accounts.
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var dto createAccountDTO
	if !h.decode(w, r, &dto) {
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), app.CreateAccountRequest{
		Code: dto.Code,
		Name: dto.Name,
		Kind: dto.Kind,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, account)
}

// listAccounts handles GET /api/accounts.
func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, accounts)
}

// getAccountBalance handles GET /api/accounts/{id}/balance.
func (h *Handler) getAccountBalance(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid account id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.GetAccountBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, balance)
}
