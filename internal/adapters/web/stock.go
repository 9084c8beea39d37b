package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"retail-ledger/internal/app"
)

// listStockBalances handles GET /api/stock?branch_id=&item_id=.
func (h *Handler) listStockBalances(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListStockBalances(r.Context(), queryInt64(r, "branch_id"), queryInt64(r, "item_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Rows)
}

// getStockTotal handles GET /api/stock/{itemID}.
func (h *Handler) getStockTotal(w http.ResponseWriter, r *http.Request) {
	itemID := pathID(r, "itemID")
	if itemID == 0 {
		writeError(w, r, "invalid item id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.GetStockTotal(r.Context(), itemID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, balance)
}

// getStockBalance handles GET /api/stock/{itemID}/branches/{branchID}.
func (h *Handler) getStockBalance(w http.ResponseWriter, r *http.Request) {
	itemID, branchID := pathID(r, "itemID"), pathID(r, "branchID")
	if itemID == 0 || branchID == 0 {
		writeError(w, r, "invalid item or branch id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.GetStockBalance(r.Context(), itemID, branchID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, balance)
}

type createTransferDTO struct {
	FromBranchID       int64            `json:"from_branch_id" validate:"required"`
	ToBranchID         int64            `json:"to_branch_id" validate:"required"`
	TransferDate       string           `json:"transfer_date" validate:"required"`
	Number             string           `json:"number"`
	Lines              []invoiceLineDTO `json:"lines" validate:"required,min=1,dive"`
	CommitterName      string           `json:"committer_name"`
	DedupToken         string           `json:"dedup_token"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
}

// createTransfer handles POST /api/transfers.
func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var dto createTransferDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.CreateTransfer(r.Context(), app.CreateTransferRequest{
		FromBranchID:       dto.FromBranchID,
		ToBranchID:         dto.ToBranchID,
		TransferDate:       dto.TransferDate,
		Number:             dto.Number,
		Lines:              toLineInputs(dto.Lines),
		CommitterName:      dto.CommitterName,
		DedupToken:         dto.DedupToken,
		AllowNegativeStock: dto.AllowNegativeStock,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Transfer)
}

// queryMovements handles GET /api/movements with optional filters:
// branch_id, item_id, party_id, account_id, kinds (comma-separated),
// from, to, reference, limit.
func (h *Handler) queryMovements(w http.ResponseWriter, r *http.Request) {
	req := app.MovementQueryRequest{
		BranchID:  queryInt64(r, "branch_id"),
		ItemID:    queryInt64(r, "item_id"),
		PartyID:   queryInt64(r, "party_id"),
		AccountID: queryInt64(r, "account_id"),
		FromDate:  r.URL.Query().Get("from"),
		ToDate:    r.URL.Query().Get("to"),
		Reference: r.URL.Query().Get("reference"),
	}
	if kinds := r.URL.Query().Get("kinds"); kinds != "" {
		req.Kinds = strings.Split(kinds, ",")
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			req.Limit = n
		}
	}
	result, err := h.svc.QueryMovements(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Movements)
}

// getIMEI handles GET /api/imeis/{serial}.
func (h *Handler) getIMEI(w http.ResponseWriter, r *http.Request) {
	record, err := h.svc.GetIMEI(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, record)
}

// listIMEIs handles GET /api/imeis?state=&branch_id=.
func (h *Handler) listIMEIs(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, r, "state query parameter is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ListIMEIs(r.Context(), state, queryInt64(r, "branch_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Records)
}

// markWarranty handles POST /api/imeis/{serial}/warranty.
func (h *Handler) markWarranty(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkWarranty(r.Context(), chi.URLParam(r, "serial")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// resolveWarranty handles POST /api/imeis/{serial}/resolve.
func (h *Handler) resolveWarranty(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResolveWarranty(r.Context(), chi.URLParam(r, "serial")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
