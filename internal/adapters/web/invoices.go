package web

import (
	"encoding/json"
	"net/http"

	"retail-ledger/internal/app"
)

// decode unmarshals the body into v and runs struct validation. On failure
// it writes the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, r, err.Error(), "VALIDATION_FAILED", http.StatusBadRequest)
		return false
	}
	return true
}

type invoiceLineDTO struct {
	ItemID    int64    `json:"item_id" validate:"required"`
	Quantity  string   `json:"quantity" validate:"required"`
	UnitPrice string   `json:"unit_price"`
	Serials   []string `json:"serials"`
}

type createInvoiceDTO struct {
	BranchID           int64            `json:"branch_id" validate:"required"`
	PartyID            int64            `json:"party_id" validate:"required"`
	InvoiceDate        string           `json:"invoice_date" validate:"required"`
	Number             string           `json:"number"`
	Currency           string           `json:"currency" validate:"omitempty,len=3"`
	FxRate             string           `json:"fx_rate"`
	Lines              []invoiceLineDTO `json:"lines" validate:"required,min=1,dive"`
	CommitterRole      string           `json:"committer_role" validate:"omitempty,oneof=staff admin"`
	CommitterName      string           `json:"committer_name"`
	DedupToken         string           `json:"dedup_token"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
}

func toLineInputs(lines []invoiceLineDTO) []app.LineInput {
	out := make([]app.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, app.LineInput{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Serials:   l.Serials,
		})
	}
	return out
}

func (dto *createInvoiceDTO) toRequest() app.CreateInvoiceRequest {
	return app.CreateInvoiceRequest{
		BranchID:           dto.BranchID,
		PartyID:            dto.PartyID,
		InvoiceDate:        dto.InvoiceDate,
		Number:             dto.Number,
		Currency:           dto.Currency,
		FxRate:             dto.FxRate,
		Lines:              toLineInputs(dto.Lines),
		CommitterRole:      dto.CommitterRole,
		CommitterName:      dto.CommitterName,
		DedupToken:         dto.DedupToken,
		AllowNegativeStock: dto.AllowNegativeStock,
	}
}

// createSalesInvoice handles POST /api/invoices/sales.
func (h *Handler) createSalesInvoice(w http.ResponseWriter, r *http.Request) {
	var dto createInvoiceDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.CreateSalesInvoice(r.Context(), dto.toRequest())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoice)
}

// createPurchaseInvoice handles POST /api/invoices/purchases.
func (h *Handler) createPurchaseInvoice(w http.ResponseWriter, r *http.Request) {
	var dto createInvoiceDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.CreatePurchaseInvoice(r.Context(), dto.toRequest())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoice)
}

// getInvoice handles GET /api/invoices/{id}.
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid invoice id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoice)
}

type reverseInvoiceDTO struct {
	CommitterRole string `json:"committer_role" validate:"omitempty,oneof=staff admin"`
	CommitterName string `json:"committer_name"`
	Reason        string `json:"reason" validate:"required"`
}

// reverseInvoice handles POST /api/invoices/{id}/reverse.
func (h *Handler) reverseInvoice(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if id == 0 {
		writeError(w, r, "invalid invoice id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var dto reverseInvoiceDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.ReverseInvoice(r.Context(), app.ReverseInvoiceRequest{
		InvoiceID:     id,
		CommitterRole: dto.CommitterRole,
		CommitterName: dto.CommitterName,
		Reason:        dto.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoice)
}

type createReturnDTO struct {
	Kind              string           `json:"kind" validate:"required,oneof=sale-return purchase-return"`
	OriginalInvoiceID int64            `json:"original_invoice_id" validate:"required"`
	ReturnDate        string           `json:"return_date" validate:"required"`
	Lines             []invoiceLineDTO `json:"lines" validate:"required,min=1,dive"`
	CommitterRole     string           `json:"committer_role" validate:"omitempty,oneof=staff admin"`
	CommitterName     string           `json:"committer_name"`
	DedupToken        string           `json:"dedup_token"`
}

// createReturn handles POST /api/returns.
func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var dto createReturnDTO
	if !h.decode(w, r, &dto) {
		return
	}
	result, err := h.svc.CreateReturn(r.Context(), app.CreateReturnRequest{
		Kind:              dto.Kind,
		OriginalInvoiceID: dto.OriginalInvoiceID,
		ReturnDate:        dto.ReturnDate,
		Lines:             toLineInputs(dto.Lines),
		CommitterRole:     dto.CommitterRole,
		CommitterName:     dto.CommitterName,
		DedupToken:        dto.DedupToken,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Invoice)
}
