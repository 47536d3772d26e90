package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
)

func (h *Handler) HandleCreateExpense(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	var data accounting.ExpenseData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.service.CreateExpense(r.Context(), client, provider, data)
	h.writeCreateResult(w, provider, "expense", result, err)
}

func (h *Handler) HandleCreateBill(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	var data accounting.BillData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.service.CreateBill(r.Context(), client, provider, data)
	h.writeCreateResult(w, provider, "bill", result, err)
}

func (h *Handler) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	var data accounting.InvoiceData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.service.CreateInvoice(r.Context(), client, provider, data)
	h.writeCreateResult(w, provider, "invoice", result, err)
}

func (h *Handler) HandleCreateJournalEntry(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	var data accounting.JournalEntryData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.service.CreateJournalEntry(r.Context(), client, provider, data)
	h.writeCreateResult(w, provider, "journal entry", result, err)
}

// writeCreateResult renders the outcome of a create. Provider-side
// rejections arrive as a result with Success=false, not as an error;
// they map to 422 so the caller can show the provider's message.
func (h *Handler) writeCreateResult(w http.ResponseWriter, provider accounting.ProviderID, kind string, result *accounting.TransactionResult, err error) {
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !result.Success {
		h.logger.Info("transaction rejected by provider",
			zap.String("provider", string(provider)),
			zap.String("kind", kind),
			zap.String("code", result.ErrorCode),
		)
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
