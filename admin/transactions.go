package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListTransactions returns every transaction currently holding
// participant connections
func (h *AdminHandlers) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.txns.Active())
}

// handleTransaction returns one in-flight transaction by ID
func (h *AdminHandlers) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID, err := parseUintParam("transaction ID", chi.URLParam(r, "txnID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	info, ok := h.txns.Lookup(txnID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSONResponse(w, info)
}
