package admin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/publisher"
)

// handleListFailures returns recorded participants awaiting manual resolution
func (h *AdminHandlers) handleListFailures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "failure log is disabled")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.failures.List(limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to list failures: %v", err))
		return
	}

	result := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		result = append(result, map[string]interface{}{
			"seq":       e.Seq,
			"txn_id":    e.TxnID,
			"node_id":   e.NodeID,
			"shard_id":  e.ShardID,
			"node_name": e.NodeName,
			"node_port": e.NodePort,
			"gid":       e.GID,
			"phase":     e.Phase,
			"state":     e.State,
			"in_doubt":  e.InDoubt(),
			"error":     e.Error,
			"at":        formatMillis(e.At),
		})
	}

	writeJSONResponse(w, result)
}

// handleAckFailure removes a failure once an operator has resolved it
func (h *AdminHandlers) handleAckFailure(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "failure log is disabled")
		return
	}

	seq, err := parseUintParam("sequence", chi.URLParam(r, "seq"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.failures.Delete(seq); err != nil {
		if errors.Is(err, publisher.ErrFailureNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "failure not found")
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to acknowledge failure: %v", err))
		return
	}

	log.Info().Uint64("seq", seq).Msg("Post-decision failure acknowledged")
	writeJSONResponse(w, map[string]interface{}{"seq": seq, "acknowledged": true})
}
