package admin

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// cacheInvalidator is implemented by catalogs that cache resolutions
type cacheInvalidator interface {
	Invalidate(shardID uint64)
}

// handleShardPlacements resolves a shard through the configured catalog
func (h *AdminHandlers) handleShardPlacements(w http.ResponseWriter, r *http.Request) {
	shardID, err := parseUintParam("shard ID", chi.URLParam(r, "shardID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	placements, err := h.catalog.ResolvePlacements(r.Context(), shardID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to resolve placements: %v", err))
		return
	}

	result := make([]map[string]interface{}, 0, len(placements))
	for _, p := range placements {
		result = append(result, map[string]interface{}{
			"placement_id": p.PlacementID,
			"node_name":    p.NodeName,
			"node_port":    p.NodePort,
			"addr":         p.Addr(),
		})
	}

	writeJSONResponse(w, map[string]interface{}{
		"shard_id":   shardID,
		"placements": result,
	})
}

// handleInvalidateShard drops a cached resolution so the next open re-reads
// the catalog
func (h *AdminHandlers) handleInvalidateShard(w http.ResponseWriter, r *http.Request) {
	shardID, err := parseUintParam("shard ID", chi.URLParam(r, "shardID"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	inv, ok := h.catalog.(cacheInvalidator)
	if !ok {
		writeErrorResponse(w, http.StatusConflict, "catalog cache is disabled")
		return
	}
	inv.Invalidate(shardID)
	writeJSONResponse(w, map[string]interface{}{"shard_id": shardID, "invalidated": true})
}
