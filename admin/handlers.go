package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/coordinator"
	"github.com/vlubarsky/citus/publisher"
)

// TransactionSource lists in-flight multi-shard transactions
type TransactionSource interface {
	Active() []coordinator.TransactionInfo
	Lookup(txnID uint64) (coordinator.TransactionInfo, bool)
}

// FailureStore exposes recorded post-decision failures
type FailureStore interface {
	List(limit int) ([]publisher.FailureEvent, error)
	Delete(seq uint64) error
}

// AdminHandlers serves the admin API for one coordinator process
type AdminHandlers struct {
	txns     TransactionSource
	failures FailureStore
	catalog  catalog.Catalog
}

// NewAdminHandlers creates a new AdminHandlers instance. failures may be nil
// when the failure log is disabled.
func NewAdminHandlers(txns TransactionSource, failures FailureStore, cat catalog.Catalog) *AdminHandlers {
	return &AdminHandlers{
		txns:     txns,
		failures: failures,
		catalog:  cat,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

// parseUintParam parses a numeric path parameter
func parseUintParam(name, value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

// formatMillis converts unix milliseconds to ISO 8601
func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
