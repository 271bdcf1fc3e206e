package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed
// fields. Returns the defaultField if the input is empty or not whitelisted.
// Sort fields reach the ORDER BY clause verbatim, so nothing outside the
// whitelist may pass.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// LotBatchSortFields contains allowed sort fields for lot batches
var LotBatchSortFields = map[string]bool{
	"id":                 true,
	"created_at":         true,
	"updated_at":         true,
	"lot_number":         true,
	"batch_number":       true,
	"product_id":         true,
	"supplier_id":        true,
	"manufacturing_date": true,
	"expiry_date":        true,
	"quantity":           true,
	"remaining_quantity": true,
	"reserved_quantity":  true,
	"status":             true,
}
