package api

import "time"

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListResponse wraps a page of items with pagination metadata.
type ListResponse struct {
	Items      interface{}      `json:"items"`
	Pagination PaginationResult `json:"pagination"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Indexer   string    `json:"indexer"`
}

// ScanRequest asks for a manual re-ingestion of a block range. A zero
// to_block scans just from_block.
type ScanRequest struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block,omitempty"`
}

// MaintenanceRequest asks for a database maintenance run.
type MaintenanceRequest struct {
	Vacuum bool `json:"vacuum,omitempty"`
}
