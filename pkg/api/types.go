package api

import (
	"time"

	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// DocumentQuery holds the parameters of a document listing.
type DocumentQuery struct {
	Limit     int
	Offset    int
	FromBlock uint64
	ToBlock   uint64
}

// DocumentsResponse is a page of documents.
type DocumentsResponse struct {
	Collection string            `json:"collection"`
	Documents  []*store.Document `json:"documents"`
	Pagination PaginationResult  `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
}

// StatusResponse is the sync progress of every collection.
type StatusResponse struct {
	State       string             `json:"state"`
	Since       time.Time          `json:"since"`
	Collections []CollectionStatus `json:"collections"`
}

// CollectionStatus is the sync progress of one collection.
type CollectionStatus struct {
	Name               string `json:"name"`
	HighestSyncedBlock uint64 `json:"highest_synced_block"`
	Synced             bool   `json:"synced"`
	DocumentCount      uint64 `json:"document_count"`
}

// CollectionInfo describes a queryable collection.
type CollectionInfo struct {
	Name          string   `json:"name"`
	DocumentCount uint64   `json:"document_count"`
	Searchable    bool     `json:"searchable"`
	Endpoints     []string `json:"endpoints"`
}

// SearchResponse holds ranked search hits.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// SearchHit is one ranked document.
type SearchHit struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Document *store.Document `json:"document,omitempty"`
}

// SkippedEntry is a log or document the pipeline could not process.
type SkippedEntry struct {
	Kind        string    `json:"kind"`
	Collection  string    `json:"collection"`
	DocumentID  string    `json:"document_id"`
	BlockNumber uint64    `json:"block_number"`
	Reason      string    `json:"reason"`
	RecordedAt  time.Time `json:"recorded_at"`
}
