package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/search"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Registry gives access to the synced collections.
type Registry interface {
	Get(name string) (store.DocumentReader, bool)
	Names() []string
}

// MapRegistry is a Registry over a fixed set of readers.
type MapRegistry map[string]store.DocumentReader

// NewRegistry indexes readers by name.
func NewRegistry(readers ...store.DocumentReader) MapRegistry {
	r := make(MapRegistry, len(readers))
	for _, reader := range readers {
		r[reader.Name()] = reader
	}
	return r
}

func (r MapRegistry) Get(name string) (store.DocumentReader, bool) {
	reader, ok := r[name]
	return reader, ok
}

func (r MapRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StateFunc reports the sync state and when it was entered.
type StateFunc func() (string, time.Time)

// Searcher answers free-text queries over one collection.
type Searcher interface {
	Collection() string
	Query(ctx context.Context, text string, limit int) ([]search.Hit, error)
}

// Sources are the components the API reads from. Search and Skipped may be nil.
type Sources struct {
	Registry Registry
	Status   store.SyncStatus
	State    StateFunc
	Search   Searcher
	Skipped  deadletter.Recorder
}

// Handler handles HTTP requests for the API.
type Handler struct {
	src Sources
	log *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(src Sources, log *logger.Logger) *Handler {
	return &Handler{
		src: src,
		log: log,
	}
}

func (h *Handler) state() (string, time.Time) {
	if h.src.State == nil {
		return "unknown", time.Time{}
	}
	return h.src.State()
}

// Health returns the health status of the sync pipeline.
// @Summary Health check
// @Description Report whether the sync pipeline is running
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Pipeline is running"
// @Failure 503 {object} HealthResponse "Pipeline is stopped"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state, _ := h.state()

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		State:     state,
	}
	status := http.StatusOK
	if state == "stopped" {
		response.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, response)
}

// GetStatus returns the sync progress of every collection.
// @Summary Sync status
// @Description Coordinator state and the highest synced block of every collection
// @Tags Status
// @Produce json
// @Success 200 {object} StatusResponse "Sync status"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	state, since := h.state()

	collections := make([]CollectionStatus, 0, len(h.src.Registry.Names()))
	for _, name := range h.src.Registry.Names() {
		status, err := h.collectionStatus(r.Context(), name)
		if err != nil {
			h.log.Errorw("failed to read collection status", "collection", name, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to read sync status")
			return
		}
		collections = append(collections, status)
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		State:       state,
		Since:       since,
		Collections: collections,
	})
}

func (h *Handler) collectionStatus(ctx context.Context, name string) (CollectionStatus, error) {
	status := CollectionStatus{Name: name}

	block, ok, err := h.src.Status.Lookup(ctx, name)
	if err != nil {
		return status, err
	}
	status.HighestSyncedBlock, status.Synced = block, ok

	reader, _ := h.src.Registry.Get(name)
	if status.DocumentCount, err = reader.Count(ctx); err != nil {
		return status, err
	}

	return status, nil
}

// ListCollections returns the queryable collections.
// @Summary List collections
// @Description List every synced collection with its document count and endpoints
// @Tags Collections
// @Produce json
// @Success 200 {array} CollectionInfo "Collections"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /collections [get]
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos := make([]CollectionInfo, 0, len(h.src.Registry.Names()))
	for _, name := range h.src.Registry.Names() {
		reader, _ := h.src.Registry.Get(name)
		count, err := reader.Count(r.Context())
		if err != nil {
			h.log.Errorw("failed to count documents", "collection", name, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to count documents")
			return
		}

		info := CollectionInfo{
			Name:          name,
			DocumentCount: count,
			Searchable:    h.src.Search != nil && h.src.Search.Collection() == name,
			Endpoints: []string{
				fmt.Sprintf("/api/v1/collections/%s/documents", name),
			},
		}
		if info.Searchable {
			info.Endpoints = append(info.Endpoints, "/api/v1/search")
		}
		infos = append(infos, info)
	}

	respondJSON(w, http.StatusOK, infos)
}

// GetDocuments lists the documents of a collection in block order.
// @Summary List documents
// @Description Documents of a collection within a block range, ordered by block and log index
// @Tags Documents
// @Produce json
// @Param name path string true "Collection name"
// @Param from_block query integer false "First block, inclusive"
// @Param to_block query integer false "Last block, inclusive"
// @Param limit query int false "Maximum number of documents to return" default(100)
// @Param offset query int false "Number of documents to skip" default(0)
// @Success 200 {object} DocumentsResponse "A page of documents"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Collection not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /collections/{name}/documents [get]
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reader, ok := h.src.Registry.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("collection '%s' not found", name))
		return
	}

	params, err := parseDocumentQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	docs := make([]*store.Document, 0, params.Limit)
	total := 0
	for doc, err := range reader.RangeQuery(r.Context(), params.FromBlock, params.ToBlock) {
		if err != nil {
			h.log.Errorw("failed to query documents", "collection", name, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to query documents")
			return
		}
		if total >= params.Offset && len(docs) < params.Limit {
			docs = append(docs, doc)
		}
		total++
	}

	respondJSON(w, http.StatusOK, DocumentsResponse{
		Collection: name,
		Documents:  docs,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: params.Offset+len(docs) < total,
		},
	})
}

// GetDocument returns one document by id.
// @Summary Get document
// @Description Fetch a document by its id (transaction hash and log index)
// @Tags Documents
// @Produce json
// @Param name path string true "Collection name"
// @Param id path string true "Document id"
// @Success 200 {object} store.Document "The document"
// @Failure 404 {object} ErrorResponse "Collection or document not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /collections/{name}/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reader, ok := h.src.Registry.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("collection '%s' not found", name))
		return
	}

	id := r.PathValue("id")
	doc, err := reader.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("document '%s' not found", id))
		return
	}
	if err != nil {
		h.log.Errorw("failed to get document", "collection", name, "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get document")
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// Search runs a free-text query over the search index.
// @Summary Search documents
// @Description Ranked free-text search over titles, descriptions and tags
// @Tags Search
// @Produce json
// @Param q query string true "Query text"
// @Param limit query int false "Maximum number of hits"
// @Success 200 {object} SearchResponse "Ranked hits"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Search is disabled"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.src.Search == nil {
		respondError(w, http.StatusNotFound, "search is disabled")
		return
	}

	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		respondError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit, err := parseLimit(r, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, err := h.src.Search.Query(r.Context(), text, limit)
	if err != nil {
		h.log.Errorw("search failed", "query", text, "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	reader, _ := h.src.Registry.Get(h.src.Search.Collection())
	response := SearchResponse{Query: text, Hits: make([]SearchHit, 0, len(hits))}
	for _, hit := range hits {
		result := SearchHit{ID: hit.ID, Score: hit.Score}
		if reader != nil {
			doc, err := reader.Get(r.Context(), hit.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				h.log.Warnw("failed to load search hit", "id", hit.ID, "error", err)
			}
			result.Document = doc
		}
		response.Hits = append(response.Hits, result)
	}

	respondJSON(w, http.StatusOK, response)
}

// ListSkipped returns the most recent logs and documents the pipeline skipped.
// @Summary List skipped entries
// @Description Logs that failed to decode and documents whose metadata could not be indexed, newest block first
// @Tags Status
// @Produce json
// @Param limit query int false "Maximum number of entries" default(100)
// @Success 200 {array} SkippedEntry "Skipped entries"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /skipped [get]
func (h *Handler) ListSkipped(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]SkippedEntry, 0)
	if h.src.Skipped != nil {
		entries, err := h.src.Skipped.List(r.Context(), limit)
		if err != nil {
			h.log.Errorw("failed to list skipped entries", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list skipped entries")
			return
		}
		for _, e := range entries {
			out = append(out, SkippedEntry{
				Kind:        e.Kind,
				Collection:  e.Collection,
				DocumentID:  e.DocumentID,
				BlockNumber: e.BlockNumber,
				Reason:      e.Reason,
				RecordedAt:  time.Unix(e.RecordedAt, 0).UTC(),
			})
		}
	}

	respondJSON(w, http.StatusOK, out)
}

// parseDocumentQuery parses HTTP query parameters into a DocumentQuery.
func parseDocumentQuery(r *http.Request) (*DocumentQuery, error) {
	params := &DocumentQuery{Limit: defaultLimit, ToBlock: math.MaxUint64}

	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		return params, err
	}
	params.Limit = limit

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return params, errors.New("invalid offset: must be non-negative")
		}
		params.Offset = offset
	}

	if fromBlockStr := r.URL.Query().Get("from_block"); fromBlockStr != "" {
		fromBlock, err := strconv.ParseUint(fromBlockStr, 10, 64)
		if err != nil {
			return params, errors.New("invalid from_block")
		}
		params.FromBlock = fromBlock
	}

	if toBlockStr := r.URL.Query().Get("to_block"); toBlockStr != "" {
		toBlock, err := strconv.ParseUint(toBlockStr, 10, 64)
		if err != nil {
			return params, errors.New("invalid to_block")
		}
		params.ToBlock = toBlock
	}

	if params.FromBlock > params.ToBlock {
		return params, errors.New("from_block cannot be greater than to_block")
	}

	return params, nil
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxLimit)
	}
	return limit, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// encode first so a failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
