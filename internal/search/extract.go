package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

var (
	// ErrMalformedMetadata is returned when the metadata blob is not valid JSON.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrNotIndexable is returned when a document lacks the fields an entry needs.
	ErrNotIndexable = errors.New("document not indexable")
)

// Entry is one document of the full-text index.
type Entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	ValidFrom   uint64 `json:"validFrom"`
	ValidTo     uint64 `json:"validTo"`
}

// Extraction is the outcome of deriving an entry from a document.
// Exactly one of Entry and Err is set.
type Extraction struct {
	Entry *Entry
	Err   error
}

type metadata struct {
	LongDescription string   `json:"longDescription"`
	Tags            []string `json:"tags"`
}

// Extractor derives index entries from stored documents.
type Extractor struct {
	titleField    string
	metadataField string
	endTimeField  string
}

// NewExtractor creates an Extractor reading the fields named in cfg.
func NewExtractor(cfg *config.SearchConfig) Extractor {
	return Extractor{
		titleField:    cfg.TitleField,
		metadataField: cfg.MetadataField,
		endTimeField:  cfg.EndTimeField,
	}
}

// Extract builds the entry of doc.
func (x Extractor) Extract(doc *store.Document) Extraction {
	title, _ := doc.Fields[x.titleField].(string)
	raw, _ := doc.Fields[x.metadataField].(string)
	if title == "" || raw == "" {
		return Extraction{Err: fmt.Errorf("%w: missing %s or %s", ErrNotIndexable, x.titleField, x.metadataField)}
	}

	var meta metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Extraction{Err: fmt.Errorf("%w: %v", ErrMalformedMetadata, err)}
	}
	if meta.LongDescription == "" || len(meta.Tags) == 0 {
		return Extraction{Err: fmt.Errorf("%w: metadata has no long description or tags", ErrNotIndexable)}
	}

	entry := &Entry{
		ID:          doc.ID,
		Title:       title,
		Description: meta.LongDescription,
		Tags:        strings.Join(meta.Tags, ","),
		ValidFrom:   doc.Timestamp,
		ValidTo:     doc.Timestamp,
	}

	if s, ok := doc.Fields[x.endTimeField].(string); ok {
		if end, err := strconv.ParseUint(s, 10, 64); err == nil {
			entry.ValidTo = end
		}
	}

	return Extraction{Entry: entry}
}
