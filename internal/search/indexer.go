package search

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldTags        = "tags"
	fieldValidFrom   = "validFrom"
	fieldValidTo     = "validTo"
)

// field boosts for ranking
var searchFields = map[string]float64{
	fieldTitle:       3,
	fieldTags:        2,
	fieldDescription: 1,
}

// Hit is one ranked query result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Indexer keeps a full-text index over the documents of one collection.
// The index lives in memory and is rebuilt from the store on startup.
type Indexer struct {
	collection   string
	defaultLimit int
	extractor    Extractor
	skipped      deadletter.Recorder
	log          *logger.Logger

	mu      sync.RWMutex
	index   bleve.Index
	entries map[string]Entry
}

// New creates an empty Indexer. skipped may be nil.
func New(cfg *config.SearchConfig, skipped deadletter.Recorder, log *logger.Logger) (*Indexer, error) {
	idx, err := newIndex()
	if err != nil {
		return nil, err
	}

	return &Indexer{
		collection:   cfg.Collection,
		defaultLimit: cfg.DefaultLimit,
		extractor:    NewExtractor(cfg),
		skipped:      skipped,
		log:          log,
		index:        idx,
		entries:      make(map[string]Entry),
	}, nil
}

func newIndexMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Store = false

	numeric := bleve.NewNumericFieldMapping()
	numeric.Store = false

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldDescription, text)
	doc.AddFieldMappingsAt(fieldTags, text)
	doc.AddFieldMappingsAt(fieldValidFrom, numeric)
	doc.AddFieldMappingsAt(fieldValidTo, numeric)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func newIndex() (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return idx, nil
}

func indexDocument(e Entry) map[string]any {
	return map[string]any{
		fieldTitle:       e.Title,
		fieldDescription: e.Description,
		fieldTags:        e.Tags,
		fieldValidFrom:   float64(e.ValidFrom),
		fieldValidTo:     float64(e.ValidTo),
	}
}

// Collection returns the name of the indexed collection.
func (i *Indexer) Collection() string {
	return i.collection
}

// Add upserts e.
func (i *Indexer) Add(e Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.index.Index(e.ID, indexDocument(e)); err != nil {
		return fmt.Errorf("failed to index %s: %w", e.ID, err)
	}
	i.entries[e.ID] = e
	indexEntriesSet(len(i.entries))

	return nil
}

// Remove deletes the entry with id. Removing a missing entry is a no-op.
func (i *Indexer) Remove(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.removeLocked(id)
}

func (i *Indexer) removeLocked(id string) error {
	if _, ok := i.entries[id]; !ok {
		return nil
	}
	if err := i.index.Delete(id); err != nil {
		return fmt.Errorf("failed to unindex %s: %w", id, err)
	}
	delete(i.entries, id)
	indexEntriesSet(len(i.entries))

	return nil
}

// Query returns up to limit entries matching text, best first. Terms match
// whole words or word prefixes in the title, description and tags.
func (i *Indexer) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = i.defaultLimit
	}

	q := buildQuery(text)
	if q == nil || limit <= 0 {
		return []Hit{}, nil
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	i.mu.RLock()
	res, err := i.index.SearchInContext(ctx, req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	queriesInc()

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func buildQuery(text string) query.Query {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return nil
	}

	var queries []query.Query
	for _, field := range slices.Sorted(maps.Keys(searchFields)) {
		boost := searchFields[field]

		match := bleve.NewMatchQuery(strings.Join(terms, " "))
		match.SetField(field)
		match.SetBoost(boost * 2) //nolint:mnd
		queries = append(queries, match)

		for _, term := range terms {
			prefix := bleve.NewPrefixQuery(term)
			prefix.SetField(field)
			prefix.SetBoost(boost)
			queries = append(queries, prefix)
		}
	}

	return bleve.NewDisjunctionQuery(queries...)
}

// Entries returns a snapshot of the index entries ordered by id.
func (i *Indexer) Entries() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Entry, 0, len(i.entries))
	for _, id := range slices.Sorted(maps.Keys(i.entries)) {
		out = append(out, i.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (i *Indexer) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Scanned   int
	Indexed   int
	Malformed int
	Skipped   int
}

// Rebuild replaces the index with entries extracted from every document of source.
// Documents that cannot be indexed are skipped without aborting the scan.
func (i *Indexer) Rebuild(ctx context.Context, source store.DocumentReader) (RebuildStats, error) {
	start := time.Now()
	var stats RebuildStats

	entries := make(map[string]Entry)
	for doc, err := range source.RangeQuery(ctx, 0, math.MaxUint64) {
		if err != nil {
			return stats, fmt.Errorf("failed to scan %s: %w", source.Name(), err)
		}
		stats.Scanned++

		x := i.extractor.Extract(doc)
		if x.Err != nil {
			if errors.Is(x.Err, ErrMalformedMetadata) {
				stats.Malformed++
			} else {
				stats.Skipped++
			}
			i.reportSkipped(ctx, doc, x.Err)
			continue
		}
		entries[doc.ID] = *x.Entry
	}

	idx, err := newIndex()
	if err != nil {
		return stats, err
	}

	if len(entries) > 0 {
		batch := idx.NewBatch()
		for id, e := range entries {
			if err := batch.Index(id, indexDocument(e)); err != nil {
				_ = idx.Close()
				return stats, fmt.Errorf("failed to index %s: %w", id, err)
			}
		}
		if err := idx.Batch(batch); err != nil {
			_ = idx.Close()
			return stats, fmt.Errorf("failed to write search index: %w", err)
		}
	}
	stats.Indexed = len(entries)

	i.mu.Lock()
	old := i.index
	i.index = idx
	i.entries = entries
	indexEntriesSet(len(entries))
	i.mu.Unlock()

	if err := old.Close(); err != nil {
		i.log.Warnw("failed to close previous search index", "error", err)
	}

	rebuildDurationLog(time.Since(start).Seconds())
	i.log.Infow("search index rebuilt",
		"collection", source.Name(),
		"scanned", stats.Scanned,
		"indexed", stats.Indexed,
		"malformed", stats.Malformed,
		"skipped", stats.Skipped,
		"duration", time.Since(start),
	)

	return stats, nil
}

// DocumentsInserted indexes newly stored documents of the indexed collection.
// A document whose new version cannot be indexed loses its previous entry.
func (i *Indexer) DocumentsInserted(ctx context.Context, collection string, docs []*store.Document) {
	if collection != i.collection {
		return
	}

	for _, doc := range docs {
		x := i.extractor.Extract(doc)
		if x.Err != nil {
			i.reportSkipped(ctx, doc, x.Err)
			if err := i.Remove(doc.ID); err != nil {
				i.log.Errorw("failed to drop stale search entry", "id", doc.ID, "error", err)
			}
			continue
		}

		if err := i.Add(*x.Entry); err != nil {
			i.log.Errorw("failed to index document", "id", doc.ID, "error", err)
		}
	}
}

// DocumentsRemoved unindexes documents removed from the indexed collection.
func (i *Indexer) DocumentsRemoved(_ context.Context, collection string, ids []string) {
	if collection != i.collection {
		return
	}

	for _, id := range ids {
		if err := i.Remove(id); err != nil {
			i.log.Errorw("failed to unindex document", "id", id, "error", err)
		}
	}
}

func (i *Indexer) reportSkipped(ctx context.Context, doc *store.Document, err error) {
	if errors.Is(err, ErrMalformedMetadata) {
		indexSkippedInc("malformed")
		i.log.Warnw("skipping document with malformed metadata", "id", doc.ID, "error", err)

		if i.skipped != nil {
			if recErr := i.skipped.Record(ctx, deadletter.Entry{
				Kind:        deadletter.KindMetadata,
				Collection:  doc.Collection,
				DocumentID:  doc.ID,
				BlockNumber: doc.BlockNumber,
				Reason:      err.Error(),
			}); recErr != nil {
				i.log.Warnw("failed to record skipped document", "id", doc.ID, "error", recErr)
			}
		}
		return
	}

	indexSkippedInc("not_indexable")
	i.log.Debugw("document not indexable", "id", doc.ID, "reason", err)
}

// Close releases the index.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
