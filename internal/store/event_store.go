package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/russross/meddler"
)

var _ store.EventStore = (*EventStore)(nil)

const upsertDocumentQuery = `
	INSERT INTO documents (
		seq, collection, doc_id, event_type, block_number, block_hash,
		tx_hash, log_index, address, timestamp, payload
	)
	VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM documents), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, doc_id) DO UPDATE SET
		seq = excluded.seq,
		event_type = excluded.event_type,
		block_number = excluded.block_number,
		block_hash = excluded.block_hash,
		tx_hash = excluded.tx_hash,
		log_index = excluded.log_index,
		address = excluded.address,
		timestamp = excluded.timestamp,
		payload = excluded.payload
`

// EventStore is the sqlite collection of one tracked event type.
// All collections share the documents table and are separated by name.
type EventStore struct {
	name        string
	db          *sql.DB
	status      *SyncStatus
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewEventStore creates the collection called name.
func NewEventStore(
	name string,
	sqlDB *sql.DB,
	status *SyncStatus,
	maintenance db.Maintenance,
	log *logger.Logger,
) *EventStore {
	return &EventStore{
		name:        name,
		db:          sqlDB,
		status:      status,
		log:         log.With("collection", name),
		maintenance: maintenance,
	}
}

// Name returns the collection name.
func (s *EventStore) Name() string {
	return s.name
}

// BulkInsert upserts docs in one transaction. A later document with the same
// id replaces the earlier one and takes a new insertion position.
func (s *EventStore) BulkInsert(ctx context.Context, docs []*store.Document) (int, error) {
	return s.write(ctx, "bulk_insert", func(tx *sql.Tx) (int, error) {
		return s.upsert(tx, docs)
	})
}

// ApplyChunk upserts docs and then advances the watermark to toBlock in the same transaction.
func (s *EventStore) ApplyChunk(ctx context.Context, docs []*store.Document, toBlock uint64) (int, error) {
	return s.write(ctx, "apply_chunk", func(tx *sql.Tx) (int, error) {
		n, err := s.upsert(tx, docs)
		if err != nil {
			return 0, err
		}
		if err := setStatus(tx, s.name, toBlock); err != nil {
			return 0, err
		}
		return n, nil
	})
}

// RemoveByBlockRange deletes documents in [from, to] and returns their ids.
// Removing an already empty range is a no-op.
func (s *EventStore) RemoveByBlockRange(ctx context.Context, from, to uint64) ([]string, error) {
	var removed []string
	_, err := s.write(ctx, "remove_range", func(tx *sql.Tx) (int, error) {
		var err error
		removed, err = s.removeRange(tx, from, to)
		return len(removed), err
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

// Rollback removes every document at or above fromBlock and rewinds the
// watermark to min(current, fromBlock-1). Rolling back block zero clears it.
func (s *EventStore) Rollback(ctx context.Context, fromBlock uint64) ([]string, error) {
	var removed []string
	_, err := s.write(ctx, "rollback", func(tx *sql.Tx) (int, error) {
		var err error
		removed, err = s.removeRange(tx, fromBlock, sqlMaxBlock)
		if err != nil {
			return 0, err
		}

		current, ok, err := lookupStatus(tx, s.name)
		if err != nil {
			return 0, err
		}

		switch {
		case fromBlock == 0:
			err = clearStatus(tx, s.name)
		case ok && current >= fromBlock:
			err = setStatus(tx, s.name, fromBlock-1)
		}

		return len(removed), err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("collection rolled back", "from_block", fromBlock, "removed", len(removed))
	return removed, nil
}

// GetHighestSyncedBlock returns the watermark and whether a record exists.
func (s *EventStore) GetHighestSyncedBlock(ctx context.Context) (uint64, bool, error) {
	return s.status.Lookup(ctx, s.name)
}

// SetHighestSyncedBlock records the watermark.
func (s *EventStore) SetHighestSyncedBlock(ctx context.Context, block uint64) error {
	return s.status.SetHighestSyncedBlock(ctx, s.name, block)
}

// Get returns the document with the given id.
func (s *EventStore) Get(ctx context.Context, id string) (*store.Document, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var row dbDocument
	err := meddler.QueryRow(s.db, &row,
		"SELECT * FROM documents WHERE collection = ? AND doc_id = ?", s.name, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s in %s: %w", id, s.name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	return toDocument(&row)
}

// RangeQuery yields the documents in [from, to] ordered by block number, then insertion order.
// The range is read by a single SELECT, so it observes one snapshot. Rows are
// buffered before the first yield, so a slow consumer never holds up maintenance.
func (s *EventStore) RangeQuery(ctx context.Context, from, to uint64) iter.Seq2[*store.Document, error] {
	return func(yield func(*store.Document, error) bool) {
		if from > to {
			return
		}

		rows, err := s.queryRange(ctx, from, to)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, row := range rows {
			doc, err := toDocument(row)
			if !yield(doc, err) {
				return
			}
		}
	}
}

func (s *EventStore) queryRange(ctx context.Context, from, to uint64) ([]*dbDocument, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	const query = `
		SELECT * FROM documents
		WHERE collection = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, s.name, sqlBlock(from), sqlBlock(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query range [%d, %d]: %w", from, to, err)
	}

	var docs []*dbDocument
	if err := meddler.ScanAll(rows, &docs); err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}

	return docs, nil
}

// Count returns the number of stored documents.
func (s *EventStore) Count(ctx context.Context) (uint64, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var count uint64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", s.name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	return count, nil
}

func (s *EventStore) write(ctx context.Context, op string, fn func(tx *sql.Tx) (int, error)) (int, error) {
	defer storeOpObserve(op, time.Now())

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	n, err := fn(tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return n, nil
}

func (s *EventStore) upsert(tx *sql.Tx, docs []*store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(upsertDocumentQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		payload, err := json.Marshal(doc.Fields)
		if err != nil {
			return 0, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}

		_, err = stmt.Exec(
			s.name,
			doc.ID,
			doc.EventType,
			sqlBlock(doc.BlockNumber),
			doc.BlockHash.Hex(),
			doc.TxHash.Hex(),
			doc.LogIndex,
			doc.Address.Hex(),
			doc.Timestamp,
			string(payload),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}
	}

	documentsWrittenAdd(s.name, len(docs))
	return len(docs), nil
}

func (s *EventStore) removeRange(tx *sql.Tx, from, to uint64) ([]string, error) {
	if from > to {
		return nil, nil
	}

	rows, err := tx.Query(
		"DELETE FROM documents WHERE collection = ? AND block_number >= ? AND block_number <= ? RETURNING doc_id",
		s.name, sqlBlock(from), sqlBlock(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to remove range [%d, %d]: %w", from, to, err)
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan removed id: %w", err)
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to remove range [%d, %d]: %w", from, to, err)
	}

	documentsRemovedAdd(s.name, len(removed))
	return removed, nil
}

func toDocument(row *dbDocument) (*store.Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(row.Payload), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", row.DocID, err)
	}

	return &store.Document{
		ID:          row.DocID,
		Collection:  row.Collection,
		EventType:   row.EventType,
		BlockNumber: row.BlockNumber,
		BlockHash:   row.BlockHash,
		TxHash:      row.TxHash,
		LogIndex:    row.LogIndex,
		Address:     row.Address,
		Timestamp:   row.Timestamp,
		Fields:      fields,
	}, nil
}
