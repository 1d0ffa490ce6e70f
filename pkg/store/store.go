package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// BlockRef identifies a block applied by the sync pipeline.
type BlockRef struct {
	Number     uint64      `meddler:"block_number" json:"number"`
	Hash       common.Hash `meddler:"block_hash,hash" json:"hash"`
	ParentHash common.Hash `meddler:"parent_hash,hash" json:"parentHash"`
	Timestamp  uint64      `meddler:"timestamp" json:"timestamp"`
}

// Document is a decoded log. EventType tags the variant and Fields holds
// values already validated against that event's schema.
type Document struct {
	ID          string         `json:"id"`
	Collection  string         `json:"collection"`
	EventType   string         `json:"eventType"`
	BlockNumber uint64         `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	Address     common.Address `json:"address"`
	Timestamp   uint64         `json:"timestamp"`
	Fields      map[string]any `json:"fields"`
}

// DocumentID builds the document id of a log.
func DocumentID(txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s-%d", txHash.Hex(), logIndex)
}

// Status is the persisted sync progress of a collection.
type Status struct {
	Collection         string `meddler:"collection_name" json:"collection"`
	HighestSyncedBlock uint64 `meddler:"highest_synced_block" json:"highestSyncedBlock"`
	UpdatedAt          int64  `meddler:"updated_at" json:"updatedAt"`
}

// DocumentReader is the read side of a collection.
type DocumentReader interface {
	// Name returns the collection name.
	Name() string

	// RangeQuery yields documents in [from, to] ordered by block number, then insertion order.
	// Every range over the returned sequence runs the query again.
	RangeQuery(ctx context.Context, from, to uint64) iter.Seq2[*Document, error]

	// Get returns the document with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (uint64, error)
}

// EventStore holds the documents of one collection together with its watermark.
// A collection has a single writer.
type EventStore interface {
	DocumentReader

	// BulkInsert upserts docs in one transaction and returns how many were written.
	BulkInsert(ctx context.Context, docs []*Document) (int, error)

	// RemoveByBlockRange deletes documents in [from, to] and returns their ids.
	RemoveByBlockRange(ctx context.Context, from, to uint64) ([]string, error)

	// GetHighestSyncedBlock returns the watermark and whether a record exists.
	GetHighestSyncedBlock(ctx context.Context) (uint64, bool, error)

	// SetHighestSyncedBlock records the watermark.
	SetHighestSyncedBlock(ctx context.Context, block uint64) error

	// ApplyChunk upserts docs and then sets the watermark to toBlock, atomically.
	ApplyChunk(ctx context.Context, docs []*Document, toBlock uint64) (int, error)

	// Rollback removes every document at or above fromBlock and rewinds the
	// watermark to min(current, fromBlock-1), clearing it when fromBlock is zero.
	Rollback(ctx context.Context, fromBlock uint64) ([]string, error)
}

// SyncStatus tracks the highest synced block per collection.
type SyncStatus interface {
	// Lookup returns the watermark of name and whether a record exists.
	Lookup(ctx context.Context, name string) (uint64, bool, error)

	// GetHighestSyncedBlock returns the watermark of name, or defaultStart when absent.
	GetHighestSyncedBlock(ctx context.Context, name string, defaultStart uint64) (uint64, error)

	// SetHighestSyncedBlock records the watermark of name.
	SetHighestSyncedBlock(ctx context.Context, name string, block uint64) error

	// Clear removes the record of name.
	Clear(ctx context.Context, name string) error

	// All returns every record ordered by collection name.
	All(ctx context.Context) ([]*Status, error)
}

// BlockRefStore persists the refs of applied blocks for reorg detection across restarts.
type BlockRefStore interface {
	// Save upserts refs.
	Save(ctx context.Context, refs ...BlockRef) error

	// Latest returns up to n refs with the highest numbers, ascending.
	Latest(ctx context.Context, n uint64) ([]BlockRef, error)

	// Below returns up to n refs numbered below block, ascending.
	Below(ctx context.Context, block, n uint64) ([]BlockRef, error)

	// DeleteFrom deletes refs at or above block.
	DeleteFrom(ctx context.Context, block uint64) error

	// PruneBelow deletes refs below block.
	PruneBelow(ctx context.Context, block uint64) error
}
