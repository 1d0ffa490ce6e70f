package store

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// dbDocument is the row layout of the documents table.
type dbDocument struct {
	ID          int64          `meddler:"id,pk"`
	Seq         int64          `meddler:"seq"`
	Collection  string         `meddler:"collection"`
	DocID       string         `meddler:"doc_id"`
	EventType   string         `meddler:"event_type"`
	BlockNumber uint64         `meddler:"block_number"`
	BlockHash   common.Hash    `meddler:"block_hash,hash"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	LogIndex    uint           `meddler:"log_index"`
	Address     common.Address `meddler:"address,address"`
	Timestamp   uint64         `meddler:"timestamp"`
	Payload     string         `meddler:"payload"`
}

// sqlMaxBlock is the highest block number sqlite can store.
const sqlMaxBlock uint64 = math.MaxInt64

// sqlBlock clamps a block number to the sqlite integer range.
func sqlBlock(block uint64) int64 {
	if block > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(block)
}
