package deadletter

import (
	"context"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
)

// Kinds of skipped items.
const (
	KindDecode   = "decode"
	KindMetadata = "metadata"
)

// Entry describes one item the pipeline skipped.
type Entry struct {
	Kind        string `json:"kind"`
	Collection  string `json:"collection"`
	DocumentID  string `json:"documentId"`
	BlockNumber uint64 `json:"blockNumber"`
	Reason      string `json:"reason"`
	RecordedAt  int64  `json:"recordedAt"`
}

func (e Entry) member() string {
	return e.Kind + "|" + e.Collection + "|" + e.DocumentID
}

// Recorder keeps skipped items for inspection.
type Recorder interface {
	// Record stores e. Recording never fails the pipeline, errors are only reported.
	Record(ctx context.Context, e Entry) error

	// List returns up to limit entries, highest block first.
	List(ctx context.Context, limit int) ([]Entry, error)

	// RemoveFrom drops entries at or above block, whose blocks were reorged out.
	RemoveFrom(ctx context.Context, block uint64) error

	Close() error
}

// New returns a Redis recorder when cfg enables it, otherwise a log-only recorder.
func New(ctx context.Context, cfg *config.DeadLetterConfig, log *logger.Logger) (Recorder, error) {
	if cfg == nil || !cfg.Enabled {
		return NewLogRecorder(log), nil
	}
	return NewRedisRecorder(ctx, cfg, log)
}

// LogRecorder only logs skipped items.
type LogRecorder struct {
	log *logger.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(log *logger.Logger) *LogRecorder {
	return &LogRecorder{log: log}
}

func (r *LogRecorder) Record(_ context.Context, e Entry) error {
	recordedInc(e.Kind)
	r.log.Warnw("skipped item",
		"kind", e.Kind,
		"collection", e.Collection,
		"id", e.DocumentID,
		"block", e.BlockNumber,
		"reason", e.Reason,
	)
	return nil
}

func (r *LogRecorder) List(context.Context, int) ([]Entry, error) {
	return nil, nil
}

func (r *LogRecorder) RemoveFrom(context.Context, uint64) error {
	return nil
}

func (r *LogRecorder) Close() error {
	return nil
}

func now() int64 {
	return time.Now().UTC().Unix()
}
