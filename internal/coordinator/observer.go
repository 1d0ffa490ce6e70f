package coordinator

import (
	"context"

	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// DocumentObserver is notified after documents are durably inserted or removed.
// Callbacks run on the sync pipeline and must not block for long.
type DocumentObserver interface {
	DocumentsInserted(ctx context.Context, collection string, docs []*store.Document)
	DocumentsRemoved(ctx context.Context, collection string, ids []string)
}

type observers []DocumentObserver

func (o observers) inserted(ctx context.Context, collection string, docs []*store.Document) {
	if len(docs) == 0 {
		return
	}
	for _, obs := range o {
		obs.DocumentsInserted(ctx, collection, docs)
	}
}

func (o observers) removed(ctx context.Context, collection string, ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, obs := range o {
		obs.DocumentsRemoved(ctx, collection, ids)
	}
}
