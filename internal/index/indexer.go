// Package index turns mirrored message text into stored vectors. The sync
// engine hands freshly written rows over the bus; a periodic backfill scan
// catches anything the lossy queue dropped.
package index

import (
	"context"
	"time"

	"github.com/backscroll/backscroll/internal/bus"
	"github.com/backscroll/backscroll/internal/embed"
	"github.com/backscroll/backscroll/internal/store"
	"go.uber.org/zap"
)

// Options tunes the indexer.
type Options struct {
	BatchSize        int
	BackfillInterval time.Duration
}

// Indexer subscribes to index.batch events and embeds their texts. Embedding
// failures log and leave rows unembedded; the next backfill pass retries them.
type Indexer struct {
	db       *store.DB
	embedder embed.Embedder
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an indexer. A nil embedder (provider "off") yields an indexer
// whose Start is a no-op.
func New(db *store.DB, embedder embed.Embedder, b *bus.Bus, logger *zap.Logger, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BackfillInterval <= 0 {
		opts.BackfillInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{db: db, embedder: embedder, bus: b, logger: logger, opts: opts}
}

// Enabled reports whether indexing is active.
func (ix *Indexer) Enabled() bool { return ix.embedder != nil }

// Start begins consuming index batches and running periodic backfill.
// The subscription is registered before Start returns, so batches published
// immediately afterwards are not lost.
func (ix *Indexer) Start(ctx context.Context) {
	if !ix.Enabled() {
		return
	}
	ctx, ix.cancel = context.WithCancel(ctx)
	ix.done = make(chan struct{})
	events, unsubscribe := ix.bus.Subscribe(bus.NamespaceIndex, 64)
	go ix.loop(ctx, events, unsubscribe)
}

// Stop stops the indexer loop and waits for it to drain.
func (ix *Indexer) Stop() {
	if ix.cancel == nil {
		return
	}
	ix.cancel()
	<-ix.done
}

func (ix *Indexer) loop(ctx context.Context, events <-chan bus.Event, unsubscribe func()) {
	defer close(ix.done)
	defer unsubscribe()

	ticker := time.NewTicker(ix.opts.BackfillInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-events:
			entries, ok := evt.Payload.([]store.IndexEntry)
			if !ok {
				ix.logger.Warn("unexpected index event payload", zap.String("kind", evt.Kind))
				continue
			}
			ix.embedEntries(ctx, entries)
		case <-ticker.C:
			ix.Backfill(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Backfill embeds messages that have text but no stored vector. One pass
// drains up to BatchSize rows per round until none remain or ctx ends.
func (ix *Indexer) Backfill(ctx context.Context) {
	if !ix.Enabled() {
		return
	}
	for ctx.Err() == nil {
		entries, err := ix.db.MessagesNeedingEmbedding(ix.opts.BatchSize)
		if err != nil {
			ix.logger.Error("backfill scan failed", zap.Error(err))
			return
		}
		if len(entries) == 0 {
			return
		}
		if !ix.embedEntries(ctx, entries) {
			return
		}
	}
}

func (ix *Indexer) embedEntries(ctx context.Context, entries []store.IndexEntry) bool {
	for start := 0; start < len(entries); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(entries))
		chunk := entries[start:end]

		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = e.Text
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			ix.logger.Warn("embedding batch failed, rows left for backfill",
				zap.Int("size", len(chunk)), zap.Error(err))
			return false
		}
		if len(vecs) != len(chunk) {
			ix.logger.Error("embedder returned wrong vector count",
				zap.Int("got", len(vecs)), zap.Int("want", len(chunk)))
			return false
		}
		for i, e := range chunk {
			if err := ix.db.UpsertEmbedding(e.MessageID, ix.embedder.Name(), vecs[i]); err != nil {
				ix.logger.Error("storing vector failed", zap.Int64("message_id", e.MessageID), zap.Error(err))
				return false
			}
		}
	}
	return true
}
