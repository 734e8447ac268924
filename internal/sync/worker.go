package sync

import (
	"context"
	"errors"
	"time"

	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/store"
	"go.uber.org/zap"
)

// Source is the remote surface a worker needs. *slackapi.Client satisfies it;
// tests substitute a fake.
type Source interface {
	HistoryPage(ctx context.Context, channelID, oldest, cursor string) (*slackapi.HistoryPage, error)
	ThreadReplies(ctx context.Context, channelID, threadTS string) ([]store.Record, error)
	UserInfo(ctx context.Context, userID string) (*store.User, error)
}

// Outcome classifies how one conversation's sync attempt ended.
type Outcome string

const (
	// OutcomeDone means the conversation is fully caught up.
	OutcomeDone Outcome = "done"
	// OutcomePartial means cancellation stopped the worker between pages;
	// everything merged so far is durably advanced.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means a permanent error or exhausted retries; the cursor
	// keeps its last durable position.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the scheduler never dispatched the conversation
	// this cycle (no new activity, or cooling down).
	OutcomeSkipped Outcome = "skipped"
)

// ChannelResult is one conversation's line in a run summary.
type ChannelResult struct {
	ChannelID string
	Outcome   Outcome
	Pages     int
	Records   int
	Err       string
}

// WorkerOptions tunes the per-conversation loop.
type WorkerOptions struct {
	MaxRetries  int
	RetryBase   time.Duration
	RetryMax    time.Duration
	JitterFrac  float64
	ThreadSync  bool
	UserLookup  bool
	StaleBudget int
}

// Worker syncs one conversation at a time: fetch a page, merge it, enrich it,
// advance the cursor, repeat until the remote reports no more pages. Workers
// hold no state between conversations; the scheduler reuses them freely.
type Worker struct {
	db     *store.DB
	source Source
	logger *zap.Logger
	opts   WorkerOptions

	// onIndex receives the run's newly written text rows. Fire-and-forget:
	// a nil or failing sink never fails the run.
	onIndex func([]store.IndexEntry)

	// seenUsers spans one Sync call; enrichment fetches each profile once.
	seenUsers map[string]bool
}

// NewWorker creates a worker over the given store and remote source.
func NewWorker(db *store.DB, source Source, logger *zap.Logger, opts WorkerOptions, onIndex func([]store.IndexEntry)) *Worker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = time.Minute
	}
	if opts.StaleBudget <= 0 {
		opts.StaleBudget = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{db: db, source: source, logger: logger, opts: opts, onIndex: onIndex}
}

// Sync drives one conversation to completion (or failure, or cancellation).
func (w *Worker) Sync(ctx context.Context, channelID string) ChannelResult {
	res := ChannelResult{ChannelID: channelID}
	machine := NewMachine()
	log := w.logger.With(zap.String("channel", channelID))
	w.seenUsers = map[string]bool{}

	if err := w.db.TouchCursorAttempt(channelID); err != nil {
		return w.fail(machine, res, err)
	}
	cur, err := w.db.GetCursor(channelID)
	if err != nil {
		return w.fail(machine, res, err)
	}
	pos, err := ParsePosition(cur.Position)
	if err != nil {
		// A malformed token means a corrupt row, not remote trouble. Refuse
		// to guess at a position.
		return w.fail(machine, res, err)
	}

	var entries []store.IndexEntry
	staleRetries := 0

	for {
		if ctx.Err() != nil {
			_ = machine.Transition(Done)
			res.Outcome = OutcomePartial
			w.flushIndex(entries)
			return res
		}

		if err := machine.Transition(Fetching); err != nil {
			return w.fail(machine, res, err)
		}
		page, err := w.fetchPage(ctx, channelID, pos)
		if err != nil {
			if ctx.Err() != nil {
				_ = machine.Transition(Done)
				res.Outcome = OutcomePartial
				w.flushIndex(entries)
				return res
			}
			return w.fail(machine, res, err)
		}
		res.Pages++

		// An empty final page can still end an in-flight window; that case
		// falls through so the advance below collapses the pending watermark.
		if len(page.Records) == 0 && !page.HasMore && !pos.InFlight() {
			_ = machine.Transition(Done)
			res.Outcome = OutcomeDone
			w.finishClean(channelID, log)
			w.flushIndex(entries)
			return res
		}

		if err := machine.Transition(Merging); err != nil {
			return w.fail(machine, res, err)
		}
		if len(page.Records) > 0 {
			written, pageEntries, err := w.db.ApplyBatch(channelID, page.Records)
			if err != nil {
				return w.fail(machine, res, err)
			}
			res.Records += written
			entries = append(entries, pageEntries...)

			// Enrichment happens before the advance so the new position
			// accounts for thread replies; failures degrade, never corrupt
			// the cursor.
			entries = append(entries, w.enrich(ctx, channelID, page.Records, log)...)
		}

		if err := machine.Transition(Advancing); err != nil {
			return w.fail(machine, res, err)
		}
		next := pos.advance(page.NewestTS, page.NextCursor)
		if next.Token() != pos.Token() {
			err := w.db.AdvanceCursor(channelID, next.Token(), pos.Token())
			var stale *store.StaleCursorError
			if errors.As(err, &stale) {
				staleRetries++
				if staleRetries > w.opts.StaleBudget {
					return w.fail(machine, res, err)
				}
				log.Warn("cursor moved underneath worker, resuming from held position",
					zap.String("held", stale.Held))
				held, perr := ParsePosition(stale.Held)
				if perr != nil {
					return w.fail(machine, res, perr)
				}
				pos = held
				continue
			}
			if err != nil {
				return w.fail(machine, res, err)
			}
		}
		pos = next

		if !page.HasMore {
			_ = machine.Transition(Done)
			res.Outcome = OutcomeDone
			w.finishClean(channelID, log)
			w.flushIndex(entries)
			return res
		}
	}
}

// finishClean clears the failure count on a clean finish. Advancing already
// resets it, but an empty window never advances.
func (w *Worker) finishClean(channelID string, log *zap.Logger) {
	if err := w.db.ResetCursorFailures(channelID); err != nil {
		log.Warn("resetting failure count", zap.Error(err))
	}
}

// fetchPage retries transient failures with exponential backoff.
func (w *Worker) fetchPage(ctx context.Context, channelID string, pos Position) (*slackapi.HistoryPage, error) {
	var lastErr error
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryDelay(attempt-1, w.opts.RetryBase, w.opts.RetryMax, w.opts.JitterFrac)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		page, err := w.source.HistoryPage(ctx, channelID, pos.Watermark, pos.PageCursor)
		if err == nil {
			return page, nil
		}
		if slackapi.IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// enrich fetches thread replies for parents seen on the page and profile
// snapshots for unseen user ids. Best effort throughout.
func (w *Worker) enrich(ctx context.Context, channelID string, records []store.Record, log *zap.Logger) []store.IndexEntry {
	var entries []store.IndexEntry

	if w.opts.ThreadSync {
		for _, rec := range records {
			m := rec.Message
			isParent := m.ReplyCount > 0 && (m.ThreadTS == "" || m.ThreadTS == m.TS)
			if !isParent || ctx.Err() != nil {
				continue
			}
			replies, err := w.source.ThreadReplies(ctx, channelID, m.TS)
			if err != nil {
				log.Warn("thread fetch failed", zap.String("thread_ts", m.TS), zap.Error(err))
				continue
			}
			_, threadEntries, err := w.db.ApplyBatch(channelID, replies)
			if err != nil {
				log.Warn("thread merge failed", zap.String("thread_ts", m.TS), zap.Error(err))
				continue
			}
			entries = append(entries, threadEntries...)
			records = append(records, replies...)
		}
	}

	if w.opts.UserLookup {
		for _, rec := range records {
			uid := rec.Message.UserID
			if uid == "" || w.seenUsers[uid] || ctx.Err() != nil {
				continue
			}
			w.seenUsers[uid] = true
			known, err := w.db.GetUser(uid)
			if err != nil || known != nil {
				continue
			}
			u, err := w.source.UserInfo(ctx, uid)
			if err != nil {
				log.Warn("user lookup failed", zap.String("user", uid), zap.Error(err))
				continue
			}
			if err := w.db.UpsertUser(u); err != nil {
				log.Warn("user upsert failed", zap.String("user", uid), zap.Error(err))
			}
		}
	}

	return entries
}

func (w *Worker) fail(machine *Machine, res ChannelResult, err error) ChannelResult {
	_ = machine.Transition(Failed)
	if ferr := w.db.RecordCursorFailure(res.ChannelID); ferr != nil {
		w.logger.Error("recording failure", zap.String("channel", res.ChannelID), zap.Error(ferr))
	}
	res.Outcome = OutcomeFailed
	res.Err = err.Error()
	return res
}

func (w *Worker) flushIndex(entries []store.IndexEntry) {
	if w.onIndex == nil || len(entries) == 0 {
		return
	}
	w.onIndex(entries)
}
