package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/backscroll/backscroll/internal/bus"
	"github.com/backscroll/backscroll/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lister is the discovery half of the remote surface. *slackapi.Client
// satisfies both Lister and Source.
type Lister interface {
	ListChannels(ctx context.Context) ([]store.Channel, error)
}

// SchedulerOptions tunes cycle behavior.
type SchedulerOptions struct {
	Interval          time.Duration
	Concurrency       int
	CooldownThreshold int
	CooldownMaxCycles int
	Worker            WorkerOptions
}

// Scheduler runs sync cycles: discover conversations, decide which need
// work, and fan the chosen ones out to a bounded pool of workers. Each
// conversation is handled by at most one worker per cycle; failures stay
// isolated to their conversation.
type Scheduler struct {
	db     *store.DB
	lister Lister
	source Source
	bus    *bus.Bus
	logger *zap.Logger
	opts   SchedulerOptions
}

// NewScheduler wires a scheduler over the store, the remote surface, and the
// event bus.
func NewScheduler(db *store.DB, lister Lister, source Source, b *bus.Bus, logger *zap.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.CooldownThreshold <= 0 {
		opts.CooldownThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{db: db, lister: lister, source: source, bus: b, logger: logger, opts: opts}
}

// RunOnce executes one full cycle. filter, when non-empty, restricts the
// cycle to a single channel ID. Discovery failure fails the whole cycle;
// per-conversation failures do not.
func (s *Scheduler) RunOnce(ctx context.Context, filter string) (*RunSummary, error) {
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := s.logger.With(zap.String("run_id", summary.RunID))

	channels, err := s.lister.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover channels: %w", err)
	}
	for i := range channels {
		if err := s.db.UpsertChannel(&channels[i]); err != nil {
			return nil, fmt.Errorf("record channel %s: %w", channels[i].ID, err)
		}
	}
	log.Info("discovery complete", zap.Int("channels", len(channels)))

	var due []store.Channel
	for _, ch := range channels {
		if filter != "" && ch.ID != filter {
			continue
		}
		skip, err := s.shouldSkip(ch)
		if err != nil {
			return nil, err
		}
		if skip {
			summary.add(ChannelResult{ChannelID: ch.ID, Outcome: OutcomeSkipped})
			continue
		}
		due = append(due, ch)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return channelPriority(due[i]) < channelPriority(due[j])
	})

	work := make(chan string)
	results := make(chan ChannelResult, len(due))
	var wg gosync.WaitGroup
	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := NewWorker(s.db, s.source, s.logger, s.opts.Worker, s.publishIndex)
			for id := range work {
				results <- w.Sync(ctx, id)
			}
		}()
	}

	for _, ch := range due {
		work <- ch.ID
	}
	close(work)
	wg.Wait()
	close(results)

	for res := range results {
		if res.Outcome == OutcomeFailed {
			log.Warn("channel sync failed", zap.String("channel", res.ChannelID), zap.String("err", res.Err))
		}
		summary.add(res)
	}
	summary.Duration = time.Since(summary.StartedAt)

	log.Info("cycle complete",
		zap.Int("synced", summary.Synced),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("records", summary.Records),
		zap.Duration("duration", summary.Duration))

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindRunCompleted, Timestamp: time.Now(), Payload: summary})
	}
	return summary, nil
}

// RunForever loops RunOnce on the interval until the context is cancelled.
// In-flight workers finish their current page before the loop returns.
func (s *Scheduler) RunForever(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx, ""); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sync cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// shouldSkip applies cooldown then the smart skip: no work when the remote
// activity marker does not exceed the durable watermark and no window is in
// flight.
func (s *Scheduler) shouldSkip(ch store.Channel) (bool, error) {
	cur, err := s.db.GetCursor(ch.ID)
	if err != nil {
		return false, err
	}

	if cur.FailureCount >= s.opts.CooldownThreshold && cur.LastAttemptAt > 0 {
		since := time.Since(time.UnixMilli(cur.LastAttemptAt))
		if InCooldown(cur.FailureCount, since, s.opts.Interval, s.opts.CooldownThreshold, s.opts.CooldownMaxCycles) {
			return true, nil
		}
		// Cooldown expired: retry regardless of the activity marker.
		return false, nil
	}

	pos, err := ParsePosition(cur.Position)
	if err != nil {
		// Let the worker surface the corrupt token as a failure.
		return false, nil
	}
	if pos.InFlight() {
		return false, nil
	}
	if pos.Watermark != "" && ch.LastActivityTS != "" && ch.LastActivityTS <= pos.Watermark {
		return true, nil
	}
	return false, nil
}

// channelPriority orders a cycle DM-first. Lower runs earlier.
func channelPriority(ch store.Channel) int {
	switch {
	case ch.IsSelfDM:
		return 0
	case ch.Kind == store.KindIM:
		return 1
	case ch.Kind == store.KindMpIM:
		return 2
	case ch.IsArchived:
		return 10
	default:
		return 3
	}
}

func (s *Scheduler) publishIndex(entries []store.IndexEntry) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: bus.KindIndexBatch, Timestamp: time.Now(), Payload: entries})
}
