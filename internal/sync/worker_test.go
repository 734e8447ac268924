package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/backscroll/backscroll/internal/slackapi"
	"github.com/backscroll/backscroll/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fetchCall struct {
	channel string
	oldest  string
	cursor  string
}

type fakeSource struct {
	mu          gosync.Mutex
	handler     func(channelID, oldest, cursor string) (*slackapi.HistoryPage, error)
	threads     map[string][]store.Record
	users       map[string]*store.User
	calls       []fetchCall
	threadCalls []string
	userCalls   []string
}

func (f *fakeSource) HistoryPage(_ context.Context, channelID, oldest, cursor string) (*slackapi.HistoryPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{channel: channelID, oldest: oldest, cursor: cursor})
	f.mu.Unlock()
	return f.handler(channelID, oldest, cursor)
}

func (f *fakeSource) ThreadReplies(_ context.Context, _ string, threadTS string) ([]store.Record, error) {
	f.mu.Lock()
	f.threadCalls = append(f.threadCalls, threadTS)
	f.mu.Unlock()
	if f.threads == nil {
		return nil, errors.New("no thread fixture")
	}
	return f.threads[threadTS], nil
}

func (f *fakeSource) UserInfo(_ context.Context, userID string) (*store.User, error) {
	f.mu.Lock()
	f.userCalls = append(f.userCalls, userID)
	f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, &slackapi.PermanentError{Op: "users.info", Reason: "user_not_found", Err: errors.New("user_not_found")}
	}
	return u, nil
}

func rec(ts, user, text string) store.Record {
	return store.Record{Message: store.Message{TS: ts, UserID: user, Text: text}}
}

func page(records []store.Record, next string) *slackapi.HistoryPage {
	p := &slackapi.HistoryPage{Records: records, NextCursor: next, HasMore: next != ""}
	for _, r := range records {
		if r.Message.TS > p.NewestTS {
			p.NewestTS = r.Message.TS
		}
	}
	return p
}

func fastOpts() WorkerOptions {
	return WorkerOptions{
		MaxRetries: 3,
		RetryBase:  time.Millisecond,
		RetryMax:   5 * time.Millisecond,
	}
}

func TestWorkerTwoPageWindow(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		switch cursor {
		case "":
			return page([]store.Record{
				rec("1700000300.000100", "U02", "newest"),
				rec("1700000200.000100", "U01", "middle"),
			}, "p2"), nil
		case "p2":
			return page([]store.Record{rec("1700000100.000100", "U02", "oldest")}, ""), nil
		default:
			return nil, errors.New("unexpected cursor " + cursor)
		}
	}}

	var indexed []store.IndexEntry
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), func(e []store.IndexEntry) { indexed = e })

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done", res.Outcome, res.Err)
	}
	if res.Pages != 2 || res.Records != 3 {
		t.Errorf("pages=%d records=%d, want 2/3", res.Pages, res.Records)
	}

	cur, err := db.GetCursor("C01")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != "1700000300.000100" {
		t.Errorf("position = %q, want collapsed watermark", cur.Position)
	}
	if cur.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", cur.FailureCount)
	}
	if len(indexed) != 3 {
		t.Errorf("indexed %d entries, want 3", len(indexed))
	}
	// Second fetch resumed the in-flight window, not a fresh one.
	if len(src.calls) != 2 || src.calls[1].cursor != "p2" {
		t.Errorf("fetch calls = %+v", src.calls)
	}
}

func TestWorkerRetriesTransientThenSucceeds(t *testing.T) {
	db := testDB(t)
	failures := 2
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		if failures > 0 {
			failures--
			return nil, &slackapi.TransientError{Op: "conversations.history", Err: errors.New("boom")}
		}
		return page([]store.Record{rec("1700000100.000100", "U01", "hi")}, ""), nil
	}}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done after retries", res.Outcome, res.Err)
	}
	if len(src.calls) != 3 {
		t.Errorf("fetch attempts = %d, want 3", len(src.calls))
	}
}

func TestWorkerPermanentErrorFailsWithoutRetry(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		return nil, &slackapi.PermanentError{Op: "conversations.history", Reason: "channel_not_found", Err: errors.New("channel_not_found")}
	}}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if len(src.calls) != 1 {
		t.Errorf("fetch attempts = %d, want 1 (no retry on permanent)", len(src.calls))
	}

	cur, err := db.GetCursor("C01")
	if err != nil {
		t.Fatal(err)
	}
	if cur.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", cur.FailureCount)
	}
	if cur.Position != "" {
		t.Errorf("position = %q, want untouched", cur.Position)
	}
}

func TestWorkerExhaustedRetriesFails(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		return nil, &slackapi.TransientError{Op: "conversations.history", Err: errors.New("boom")}
	}}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if len(src.calls) != 4 {
		t.Errorf("fetch attempts = %d, want initial + 3 retries", len(src.calls))
	}
}

func TestWorkerCancellationBetweenPagesIsPartial(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		// Cancel while the first page is in flight; the worker must still
		// merge and advance it, then stop before fetching the next.
		cancel()
		return page([]store.Record{rec("1700000300.000100", "U01", "hi")}, "p2"), nil
	}}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(ctx, "C01")
	if res.Outcome != OutcomePartial {
		t.Fatalf("outcome = %s (%s), want partial", res.Outcome, res.Err)
	}
	if len(src.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(src.calls))
	}

	cur, err := db.GetCursor("C01")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != "|1700000300.000100|p2" {
		t.Errorf("position = %q, want in-flight window token", cur.Position)
	}
	if cur.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0 on cancellation", cur.FailureCount)
	}
}

func TestWorkerThreadEnrichment(t *testing.T) {
	db := testDB(t)
	parent := rec("1700000100.000100", "U01", "parent")
	parent.Message.ReplyCount = 1
	reply := rec("1700000200.000100", "U02", "reply")
	reply.Message.ThreadTS = "1700000100.000100"

	src := &fakeSource{
		handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
			return page([]store.Record{parent}, ""), nil
		},
		threads: map[string][]store.Record{"1700000100.000100": {parent, reply}},
	}
	opts := fastOpts()
	opts.ThreadSync = true
	var indexed []store.IndexEntry
	w := NewWorker(db, src, zap.NewNop(), opts, func(e []store.IndexEntry) { indexed = e })

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Err)
	}
	if len(src.threadCalls) != 1 {
		t.Fatalf("thread calls = %v, want one for the parent", src.threadCalls)
	}

	got, err := db.GetMessage("C01", "1700000200.000100")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Text != "reply" {
		t.Errorf("thread reply not mirrored: %+v", got)
	}
	if len(indexed) != 3 { // parent from the page, parent + reply from the thread
		t.Errorf("indexed %d entries, want 3", len(indexed))
	}
}

func TestWorkerUserLookupFetchesUnseenOnce(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertUser(&store.User{ID: "U01", Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{
		handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
			return page([]store.Record{
				rec("1700000100.000100", "U01", "known"),
				rec("1700000200.000100", "U02", "new"),
				rec("1700000300.000100", "U02", "new again"),
			}, ""), nil
		},
		users: map[string]*store.User{"U02": {ID: "U02", Name: "bob"}},
	}
	opts := fastOpts()
	opts.UserLookup = true
	w := NewWorker(db, src, zap.NewNop(), opts, nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Err)
	}
	if len(src.userCalls) != 1 || src.userCalls[0] != "U02" {
		t.Errorf("user calls = %v, want exactly [U02]", src.userCalls)
	}
	u, err := db.GetUser("U02")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "bob" {
		t.Errorf("fetched user not stored: %+v", u)
	}
}

func TestWorkerEmptyFinalPageCollapsesInFlightWindow(t *testing.T) {
	db := testDB(t)
	// A previous run stopped mid-window; the saved token resumes at p9.
	held := "1700000100.000100|1700000200.000100|p9"
	if err := db.AdvanceCursor("C01", held, ""); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{handler: func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		if oldest != "1700000100.000100" || cursor != "p9" {
			t.Errorf("fetch oldest=%q cursor=%q, want the saved window", oldest, cursor)
		}
		return page(nil, ""), nil
	}}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done", res.Outcome, res.Err)
	}

	cur, err := db.GetCursor("C01")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != "1700000200.000100" {
		t.Errorf("position = %q, want the pending watermark collapsed", cur.Position)
	}
	if cur.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", cur.FailureCount)
	}
	// The next cycle sees a plain watermark and can smart-skip again.
	if len(src.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(src.calls))
	}
}

func TestWorkerResumesFromHeldPositionOnStaleCursor(t *testing.T) {
	db := testDB(t)
	hijacked := false
	src := &fakeSource{}
	src.handler = func(_, oldest, cursor string) (*slackapi.HistoryPage, error) {
		if !hijacked {
			hijacked = true
			// Another writer advances the cursor while this page is in
			// flight; the worker's CAS must lose and resume from here.
			if err := db.AdvanceCursor("C01", "1700000500.000100", ""); err != nil {
				t.Fatal(err)
			}
			return page([]store.Record{rec("1700000100.000100", "U01", "old")}, ""), nil
		}
		if oldest != "1700000500.000100" {
			t.Errorf("resume fetch oldest = %q, want held watermark", oldest)
		}
		return page(nil, ""), nil
	}
	w := NewWorker(db, src, zap.NewNop(), fastOpts(), nil)

	res := w.Sync(context.Background(), "C01")
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %s (%s), want done after resume", res.Outcome, res.Err)
	}

	cur, err := db.GetCursor("C01")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != "1700000500.000100" {
		t.Errorf("position = %q, want the held (newer) watermark kept", cur.Position)
	}
}
