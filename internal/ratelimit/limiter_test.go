package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testLimiter(maxWait time.Duration) *Limiter {
	return New(Config{
		HistoryPerMinute:  6000, // 100/s so refill waits stay tiny
		HistoryBurst:      2,
		MetadataPerMinute: 6000,
		MetadataBurst:     2,
		MaxWait:           maxWait,
	})
}

func TestAcquireWithinBurstDoesNotBlock(t *testing.T) {
	l := testLimiter(time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, ClassHistory); err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst acquires took %s, want ~0", elapsed)
	}
}

func TestAcquireWaitsForRefill(t *testing.T) {
	l := New(Config{
		HistoryPerMinute:  600, // 10/s => 100ms per token
		HistoryBurst:      1,
		MetadataPerMinute: 600,
		MetadataBurst:     1,
		MaxWait:           time.Second,
	})
	ctx := context.Background()

	if err := l.Acquire(ctx, ClassHistory); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, ClassHistory); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second acquire took %s, want >= ~100ms refill wait", elapsed)
	}
}

func TestAcquireTimeout(t *testing.T) {
	l := New(Config{
		HistoryPerMinute:  1, // one token a minute: next token is far away
		HistoryBurst:      1,
		MetadataPerMinute: 1,
		MetadataBurst:     1,
		MaxWait:           50 * time.Millisecond,
	})
	ctx := context.Background()

	if err := l.Acquire(ctx, ClassHistory); err != nil {
		t.Fatal(err)
	}

	err := l.Acquire(ctx, ClassHistory)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Class != ClassHistory {
		t.Errorf("class = %s, want history", te.Class)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	// The second acquire needs a ~1s refill wait, comfortably under the
	// ceiling, so it sleeps rather than failing fast. Cancellation must
	// interrupt that sleep.
	l := New(Config{
		HistoryPerMinute:  60, // one token a second
		HistoryBurst:      1,
		MetadataPerMinute: 60,
		MetadataBurst:     1,
		MaxWait:           5 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Acquire(ctx, ClassHistory); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, ClassHistory) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}

func TestReportThrottleBlocksUntilHint(t *testing.T) {
	l := testLimiter(time.Second)
	ctx := context.Background()

	l.ReportThrottle(ClassHistory, 80*time.Millisecond)

	start := time.Now()
	if err := l.Acquire(ctx, ClassHistory); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("acquire during throttle took %s, want >= ~80ms", elapsed)
	}
}

func TestReportThrottleOnlyAffectsItsClass(t *testing.T) {
	l := testLimiter(time.Second)
	ctx := context.Background()

	l.ReportThrottle(ClassHistory, 500*time.Millisecond)

	start := time.Now()
	if err := l.Acquire(ctx, ClassMetadata); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("metadata acquire took %s during history throttle, want ~0", elapsed)
	}
}

func TestThrottleBeyondCeilingFailsFast(t *testing.T) {
	l := testLimiter(50 * time.Millisecond)

	l.ReportThrottle(ClassHistory, time.Minute)

	err := l.Acquire(context.Background(), ClassHistory)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestConcurrentAcquire(t *testing.T) {
	l := New(Config{
		HistoryPerMinute:  60000, // effectively unconstrained
		HistoryBurst:      100,
		MetadataPerMinute: 60000,
		MetadataBurst:     100,
		MaxWait:           5 * time.Second,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(ctx, ClassHistory)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Acquire: %v", err)
		}
	}
}
